package controllers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rmarceau/torrdrive-backend/internal/jobs"
	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	"github.com/rmarceau/torrdrive-backend/pkg/pagination"
)

type pricingResponse struct {
	CalculatedSizeGB     decimal.Decimal `json:"calculated_size_gb"`
	BaseRatePerGB        decimal.Decimal `json:"base_rate_per_gb"`
	RegionMultiplier     decimal.Decimal `json:"region_multiplier"`
	HealthMultiplier     decimal.Decimal `json:"health_multiplier"`
	IsCacheHit           bool            `json:"is_cache_hit"`
	CacheDiscountAmount  decimal.Decimal `json:"cache_discount_amount"`
	BasePrice            decimal.Decimal `json:"base_price"`
	PriceAfterHealth     decimal.Decimal `json:"price_after_health"`
	MinimumChargeApplied bool            `json:"minimum_charge_applied"`
}

type voucherApplication struct {
	Code           string          `json:"code"`
	Type           string          `json:"type"`
	Value          decimal.Decimal `json:"value"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

type invoiceResponse struct {
	ID                  uuid.UUID           `json:"id"`
	UserID              uuid.UUID           `json:"user_id"`
	TorrentHash         string              `json:"torrent_hash"`
	SelectedFileIndices []int64             `json:"selected_file_indices"`
	Region              string              `json:"region"`
	StorageProfileID    uuid.UUID           `json:"storage_profile_id"`
	TotalSizeBytes      int64               `json:"total_size_bytes"`
	Pricing             pricingResponse     `json:"pricing"`
	OriginalAmountUSD   decimal.Decimal     `json:"original_amount_usd"`
	Voucher             *voucherApplication `json:"voucher,omitempty"`
	FinalAmountUSD      decimal.Decimal     `json:"final_amount_usd"`
	ExchangeRate        decimal.Decimal     `json:"exchange_rate"`
	FinalAmountVirtual  decimal.Decimal     `json:"final_amount_virtual"`
	Status              string              `json:"status"`
	CreatedAt           time.Time           `json:"created_at"`
	ExpiresAt           time.Time           `json:"expires_at"`
	PaidAt              *time.Time          `json:"paid_at,omitempty"`
	RefundedAt          *time.Time          `json:"refunded_at,omitempty"`
}

func newInvoiceResponse(inv *models.Invoice) invoiceResponse {
	out := invoiceResponse{
		ID:                  inv.ID,
		UserID:              inv.UserID,
		TorrentHash:         inv.TorrentHash,
		SelectedFileIndices: []int64(inv.SelectedFileIndices),
		Region:              inv.Region,
		StorageProfileID:    inv.StorageProfileID,
		TotalSizeBytes:      inv.TotalSizeBytes,
		Pricing: pricingResponse{
			CalculatedSizeGB:     inv.Pricing.CalculatedSizeGB,
			BaseRatePerGB:        inv.Pricing.BaseRatePerGB,
			RegionMultiplier:     inv.Pricing.RegionMultiplier,
			HealthMultiplier:     inv.Pricing.HealthMultiplier,
			IsCacheHit:           inv.Pricing.IsCacheHit,
			CacheDiscountAmount:  inv.Pricing.CacheDiscountAmount,
			BasePrice:            inv.Pricing.BasePrice,
			PriceAfterHealth:     inv.Pricing.PriceAfterHealth,
			MinimumChargeApplied: inv.Pricing.MinimumChargeApplied,
		},
		OriginalAmountUSD:  inv.OriginalAmountUSD,
		FinalAmountUSD:     inv.FinalAmountUSD,
		ExchangeRate:       inv.ExchangeRate,
		FinalAmountVirtual: inv.FinalAmountVirtual,
		Status:             inv.Status.String(),
		CreatedAt:          inv.CreatedAt,
		ExpiresAt:          inv.ExpiresAt,
		PaidAt:             inv.PaidAt,
		RefundedAt:         inv.RefundedAt,
	}
	if inv.VoucherCode != nil && inv.VoucherType != nil && inv.VoucherValue != nil {
		out.Voucher = &voucherApplication{
			Code:           *inv.VoucherCode,
			Type:           inv.VoucherType.String(),
			Value:          *inv.VoucherValue,
			DiscountAmount: inv.VoucherDiscountAmount,
		}
	}
	return out
}

type jobResponse struct {
	ID                 uuid.UUID  `json:"id"`
	InvoiceID          uuid.UUID  `json:"invoice_id"`
	UserID             uuid.UUID  `json:"user_id"`
	Status             string     `json:"status"`
	StatusLabel        string     `json:"status_label"`
	StatusTone         string     `json:"status_tone"`
	ProgressPercentage float64    `json:"progress_percentage"`
	BytesDownloaded    int64      `json:"bytes_downloaded"`
	BytesTransferred   int64      `json:"bytes_transferred"`
	TotalBytes         int64      `json:"total_bytes"`
	PhaseRetryCount    int        `json:"phase_retry_count"`
	ManualRetryCount   int        `json:"manual_retry_count"`
	CanCancel          bool       `json:"can_cancel"`
	CanRetry           bool       `json:"can_retry"`
	ErrorMessage       *string    `json:"error_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}

func newJobResponse(job *models.Job, svc *jobs.Service) jobResponse {
	out := jobResponse{
		ID:                 job.ID,
		InvoiceID:          job.InvoiceID,
		UserID:             job.UserID,
		Status:             job.Status.String(),
		ProgressPercentage: jobs.ProgressPercentage(job),
		BytesDownloaded:    job.BytesDownloaded,
		BytesTransferred:   job.BytesTransferred,
		TotalBytes:         job.TotalBytes,
		PhaseRetryCount:    job.PhaseRetryCount,
		ManualRetryCount:   job.ManualRetryCount,
		CanCancel:          jobs.CanCancel(job),
		CanRetry:           svc.CanRetry(job),
		ErrorMessage:       job.ErrorMessage,
		CreatedAt:          job.CreatedAt,
		StartedAt:          job.StartedAt,
		CompletedAt:        job.CompletedAt,
	}
	if desc, err := jobs.DescriptorFor(job.Status); err == nil {
		out.StatusLabel = desc.Label
		out.StatusTone = desc.Tone
	}
	return out
}

type timelineEntryResponse struct {
	FromStatus             *string         `json:"from_status"`
	ToStatus               string          `json:"to_status"`
	Source                 string          `json:"source"`
	ChangedAt              time.Time       `json:"changed_at"`
	DurationFromPreviousMS *int64          `json:"duration_from_previous_ms"`
	ErrorMessage           *string         `json:"error_message,omitempty"`
	Metadata               json.RawMessage `json:"metadata,omitempty"`
}

type timelinePage struct {
	Entries  []timelineEntryResponse `json:"entries"`
	PageInfo pagination.PageInfo     `json:"page_info"`
}

func newTimelinePage(entries []models.TimelineEntry, info pagination.PageInfo) timelinePage {
	out := timelinePage{
		Entries:  make([]timelineEntryResponse, 0, len(entries)),
		PageInfo: info,
	}
	for i := range entries {
		e := entries[i]
		resp := timelineEntryResponse{
			ToStatus:               e.ToStatus.String(),
			Source:                 string(e.Source),
			ChangedAt:              e.ChangedAt,
			DurationFromPreviousMS: e.DurationFromPreviousMS,
			ErrorMessage:           e.ErrorMessage,
			Metadata:               e.Metadata,
		}
		if e.FromStatus != nil {
			from := e.FromStatus.String()
			resp.FromStatus = &from
		}
		out.Entries = append(out.Entries, resp)
	}
	return out
}
