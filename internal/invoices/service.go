package invoices

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/rmarceau/torrdrive-backend/internal/jobs"
	"github.com/rmarceau/torrdrive-backend/internal/pricing"
	"github.com/rmarceau/torrdrive-backend/internal/vouchers"
	"github.com/rmarceau/torrdrive-backend/pkg/config"
	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	"github.com/rmarceau/torrdrive-backend/pkg/enums"
	"github.com/rmarceau/torrdrive-backend/pkg/errors"
	"github.com/rmarceau/torrdrive-backend/pkg/logger"
	"github.com/rmarceau/torrdrive-backend/pkg/pagination"
	"github.com/rmarceau/torrdrive-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type walletService interface {
	Debit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, reference string) error
	Credit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, reference string) error
}

type rateSource interface {
	Current(ctx context.Context) (decimal.Decimal, error)
}

type jobCreator interface {
	CreateQueued(ctx context.Context, tx *gorm.DB, input jobs.CreateInput) (*models.Job, error)
}

// FileSelection is one chosen file from the analyzed torrent.
type FileSelection struct {
	Index     int64
	SizeBytes int64
}

// QuoteInput carries everything needed to price and open a quote.
type QuoteInput struct {
	UserID           uuid.UUID
	TorrentHash      string
	Files            []FileSelection
	Region           string
	HealthMultiplier decimal.Decimal
	IsCacheHit       bool
	StorageProfileID uuid.UUID
	VoucherCode      *string
}

// Service owns the invoice lifecycle: quoting, payment, cancellation and
// refunds. Payment is the only place a job is ever created, and the debit,
// the status flip and the job creation commit or roll back together.
type Service struct {
	repo     Repository
	vouchers vouchers.Service
	wallet   walletService
	rates    rateSource
	jobs     jobCreator
	db       txRunner
	logg     *logger.Logger

	baseRatePerGB    decimal.Decimal
	minimumCharge    decimal.Decimal
	cacheDiscount    decimal.Decimal
	regionMultiplier map[string]decimal.Decimal
	quoteTTL         time.Duration

	now func() time.Time
}

func NewService(
	repo Repository,
	voucherSvc vouchers.Service,
	walletSvc walletService,
	rateSvc rateSource,
	jobSvc jobCreator,
	db txRunner,
	pricingCfg config.PricingConfig,
	quotesCfg config.QuotesConfig,
	logg *logger.Logger,
) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("invoices: repository is required")
	}
	if voucherSvc == nil {
		return nil, fmt.Errorf("invoices: voucher service is required")
	}
	if walletSvc == nil {
		return nil, fmt.Errorf("invoices: wallet service is required")
	}
	if rateSvc == nil {
		return nil, fmt.Errorf("invoices: rate source is required")
	}
	if jobSvc == nil {
		return nil, fmt.Errorf("invoices: job creator is required")
	}
	if db == nil {
		return nil, fmt.Errorf("invoices: tx runner is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("invoices: logger is required")
	}

	baseRate, err := decimal.NewFromString(pricingCfg.BaseRatePerGB)
	if err != nil {
		return nil, fmt.Errorf("invoices: invalid base rate %q", pricingCfg.BaseRatePerGB)
	}
	minCharge, err := decimal.NewFromString(pricingCfg.MinimumChargeUSD)
	if err != nil {
		return nil, fmt.Errorf("invoices: invalid minimum charge %q", pricingCfg.MinimumChargeUSD)
	}
	cacheDiscount, err := decimal.NewFromString(pricingCfg.CacheDiscountUSD)
	if err != nil {
		return nil, fmt.Errorf("invoices: invalid cache discount %q", pricingCfg.CacheDiscountUSD)
	}
	regions, err := parseRegionMultipliers(pricingCfg.RegionMultipliers)
	if err != nil {
		return nil, err
	}

	return &Service{
		repo:             repo,
		vouchers:         voucherSvc,
		wallet:           walletSvc,
		rates:            rateSvc,
		jobs:             jobSvc,
		db:               db,
		logg:             logg,
		baseRatePerGB:    baseRate,
		minimumCharge:    minCharge,
		cacheDiscount:    cacheDiscount,
		regionMultiplier: regions,
		quoteTTL:         quotesCfg.TTL,
		now:              time.Now,
	}, nil
}

func parseRegionMultipliers(pairs []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(pairs))
	for _, pair := range pairs {
		region, raw, found := strings.Cut(strings.TrimSpace(pair), ":")
		if !found || region == "" {
			return nil, fmt.Errorf("invoices: malformed region multiplier %q", pair)
		}
		multiplier, err := decimal.NewFromString(raw)
		if err != nil || !multiplier.IsPositive() {
			return nil, fmt.Errorf("invoices: invalid multiplier for region %q", region)
		}
		out[region] = multiplier
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("invoices: at least one region multiplier is required")
	}
	return out, nil
}

// CreateQuote prices a selection, applies an optional voucher against the
// post-floor amount, locks the current exchange rate and opens a pending
// invoice with a payment deadline.
func (s *Service) CreateQuote(ctx context.Context, input QuoteInput) (*models.Invoice, error) {
	if input.UserID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	if strings.TrimSpace(input.TorrentHash) == "" {
		return nil, errors.New(errors.CodeValidation, "torrent hash is required")
	}
	regionMultiplier, ok := s.regionMultiplier[input.Region]
	if !ok {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown region %q", input.Region))
	}
	health := input.HealthMultiplier
	if health.IsZero() {
		health = decimal.NewFromInt(1)
	}

	sizes := make([]int64, 0, len(input.Files))
	indices := make([]int64, 0, len(input.Files))
	var totalBytes int64
	for _, file := range input.Files {
		sizes = append(sizes, file.SizeBytes)
		indices = append(indices, file.Index)
		totalBytes += file.SizeBytes
	}

	cacheDiscount := decimal.Zero
	if input.IsCacheHit {
		cacheDiscount = s.cacheDiscount
	}
	priced, err := pricing.Compute(pricing.Input{
		SelectedFileSizes:   sizes,
		BaseRatePerGB:       s.baseRatePerGB,
		RegionMultiplier:    regionMultiplier,
		HealthMultiplier:    health,
		IsCacheHit:          input.IsCacheHit,
		CacheDiscountAmount: cacheDiscount,
		MinimumCharge:       s.minimumCharge,
	})
	if err != nil {
		return nil, err
	}

	invoice := &models.Invoice{
		UserID:              input.UserID,
		TorrentHash:         input.TorrentHash,
		SelectedFileIndices: types.Int64List(indices),
		Region:              input.Region,
		StorageProfileID:    input.StorageProfileID,
		TotalSizeBytes:      totalBytes,
		Pricing:             priced.Snapshot,
		OriginalAmountUSD:   priced.ChargedAmount,
		FinalAmountUSD:      priced.ChargedAmount,
		Status:              enums.InvoiceStatusPending,
		ExpiresAt:           s.now().UTC().Add(s.quoteTTL),
	}

	if input.VoucherCode != nil && strings.TrimSpace(*input.VoucherCode) != "" {
		voucher, err := s.vouchers.Validate(ctx, *input.VoucherCode, input.UserID)
		if err != nil {
			return nil, err
		}
		discount := voucherDiscount(voucher, priced.ChargedAmount)
		invoice.VoucherCode = &voucher.Code
		invoice.VoucherType = &voucher.Type
		invoice.VoucherValue = &voucher.Value
		invoice.VoucherDiscountAmount = discount
		invoice.FinalAmountUSD = priced.ChargedAmount.Sub(discount)
	}

	rate, err := s.rates.Current(ctx)
	if err != nil {
		return nil, err
	}
	if !rate.IsPositive() {
		return nil, errors.New(errors.CodeUpstream, "exchange rate is unavailable")
	}
	invoice.ExchangeRate = rate
	invoice.FinalAmountVirtual = invoice.FinalAmountUSD.Div(rate).Round(6)

	if err := s.repo.Create(ctx, invoice); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "failed to create invoice")
	}
	return invoice, nil
}

// voucherDiscount computes the discount against the post-floor amount,
// capped so the final amount can never go negative.
func voucherDiscount(voucher *models.Voucher, amount decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch voucher.Type {
	case enums.VoucherTypePercentage:
		discount = amount.Mul(voucher.Value).Div(decimal.NewFromInt(100)).Round(4)
	case enums.VoucherTypeFixedAmount:
		discount = voucher.Value
	}
	if discount.GreaterThan(amount) {
		return amount
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}

// Get loads an invoice, scoped to its owner.
func (s *Service) Get(ctx context.Context, invoiceID, userID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, invoiceID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(errors.CodeNotFound, "invoice not found")
		}
		return nil, errors.Wrap(errors.CodeInternal, err, "failed to load invoice")
	}
	if invoice.UserID != userID {
		return nil, errors.New(errors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}

// ListByUser returns one page of the user's invoices, newest first.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Invoice, pagination.PageInfo, error) {
	params = params.Normalize()
	list, total, err := s.repo.ListByUser(ctx, userID, params)
	if err != nil {
		return nil, pagination.PageInfo{}, errors.Wrap(errors.CodeInternal, err, "failed to list invoices")
	}
	return list, pagination.NewPageInfo(total, params), nil
}

// Pay settles a pending invoice. Expiry is re-validated server side, the
// debit and status flip are atomic, and exactly one queued job comes out of
// a successful payment. Concurrent payment attempts lose the status
// check-and-set and fail without a second debit.
func (s *Service) Pay(ctx context.Context, invoiceID, userID uuid.UUID) (*models.Invoice, *models.Job, error) {
	invoice, err := s.Get(ctx, invoiceID, userID)
	if err != nil {
		return nil, nil, err
	}
	if invoice.Status != enums.InvoiceStatusPending {
		return nil, nil, errors.New(errors.CodeStateConflict, fmt.Sprintf("invoice is %s and can no longer be paid", invoice.Status))
	}
	now := s.now().UTC()
	if now.After(invoice.ExpiresAt) {
		if _, err := s.repo.MarkExpired(ctx, invoice.ID); err != nil {
			s.logg.Warn(s.logg.WithInvoiceID(ctx, invoice.ID.String()), "failed to mark invoice expired")
		}
		return nil, nil, errors.New(errors.CodeQuoteExpired, "quote has expired")
	}

	var job *models.Job
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		paid, err := s.repo.WithTx(tx).MarkPaid(ctx, invoice.ID, now)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "failed to mark invoice paid")
		}
		if !paid {
			return errors.New(errors.CodeStateConflict, "invoice is no longer pending")
		}

		if err := s.wallet.Debit(ctx, tx, userID, invoice.FinalAmountVirtual, "invoice:"+invoice.ID.String()); err != nil {
			return err
		}

		if invoice.VoucherCode != nil {
			voucher, err := s.vouchers.Validate(ctx, *invoice.VoucherCode, userID)
			if err != nil {
				return err
			}
			if err := s.vouchers.Consume(ctx, tx, voucher.ID, userID, invoice.ID); err != nil {
				return err
			}
		}

		job, err = s.jobs.CreateQueued(ctx, tx, jobs.CreateInput{
			InvoiceID:           invoice.ID,
			UserID:              invoice.UserID,
			TorrentHash:         invoice.TorrentHash,
			SelectedFileIndices: []int64(invoice.SelectedFileIndices),
			StorageProfileID:    invoice.StorageProfileID,
			TotalBytes:          invoice.TotalSizeBytes,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	invoice.Status = enums.InvoiceStatusPaid
	invoice.PaidAt = &now
	return invoice, job, nil
}

// Cancel voids a pending invoice. Any other state is rejected.
func (s *Service) Cancel(ctx context.Context, invoiceID, userID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.Get(ctx, invoiceID, userID)
	if err != nil {
		return nil, err
	}
	cancelled, err := s.repo.MarkCancelled(ctx, invoice.ID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "failed to cancel invoice")
	}
	if !cancelled {
		return nil, errors.New(errors.CodeStateConflict, fmt.Sprintf("invoice is %s and cannot be cancelled", invoice.Status))
	}
	invoice.Status = enums.InvoiceStatusCancelled
	return invoice, nil
}

// Refund credits the wallet for a paid invoice and flips it to refunded.
// The flip and the credit are atomic, and the check-and-set guarantees a
// single refund.
func (s *Service) Refund(ctx context.Context, invoiceID, userID uuid.UUID) (*models.Invoice, error) {
	invoice, err := s.Get(ctx, invoiceID, userID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		refunded, err := s.repo.WithTx(tx).MarkRefunded(ctx, invoice.ID, now)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "failed to mark invoice refunded")
		}
		if !refunded {
			return errors.New(errors.CodeStateConflict, fmt.Sprintf("invoice is %s and cannot be refunded", invoice.Status))
		}
		return s.wallet.Credit(ctx, tx, invoice.UserID, invoice.FinalAmountVirtual, "refund:"+invoice.ID.String())
	})
	if err != nil {
		return nil, err
	}
	invoice.Status = enums.InvoiceStatusRefunded
	invoice.RefundedAt = &now
	return invoice, nil
}

// ExpireDue flips every overdue pending invoice. Used by the sweeper.
func (s *Service) ExpireDue(ctx context.Context) (int64, error) {
	count, err := s.repo.ExpireDue(ctx, s.now().UTC())
	if err != nil {
		return 0, errors.Wrap(errors.CodeInternal, err, "failed to expire invoices")
	}
	return count, nil
}
