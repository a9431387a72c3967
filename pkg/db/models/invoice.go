package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rmarceau/torrdrive-backend/pkg/enums"
	"github.com/rmarceau/torrdrive-backend/pkg/types"
)

// PricingSnapshot freezes every input the pricing engine used to derive the
// charge. It is embedded into the invoice row and never recomputed.
type PricingSnapshot struct {
	CalculatedSizeGB     decimal.Decimal `gorm:"column:calculated_size_gb;type:numeric(14,6);not null"`
	BaseRatePerGB        decimal.Decimal `gorm:"column:base_rate_per_gb;type:numeric(10,4);not null"`
	RegionMultiplier     decimal.Decimal `gorm:"column:region_multiplier;type:numeric(6,3);not null"`
	HealthMultiplier     decimal.Decimal `gorm:"column:health_multiplier;type:numeric(6,3);not null"`
	IsCacheHit           bool            `gorm:"column:is_cache_hit;not null;default:false"`
	CacheDiscountAmount  decimal.Decimal `gorm:"column:cache_discount_amount;type:numeric(10,4);not null"`
	BasePrice            decimal.Decimal `gorm:"column:base_price;type:numeric(12,4);not null"`
	PriceAfterHealth     decimal.Decimal `gorm:"column:price_after_health;type:numeric(12,4);not null"`
	MinimumChargeApplied bool            `gorm:"column:minimum_charge_applied;not null;default:false"`
}

// Invoice is a priced, time-limited request to fetch a torrent selection,
// payable from the user's virtual-currency wallet.
type Invoice struct {
	ID                  uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID              uuid.UUID       `gorm:"column:user_id;type:uuid;not null;index"`
	TorrentHash         string          `gorm:"column:torrent_hash;not null"`
	SelectedFileIndices types.Int64List `gorm:"column:selected_file_indices;type:jsonb;not null"`
	Region              string          `gorm:"column:region;not null"`
	StorageProfileID    uuid.UUID       `gorm:"column:storage_profile_id;type:uuid;not null"`
	TotalSizeBytes      int64           `gorm:"column:total_size_bytes;not null;default:0"`

	Pricing PricingSnapshot `gorm:"embedded"`

	OriginalAmountUSD     decimal.Decimal   `gorm:"column:original_amount_usd;type:numeric(12,4);not null"`
	VoucherCode           *string           `gorm:"column:voucher_code"`
	VoucherType           *enums.VoucherType `gorm:"column:voucher_type;type:voucher_type"`
	VoucherValue          *decimal.Decimal  `gorm:"column:voucher_value;type:numeric(12,4)"`
	VoucherDiscountAmount decimal.Decimal   `gorm:"column:voucher_discount_amount;type:numeric(12,4);not null"`
	FinalAmountUSD        decimal.Decimal   `gorm:"column:final_amount_usd;type:numeric(12,4);not null"`

	ExchangeRate       decimal.Decimal `gorm:"column:exchange_rate;type:numeric(14,6);not null"`
	FinalAmountVirtual decimal.Decimal `gorm:"column:final_amount_virtual;type:numeric(18,6);not null"`

	Status     enums.InvoiceStatus `gorm:"column:status;type:invoice_status;not null;default:'pending';index"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time           `gorm:"column:updated_at;autoUpdateTime"`
	ExpiresAt  time.Time           `gorm:"column:expires_at;not null;index"`
	PaidAt     *time.Time          `gorm:"column:paid_at"`
	RefundedAt *time.Time          `gorm:"column:refunded_at"`
}
