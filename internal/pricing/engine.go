package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	pkgerrors "github.com/rmarceau/torrdrive-backend/pkg/errors"
)

// DefaultMinimumChargeUSD is the floor applied when no override is configured.
var DefaultMinimumChargeUSD = decimal.RequireFromString("0.20")

var bytesPerGB = decimal.NewFromInt(1_000_000_000)

// Input carries everything the engine needs to price a selection. All
// modifiers must be positive; CacheDiscountAmount only applies on a cache hit.
type Input struct {
	SelectedFileSizes   []int64
	BaseRatePerGB       decimal.Decimal
	RegionMultiplier    decimal.Decimal
	HealthMultiplier    decimal.Decimal
	IsCacheHit          bool
	CacheDiscountAmount decimal.Decimal
	MinimumCharge       decimal.Decimal
}

// Result is the priced outcome. ChargedAmount becomes the invoice's
// pre-voucher original amount; the snapshot freezes every input used.
type Result struct {
	Snapshot      models.PricingSnapshot
	ChargedAmount decimal.Decimal
}

// Compute prices a file selection deterministically. The discount order is
// fixed: health multiplier, then cache discount, then the minimum-charge
// floor. Vouchers are applied downstream against the floored amount.
func Compute(in Input) (*Result, error) {
	if len(in.SelectedFileSizes) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one file must be selected")
	}
	for _, size := range in.SelectedFileSizes {
		if size <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "selected file sizes must be positive").
				WithDetails(map[string]any{"size_bytes": size})
		}
	}
	if !in.BaseRatePerGB.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "base rate per GB must be positive")
	}
	if !in.RegionMultiplier.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "region multiplier must be positive")
	}
	if !in.HealthMultiplier.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "health multiplier must be positive")
	}
	if in.CacheDiscountAmount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cache discount must not be negative")
	}

	minCharge := in.MinimumCharge
	if minCharge.IsZero() {
		minCharge = DefaultMinimumChargeUSD
	}

	var totalBytes int64
	for _, size := range in.SelectedFileSizes {
		totalBytes += size
	}
	sizeGB := decimal.NewFromInt(totalBytes).Div(bytesPerGB)

	basePrice := sizeGB.Mul(in.BaseRatePerGB).Mul(in.RegionMultiplier)
	priceAfterHealth := basePrice.Mul(in.HealthMultiplier)

	charged := priceAfterHealth
	if in.IsCacheHit {
		charged = charged.Sub(in.CacheDiscountAmount)
		if charged.IsNegative() {
			charged = decimal.Zero
		}
	}

	minimumApplied := false
	if charged.LessThan(minCharge) {
		charged = minCharge
		minimumApplied = true
	}

	cacheDiscount := decimal.Zero
	if in.IsCacheHit {
		cacheDiscount = in.CacheDiscountAmount
	}

	return &Result{
		Snapshot: models.PricingSnapshot{
			CalculatedSizeGB:     sizeGB.Round(6),
			BaseRatePerGB:        in.BaseRatePerGB,
			RegionMultiplier:     in.RegionMultiplier,
			HealthMultiplier:     in.HealthMultiplier,
			IsCacheHit:           in.IsCacheHit,
			CacheDiscountAmount:  cacheDiscount,
			BasePrice:            basePrice.Round(4),
			PriceAfterHealth:     priceAfterHealth.Round(4),
			MinimumChargeApplied: minimumApplied,
		},
		ChargedAmount: charged.Round(4),
	}, nil
}
