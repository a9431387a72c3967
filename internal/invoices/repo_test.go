package invoices

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	"github.com/rmarceau/torrdrive-backend/pkg/enums"
	"github.com/rmarceau/torrdrive-backend/pkg/pagination"
	"github.com/rmarceau/torrdrive-backend/pkg/types"
)

func setupInvoiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
CREATE TABLE IF NOT EXISTS invoices (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  torrent_hash TEXT NOT NULL,
  selected_file_indices TEXT NOT NULL,
  region TEXT NOT NULL,
  storage_profile_id TEXT NOT NULL,
  total_size_bytes INTEGER NOT NULL DEFAULT 0,
  calculated_size_gb NUMERIC NOT NULL,
  base_rate_per_gb NUMERIC NOT NULL,
  region_multiplier NUMERIC NOT NULL,
  health_multiplier NUMERIC NOT NULL,
  is_cache_hit INTEGER NOT NULL DEFAULT 0,
  cache_discount_amount NUMERIC NOT NULL,
  base_price NUMERIC NOT NULL,
  price_after_health NUMERIC NOT NULL,
  minimum_charge_applied INTEGER NOT NULL DEFAULT 0,
  original_amount_usd NUMERIC NOT NULL,
  voucher_code TEXT,
  voucher_type TEXT,
  voucher_value NUMERIC,
  voucher_discount_amount NUMERIC NOT NULL DEFAULT 0,
  final_amount_usd NUMERIC NOT NULL,
  exchange_rate NUMERIC NOT NULL,
  final_amount_virtual NUMERIC NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  created_at DATETIME,
  updated_at DATETIME,
  expires_at DATETIME NOT NULL,
  paid_at DATETIME,
  refunded_at DATETIME
);`
	require.NoError(t, db.Exec(ddl).Error)
	return db
}

func seedInvoice(t *testing.T, repo Repository, userID uuid.UUID, expiresAt time.Time) *models.Invoice {
	t.Helper()
	invoice := &models.Invoice{
		ID:                  uuid.New(),
		UserID:              userID,
		TorrentHash:         "cafebabe",
		SelectedFileIndices: types.Int64List{0, 2},
		Region:              "us-east",
		StorageProfileID:    uuid.New(),
		TotalSizeBytes:      5_000_000_000,
		Pricing: models.PricingSnapshot{
			CalculatedSizeGB: decimal.NewFromInt(5),
			BaseRatePerGB:    decimal.RequireFromString("0.05"),
			RegionMultiplier: decimal.NewFromInt(1),
			HealthMultiplier: decimal.NewFromInt(1),
			BasePrice:        decimal.RequireFromString("0.25"),
			PriceAfterHealth: decimal.RequireFromString("0.25"),
		},
		OriginalAmountUSD:  decimal.RequireFromString("1.00"),
		FinalAmountUSD:     decimal.RequireFromString("1.00"),
		ExchangeRate:       decimal.RequireFromString("0.01"),
		FinalAmountVirtual: decimal.NewFromInt(100),
		Status:             enums.InvoiceStatusPending,
		ExpiresAt:          expiresAt,
	}
	require.NoError(t, repo.Create(context.Background(), invoice))
	return invoice
}

func TestCreateAndFindRoundTrip(t *testing.T) {
	repo := NewRepository(setupInvoiceTestDB(t))
	userID := uuid.New()
	created := seedInvoice(t, repo, userID, time.Now().Add(30*time.Minute))

	found, err := repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, userID, found.UserID)
	assert.Equal(t, enums.InvoiceStatusPending, found.Status)
	assert.Equal(t, types.Int64List{0, 2}, found.SelectedFileIndices)
	assert.True(t, found.FinalAmountUSD.Equal(decimal.RequireFromString("1.00")))
}

func TestMarkPaidIsSingleWinner(t *testing.T) {
	repo := NewRepository(setupInvoiceTestDB(t))
	invoice := seedInvoice(t, repo, uuid.New(), time.Now().Add(30*time.Minute))
	ctx := context.Background()

	ok, err := repo.MarkPaid(ctx, invoice.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	// second flip loses the conditional update
	ok, err = repo.MarkPaid(ctx, invoice.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	found, err := repo.FindByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusPaid, found.Status)
	assert.NotNil(t, found.PaidAt)
}

func TestMarkRefundedRequiresPaid(t *testing.T) {
	repo := NewRepository(setupInvoiceTestDB(t))
	invoice := seedInvoice(t, repo, uuid.New(), time.Now().Add(30*time.Minute))
	ctx := context.Background()

	ok, err := repo.MarkRefunded(ctx, invoice.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "pending invoice must not refund")

	_, err = repo.MarkPaid(ctx, invoice.ID, time.Now())
	require.NoError(t, err)

	ok, err = repo.MarkRefunded(ctx, invoice.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpireDueOnlyTouchesOverduePending(t *testing.T) {
	repo := NewRepository(setupInvoiceTestDB(t))
	ctx := context.Background()
	now := time.Now()

	overdue := seedInvoice(t, repo, uuid.New(), now.Add(-time.Minute))
	fresh := seedInvoice(t, repo, uuid.New(), now.Add(30*time.Minute))
	paid := seedInvoice(t, repo, uuid.New(), now.Add(-time.Minute))
	_, err := repo.MarkPaid(ctx, paid.ID, now)
	require.NoError(t, err)

	count, err := repo.ExpireDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	expired, err := repo.FindByID(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusExpired, expired.Status)

	untouched, err := repo.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusPending, untouched.Status)
}

func TestListByUserPagesNewestFirst(t *testing.T) {
	repo := NewRepository(setupInvoiceTestDB(t))
	ctx := context.Background()
	userID := uuid.New()

	base := time.Now().UTC().Truncate(time.Second)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		invoice := seedInvoice(t, repo, userID, base.Add(30*time.Minute))
		require.NoError(t, repo.(*repository).db.Model(&models.Invoice{}).
			Where("id = ?", invoice.ID).
			Update("created_at", base.Add(time.Duration(i)*time.Second)).Error)
		ids = append(ids, invoice.ID)
	}
	seedInvoice(t, repo, uuid.New(), base.Add(30*time.Minute))

	list, total, err := repo.ListByUser(ctx, userID, pagination.Params{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID, "newest invoice first")
	assert.Equal(t, ids[1], list[1].ID)
}
