package wallet

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
)

func setupWalletTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	accounts := `
CREATE TABLE IF NOT EXISTS wallet_accounts (
  user_id TEXT PRIMARY KEY,
  balance NUMERIC NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`
	entries := `
CREATE TABLE IF NOT EXISTS wallet_entries (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  type TEXT NOT NULL,
  amount NUMERIC NOT NULL,
  reference TEXT NOT NULL,
  reason TEXT,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(accounts).Error)
	require.NoError(t, db.Exec(entries).Error)
	return db
}

func accountBalance(t *testing.T, repo Repository, userID uuid.UUID) decimal.Decimal {
	t.Helper()
	account, err := repo.FindAccount(context.Background(), userID)
	require.NoError(t, err)
	return account.Balance
}

func TestEnsureAccountIsIdempotent(t *testing.T) {
	repo := NewRepository(setupWalletTestDB(t))
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, repo.EnsureAccount(ctx, userID))
	require.NoError(t, repo.Credit(ctx, userID, decimal.NewFromInt(10)))

	// a second ensure must not reset the balance
	require.NoError(t, repo.EnsureAccount(ctx, userID))
	assert.True(t, accountBalance(t, repo, userID).Equal(decimal.NewFromInt(10)))
}

func TestDebitIfSufficientGuardsBalance(t *testing.T) {
	repo := NewRepository(setupWalletTestDB(t))
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, repo.EnsureAccount(ctx, userID))
	require.NoError(t, repo.Credit(ctx, userID, decimal.RequireFromString("5.5")))

	ok, err := repo.DebitIfSufficient(ctx, userID, decimal.RequireFromString("3.25"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, accountBalance(t, repo, userID).Equal(decimal.RequireFromString("2.25")))

	// more than the remainder loses without touching the row
	ok, err = repo.DebitIfSufficient(ctx, userID, decimal.NewFromInt(3))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, accountBalance(t, repo, userID).Equal(decimal.RequireFromString("2.25")))
}

func TestDebitIfSufficientUnknownAccount(t *testing.T) {
	repo := NewRepository(setupWalletTestDB(t))

	ok, err := repo.DebitIfSufficient(context.Background(), uuid.New(), decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEntriesReadBackInOrder(t *testing.T) {
	repo := NewRepository(setupWalletTestDB(t))
	ctx := context.Background()
	userID := uuid.New()

	base := time.Now().UTC().Truncate(time.Second)
	for i, amount := range []string{"-3", "10", "-2.5"} {
		entry := &models.WalletEntry{
			ID:        uuid.New(),
			UserID:    userID,
			Type:      enums.WalletEntryTypeDebit,
			Amount:    decimal.RequireFromString(amount),
			Reference: "invoice:test",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.CreateEntry(ctx, entry))
	}

	entries, err := repo.ListEntries(ctx, userID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(-3)))
	assert.True(t, entries[2].Amount.Equal(decimal.RequireFromString("-2.5")))
}
