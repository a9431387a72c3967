package wallet

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	"github.com/rmarceau/torrdrive-backend/pkg/enums"
	"github.com/rmarceau/torrdrive-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes wallet balance reads and ledger-backed balance changes.
// Debits and credits that belong to a payment flow run inside the caller's
// transaction; admin adjustments open their own.
type Service struct {
	repo Repository
	db   txRunner
}

func NewService(repo Repository, db txRunner) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet: repository is required")
	}
	if db == nil {
		return nil, fmt.Errorf("wallet: tx runner is required")
	}
	return &Service{repo: repo, db: db}, nil
}

// Balance returns the current balance, creating a zero-balance account on
// first contact.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	if err := s.repo.EnsureAccount(ctx, userID); err != nil {
		return decimal.Zero, errors.Wrap(errors.CodeInternal, err, "failed to ensure wallet account")
	}
	account, err := s.repo.FindAccount(ctx, userID)
	if err != nil {
		return decimal.Zero, errors.Wrap(errors.CodeInternal, err, "failed to load wallet account")
	}
	return account.Balance, nil
}

// Debit withdraws amount within the caller's transaction and records a
// ledger entry. Returns an insufficient-balance error when the account
// cannot cover the amount.
func (s *Service) Debit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, reference string) error {
	if amount.IsNegative() {
		return errors.New(errors.CodeValidation, "debit amount must not be negative")
	}
	repo := s.repo.WithTx(tx)
	if err := repo.EnsureAccount(ctx, userID); err != nil {
		return errors.Wrap(errors.CodeInternal, err, "failed to ensure wallet account")
	}
	ok, err := repo.DebitIfSufficient(ctx, userID, amount)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "failed to debit wallet")
	}
	if !ok {
		return errors.New(errors.CodeInsufficientBalance, "wallet balance does not cover the amount").WithDetails(map[string]any{
			"required": amount.String(),
		})
	}
	entry := &models.WalletEntry{
		UserID:    userID,
		Type:      enums.WalletEntryTypeDebit,
		Amount:    amount.Neg(),
		Reference: reference,
	}
	if err := repo.CreateEntry(ctx, entry); err != nil {
		return errors.Wrap(errors.CodeInternal, err, "failed to record wallet entry")
	}
	return nil
}

// Credit deposits amount within the caller's transaction and records a
// ledger entry.
func (s *Service) Credit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, reference string) error {
	if amount.IsNegative() {
		return errors.New(errors.CodeValidation, "credit amount must not be negative")
	}
	repo := s.repo.WithTx(tx)
	if err := repo.EnsureAccount(ctx, userID); err != nil {
		return errors.Wrap(errors.CodeInternal, err, "failed to ensure wallet account")
	}
	if err := repo.Credit(ctx, userID, amount); err != nil {
		return errors.Wrap(errors.CodeInternal, err, "failed to credit wallet")
	}
	entry := &models.WalletEntry{
		UserID:    userID,
		Type:      enums.WalletEntryTypeCredit,
		Amount:    amount,
		Reference: reference,
	}
	if err := repo.CreateEntry(ctx, entry); err != nil {
		return errors.Wrap(errors.CodeInternal, err, "failed to record wallet entry")
	}
	return nil
}

// Adjust applies a signed admin adjustment in its own transaction. Negative
// deltas are still balance-guarded so an adjustment can never overdraw.
func (s *Service) Adjust(ctx context.Context, userID uuid.UUID, delta decimal.Decimal, reason string) error {
	if delta.IsZero() {
		return errors.New(errors.CodeValidation, "adjustment delta must not be zero")
	}
	if reason == "" {
		return errors.New(errors.CodeValidation, "adjustment reason is required")
	}
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.EnsureAccount(ctx, userID); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "failed to ensure wallet account")
		}
		if delta.IsNegative() {
			ok, err := repo.DebitIfSufficient(ctx, userID, delta.Neg())
			if err != nil {
				return errors.Wrap(errors.CodeInternal, err, "failed to apply adjustment")
			}
			if !ok {
				return errors.New(errors.CodeInsufficientBalance, "adjustment would overdraw the wallet").WithDetails(map[string]any{
					"delta": delta.String(),
				})
			}
		} else {
			if err := repo.Credit(ctx, userID, delta); err != nil {
				return errors.Wrap(errors.CodeInternal, err, "failed to apply adjustment")
			}
		}
		entry := &models.WalletEntry{
			UserID:    userID,
			Type:      enums.WalletEntryTypeAdjustment,
			Amount:    delta,
			Reference: "admin_adjustment",
			Reason:    &reason,
		}
		if err := repo.CreateEntry(ctx, entry); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "failed to record wallet entry")
		}
		return nil
	})
}

// Entries returns the full ledger for a user, oldest first.
func (s *Service) Entries(ctx context.Context, userID uuid.UUID) ([]models.WalletEntry, error) {
	entries, err := s.repo.ListEntries(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "failed to list wallet entries")
	}
	return entries, nil
}
