package vouchers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	"github.com/rmarceau/torrdrive-backend/pkg/enums"
	pkgerrors "github.com/rmarceau/torrdrive-backend/pkg/errors"
)

// Service exposes voucher administration and the pricing-path validation.
type Service interface {
	Create(ctx context.Context, input CreateVoucherInput) (*models.Voucher, error)
	Deactivate(ctx context.Context, voucherID uuid.UUID) error
	Validate(ctx context.Context, code string, userID uuid.UUID) (*models.Voucher, error)
	Consume(ctx context.Context, tx *gorm.DB, voucherID, userID, invoiceID uuid.UUID) error
}

type service struct {
	repo Repository
	now  func() time.Time
}

// CreateVoucherInput captures the admin payload for issuing a code.
type CreateVoucherInput struct {
	Code           string
	Type           enums.VoucherType
	Value          decimal.Decimal
	MaxUsesTotal   int
	MaxUsesPerUser int
	ExpiresAt      *time.Time
}

// NewService wires a voucher service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("voucher repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) Create(ctx context.Context, input CreateVoucherInput) (*models.Voucher, error) {
	code := strings.ToLower(strings.TrimSpace(input.Code))
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "voucher code required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid voucher type")
	}
	if !input.Value.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "voucher value must be positive")
	}
	if input.Type == enums.VoucherTypePercentage && input.Value.GreaterThan(decimal.NewFromInt(100)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "percentage voucher cannot exceed 100")
	}
	if input.MaxUsesTotal < 0 || input.MaxUsesPerUser < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "usage caps must not be negative")
	}

	voucher := &models.Voucher{
		Code:           code,
		Type:           input.Type,
		Value:          input.Value,
		MaxUsesTotal:   input.MaxUsesTotal,
		MaxUsesPerUser: input.MaxUsesPerUser,
		ExpiresAt:      input.ExpiresAt,
		IsActive:       true,
	}
	if err := s.repo.Create(ctx, voucher); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create voucher")
	}
	return voucher, nil
}

func (s *service) Deactivate(ctx context.Context, voucherID uuid.UUID) error {
	if voucherID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "voucher id required")
	}
	if err := s.repo.SetActive(ctx, voucherID, false); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate voucher")
	}
	return nil
}

// Validate verifies a code can be applied by the given user right now. Each
// rejection reason surfaces distinctly in the error details.
func (s *service) Validate(ctx context.Context, code string, userID uuid.UUID) (*models.Voucher, error) {
	if strings.TrimSpace(code) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "voucher code required")
	}

	voucher, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invalidVoucher("not_found", "voucher not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load voucher")
	}

	if !voucher.IsActive {
		return nil, invalidVoucher("inactive", "voucher is no longer active")
	}
	if voucher.ExpiresAt != nil && s.now().After(*voucher.ExpiresAt) {
		return nil, invalidVoucher("expired", "voucher has expired")
	}
	if voucher.MaxUsesTotal > 0 && voucher.UsedCount >= voucher.MaxUsesTotal {
		return nil, invalidVoucher("usage_exceeded", "voucher usage limit reached")
	}
	if voucher.MaxUsesPerUser > 0 {
		used, err := s.repo.CountRedemptionsByUser(ctx, voucher.ID, userID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count voucher redemptions")
		}
		if used >= int64(voucher.MaxUsesPerUser) {
			return nil, invalidVoucher("usage_exceeded", "voucher usage limit reached for this user")
		}
	}

	return voucher, nil
}

// Consume records a redemption inside the payment transaction. The count
// increment is cap-guarded so a racing payment cannot overspend the code.
func (s *service) Consume(ctx context.Context, tx *gorm.DB, voucherID, userID, invoiceID uuid.UUID) error {
	repo := s.repo.WithTx(tx)

	consumed, err := repo.ConsumeUse(ctx, voucherID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume voucher use")
	}
	if !consumed {
		return invalidVoucher("usage_exceeded", "voucher usage limit reached")
	}

	redemption := &models.VoucherRedemption{
		VoucherID: voucherID,
		UserID:    userID,
		InvoiceID: invoiceID,
	}
	if err := repo.CreateRedemption(ctx, redemption); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record voucher redemption")
	}
	return nil
}

func invalidVoucher(reason, message string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeInvalidVoucher, message).
		WithDetails(map[string]string{"reason": reason})
}
