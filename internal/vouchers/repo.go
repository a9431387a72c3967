package vouchers

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
)

// Repository manages persistence for vouchers and their redemptions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, voucher *models.Voucher) error
	FindByCode(ctx context.Context, code string) (*models.Voucher, error)
	CountRedemptionsByUser(ctx context.Context, voucherID, userID uuid.UUID) (int64, error)
	ConsumeUse(ctx context.Context, voucherID uuid.UUID) (bool, error)
	CreateRedemption(ctx context.Context, redemption *models.VoucherRedemption) error
	SetActive(ctx context.Context, voucherID uuid.UUID, active bool) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a voucher repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, voucher *models.Voucher) error {
	voucher.Code = strings.ToLower(voucher.Code)
	return r.db.WithContext(ctx).Create(voucher).Error
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var voucher models.Voucher
	err := r.db.WithContext(ctx).
		Where("code = ?", strings.ToLower(strings.TrimSpace(code))).
		First(&voucher).Error
	if err != nil {
		return nil, err
	}
	return &voucher, nil
}

func (r *repository) CountRedemptionsByUser(ctx context.Context, voucherID, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.VoucherRedemption{}).
		Where("voucher_id = ? AND user_id = ?", voucherID, userID).
		Count(&count).Error
	return count, err
}

// ConsumeUse increments the usage counter only while the total cap still has
// room, so concurrent payments cannot overspend a voucher.
func (r *repository) ConsumeUse(ctx context.Context, voucherID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE vouchers
		SET used_count = used_count + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		  AND is_active
		  AND (max_uses_total = 0 OR used_count < max_uses_total)
	`, voucherID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateRedemption(ctx context.Context, redemption *models.VoucherRedemption) error {
	return r.db.WithContext(ctx).Create(redemption).Error
}

func (r *repository) SetActive(ctx context.Context, voucherID uuid.UUID, active bool) error {
	return r.db.WithContext(ctx).
		Model(&models.Voucher{}).
		Where("id = ?", voucherID).
		Update("is_active", active).Error
}
