package invoices

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	"github.com/rmarceau/torrdrive-backend/pkg/enums"
	"github.com/rmarceau/torrdrive-backend/pkg/pagination"
)

// Repository manages invoice persistence. Status flips go through
// conditional updates so two writers can never both win the same change.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invoice *models.Invoice) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Invoice, int64, error)
	MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, refundedAt time.Time) (bool, error)
	MarkExpired(ctx context.Context, id uuid.UUID) (bool, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an invoice repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&invoice).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]models.Invoice, int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	var out []models.Invoice
	err = r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(params.Offset()).
		Limit(params.PageSize).
		Find(&out).Error
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *repository) flipStatus(ctx context.Context, id uuid.UUID, from, to enums.InvoiceStatus, extra map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for column, value := range extra {
		updates[column] = value
	}
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time) (bool, error) {
	return r.flipStatus(ctx, id, enums.InvoiceStatusPending, enums.InvoiceStatusPaid, map[string]any{"paid_at": paidAt})
}

func (r *repository) MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.flipStatus(ctx, id, enums.InvoiceStatusPending, enums.InvoiceStatusCancelled, nil)
}

func (r *repository) MarkRefunded(ctx context.Context, id uuid.UUID, refundedAt time.Time) (bool, error) {
	return r.flipStatus(ctx, id, enums.InvoiceStatusPaid, enums.InvoiceStatusRefunded, map[string]any{"refunded_at": refundedAt})
}

func (r *repository) MarkExpired(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.flipStatus(ctx, id, enums.InvoiceStatusPending, enums.InvoiceStatusExpired, nil)
}

// ExpireDue flips every pending invoice whose deadline has passed and
// returns how many rows moved.
func (r *repository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("status = ? AND expires_at < ?", enums.InvoiceStatusPending, now).
		Update("status", enums.InvoiceStatusExpired)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
