package timeline

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	"github.com/rmarceau/torrdrive-backend/pkg/pagination"
)

// Repository manages persistence for job timeline entries. Entries are
// append-only; there are no update or delete operations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.TimelineEntry) error
	FindLastForJob(ctx context.Context, jobID uuid.UUID) (*models.TimelineEntry, error)
	ListForJob(ctx context.Context, jobID uuid.UUID, params pagination.Params) ([]models.TimelineEntry, int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a timeline repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.TimelineEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindLastForJob(ctx context.Context, jobID uuid.UUID) (*models.TimelineEntry, error) {
	var entry models.TimelineEntry
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("changed_at DESC").
		First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListForJob returns one page of entries in chronological order plus the
// total count for page metadata.
func (r *repository) ListForJob(ctx context.Context, jobID uuid.UUID, params pagination.Params) ([]models.TimelineEntry, int64, error) {
	var total int64
	base := r.db.WithContext(ctx).
		Model(&models.TimelineEntry{}).
		Where("job_id = ?", jobID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.TimelineEntry
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("changed_at ASC").
		Offset(params.Offset()).
		Limit(params.PageSize).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
