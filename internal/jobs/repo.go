package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	"github.com/rmarceau/torrdrive-backend/pkg/enums"
)

// Repository manages job persistence. UpdateVersioned is the only way a
// status change reaches the database so the optimistic version check cannot
// be bypassed.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, job *models.Job) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	FindByInvoiceID(ctx context.Context, invoiceID uuid.UUID) (*models.Job, error)
	UpdateVersioned(ctx context.Context, job *models.Job) (bool, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, bytesDownloaded, bytesTransferred, totalBytes int64) error
	UpdateHeartbeat(ctx context.Context, id uuid.UUID, at time.Time) error
	ListByStatus(ctx context.Context, status enums.JobStatus, limit int) ([]models.Job, error)
	ListStale(ctx context.Context, heartbeatBefore time.Time) ([]models.Job, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a job repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) FindByInvoiceID(ctx context.Context, invoiceID uuid.UUID) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateVersioned writes the job only if nobody else has moved it since it
// was loaded. A false return means the version check lost.
func (r *repository) UpdateVersioned(ctx context.Context, job *models.Job) (bool, error) {
	currentVersion := job.Version
	job.Version = currentVersion + 1
	res := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND version = ?", job.ID, currentVersion).
		Select("status", "version", "phase_retry_count", "manual_retry_count",
			"bytes_downloaded", "bytes_transferred", "error_message",
			"started_at", "completed_at", "updated_at").
		Updates(job)
	if res.Error != nil {
		job.Version = currentVersion
		return false, res.Error
	}
	if res.RowsAffected != 1 {
		job.Version = currentVersion
		return false, nil
	}
	return true, nil
}

func (r *repository) UpdateProgress(ctx context.Context, id uuid.UUID, bytesDownloaded, bytesTransferred, totalBytes int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"bytes_downloaded":  bytesDownloaded,
			"bytes_transferred": bytesTransferred,
			"total_bytes":       totalBytes,
		}).Error
}

func (r *repository) UpdateHeartbeat(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", id).
		Update("last_heartbeat", at).Error
}

func (r *repository) ListByStatus(ctx context.Context, status enums.JobStatus, limit int) ([]models.Job, error) {
	var out []models.Job
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListStale returns non-terminal jobs whose heartbeat is older than the
// cutoff. Jobs that never heartbeated are matched on their start time.
func (r *repository) ListStale(ctx context.Context, heartbeatBefore time.Time) ([]models.Job, error) {
	nonTerminal := []enums.JobStatus{
		enums.JobStatusQueued,
		enums.JobStatusDownloading,
		enums.JobStatusTorrentDownloadRetry,
		enums.JobStatusSyncing,
		enums.JobStatusSyncRetry,
		enums.JobStatusPendingUpload,
		enums.JobStatusUploading,
		enums.JobStatusUploadRetry,
	}
	var out []models.Job
	err := r.db.WithContext(ctx).
		Where("status IN ?", nonTerminal).
		Where("(last_heartbeat IS NOT NULL AND last_heartbeat < ?) OR (last_heartbeat IS NULL AND started_at IS NOT NULL AND started_at < ?)", heartbeatBefore, heartbeatBefore).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
