package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rmarceau/torrdrive-backend/pkg/enums"
	"github.com/rmarceau/torrdrive-backend/pkg/types"
)

// Job is the fulfillment pipeline instance created when an invoice is paid.
// Version gates every transition so concurrent writers on the same job are
// serialized by an optimistic check.
type Job struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	InvoiceID uuid.UUID `gorm:"column:invoice_id;type:uuid;not null;uniqueIndex"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`

	Status  enums.JobStatus `gorm:"column:status;type:job_status;not null;default:'queued';index"`
	Version int64           `gorm:"column:version;not null;default:0"`

	TorrentHash         string          `gorm:"column:torrent_hash;not null"`
	SelectedFileIndices types.Int64List `gorm:"column:selected_file_indices;type:jsonb;not null"`
	StorageProfileID    uuid.UUID       `gorm:"column:storage_profile_id;type:uuid;not null"`

	TotalBytes       int64 `gorm:"column:total_bytes;not null;default:0"`
	BytesDownloaded  int64 `gorm:"column:bytes_downloaded;not null;default:0"`
	BytesTransferred int64 `gorm:"column:bytes_transferred;not null;default:0"`

	// PhaseRetryCount is the automatic in-phase budget consumed by workers;
	// ManualRetryCount is the job-level budget consumed by user retries.
	PhaseRetryCount  int `gorm:"column:phase_retry_count;not null;default:0"`
	ManualRetryCount int `gorm:"column:manual_retry_count;not null;default:0"`

	ErrorMessage  *string    `gorm:"column:error_message"`
	LastHeartbeat *time.Time `gorm:"column:last_heartbeat"`

	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	StartedAt   *time.Time `gorm:"column:started_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}
