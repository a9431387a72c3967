package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rmarceau/torrdrive-backend/pkg/enums"
)

// TimelineEntry is one immutable record of a job status transition.
// Entries are append-only; DurationFromPreviousMS is nil only on the
// creation entry.
type TimelineEntry struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	JobID     uuid.UUID  `gorm:"column:job_id;type:uuid;not null;index:idx_timeline_job_changed"`
	InvoiceID *uuid.UUID `gorm:"column:invoice_id;type:uuid;index"`

	FromStatus *enums.JobStatus       `gorm:"column:from_status;type:job_status"`
	ToStatus   enums.JobStatus        `gorm:"column:to_status;type:job_status;not null"`
	Source     enums.TransitionSource `gorm:"column:source;type:transition_source;not null"`

	ChangedAt              time.Time `gorm:"column:changed_at;not null;index:idx_timeline_job_changed"`
	DurationFromPreviousMS *int64    `gorm:"column:duration_from_previous_ms"`

	ErrorMessage *string         `gorm:"column:error_message"`
	Metadata     json.RawMessage `gorm:"column:metadata;type:jsonb"`
}
