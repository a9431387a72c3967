package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	"github.com/rmarceau/torrdrive-backend/pkg/enums"
	"github.com/rmarceau/torrdrive-backend/pkg/errors"
	"github.com/rmarceau/torrdrive-backend/pkg/pagination"
)

// RecordInput describes one status transition to append to a job's timeline.
type RecordInput struct {
	JobID        uuid.UUID
	InvoiceID    *uuid.UUID
	FromStatus   *enums.JobStatus
	ToStatus     enums.JobStatus
	Source       enums.TransitionSource
	ErrorMessage *string
	Metadata     json.RawMessage
}

// Service appends and reads job timelines. Every status change a job ever
// makes flows through Record, always inside the transaction that moved the
// job so the timeline can never disagree with the job row.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("timeline: repository is required")
	}
	return &Service{repo: repo, now: time.Now}, nil
}

// Record appends an entry, computing the elapsed time since the previous
// entry. The first entry for a job carries no duration.
func (s *Service) Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.TimelineEntry, error) {
	if input.JobID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "timeline entry requires a job id")
	}
	if !input.ToStatus.IsValid() {
		return nil, errors.New(errors.CodeValidation, "timeline entry requires a valid target status")
	}
	if !input.Source.IsValid() {
		return nil, errors.New(errors.CodeValidation, "timeline entry requires a valid transition source")
	}

	repo := s.repo.WithTx(tx)
	changedAt := s.now().UTC()

	var duration *int64
	previous, err := repo.FindLastForJob(ctx, input.JobID)
	switch {
	case err == nil:
		elapsed := changedAt.Sub(previous.ChangedAt).Milliseconds()
		if elapsed < 0 {
			elapsed = 0
		}
		duration = &elapsed
	case err == gorm.ErrRecordNotFound:
		// creation entry, nothing to measure against
	default:
		return nil, errors.Wrap(errors.CodeInternal, err, "failed to load previous timeline entry")
	}

	entry := &models.TimelineEntry{
		JobID:                  input.JobID,
		InvoiceID:              input.InvoiceID,
		FromStatus:             input.FromStatus,
		ToStatus:               input.ToStatus,
		Source:                 input.Source,
		ChangedAt:              changedAt,
		DurationFromPreviousMS: duration,
		ErrorMessage:           input.ErrorMessage,
		Metadata:               input.Metadata,
	}
	if err := repo.Create(ctx, entry); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "failed to append timeline entry")
	}
	return entry, nil
}

// Read returns one page of a job's timeline in chronological order.
func (s *Service) Read(ctx context.Context, jobID uuid.UUID, params pagination.Params) ([]models.TimelineEntry, pagination.PageInfo, error) {
	params = params.Normalize()
	entries, total, err := s.repo.ListForJob(ctx, jobID, params)
	if err != nil {
		return nil, pagination.PageInfo{}, errors.Wrap(errors.CodeInternal, err, "failed to list timeline entries")
	}
	return entries, pagination.NewPageInfo(total, params), nil
}
