package jobs

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmarceau/torrdrive-backend/internal/timeline"
	"github.com/rmarceau/torrdrive-backend/pkg/config"
	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	"github.com/rmarceau/torrdrive-backend/pkg/enums"
	"github.com/rmarceau/torrdrive-backend/pkg/errors"
	"github.com/rmarceau/torrdrive-backend/pkg/logger"
	"github.com/rmarceau/torrdrive-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// TransitionInput describes one requested status change.
type TransitionInput struct {
	JobID        uuid.UUID
	ToStatus     enums.JobStatus
	Source       enums.TransitionSource
	ErrorMessage *string
	Metadata     json.RawMessage
}

// CreateInput carries everything needed to open a queued job for a paid
// invoice.
type CreateInput struct {
	InvoiceID           uuid.UUID
	UserID              uuid.UUID
	TorrentHash         string
	SelectedFileIndices []int64
	StorageProfileID    uuid.UUID
	TotalBytes          int64
}

// Service drives the job state machine. Every status change, whatever actor
// requested it, funnels through one versioned write plus one timeline entry
// in the same transaction.
type Service struct {
	repo     Repository
	timeline *timeline.Service
	db       txRunner
	cfg      config.JobsConfig
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(repo Repository, tl *timeline.Service, db txRunner, cfg config.JobsConfig, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("jobs: repository is required")
	}
	if tl == nil {
		return nil, fmt.Errorf("jobs: timeline service is required")
	}
	if db == nil {
		return nil, fmt.Errorf("jobs: tx runner is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("jobs: logger is required")
	}
	return &Service{
		repo:     repo,
		timeline: tl,
		db:       db,
		cfg:      cfg,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// CreateQueued opens a new job in the queued state inside the caller's
// transaction and writes its creation timeline entry.
func (s *Service) CreateQueued(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.Job, error) {
	if input.InvoiceID == uuid.Nil || input.UserID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "job requires invoice and user ids")
	}
	if input.TorrentHash == "" {
		return nil, errors.New(errors.CodeValidation, "job requires a torrent hash")
	}

	job := &models.Job{
		InvoiceID:           input.InvoiceID,
		UserID:              input.UserID,
		Status:              enums.JobStatusQueued,
		TorrentHash:         input.TorrentHash,
		SelectedFileIndices: types.Int64List(input.SelectedFileIndices),
		StorageProfileID:    input.StorageProfileID,
		TotalBytes:          input.TotalBytes,
	}
	repo := s.repo.WithTx(tx)
	if err := repo.Create(ctx, job); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "failed to create job")
	}

	if _, err := s.timeline.Record(ctx, tx, timeline.RecordInput{
		JobID:     job.ID,
		InvoiceID: &job.InvoiceID,
		ToStatus:  enums.JobStatusQueued,
		Source:    enums.TransitionSourceSystem,
	}); err != nil {
		return nil, err
	}
	return job, nil
}

// Get loads a job by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(errors.CodeNotFound, "job not found")
		}
		return nil, errors.Wrap(errors.CodeInternal, err, "failed to load job")
	}
	return job, nil
}

// Transition applies one status change. A lost version check is retried once
// against the reloaded row before a conflict is surfaced.
func (s *Service) Transition(ctx context.Context, input TransitionInput) (*models.Job, error) {
	if !input.Source.IsValid() {
		return nil, errors.New(errors.CodeValidation, "invalid transition source")
	}

	const attempts = 2
	for attempt := 0; attempt < attempts; attempt++ {
		job, err := s.Get(ctx, input.JobID)
		if err != nil {
			return nil, err
		}
		// A cancel that lost the race against completion is a no-op, not an
		// error. This also covers the re-read after a lost version check.
		if input.ToStatus == enums.JobStatusCancelled {
			switch job.Status {
			case enums.JobStatusCompleted, enums.JobStatusCancelled:
				return job, nil
			}
		}
		if err := ValidateTransition(job.Status, input.ToStatus); err != nil {
			return nil, err
		}

		applied, err := s.commitTransition(ctx, job, input.ToStatus, input.Source, input.ErrorMessage, input.Metadata)
		if err != nil {
			return nil, err
		}
		if applied != nil {
			return applied, nil
		}
	}
	return nil, errors.New(errors.CodeConflict, "job was modified concurrently")
}

// commitTransition writes the status change and timeline entry in one
// transaction. A nil job with nil error means the version check lost.
func (s *Service) commitTransition(ctx context.Context, job *models.Job, to enums.JobStatus, source enums.TransitionSource, errMsg *string, metadata json.RawMessage) (*models.Job, error) {
	from := job.Status
	updated := *job
	updated.Status = to
	s.applySideEffects(&updated, from, to, errMsg)

	var lost bool
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).UpdateVersioned(ctx, &updated)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "failed to update job")
		}
		if !ok {
			lost = true
			return nil
		}
		_, err = s.timeline.Record(ctx, tx, timeline.RecordInput{
			JobID:        updated.ID,
			InvoiceID:    &updated.InvoiceID,
			FromStatus:   &from,
			ToStatus:     to,
			Source:       source,
			ErrorMessage: errMsg,
			Metadata:     metadata,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if lost {
		return nil, nil
	}
	return &updated, nil
}

func (s *Service) applySideEffects(job *models.Job, from, to enums.JobStatus, errMsg *string) {
	now := s.now().UTC()

	if from == enums.JobStatusQueued && to == enums.JobStatusDownloading {
		job.StartedAt = &now
	}

	if _, isRetry := RetryTarget(to); isRetry {
		job.PhaseRetryCount++
		job.ErrorMessage = errMsg
		return
	}

	fromPhase, fromOK := from.Phase()
	toPhase, toOK := to.Phase()
	if fromOK && toOK && fromPhase != toPhase {
		// new phase starts with a fresh automatic retry budget
		job.PhaseRetryCount = 0
	}

	switch {
	case to == enums.JobStatusCompleted:
		job.CompletedAt = &now
		job.ErrorMessage = nil
	case to == enums.JobStatusCancelled:
		job.CompletedAt = &now
	case to.IsFailureTerminal():
		job.CompletedAt = &now
		job.ErrorMessage = errMsg
	}
}

// Cancel stops a job. Cancelling a completed or already-cancelled job is a
// no-op; cancelling a failed job is rejected because the job is terminal.
func (s *Service) Cancel(ctx context.Context, jobID uuid.UUID, source enums.TransitionSource) (*models.Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case enums.JobStatusCompleted, enums.JobStatusCancelled:
		return job, nil
	}
	return s.Transition(ctx, TransitionInput{
		JobID:    jobID,
		ToStatus: enums.JobStatusCancelled,
		Source:   source,
	})
}

// Retry re-enters the pipeline from a failure terminal, consuming one unit
// of the manual retry budget and resetting the failed phase's progress.
func (s *Service) Retry(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	const attempts = 2
	for attempt := 0; attempt < attempts; attempt++ {
		job, err := s.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if !job.Status.IsFailureTerminal() {
			return nil, errors.New(errors.CodeStateConflict, fmt.Sprintf("job in status %s cannot be retried", job.Status))
		}
		if job.ManualRetryCount >= s.cfg.ManualRetryBudget {
			return nil, errors.New(errors.CodeStateConflict, "manual retry budget exhausted").
				WithDetails(map[string]any{"manualRetryCount": job.ManualRetryCount})
		}
		target, ok := RecoveryTarget(job.Status)
		if !ok {
			return nil, errors.New(errors.CodeInternal, fmt.Sprintf("no recovery target for status %s", job.Status))
		}

		from := job.Status
		updated := *job
		updated.Status = target
		updated.ManualRetryCount++
		updated.PhaseRetryCount = 0
		updated.ErrorMessage = nil
		updated.CompletedAt = nil
		switch target {
		case enums.JobStatusQueued:
			updated.BytesDownloaded = 0
			updated.BytesTransferred = 0
			updated.StartedAt = nil
		case enums.JobStatusDownloading:
			updated.BytesDownloaded = 0
		case enums.JobStatusUploading:
			updated.BytesTransferred = 0
		}

		var lost bool
		err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
			ok, err := s.repo.WithTx(tx).UpdateVersioned(ctx, &updated)
			if err != nil {
				return errors.Wrap(errors.CodeInternal, err, "failed to update job")
			}
			if !ok {
				lost = true
				return nil
			}
			_, err = s.timeline.Record(ctx, tx, timeline.RecordInput{
				JobID:      updated.ID,
				InvoiceID:  &updated.InvoiceID,
				FromStatus: &from,
				ToStatus:   target,
				Source:     enums.TransitionSourceUser,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		if !lost {
			return &updated, nil
		}
	}
	return nil, errors.New(errors.CodeConflict, "job was modified concurrently")
}

// Heartbeat records liveness for the owning worker. Best effort: a failed
// write is logged and swallowed so it can never block a transition.
func (s *Service) Heartbeat(ctx context.Context, jobID uuid.UUID) {
	if err := s.repo.UpdateHeartbeat(ctx, jobID, s.now().UTC()); err != nil {
		s.logg.Warn(s.logg.WithJobID(ctx, jobID.String()), "heartbeat write failed")
	}
}

// ReportProgress updates the byte counters outside the versioned path.
func (s *Service) ReportProgress(ctx context.Context, jobID uuid.UUID, bytesDownloaded, bytesTransferred, totalBytes int64) error {
	if err := s.repo.UpdateProgress(ctx, jobID, bytesDownloaded, bytesTransferred, totalBytes); err != nil {
		return errors.Wrap(errors.CodeInternal, err, "failed to update job progress")
	}
	return nil
}

// StaleJobs returns non-terminal jobs whose heartbeat has fallen behind the
// configured threshold.
func (s *Service) StaleJobs(ctx context.Context) ([]models.Job, error) {
	cutoff := s.now().UTC().Add(-s.cfg.HeartbeatThreshold)
	jobs, err := s.repo.ListStale(ctx, cutoff)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "failed to list stale jobs")
	}
	return jobs, nil
}

// ClaimQueued returns up to limit queued jobs for a worker to pick up.
func (s *Service) ClaimQueued(ctx context.Context, limit int) ([]models.Job, error) {
	jobs, err := s.repo.ListByStatus(ctx, enums.JobStatusQueued, limit)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "failed to list queued jobs")
	}
	return jobs, nil
}

// ProgressPercentage derives completion from the byte counters. A completed
// job always reports 100 regardless of raw counters.
func ProgressPercentage(job *models.Job) float64 {
	if job.Status == enums.JobStatusCompleted {
		return 100
	}
	if job.TotalBytes <= 0 {
		return 0
	}
	var done int64
	phase, ok := job.Status.Phase()
	if !ok {
		return 0
	}
	switch phase {
	case enums.JobPhaseDownload:
		done = job.BytesDownloaded
	default:
		done = job.BytesTransferred
	}
	pct := float64(done) / float64(job.TotalBytes) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// CanRetry reports whether a manual retry is currently possible.
func (s *Service) CanRetry(job *models.Job) bool {
	return job.Status.IsFailureTerminal() && job.ManualRetryCount < s.cfg.ManualRetryBudget
}

// CanCancel reports whether the job can still be cancelled.
func CanCancel(job *models.Job) bool {
	return !job.Status.IsTerminal()
}

// IsStale reports whether the job's heartbeat is older than the threshold.
func (s *Service) IsStale(job *models.Job, now time.Time) bool {
	if job.Status.IsTerminal() {
		return false
	}
	last := job.LastHeartbeat
	if last == nil {
		last = job.StartedAt
	}
	if last == nil {
		return false
	}
	return now.Sub(*last) > s.cfg.HeartbeatThreshold
}
