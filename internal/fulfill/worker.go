package fulfill

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rmarceau/torrdrive-backend/internal/jobs"
	"github.com/rmarceau/torrdrive-backend/pkg/config"
	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	"github.com/rmarceau/torrdrive-backend/pkg/enums"
	"github.com/rmarceau/torrdrive-backend/pkg/errors"
	"github.com/rmarceau/torrdrive-backend/pkg/logger"
	"github.com/rmarceau/torrdrive-backend/pkg/metrics"
)

type jobDriver interface {
	ClaimQueued(ctx context.Context, limit int) ([]models.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Transition(ctx context.Context, input jobs.TransitionInput) (*models.Job, error)
	Heartbeat(ctx context.Context, jobID uuid.UUID)
	ReportProgress(ctx context.Context, jobID uuid.UUID, bytesDownloaded, bytesTransferred, totalBytes int64) error
}

// phaseSpec binds one pipeline phase to its retry sub-state and the terminal
// it lands in when the automatic budget runs out.
type phaseSpec struct {
	phase    enums.JobPhase
	forward  enums.JobStatus
	retry    enums.JobStatus
	run      func(ctx context.Context, job *models.Job, progress ProgressFunc) error
	classify func(err error) enums.JobStatus
	report   func(w *Worker, ctx context.Context, job *models.Job, done, total int64)
}

// Worker drains queued jobs and drives each through the download, sync and
// upload phases. Transient provider faults consume the per-phase automatic
// retry budget; a cancellation racing a transition simply wins.
type Worker struct {
	jobs      jobDriver
	provider  TransferProvider
	metrics   *metrics.WorkerMetrics
	logg      *logger.Logger
	workerCfg config.WorkerConfig
	jobsCfg   config.JobsConfig
	id        string
}

func NewWorker(
	driver jobDriver,
	provider TransferProvider,
	m *metrics.WorkerMetrics,
	logg *logger.Logger,
	workerCfg config.WorkerConfig,
	jobsCfg config.JobsConfig,
	id string,
) (*Worker, error) {
	if driver == nil {
		return nil, fmt.Errorf("fulfill: job driver is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("fulfill: transfer provider is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("fulfill: logger is required")
	}
	return &Worker{
		jobs:      driver,
		provider:  provider,
		metrics:   m,
		logg:      logg,
		workerCfg: workerCfg,
		jobsCfg:   jobsCfg,
		id:        id,
	}, nil
}

// Run polls for queued jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.workerCfg.PollInterval)
	defer ticker.Stop()

	w.logg.Info(w.logg.WithField(ctx, "worker_id", w.id), "fulfillment worker started")
	for {
		select {
		case <-ctx.Done():
			w.logg.Info(ctx, "fulfillment worker stopping")
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	claimed, err := w.jobs.ClaimQueued(ctx, w.workerCfg.ClaimBatchSize)
	if err != nil {
		w.logg.Error(ctx, "failed to claim queued jobs", err)
		return
	}
	for i := range claimed {
		if ctx.Err() != nil {
			return
		}
		w.Process(ctx, claimed[i].ID)
	}
}

// Process drives one job through the pipeline. All failure handling is
// recorded on the job itself, so the return is only for the caller's logs.
func (w *Worker) Process(ctx context.Context, jobID uuid.UUID) {
	ctx = w.logg.WithJobID(ctx, jobID.String())

	stopHeartbeat := w.startHeartbeat(ctx, jobID)
	defer stopHeartbeat()

	job, ok := w.transition(ctx, jobID, enums.JobStatusDownloading, nil)
	if !ok {
		return
	}

	job, ok = w.runPhase(ctx, job, w.downloadSpec())
	if !ok {
		return
	}

	if w.provider.NeedsSync(job) {
		if job, ok = w.transition(ctx, job.ID, enums.JobStatusSyncing, nil); !ok {
			return
		}
		if job, ok = w.runPhase(ctx, job, w.syncSpec()); !ok {
			return
		}
	} else {
		if job, ok = w.transition(ctx, job.ID, enums.JobStatusPendingUpload, nil); !ok {
			return
		}
	}

	if job, ok = w.transition(ctx, job.ID, enums.JobStatusUploading, nil); !ok {
		return
	}
	if job, ok = w.runPhase(ctx, job, w.uploadSpec()); !ok {
		return
	}

	if _, ok = w.transition(ctx, job.ID, enums.JobStatusCompleted, nil); ok {
		w.logg.Info(ctx, "job completed")
	}
}

// transition applies one status change, treating a lost race (usually a
// user cancellation) as the end of this worker's involvement.
func (w *Worker) transition(ctx context.Context, jobID uuid.UUID, to enums.JobStatus, errMsg *string) (*models.Job, bool) {
	job, err := w.jobs.Transition(ctx, jobs.TransitionInput{
		JobID:        jobID,
		ToStatus:     to,
		Source:       enums.TransitionSourceWorker,
		ErrorMessage: errMsg,
	})
	if err != nil {
		if errors.HasCode(err, errors.CodeStateConflict) || errors.HasCode(err, errors.CodeConflict) {
			w.logg.Info(w.logg.WithField(ctx, "to_status", to.String()), "job moved out from under the worker, releasing it")
			return nil, false
		}
		w.logg.Error(ctx, "job transition failed", err)
		return nil, false
	}
	return job, true
}

// runPhase executes one phase with automatic in-phase retries. A false
// return means the job is no longer this worker's to drive, whether it
// failed terminally or was taken away mid-flight.
func (w *Worker) runPhase(ctx context.Context, job *models.Job, spec phaseSpec) (*models.Job, bool) {
	for {
		start := time.Now()
		err := spec.run(ctx, job, func(done, total int64) {
			spec.report(w, ctx, job, done, total)
		})
		w.metrics.ObservePhaseDuration(spec.phase.String(), time.Since(start))

		if err == nil {
			w.metrics.IncPhaseSuccess(spec.phase.String())
			return job, true
		}
		if ctx.Err() != nil {
			return nil, false
		}

		wrapped := upstream(err, fmt.Sprintf("%s phase failed", spec.phase))
		message := wrapped.Error()
		w.logg.Error(ctx, fmt.Sprintf("%s phase attempt failed", spec.phase), err)

		if job.PhaseRetryCount < w.jobsCfg.PhaseRetryBudget {
			retried, ok := w.transition(ctx, job.ID, spec.retry, &message)
			if !ok {
				return nil, false
			}
			resumed, ok := w.transition(ctx, retried.ID, spec.forward, nil)
			if !ok {
				return nil, false
			}
			w.metrics.IncPhaseRetry(spec.phase.String())
			job = resumed
			continue
		}

		terminal := spec.classify(err)
		w.metrics.IncPhaseFailure(spec.phase.String())
		w.transition(ctx, job.ID, terminal, &message)
		return nil, false
	}
}

func (w *Worker) downloadSpec() phaseSpec {
	return phaseSpec{
		phase:   enums.JobPhaseDownload,
		forward: enums.JobStatusDownloading,
		retry:   enums.JobStatusTorrentDownloadRetry,
		run:     w.provider.Download,
		classify: func(error) enums.JobStatus {
			return enums.JobStatusTorrentFailed
		},
		report: func(w *Worker, ctx context.Context, job *models.Job, done, total int64) {
			if err := w.jobs.ReportProgress(ctx, job.ID, done, job.BytesTransferred, total); err != nil {
				w.logg.Warn(ctx, "progress update failed")
			}
		},
	}
}

func (w *Worker) syncSpec() phaseSpec {
	return phaseSpec{
		phase:   enums.JobPhaseSync,
		forward: enums.JobStatusSyncing,
		retry:   enums.JobStatusSyncRetry,
		run:     w.provider.Sync,
		classify: func(err error) enums.JobStatus {
			if stdErrors.Is(err, ErrStorageRejected) {
				return enums.JobStatusGoogleDriveFailed
			}
			return enums.JobStatusFailed
		},
		report: func(w *Worker, ctx context.Context, job *models.Job, done, total int64) {
			if err := w.jobs.ReportProgress(ctx, job.ID, job.BytesDownloaded, done, total); err != nil {
				w.logg.Warn(ctx, "progress update failed")
			}
		},
	}
}

func (w *Worker) uploadSpec() phaseSpec {
	return phaseSpec{
		phase:   enums.JobPhaseUpload,
		forward: enums.JobStatusUploading,
		retry:   enums.JobStatusUploadRetry,
		run:     w.provider.Upload,
		classify: func(err error) enums.JobStatus {
			if stdErrors.Is(err, ErrStorageRejected) {
				return enums.JobStatusGoogleDriveFailed
			}
			return enums.JobStatusUploadFailed
		},
		report: func(w *Worker, ctx context.Context, job *models.Job, done, total int64) {
			if err := w.jobs.ReportProgress(ctx, job.ID, job.BytesDownloaded, done, total); err != nil {
				w.logg.Warn(ctx, "progress update failed")
			}
		},
	}
}

// startHeartbeat reports liveness on the configured interval until the
// returned stop function is called.
func (w *Worker) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.jobsCfg.HeartbeatInterval)
		defer ticker.Stop()
		w.jobs.Heartbeat(ctx, jobID)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.jobs.Heartbeat(ctx, jobID)
			}
		}
	}()
	return func() { close(done) }
}
