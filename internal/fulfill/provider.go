package fulfill

import (
	"context"
	stdErrors "errors"

	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	"github.com/rmarceau/torrdrive-backend/pkg/errors"
)

// ErrStorageRejected marks an upload failure caused by the storage backend
// itself rather than the transfer path. It classifies the terminal status
// the job lands in.
var ErrStorageRejected = stdErrors.New("storage backend rejected the transfer")

// ProgressFunc receives byte counters as a phase advances.
type ProgressFunc func(bytesDone, totalBytes int64)

// TransferProvider executes the data-plane work of each fulfillment phase.
// Implementations return plain errors for transient faults; the worker wraps
// them as upstream failures and drives the retry budget.
type TransferProvider interface {
	// NeedsSync reports whether the job's data must be staged through the
	// sync phase before uploading.
	NeedsSync(job *models.Job) bool
	Download(ctx context.Context, job *models.Job, progress ProgressFunc) error
	Sync(ctx context.Context, job *models.Job, progress ProgressFunc) error
	Upload(ctx context.Context, job *models.Job, progress ProgressFunc) error
}

// SimulatedProvider fulfills jobs without touching any real torrent or
// storage infrastructure. Used for local development and smoke testing.
type SimulatedProvider struct {
	StageThroughSync bool
}

func (p *SimulatedProvider) NeedsSync(job *models.Job) bool {
	return p.StageThroughSync
}

func (p *SimulatedProvider) Download(ctx context.Context, job *models.Job, progress ProgressFunc) error {
	return p.simulate(ctx, job, progress)
}

func (p *SimulatedProvider) Sync(ctx context.Context, job *models.Job, progress ProgressFunc) error {
	return p.simulate(ctx, job, progress)
}

func (p *SimulatedProvider) Upload(ctx context.Context, job *models.Job, progress ProgressFunc) error {
	return p.simulate(ctx, job, progress)
}

func (p *SimulatedProvider) simulate(ctx context.Context, job *models.Job, progress ProgressFunc) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if progress != nil {
		progress(job.TotalBytes/2, job.TotalBytes)
		progress(job.TotalBytes, job.TotalBytes)
	}
	return nil
}

// upstream wraps a provider fault with the upstream error code so the
// failure reason survives into the job's error message.
func upstream(err error, message string) error {
	return errors.Wrap(errors.CodeUpstream, err, message)
}
