package fulfill

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rmarceau/torrdrive-backend/pkg/config"
	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	"github.com/rmarceau/torrdrive-backend/pkg/logger"
	"github.com/rmarceau/torrdrive-backend/pkg/metrics"
)

type staleLister interface {
	StaleJobs(ctx context.Context) ([]models.Job, error)
}

type invoiceExpirer interface {
	ExpireDue(ctx context.Context) (int64, error)
}

type sweepLocker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	LockKey(scope string) string
}

// Sweeper periodically expires overdue quotes and reports jobs whose
// heartbeat has gone stale. Staleness is surfaced as a health signal only;
// the sweeper never forces a transition. A Redis lock keeps multiple
// instances from sweeping the same tick.
type Sweeper struct {
	jobs     staleLister
	invoices invoiceExpirer
	lock     sweepLocker
	metrics  *metrics.WorkerMetrics
	logg     *logger.Logger
	cfg      config.WorkerConfig
	id       string
}

func NewSweeper(
	jobSvc staleLister,
	invoiceSvc invoiceExpirer,
	lock sweepLocker,
	m *metrics.WorkerMetrics,
	logg *logger.Logger,
	cfg config.WorkerConfig,
	id string,
) (*Sweeper, error) {
	if jobSvc == nil {
		return nil, fmt.Errorf("fulfill: stale lister is required")
	}
	if invoiceSvc == nil {
		return nil, fmt.Errorf("fulfill: invoice expirer is required")
	}
	if lock == nil {
		return nil, fmt.Errorf("fulfill: lock client is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("fulfill: logger is required")
	}
	return &Sweeper{
		jobs:     jobSvc,
		invoices: invoiceSvc,
		lock:     lock,
		metrics:  m,
		logg:     logg,
		cfg:      cfg,
		id:       id,
	}, nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.logg.Info(s.logg.WithField(ctx, "worker_id", s.id), "sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "sweeper stopping")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Another instance holding the lock makes this a no-op.
func (s *Sweeper) Sweep(ctx context.Context) {
	acquired, err := s.lock.SetNX(ctx, s.lock.LockKey("sweep"), s.id, s.cfg.SweepInterval)
	if err != nil {
		s.logg.Error(ctx, "sweep lock acquisition failed", err)
		return
	}
	if !acquired {
		return
	}

	expired, err := s.invoices.ExpireDue(ctx)
	if err != nil {
		s.logg.Error(ctx, "invoice expiry sweep failed", err)
	} else if expired > 0 {
		s.logg.Info(s.logg.WithField(ctx, "count", strconv.FormatInt(expired, 10)), "expired overdue invoices")
	}

	stale, err := s.jobs.StaleJobs(ctx)
	if err != nil {
		s.logg.Error(ctx, "stale job scan failed", err)
		return
	}
	s.metrics.SetStaleJobs(len(stale))
	for i := range stale {
		jobCtx := s.logg.WithJobID(ctx, stale[i].ID.String())
		s.logg.Warn(s.logg.WithField(jobCtx, "status", stale[i].Status.String()), "job heartbeat is stale")
	}
}
