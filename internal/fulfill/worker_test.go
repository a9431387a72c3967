package fulfill

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/rmarceau/torrdrive-backend/internal/jobs"
	"github.com/rmarceau/torrdrive-backend/internal/timeline"
	"github.com/rmarceau/torrdrive-backend/pkg/config"
	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	"github.com/rmarceau/torrdrive-backend/pkg/enums"
	"github.com/rmarceau/torrdrive-backend/pkg/logger"
	"github.com/rmarceau/torrdrive-backend/pkg/metrics"
	"github.com/rmarceau/torrdrive-backend/pkg/pagination"
)

type memJobRepo struct {
	jobs map[uuid.UUID]*models.Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[uuid.UUID]*models.Job{}}
}

func (m *memJobRepo) WithTx(tx *gorm.DB) jobs.Repository { return m }

func (m *memJobRepo) Create(ctx context.Context, job *models.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *memJobRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, ok := m.jobs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *job
	return &clone, nil
}

func (m *memJobRepo) FindByInvoiceID(ctx context.Context, invoiceID uuid.UUID) (*models.Job, error) {
	for _, job := range m.jobs {
		if job.InvoiceID == invoiceID {
			clone := *job
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memJobRepo) UpdateVersioned(ctx context.Context, job *models.Job) (bool, error) {
	stored, ok := m.jobs[job.ID]
	if !ok || stored.Version != job.Version {
		return false, nil
	}
	job.Version++
	clone := *job
	m.jobs[job.ID] = &clone
	return true, nil
}

func (m *memJobRepo) UpdateProgress(ctx context.Context, id uuid.UUID, bytesDownloaded, bytesTransferred, totalBytes int64) error {
	if job, ok := m.jobs[id]; ok {
		job.BytesDownloaded = bytesDownloaded
		job.BytesTransferred = bytesTransferred
		job.TotalBytes = totalBytes
	}
	return nil
}

func (m *memJobRepo) UpdateHeartbeat(ctx context.Context, id uuid.UUID, at time.Time) error {
	if job, ok := m.jobs[id]; ok {
		job.LastHeartbeat = &at
	}
	return nil
}

func (m *memJobRepo) ListByStatus(ctx context.Context, status enums.JobStatus, limit int) ([]models.Job, error) {
	var out []models.Job
	for _, job := range m.jobs {
		if job.Status == status && len(out) < limit {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *memJobRepo) ListStale(ctx context.Context, heartbeatBefore time.Time) ([]models.Job, error) {
	return nil, nil
}

type memTimelineRepo struct {
	entries []*models.TimelineEntry
}

func (m *memTimelineRepo) WithTx(tx *gorm.DB) timeline.Repository { return m }

func (m *memTimelineRepo) Create(ctx context.Context, entry *models.TimelineEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memTimelineRepo) FindLastForJob(ctx context.Context, jobID uuid.UUID) (*models.TimelineEntry, error) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].JobID == jobID {
			return m.entries[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memTimelineRepo) ListForJob(ctx context.Context, jobID uuid.UUID, params pagination.Params) ([]models.TimelineEntry, int64, error) {
	var out []models.TimelineEntry
	for _, e := range m.entries {
		if e.JobID == jobID {
			out = append(out, *e)
		}
	}
	return out, int64(len(out)), nil
}

type memTxRunner struct{}

func (memTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

// flakyProvider fails a phase a fixed number of times before succeeding.
type flakyProvider struct {
	needsSync     bool
	downloadFails int
	syncFails     int
	uploadFails   int
	uploadErr     error
}

func (p *flakyProvider) NeedsSync(job *models.Job) bool { return p.needsSync }

func (p *flakyProvider) Download(ctx context.Context, job *models.Job, progress ProgressFunc) error {
	if p.downloadFails > 0 {
		p.downloadFails--
		return fmt.Errorf("tracker timeout")
	}
	if progress != nil {
		progress(job.TotalBytes, job.TotalBytes)
	}
	return nil
}

func (p *flakyProvider) Sync(ctx context.Context, job *models.Job, progress ProgressFunc) error {
	if p.syncFails > 0 {
		p.syncFails--
		return fmt.Errorf("staging volume unavailable")
	}
	return nil
}

func (p *flakyProvider) Upload(ctx context.Context, job *models.Job, progress ProgressFunc) error {
	if p.uploadFails > 0 {
		p.uploadFails--
		if p.uploadErr != nil {
			return p.uploadErr
		}
		return fmt.Errorf("connection reset")
	}
	if progress != nil {
		progress(job.TotalBytes, job.TotalBytes)
	}
	return nil
}

type harness struct {
	worker  *Worker
	jobSvc  *jobs.Service
	repo    *memJobRepo
	tlRepo  *memTimelineRepo
	metrics *metrics.WorkerMetrics
}

func newHarness(t *testing.T, provider TransferProvider, phaseBudget int) *harness {
	t.Helper()
	repo := newMemJobRepo()
	tlRepo := &memTimelineRepo{}
	tl, err := timeline.NewService(tlRepo)
	if err != nil {
		t.Fatalf("timeline.NewService: %v", err)
	}
	logg := logger.New(logger.Options{ServiceName: "fulfill-test", Level: zerolog.Disabled})
	jobsCfg := config.JobsConfig{
		PhaseRetryBudget:   phaseBudget,
		ManualRetryBudget:  2,
		HeartbeatInterval:  time.Hour,
		HeartbeatThreshold: 90 * time.Second,
	}
	jobSvc, err := jobs.NewService(repo, tl, memTxRunner{}, jobsCfg, logg)
	if err != nil {
		t.Fatalf("jobs.NewService: %v", err)
	}
	m := metrics.NewWorkerMetrics(prometheus.NewRegistry())
	worker, err := NewWorker(jobSvc, provider, m, logg, config.WorkerConfig{
		PollInterval:    time.Second,
		SweepInterval:   time.Minute,
		ClaimBatchSize:  5,
		ShutdownTimeout: time.Second,
	}, jobsCfg, "worker-test-0")
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return &harness{worker: worker, jobSvc: jobSvc, repo: repo, tlRepo: tlRepo, metrics: m}
}

func (h *harness) queueJob(t *testing.T) *models.Job {
	t.Helper()
	job, err := h.jobSvc.CreateQueued(context.Background(), nil, jobs.CreateInput{
		InvoiceID:           uuid.New(),
		UserID:              uuid.New(),
		TorrentHash:         "feedface",
		SelectedFileIndices: []int64{0},
		StorageProfileID:    uuid.New(),
		TotalBytes:          1_000_000,
	})
	if err != nil {
		t.Fatalf("CreateQueued: %v", err)
	}
	return job
}

func (h *harness) timelinePath(jobID uuid.UUID) []enums.JobStatus {
	var path []enums.JobStatus
	for _, e := range h.tlRepo.entries {
		if e.JobID == jobID {
			path = append(path, e.ToStatus)
		}
	}
	return path
}

func statusPathEqual(got, want []enums.JobStatus) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestProcessDirectUploadPath(t *testing.T) {
	h := newHarness(t, &flakyProvider{}, 3)
	job := h.queueJob(t)

	h.worker.Process(context.Background(), job.ID)

	final, err := h.jobSvc.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != enums.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	want := []enums.JobStatus{
		enums.JobStatusQueued,
		enums.JobStatusDownloading,
		enums.JobStatusPendingUpload,
		enums.JobStatusUploading,
		enums.JobStatusCompleted,
	}
	if got := h.timelinePath(job.ID); !statusPathEqual(got, want) {
		t.Fatalf("unexpected timeline path: %v", got)
	}
	if final.BytesTransferred != final.TotalBytes {
		t.Fatalf("upload progress not recorded: %+v", final)
	}
}

func TestProcessSyncPath(t *testing.T) {
	h := newHarness(t, &flakyProvider{needsSync: true}, 3)
	job := h.queueJob(t)

	h.worker.Process(context.Background(), job.ID)

	final, _ := h.jobSvc.Get(context.Background(), job.ID)
	if final.Status != enums.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	want := []enums.JobStatus{
		enums.JobStatusQueued,
		enums.JobStatusDownloading,
		enums.JobStatusSyncing,
		enums.JobStatusUploading,
		enums.JobStatusCompleted,
	}
	if got := h.timelinePath(job.ID); !statusPathEqual(got, want) {
		t.Fatalf("unexpected timeline path: %v", got)
	}
}

func TestProcessRetriesTransientDownloadFault(t *testing.T) {
	h := newHarness(t, &flakyProvider{downloadFails: 2}, 3)
	job := h.queueJob(t)

	h.worker.Process(context.Background(), job.ID)

	final, _ := h.jobSvc.Get(context.Background(), job.ID)
	if final.Status != enums.JobStatusCompleted {
		t.Fatalf("expected completed after retries, got %s", final.Status)
	}
	want := []enums.JobStatus{
		enums.JobStatusQueued,
		enums.JobStatusDownloading,
		enums.JobStatusTorrentDownloadRetry,
		enums.JobStatusDownloading,
		enums.JobStatusTorrentDownloadRetry,
		enums.JobStatusDownloading,
		enums.JobStatusPendingUpload,
		enums.JobStatusUploading,
		enums.JobStatusCompleted,
	}
	if got := h.timelinePath(job.ID); !statusPathEqual(got, want) {
		t.Fatalf("unexpected timeline path: %v", got)
	}
}

func TestProcessExhaustsBudgetIntoTorrentFailed(t *testing.T) {
	h := newHarness(t, &flakyProvider{downloadFails: 10}, 1)
	job := h.queueJob(t)

	h.worker.Process(context.Background(), job.ID)

	final, _ := h.jobSvc.Get(context.Background(), job.ID)
	if final.Status != enums.JobStatusTorrentFailed {
		t.Fatalf("expected torrent_failed, got %s", final.Status)
	}
	if final.ErrorMessage == nil || *final.ErrorMessage == "" {
		t.Fatalf("failure terminal must carry the error message")
	}
	if final.PhaseRetryCount != 1 {
		t.Fatalf("expected one consumed retry, got %d", final.PhaseRetryCount)
	}
}

func TestProcessClassifiesStorageRejection(t *testing.T) {
	h := newHarness(t, &flakyProvider{uploadFails: 10, uploadErr: ErrStorageRejected}, 0)
	job := h.queueJob(t)

	h.worker.Process(context.Background(), job.ID)

	final, _ := h.jobSvc.Get(context.Background(), job.ID)
	if final.Status != enums.JobStatusGoogleDriveFailed {
		t.Fatalf("expected google_drive_failed, got %s", final.Status)
	}
}

func TestProcessGenericUploadFault(t *testing.T) {
	h := newHarness(t, &flakyProvider{uploadFails: 10}, 0)
	job := h.queueJob(t)

	h.worker.Process(context.Background(), job.ID)

	final, _ := h.jobSvc.Get(context.Background(), job.ID)
	if final.Status != enums.JobStatusUploadFailed {
		t.Fatalf("expected upload_failed, got %s", final.Status)
	}
}

func TestProcessYieldsToCancellation(t *testing.T) {
	h := newHarness(t, &flakyProvider{}, 3)
	job := h.queueJob(t)

	if _, err := h.jobSvc.Cancel(context.Background(), job.ID, enums.TransitionSourceUser); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	h.worker.Process(context.Background(), job.ID)

	final, _ := h.jobSvc.Get(context.Background(), job.ID)
	if final.Status != enums.JobStatusCancelled {
		t.Fatalf("cancellation must win, got %s", final.Status)
	}
}

type memExpirer struct {
	expired int64
	calls   int
}

func (m *memExpirer) ExpireDue(ctx context.Context) (int64, error) {
	m.calls++
	return m.expired, nil
}

type memStaleLister struct {
	stale []models.Job
	err   error
}

func (m *memStaleLister) StaleJobs(ctx context.Context) ([]models.Job, error) {
	return m.stale, m.err
}

type memLocker struct {
	granted bool
	calls   int
}

func (m *memLocker) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	m.calls++
	return m.granted, nil
}

func (m *memLocker) LockKey(scope string) string { return "td:lock:" + scope }

func newSweeper(t *testing.T, lister staleLister, expirer invoiceExpirer, lock sweepLocker) *Sweeper {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "sweep-test", Level: zerolog.Disabled})
	sweeper, err := NewSweeper(lister, expirer, lock, metrics.NewWorkerMetrics(prometheus.NewRegistry()), logg, config.WorkerConfig{
		PollInterval:    time.Second,
		SweepInterval:   time.Minute,
		ClaimBatchSize:  5,
		ShutdownTimeout: time.Second,
	}, "sweep-test-0")
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	return sweeper
}

func TestSweepSkipsWithoutLock(t *testing.T) {
	expirer := &memExpirer{}
	sweeper := newSweeper(t, &memStaleLister{}, expirer, &memLocker{granted: false})

	sweeper.Sweep(context.Background())
	if expirer.calls != 0 {
		t.Fatalf("sweep without the lock must be a no-op")
	}
}

func TestSweepExpiresAndReportsStale(t *testing.T) {
	expirer := &memExpirer{expired: 3}
	lister := &memStaleLister{stale: []models.Job{
		{ID: uuid.New(), Status: enums.JobStatusDownloading},
		{ID: uuid.New(), Status: enums.JobStatusUploading},
	}}
	sweeper := newSweeper(t, lister, expirer, &memLocker{granted: true})

	sweeper.Sweep(context.Background())
	if expirer.calls != 1 {
		t.Fatalf("expected one expiry pass, got %d", expirer.calls)
	}
}

func TestSweepSurvivesStaleScanFailure(t *testing.T) {
	expirer := &memExpirer{}
	sweeper := newSweeper(t, &memStaleLister{err: stdErrors.New("db gone")}, expirer, &memLocker{granted: true})

	sweeper.Sweep(context.Background())
	if expirer.calls != 1 {
		t.Fatalf("invoice expiry must still run, got %d calls", expirer.calls)
	}
}
