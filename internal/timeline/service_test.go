package timeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	"github.com/rmarceau/torrdrive-backend/pkg/enums"
	"github.com/rmarceau/torrdrive-backend/pkg/errors"
	"github.com/rmarceau/torrdrive-backend/pkg/pagination"
)

type stubRepo struct {
	entries []*models.TimelineEntry
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepo) Create(ctx context.Context, entry *models.TimelineEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubRepo) FindLastForJob(ctx context.Context, jobID uuid.UUID) (*models.TimelineEntry, error) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].JobID == jobID {
			return s.entries[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubRepo) ListForJob(ctx context.Context, jobID uuid.UUID, params pagination.Params) ([]models.TimelineEntry, int64, error) {
	var all []models.TimelineEntry
	for _, e := range s.entries {
		if e.JobID == jobID {
			all = append(all, *e)
		}
	}
	total := int64(len(all))
	start := params.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + params.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func statusPtr(s enums.JobStatus) *enums.JobStatus { return &s }

func TestRecordFirstEntryHasNoDuration(t *testing.T) {
	repo := &stubRepo{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	entry, err := svc.Record(context.Background(), nil, RecordInput{
		JobID:    uuid.New(),
		ToStatus: enums.JobStatusQueued,
		Source:   enums.TransitionSourceSystem,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if entry.FromStatus != nil {
		t.Fatalf("creation entry must have nil from status")
	}
	if entry.DurationFromPreviousMS != nil {
		t.Fatalf("creation entry must have nil duration")
	}
}

func TestRecordComputesDurationFromPrevious(t *testing.T) {
	repo := &stubRepo{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	jobID := uuid.New()
	if _, err := svc.Record(context.Background(), nil, RecordInput{
		JobID:    jobID,
		ToStatus: enums.JobStatusQueued,
		Source:   enums.TransitionSourceSystem,
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	svc.now = func() time.Time { return base.Add(2500 * time.Millisecond) }
	entry, err := svc.Record(context.Background(), nil, RecordInput{
		JobID:      jobID,
		FromStatus: statusPtr(enums.JobStatusQueued),
		ToStatus:   enums.JobStatusDownloading,
		Source:     enums.TransitionSourceWorker,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if entry.DurationFromPreviousMS == nil || *entry.DurationFromPreviousMS != 2500 {
		t.Fatalf("expected duration 2500ms, got %v", entry.DurationFromPreviousMS)
	}
}

func TestRecordClampsClockSkew(t *testing.T) {
	repo := &stubRepo{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	jobID := uuid.New()

	svc.now = func() time.Time { return base }
	if _, err := svc.Record(context.Background(), nil, RecordInput{
		JobID:    jobID,
		ToStatus: enums.JobStatusQueued,
		Source:   enums.TransitionSourceSystem,
	}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	svc.now = func() time.Time { return base.Add(-time.Second) }
	entry, err := svc.Record(context.Background(), nil, RecordInput{
		JobID:      jobID,
		FromStatus: statusPtr(enums.JobStatusQueued),
		ToStatus:   enums.JobStatusDownloading,
		Source:     enums.TransitionSourceWorker,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if entry.DurationFromPreviousMS == nil || *entry.DurationFromPreviousMS != 0 {
		t.Fatalf("expected duration clamped to 0, got %v", entry.DurationFromPreviousMS)
	}
}

func TestRecordValidation(t *testing.T) {
	svc, err := NewService(&stubRepo{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	tests := []struct {
		name  string
		input RecordInput
	}{
		{"missing job", RecordInput{ToStatus: enums.JobStatusQueued, Source: enums.TransitionSourceSystem}},
		{"bad status", RecordInput{JobID: uuid.New(), ToStatus: enums.JobStatus("warping"), Source: enums.TransitionSourceSystem}},
		{"bad source", RecordInput{JobID: uuid.New(), ToStatus: enums.JobStatusQueued, Source: enums.TransitionSource("ghost")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Record(context.Background(), nil, tc.input); !errors.HasCode(err, errors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestReadPaginatesChronologically(t *testing.T) {
	repo := &stubRepo{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	jobID := uuid.New()
	statuses := []enums.JobStatus{
		enums.JobStatusQueued,
		enums.JobStatusDownloading,
		enums.JobStatusSyncing,
		enums.JobStatusPendingUpload,
		enums.JobStatusUploading,
		enums.JobStatusCompleted,
	}
	var previous *enums.JobStatus
	for i, status := range statuses {
		tick := base.Add(time.Duration(i) * time.Second)
		svc.now = func() time.Time { return tick }
		if _, err := svc.Record(context.Background(), nil, RecordInput{
			JobID:      jobID,
			FromStatus: previous,
			ToStatus:   status,
			Source:     enums.TransitionSourceWorker,
		}); err != nil {
			t.Fatalf("Record %s: %v", status, err)
		}
		previous = statusPtr(status)
	}

	entries, info, err := svc.Read(context.Background(), jobID, pagination.Params{Page: 1, PageSize: 4})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	if entries[0].ToStatus != enums.JobStatusQueued || entries[0].FromStatus != nil {
		t.Fatalf("first entry must be the creation entry: %+v", entries[0])
	}
	if info.TotalItems != 6 || info.TotalPages != 2 || !info.HasNextPage || info.HasPreviousPage {
		t.Fatalf("unexpected page info: %+v", info)
	}

	second, info, err := svc.Read(context.Background(), jobID, pagination.Params{Page: 2, PageSize: 4})
	if err != nil {
		t.Fatalf("Read page 2: %v", err)
	}
	if len(second) != 2 || second[1].ToStatus != enums.JobStatusCompleted {
		t.Fatalf("unexpected second page: %+v", second)
	}
	if info.HasNextPage || !info.HasPreviousPage {
		t.Fatalf("unexpected page info on last page: %+v", info)
	}
}
