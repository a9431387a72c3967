package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/rmarceau/torrdrive-backend/pkg/db/models"
	"github.com/rmarceau/torrdrive-backend/pkg/enums"
	"github.com/rmarceau/torrdrive-backend/pkg/types"
)

func setupJobTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	ddl := `
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  invoice_id TEXT NOT NULL UNIQUE,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'queued',
  version INTEGER NOT NULL DEFAULT 0,
  torrent_hash TEXT NOT NULL,
  selected_file_indices TEXT NOT NULL,
  storage_profile_id TEXT NOT NULL,
  total_bytes INTEGER NOT NULL DEFAULT 0,
  bytes_downloaded INTEGER NOT NULL DEFAULT 0,
  bytes_transferred INTEGER NOT NULL DEFAULT 0,
  phase_retry_count INTEGER NOT NULL DEFAULT 0,
  manual_retry_count INTEGER NOT NULL DEFAULT 0,
  error_message TEXT,
  last_heartbeat DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  started_at DATETIME,
  completed_at DATETIME
);`
	require.NoError(t, db.Exec(ddl).Error)
	return db
}

func seedJob(t *testing.T, repo Repository) *models.Job {
	t.Helper()
	job := &models.Job{
		ID:                  uuid.New(),
		InvoiceID:           uuid.New(),
		UserID:              uuid.New(),
		Status:              enums.JobStatusQueued,
		TorrentHash:         "deadbeef",
		SelectedFileIndices: types.Int64List{0},
		StorageProfileID:    uuid.New(),
		TotalBytes:          1_000_000,
	}
	require.NoError(t, repo.Create(context.Background(), job))
	return job
}

func TestUpdateVersionedWinsOnFreshRead(t *testing.T) {
	repo := NewRepository(setupJobTestDB(t))
	ctx := context.Background()
	job := seedJob(t, repo)

	loaded, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	loaded.Status = enums.JobStatusDownloading

	ok, err := repo.UpdateVersioned(ctx, loaded)
	require.NoError(t, err)
	assert.True(t, ok)
	// the repo owns the increment, the caller passes the loaded version
	assert.Equal(t, int64(1), loaded.Version)

	stored, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusDownloading, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
}

func TestUpdateVersionedStaleReadLoses(t *testing.T) {
	repo := NewRepository(setupJobTestDB(t))
	ctx := context.Background()
	job := seedJob(t, repo)

	first, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)

	first.Status = enums.JobStatusDownloading
	ok, err := repo.UpdateVersioned(ctx, first)
	require.NoError(t, err)
	require.True(t, ok)

	second.Status = enums.JobStatusCancelled
	ok, err = repo.UpdateVersioned(ctx, second)
	require.NoError(t, err)
	assert.False(t, ok, "stale writer must lose the version check")
	assert.Equal(t, int64(0), second.Version, "lost write must leave the caller's version untouched")

	stored, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusDownloading, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
}

func TestUpdateProgressAndHeartbeatBypassVersioning(t *testing.T) {
	repo := NewRepository(setupJobTestDB(t))
	ctx := context.Background()
	job := seedJob(t, repo)

	require.NoError(t, repo.UpdateProgress(ctx, job.ID, 250_000, 0, 1_000_000))
	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.UpdateHeartbeat(ctx, job.ID, at))

	stored, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250_000), stored.BytesDownloaded)
	assert.Equal(t, int64(0), stored.Version, "progress and heartbeat writes must not bump the version")
	require.NotNil(t, stored.LastHeartbeat)
}
