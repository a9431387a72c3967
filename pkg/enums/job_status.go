package enums

import "fmt"

// JobStatus tracks the fulfillment pipeline of a paid invoice.
type JobStatus string

const (
	JobStatusQueued             JobStatus = "queued"
	JobStatusDownloading        JobStatus = "downloading"
	JobStatusTorrentDownloadRetry JobStatus = "torrent_download_retry"
	JobStatusSyncing            JobStatus = "syncing"
	JobStatusSyncRetry          JobStatus = "sync_retry"
	JobStatusPendingUpload      JobStatus = "pending_upload"
	JobStatusUploading          JobStatus = "uploading"
	JobStatusUploadRetry        JobStatus = "upload_retry"
	JobStatusCompleted          JobStatus = "completed"
	JobStatusCancelled          JobStatus = "cancelled"
	JobStatusFailed             JobStatus = "failed"
	JobStatusTorrentFailed      JobStatus = "torrent_failed"
	JobStatusUploadFailed       JobStatus = "upload_failed"
	JobStatusGoogleDriveFailed  JobStatus = "google_drive_failed"
)

var validJobStatuses = []JobStatus{
	JobStatusQueued,
	JobStatusDownloading,
	JobStatusTorrentDownloadRetry,
	JobStatusSyncing,
	JobStatusSyncRetry,
	JobStatusPendingUpload,
	JobStatusUploading,
	JobStatusUploadRetry,
	JobStatusCompleted,
	JobStatusCancelled,
	JobStatusFailed,
	JobStatusTorrentFailed,
	JobStatusUploadFailed,
	JobStatusGoogleDriveFailed,
}

// String implements fmt.Stringer.
func (j JobStatus) String() string {
	return string(j)
}

// IsValid reports whether the value is a known JobStatus.
func (j JobStatus) IsValid() bool {
	for _, candidate := range validJobStatuses {
		if candidate == j {
			return true
		}
	}
	return false
}

// ParseJobStatus converts raw input into a JobStatus.
func ParseJobStatus(value string) (JobStatus, error) {
	for _, candidate := range validJobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job status %q", value)
}

// IsTerminal reports whether the status has no outgoing transitions.
func (j JobStatus) IsTerminal() bool {
	switch j {
	case JobStatusCompleted, JobStatusCancelled, JobStatusFailed,
		JobStatusTorrentFailed, JobStatusUploadFailed, JobStatusGoogleDriveFailed:
		return true
	}
	return false
}

// IsFailureTerminal reports whether the status is a failed end state, which
// is the only place a manual retry may start from.
func (j JobStatus) IsFailureTerminal() bool {
	switch j {
	case JobStatusFailed, JobStatusTorrentFailed, JobStatusUploadFailed, JobStatusGoogleDriveFailed:
		return true
	}
	return false
}

// Phase returns the pipeline phase a status belongs to. Terminal and queued
// statuses other than phase failures report no phase.
func (j JobStatus) Phase() (JobPhase, bool) {
	switch j {
	case JobStatusDownloading, JobStatusTorrentDownloadRetry, JobStatusTorrentFailed:
		return JobPhaseDownload, true
	case JobStatusSyncing, JobStatusSyncRetry:
		return JobPhaseSync, true
	case JobStatusPendingUpload, JobStatusUploading, JobStatusUploadRetry,
		JobStatusUploadFailed, JobStatusGoogleDriveFailed:
		return JobPhaseUpload, true
	}
	return "", false
}
