package jobs

import (
	"fmt"

	"github.com/rmarceau/torrdrive-backend/pkg/enums"
	"github.com/rmarceau/torrdrive-backend/pkg/errors"
)

// transitionTable is the single source of truth for which status changes a
// job may make. Terminal states have no outgoing edges; every legality check
// in the package routes through ValidateTransition rather than consulting
// its own list.
var transitionTable = map[enums.JobStatus][]enums.JobStatus{
	enums.JobStatusQueued: {
		enums.JobStatusDownloading,
		enums.JobStatusCancelled,
		enums.JobStatusFailed,
	},
	enums.JobStatusDownloading: {
		enums.JobStatusTorrentDownloadRetry,
		enums.JobStatusSyncing,
		enums.JobStatusPendingUpload,
		enums.JobStatusTorrentFailed,
		enums.JobStatusFailed,
		enums.JobStatusCancelled,
	},
	enums.JobStatusTorrentDownloadRetry: {
		enums.JobStatusDownloading,
		enums.JobStatusTorrentFailed,
		enums.JobStatusFailed,
		enums.JobStatusCancelled,
	},
	enums.JobStatusSyncing: {
		enums.JobStatusSyncRetry,
		enums.JobStatusUploading,
		enums.JobStatusGoogleDriveFailed,
		enums.JobStatusFailed,
		enums.JobStatusCancelled,
	},
	enums.JobStatusSyncRetry: {
		enums.JobStatusSyncing,
		enums.JobStatusGoogleDriveFailed,
		enums.JobStatusFailed,
		enums.JobStatusCancelled,
	},
	enums.JobStatusPendingUpload: {
		enums.JobStatusUploading,
		enums.JobStatusFailed,
		enums.JobStatusCancelled,
	},
	enums.JobStatusUploading: {
		enums.JobStatusUploadRetry,
		enums.JobStatusCompleted,
		enums.JobStatusUploadFailed,
		enums.JobStatusGoogleDriveFailed,
		enums.JobStatusFailed,
		enums.JobStatusCancelled,
	},
	enums.JobStatusUploadRetry: {
		enums.JobStatusUploading,
		enums.JobStatusUploadFailed,
		enums.JobStatusGoogleDriveFailed,
		enums.JobStatusFailed,
		enums.JobStatusCancelled,
	},
	enums.JobStatusCompleted:         {},
	enums.JobStatusCancelled:         {},
	enums.JobStatusFailed:            {},
	enums.JobStatusTorrentFailed:     {},
	enums.JobStatusUploadFailed:      {},
	enums.JobStatusGoogleDriveFailed: {},
}

// failureRecovery maps each failure terminal to the forward state a manual
// retry re-enters. A generic failure restarts the pipeline from the top
// because the failed phase is unknown.
var failureRecovery = map[enums.JobStatus]enums.JobStatus{
	enums.JobStatusTorrentFailed:     enums.JobStatusDownloading,
	enums.JobStatusUploadFailed:      enums.JobStatusUploading,
	enums.JobStatusGoogleDriveFailed: enums.JobStatusUploading,
	enums.JobStatusFailed:            enums.JobStatusQueued,
}

// retryTargets maps each retry sub-state back to its phase's forward state.
var retryTargets = map[enums.JobStatus]enums.JobStatus{
	enums.JobStatusTorrentDownloadRetry: enums.JobStatusDownloading,
	enums.JobStatusSyncRetry:            enums.JobStatusSyncing,
	enums.JobStatusUploadRetry:          enums.JobStatusUploading,
}

// ValidateTransition reports whether from may move to to, returning an
// invalid-transition error otherwise.
func ValidateTransition(from, to enums.JobStatus) error {
	allowed, known := transitionTable[from]
	if !known {
		return errors.New(errors.CodeValidation, fmt.Sprintf("unknown job status %q", from))
	}
	if !to.IsValid() {
		return errors.New(errors.CodeValidation, fmt.Sprintf("unknown job status %q", to))
	}
	if from.IsTerminal() {
		return errors.New(errors.CodeStateConflict, fmt.Sprintf("job is terminal in status %s", from)).
			WithDetails(map[string]string{"from": from.String(), "to": to.String()})
	}
	for _, candidate := range allowed {
		if candidate == to {
			return nil
		}
	}
	return errors.New(errors.CodeStateConflict, fmt.Sprintf("transition %s -> %s is not allowed", from, to)).
		WithDetails(map[string]string{"from": from.String(), "to": to.String()})
}

// RecoveryTarget returns the forward state a manual retry of the given
// failure terminal re-enters.
func RecoveryTarget(failed enums.JobStatus) (enums.JobStatus, bool) {
	target, ok := failureRecovery[failed]
	return target, ok
}

// RetryTarget returns the forward state a retry sub-state resumes into.
func RetryTarget(retry enums.JobStatus) (enums.JobStatus, bool) {
	target, ok := retryTargets[retry]
	return target, ok
}
