package jobs

import (
	"fmt"

	"github.com/rmarceau/torrdrive-backend/pkg/enums"
	"github.com/rmarceau/torrdrive-backend/pkg/errors"
)

// Descriptor is display metadata for a status. It is purely cosmetic and
// plays no part in transition legality.
type Descriptor struct {
	Label string `json:"label"`
	Tone  string `json:"tone"`
}

var descriptorsByStatus = map[enums.JobStatus]Descriptor{
	enums.JobStatusQueued:                {Label: "Queued", Tone: "neutral"},
	enums.JobStatusDownloading:           {Label: "Downloading", Tone: "active"},
	enums.JobStatusTorrentDownloadRetry:  {Label: "Retrying download", Tone: "warning"},
	enums.JobStatusSyncing:               {Label: "Syncing", Tone: "active"},
	enums.JobStatusSyncRetry:             {Label: "Retrying sync", Tone: "warning"},
	enums.JobStatusPendingUpload:         {Label: "Waiting to upload", Tone: "neutral"},
	enums.JobStatusUploading:             {Label: "Uploading", Tone: "active"},
	enums.JobStatusUploadRetry:           {Label: "Retrying upload", Tone: "warning"},
	enums.JobStatusCompleted:             {Label: "Completed", Tone: "success"},
	enums.JobStatusCancelled:             {Label: "Cancelled", Tone: "neutral"},
	enums.JobStatusFailed:                {Label: "Failed", Tone: "danger"},
	enums.JobStatusTorrentFailed:         {Label: "Download failed", Tone: "danger"},
	enums.JobStatusUploadFailed:          {Label: "Upload failed", Tone: "danger"},
	enums.JobStatusGoogleDriveFailed:     {Label: "Google Drive failed", Tone: "danger"},
}

// DescriptorFor returns display metadata for a status. An unrecognized
// status is an error, never a substituted default.
func DescriptorFor(status enums.JobStatus) (Descriptor, error) {
	descriptor, ok := descriptorsByStatus[status]
	if !ok {
		return Descriptor{}, errors.New(errors.CodeValidation, fmt.Sprintf("no descriptor for status %q", status))
	}
	return descriptor, nil
}
