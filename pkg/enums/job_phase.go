package enums

import "fmt"

// JobPhase groups job statuses into the pipeline phases workers operate on.
type JobPhase string

const (
	JobPhaseDownload JobPhase = "download"
	JobPhaseSync     JobPhase = "sync"
	JobPhaseUpload   JobPhase = "upload"
)

var validJobPhases = []JobPhase{
	JobPhaseDownload,
	JobPhaseSync,
	JobPhaseUpload,
}

// String implements fmt.Stringer.
func (j JobPhase) String() string {
	return string(j)
}

// IsValid reports whether the value is a known JobPhase.
func (j JobPhase) IsValid() bool {
	for _, candidate := range validJobPhases {
		if candidate == j {
			return true
		}
	}
	return false
}

// ParseJobPhase converts raw input into a JobPhase.
func ParseJobPhase(value string) (JobPhase, error) {
	for _, candidate := range validJobPhases {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job phase %q", value)
}
