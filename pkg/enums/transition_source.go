package enums

import "fmt"

// TransitionSource identifies which actor drove a status transition.
type TransitionSource string

const (
	TransitionSourceWorker   TransitionSource = "worker"
	TransitionSourceUser     TransitionSource = "user"
	TransitionSourceSystem   TransitionSource = "system"
	TransitionSourceRecovery TransitionSource = "recovery"
)

var validTransitionSources = []TransitionSource{
	TransitionSourceWorker,
	TransitionSourceUser,
	TransitionSourceSystem,
	TransitionSourceRecovery,
}

// String implements fmt.Stringer.
func (t TransitionSource) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransitionSource.
func (t TransitionSource) IsValid() bool {
	for _, candidate := range validTransitionSources {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTransitionSource converts raw input into a TransitionSource.
func ParseTransitionSource(value string) (TransitionSource, error) {
	for _, candidate := range validTransitionSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transition source %q", value)
}
