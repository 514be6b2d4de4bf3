package detect

import (
	"errors"
	"fmt"

	"github.com/protolens/protolens/pkg/protocol"
)

// Sentinel errors for classification failures that carry no payload.
var (
	// ErrTimeout indicates the pipeline exceeded the configured deadline.
	ErrTimeout = errors.New("detection timed out")
	// ErrUnknown indicates an unclassifiable internal failure.
	ErrUnknown = errors.New("unknown detection failure")
)

// InsufficientDataError reports that the window is too short to decide.
// Required is the byte count at which a retry could succeed.
type InsufficientDataError struct {
	Required int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: need at least %d bytes", e.Required)
}

// LowConfidenceError reports that no candidate reached the confidence gate.
type LowConfidenceError struct {
	BestTag        protocol.Tag
	BestConfidence float64
}

func (e *LowConfidenceError) Error() string {
	return fmt.Sprintf("no protocol above confidence threshold (best: %s at %.2f)",
		e.BestTag, e.BestConfidence)
}

// ConfigError reports an invalid detector configuration. It is raised at
// build time only, never during classification.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid detector configuration: " + e.Reason
}

// ProbeError reports that a custom probe misbehaved (builtin probes recover
// locally and never surface errors).
type ProbeError struct {
	ProbeName string
	Reason    string
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s failed: %s", e.ProbeName, e.Reason)
}

// IsRetryable reports whether err could succeed when called again with more
// data. It returns the required window size when known.
func IsRetryable(err error) (int, bool) {
	var insufficient *InsufficientDataError
	if errors.As(err, &insufficient) {
		return insufficient.Required, true
	}
	return 0, false
}
