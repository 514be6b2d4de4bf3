package agent

import (
	"errors"
	"fmt"

	"github.com/protolens/protolens/pkg/protocol"
)

// ErrRoleMismatch indicates an operation was called on the wrong role.
var ErrRoleMismatch = errors.New("operation not supported by agent role")

// ErrNoEndpoints indicates routing was requested with no backends
// configured.
var ErrNoEndpoints = errors.New("no endpoints configured")

// TransportError wraps a failure of the underlying transport during client
// probing.
type TransportError struct {
	Reason string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport error: %s: %v", e.Reason, e.Err)
	}
	return "transport error: " + e.Reason
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpgradeNotSupportedError reports an illegal protocol upgrade transition.
type UpgradeNotSupportedError struct {
	From protocol.Tag
	To   protocol.Tag
}

func (e *UpgradeNotSupportedError) Error() string {
	return fmt.Sprintf("upgrade not supported: %s -> %s", e.From, e.To)
}
