package agent

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain ensures no goroutine leaks across all tests in this package: the
// agent must never spawn background work of its own.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
