package detect

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/protolens/protolens/pkg/protocol"
)

// Builder assembles a Detector fluently. Every With method returns the
// builder for chaining; Build performs the single validation pass.
type Builder struct {
	opts Options
}

// NewBuilder starts from the balanced defaults with every builtin protocol
// enabled.
func NewBuilder() *Builder {
	return &Builder{opts: Options{
		EnabledProtocols: protocol.All(),
		Strategy:         StrategyPassive,
		Timeout:          DefaultTimeout,
		MinConfidence:    DefaultMinConfidence,
		MinWindow:        DefaultMinWindow,
		Accelerated:      true,
	}}
}

// WithProtocols replaces the enabled protocol set.
func (b *Builder) WithProtocols(tags ...protocol.Tag) *Builder {
	b.opts.EnabledProtocols = tags
	return b
}

// WithStrategy selects the probe admission strategy.
func (b *Builder) WithStrategy(s Strategy) *Builder {
	b.opts.Strategy = s
	return b
}

// WithTimeout bounds one classification call.
func (b *Builder) WithTimeout(d time.Duration) *Builder {
	b.opts.Timeout = d
	return b
}

// WithMinConfidence sets the winner gate.
func (b *Builder) WithMinConfidence(c float64) *Builder {
	b.opts.MinConfidence = c
	return b
}

// WithMinWindow sets the smallest acceptable window.
func (b *Builder) WithMinWindow(n int) *Builder {
	b.opts.MinWindow = n
	return b
}

// WithBufferHint advises stream analyzers how much prefix to retain.
func (b *Builder) WithBufferHint(n int) *Builder {
	b.opts.BufferHint = n
	return b
}

// WithAcceleration toggles the vectorized byte-scan kernels.
func (b *Builder) WithAcceleration(on bool) *Builder {
	b.opts.Accelerated = on
	return b
}

// WithHeuristics toggles the textual/binary fallback probe.
func (b *Builder) WithHeuristics(on bool) *Builder {
	b.opts.Heuristic = on
	return b
}

// WithProbe registers a custom probe.
func (b *Builder) WithProbe(p Probe, priority int, active bool) *Builder {
	b.opts.CustomProbes = append(b.opts.CustomProbes, ProbeSpec{
		Probe:    p,
		Priority: priority,
		Active:   active,
	})
	return b
}

// WithSignature registers a custom fast-path signature.
func (b *Builder) WithSignature(sig Signature) *Builder {
	b.opts.CustomSignatures = append(b.opts.CustomSignatures, sig)
	return b
}

// WithLogger sets the pipeline trace logger.
func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.opts.Logger = log
	return b
}

// HighPerformance tunes for acceptance-time dispatch: passive only, short
// deadline, accelerated kernels.
func (b *Builder) HighPerformance() *Builder {
	b.opts.Strategy = StrategyPassive
	b.opts.Timeout = 50 * time.Millisecond
	b.opts.Accelerated = true
	b.opts.MinConfidence = 0.80
	return b
}

// HighAccuracy tunes for verdict quality: heuristics on, longer deadline,
// stricter gate.
func (b *Builder) HighAccuracy() *Builder {
	b.opts.Heuristic = true
	b.opts.Timeout = 200 * time.Millisecond
	b.opts.MinConfidence = 0.90
	return b
}

// Balanced restores the defaults.
func (b *Builder) Balanced() *Builder {
	b.opts.Strategy = StrategyPassive
	b.opts.Timeout = DefaultTimeout
	b.opts.MinConfidence = DefaultMinConfidence
	b.opts.MinWindow = DefaultMinWindow
	return b
}

// Build validates and constructs the Detector.
func (b *Builder) Build() (*Detector, error) {
	return New(b.opts)
}
