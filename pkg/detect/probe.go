package detect

import (
	"github.com/protolens/protolens/pkg/protocol"
)

// Probe classifies a window with respect to one protocol family.
//
// Implementations must be pure functions of the window: no retained
// references to the slice, no mutation, no state carried across calls. The
// pipeline hands every probe a sub-slice of the caller's buffer and relies on
// these rules for its zero-copy and concurrency guarantees.
type Probe interface {
	// Name identifies the probe in results and logs.
	Name() string
	// Supported lists the tags this probe can report.
	Supported() []protocol.Tag
	// MinWindow is the smallest window the probe can decide on.
	MinWindow() int
	// Probe inspects the window and reports an outcome. Malformed input is
	// answered with NotDetected, never with a panic.
	Probe(window []byte) Outcome
}

// OutcomeKind discriminates the probe verdict variants.
type OutcomeKind int

const (
	// KindNotDetected means the probe found no evidence for its protocols.
	KindNotDetected OutcomeKind = iota
	// KindPartial means weak evidence was found; the candidate competes with
	// a reduced confidence.
	KindPartial
	// KindDetected means the probe identified the protocol.
	KindDetected
	// KindNeedMoreData means the window is too short for this probe to rule
	// either way.
	KindNeedMoreData
)

// Outcome is a probe verdict. Evidence counts the literal bytes the probe
// matched; the pipeline uses it to break confidence ties.
type Outcome struct {
	Kind           OutcomeKind
	Info           protocol.Info
	Evidence       int
	RequiredWindow int
}

// NotDetected reports no evidence.
func NotDetected() Outcome {
	return Outcome{Kind: KindNotDetected}
}

// Detected reports a confident identification.
func Detected(info protocol.Info, evidence int) Outcome {
	return Outcome{Kind: KindDetected, Info: info, Evidence: evidence}
}

// Partial reports weak evidence.
func Partial(info protocol.Info, evidence int) Outcome {
	return Outcome{Kind: KindPartial, Info: info, Evidence: evidence}
}

// NeedMoreData asks the caller to retry with at least required bytes.
func NeedMoreData(required int) Outcome {
	return Outcome{Kind: KindNeedMoreData, RequiredWindow: required}
}

// ProbeRecord couples a probe with its registry bookkeeping.
type ProbeRecord struct {
	Probe    Probe
	Priority int
	Enabled  bool
	// Active marks probes that may drive a peer when run under an Agent;
	// the Passive strategy skips them.
	Active bool

	supported map[protocol.Tag]struct{}
	order     int
}

func newProbeRecord(p Probe, priority int, active bool, order int) ProbeRecord {
	rec := ProbeRecord{
		Probe:     p,
		Priority:  priority,
		Enabled:   true,
		Active:    active,
		supported: make(map[protocol.Tag]struct{}),
		order:     order,
	}
	for _, tag := range p.Supported() {
		rec.supported[tag] = struct{}{}
	}
	return rec
}

// SupportsAny reports whether the record can produce any of the given tags.
func (r *ProbeRecord) SupportsAny(tags map[protocol.Tag]struct{}) bool {
	for tag := range r.supported {
		if _, ok := tags[tag]; ok {
			return true
		}
		if tag.IsCustom() {
			// Custom probes are admitted by registration, not by the enabled
			// set.
			return true
		}
	}
	return false
}

// Supports reports whether the record can produce the given tag.
func (r *ProbeRecord) Supports(tag protocol.Tag) bool {
	_, ok := r.supported[tag]
	return ok
}
