package detect

import (
	"errors"

	"github.com/protolens/protolens/pkg/protocol"
)

// StreamAnalyzer accumulates successive reads from one connection into a
// capped prefix buffer and re-runs detection until a verdict lands or the
// cap is reached. It owns its buffer; callers may reuse the slices they
// feed in.
type StreamAnalyzer struct {
	det     *Detector
	buf     []byte
	cap     int
	decided bool
}

// NewStreamAnalyzer builds an analyzer over det. The prefix cap comes from
// the detector's buffer hint.
func NewStreamAnalyzer(det *Detector) *StreamAnalyzer {
	return &StreamAnalyzer{
		det: det,
		buf: make([]byte, 0, det.BufferHint()),
		cap: det.BufferHint(),
	}
}

// ErrVerdictReached is returned by Feed after a verdict has already been
// delivered; the analyzer holds no further state worth feeding.
var ErrVerdictReached = errors.New("stream analyzer already reached a verdict")

// Feed appends p to the retained prefix and attempts detection. While the
// engine still wants more data, Feed returns a nil result with a nil error;
// once the accumulated prefix can never produce a verdict (cap reached) the
// detection failure is surfaced as-is.
func (a *StreamAnalyzer) Feed(p []byte) (*protocol.Result, error) {
	if a.decided {
		return nil, ErrVerdictReached
	}

	room := a.cap - len(a.buf)
	if len(p) > room {
		p = p[:room]
	}
	a.buf = append(a.buf, p...)

	res, err := a.det.Detect(a.buf)
	if err == nil {
		a.decided = true
		return &res, nil
	}
	if _, retryable := IsRetryable(err); retryable && len(a.buf) < a.cap {
		return nil, nil
	}
	if len(a.buf) < a.cap {
		var low *LowConfidenceError
		if errors.As(err, &low) {
			// More bytes may still push a candidate over the gate.
			return nil, nil
		}
	}
	a.decided = true
	return nil, err
}

// Buffered returns the number of retained prefix bytes.
func (a *StreamAnalyzer) Buffered() int { return len(a.buf) }

// Reset clears the analyzer for a new connection.
func (a *StreamAnalyzer) Reset() {
	a.buf = a.buf[:0]
	a.decided = false
}
