package detect

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/protolens/protolens/pkg/protocol"
)

// Detection is a pure function of the window: the same bytes always produce
// the same verdict, and every successful verdict sits inside the confidence
// gate.
func TestDetect_DeterministicOnRandomWindows_Property(t *testing.T) {
	det, err := New(Options{
		EnabledProtocols: protocol.All(),
		Heuristic:        true,
		Timeout:          time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	rapid.Check(t, func(t *rapid.T) {
		window := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "window")

		resA, errA := det.Detect(window)
		resB, errB := det.Detect(window)

		if (errA == nil) != (errB == nil) {
			t.Fatalf("same window, different outcomes: %v vs %v", errA, errB)
		}
		if errA != nil {
			return
		}
		if resA.Tag() != resB.Tag() {
			t.Fatalf("same window, different tags: %s vs %s", resA.Tag(), resB.Tag())
		}
		if resA.Confidence() != resB.Confidence() {
			t.Fatalf("same window, different confidence: %v vs %v", resA.Confidence(), resB.Confidence())
		}
		if resA.Confidence() < DefaultMinConfidence || resA.Confidence() > 1.0 {
			t.Fatalf("confidence %v outside [%v, 1.0]", resA.Confidence(), DefaultMinConfidence)
		}
	})
}

// The fast path and the probes agree: whenever a signature fires, the probe
// behind the same tag scores the window at least as high on the witness
// corpus.
func TestFastSlowAgreement_OnWitnesses(t *testing.T) {
	det, err := New(Options{EnabledProtocols: protocol.All(), Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	table := newMagicTable(builtinSignatures())

	for _, tag := range protocol.All() {
		if tag == protocol.HTTP3 {
			// The witness fires the QUIC transport signature while the
			// pipeline refines the verdict to HTTP/3 via ALPN; the tags
			// legitimately differ.
			continue
		}
		window, ok := Witness(tag)
		if !ok {
			continue
		}
		match := table.quickDetect(window)
		if match == nil {
			continue
		}
		res, err := det.Detect(window)
		if err != nil {
			t.Errorf("%s: pipeline failed where the fast path fired: %v", tag, err)
			continue
		}
		if res.Confidence() < match.sig.BaseConfidence {
			t.Errorf("%s: pipeline confidence %v below signature %v", tag, res.Confidence(), match.sig.BaseConfidence)
		}
	}
}
