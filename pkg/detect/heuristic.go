package detect

import (
	"math"

	"github.com/protolens/protolens/pkg/bytescan"
	"github.com/protolens/protolens/pkg/protocol"
)

// heuristicProbe is a low-confidence textual/binary discriminator. It scores
// entropy, ASCII-letter ratio and structural markers and reports a raw
// stream tag. Its confidence is capped below every literal recognizer so it
// can only win when nothing else fires.
type heuristicProbe struct {
	scan bytescan.Kernels
}

const heuristicCap = 0.45

func (p *heuristicProbe) Name() string { return "heuristic" }

func (p *heuristicProbe) Supported() []protocol.Tag {
	return []protocol.Tag{protocol.TCP, protocol.UDP}
}

func (p *heuristicProbe) MinWindow() int { return 64 }

func (p *heuristicProbe) Probe(window []byte) Outcome {
	if len(window) < p.MinWindow() {
		return NeedMoreData(p.MinWindow())
	}

	letterRatio := bytescan.LetterRatio(p.scan, window)
	entropy := shannonEntropy(window)
	structure := structureScore(window)

	// Text-like prefixes score by letters and line structure; binary
	// prefixes by high entropy.
	textScore := 0.6*letterRatio + 0.4*structure
	binaryScore := entropy / 8.0

	score := math.Max(textScore, binaryScore) * heuristicCap
	if score < 0.2 {
		return NotDetected()
	}

	info := protocol.NewInfo(protocol.TCP, score)
	if textScore >= binaryScore {
		info.Metadata.Set("shape", "textual")
	} else {
		info.Metadata.Set("shape", "binary")
	}
	return Partial(info, 0)
}

func shannonEntropy(window []byte) float64 {
	var counts [256]int
	for _, b := range window {
		counts[b]++
	}
	total := float64(len(window))
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// structureScore counts common structural markers (line breaks, separators)
// as a fraction of the marker set.
func structureScore(window []byte) float64 {
	markers := []byte{'\r', '\n', ' ', ':', '/'}
	found := 0
	for _, m := range markers {
		for _, b := range window {
			if b == m {
				found++
				break
			}
		}
	}
	return float64(found) / float64(len(markers))
}
