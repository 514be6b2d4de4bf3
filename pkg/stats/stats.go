// Package stats accumulates detection counters and per-protocol timing.
// Every counter is an atomic; the accumulator is safe for concurrent update
// from many classification goroutines and is never on a correctness path.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/protolens/protolens/pkg/protocol"
)

// ringSize bounds the most-recent observations kept for inspection.
const ringSize = 64

// tagCounters holds the per-protocol counters. Elapsed sums are kept in
// microseconds so the squared sum stays comfortably inside int64 for any
// realistic sample count.
type tagCounters struct {
	count     atomic.Int64
	sumMicros atomic.Int64
	sumSquare atomic.Int64
	lastSeen  atomic.Int64
}

// Observation is one recorded detection.
type Observation struct {
	Tag     protocol.Tag
	Elapsed time.Duration
	Success bool
}

// inner is the swappable state behind a Stats; Reset replaces it wholesale
// so readers never observe a half-cleared accumulator.
type inner struct {
	total     atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	seq       atomic.Int64

	mu      sync.RWMutex
	perTag  map[protocol.Tag]*tagCounters
	ring    [ringSize]Observation
	ringPos atomic.Int64
}

func newInner() *inner {
	return &inner{perTag: make(map[protocol.Tag]*tagCounters)}
}

func (in *inner) counters(tag protocol.Tag) *tagCounters {
	in.mu.RLock()
	c := in.perTag[tag]
	in.mu.RUnlock()
	if c != nil {
		return c
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if c = in.perTag[tag]; c == nil {
		c = &tagCounters{}
		in.perTag[tag] = c
	}
	return c
}

// Stats is the accumulator. The zero value is not usable; call New.
type Stats struct {
	state atomic.Pointer[inner]
}

// New returns an empty accumulator.
func New() *Stats {
	s := &Stats{}
	s.state.Store(newInner())
	return s
}

// RecordSuccess counts a successful detection of tag taking elapsed.
func (s *Stats) RecordSuccess(tag protocol.Tag, elapsed time.Duration) {
	in := s.state.Load()
	in.total.Add(1)
	in.successes.Add(1)
	c := in.counters(tag)
	c.count.Add(1)
	micros := elapsed.Microseconds()
	c.sumMicros.Add(micros)
	c.sumSquare.Add(micros * micros)
	c.lastSeen.Store(in.seq.Add(1))
	in.push(Observation{Tag: tag, Elapsed: elapsed, Success: true})
}

// RecordFailure counts a failed detection.
func (s *Stats) RecordFailure(elapsed time.Duration) {
	in := s.state.Load()
	in.total.Add(1)
	in.failures.Add(1)
	in.push(Observation{Elapsed: elapsed})
}

func (in *inner) push(o Observation) {
	pos := in.ringPos.Add(1) - 1
	in.mu.Lock()
	in.ring[pos%ringSize] = o
	in.mu.Unlock()
}

// Reset atomically replaces the accumulator with an empty one.
func (s *Stats) Reset() {
	s.state.Store(newInner())
}

// Total returns the number of recorded detections.
func (s *Stats) Total() int64 { return s.state.Load().total.Load() }

// Successes returns the number of successful detections.
func (s *Stats) Successes() int64 { return s.state.Load().successes.Load() }

// Failures returns the number of failed detections.
func (s *Stats) Failures() int64 { return s.state.Load().failures.Load() }

// Count returns the number of successful detections for tag.
func (s *Stats) Count(tag protocol.Tag) int64 {
	in := s.state.Load()
	in.mu.RLock()
	defer in.mu.RUnlock()
	if c := in.perTag[tag]; c != nil {
		return c.count.Load()
	}
	return 0
}

// MeanElapsed returns the arithmetic mean detection time for tag.
func (s *Stats) MeanElapsed(tag protocol.Tag) time.Duration {
	in := s.state.Load()
	in.mu.RLock()
	c := in.perTag[tag]
	in.mu.RUnlock()
	if c == nil {
		return 0
	}
	n := c.count.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(c.sumMicros.Load()/n) * time.Microsecond
}

// VarianceElapsed returns the population variance of detection times for
// tag, in squared microseconds.
func (s *Stats) VarianceElapsed(tag protocol.Tag) float64 {
	in := s.state.Load()
	in.mu.RLock()
	c := in.perTag[tag]
	in.mu.RUnlock()
	if c == nil {
		return 0
	}
	n := float64(c.count.Load())
	if n == 0 {
		return 0
	}
	sum := float64(c.sumMicros.Load())
	sumSq := float64(c.sumSquare.Load())
	mean := sum / n
	return sumSq/n - mean*mean
}

// MostCommonProtocol returns the tag with the highest success count. Ties
// are broken by the most recent occurrence. The boolean is false when
// nothing has been recorded.
func (s *Stats) MostCommonProtocol() (protocol.Tag, bool) {
	in := s.state.Load()
	in.mu.RLock()
	defer in.mu.RUnlock()
	var (
		best     protocol.Tag
		bestN    int64
		bestSeen int64
		found    bool
	)
	for tag, c := range in.perTag {
		n := c.count.Load()
		if n == 0 {
			continue
		}
		seen := c.lastSeen.Load()
		if !found || n > bestN || (n == bestN && seen > bestSeen) {
			best, bestN, bestSeen, found = tag, n, seen, true
		}
	}
	return best, found
}

// Recent returns up to n of the most recent observations, newest first.
func (s *Stats) Recent(n int) []Observation {
	in := s.state.Load()
	if n <= 0 || n > ringSize {
		n = ringSize
	}
	total := in.ringPos.Load()
	if total < int64(n) {
		n = int(total)
	}
	out := make([]Observation, 0, n)
	in.mu.RLock()
	defer in.mu.RUnlock()
	for i := 0; i < n; i++ {
		pos := (total - 1 - int64(i)) % ringSize
		out = append(out, in.ring[pos])
	}
	return out
}

// Snapshot is a point-in-time copy of the headline counters, with JSON tags
// for serialization.
type Snapshot struct {
	Total     int64                    `json:"total"`
	Successes int64                    `json:"successes"`
	Failures  int64                    `json:"failures"`
	PerTag    map[protocol.Tag]int64   `json:"per_tag"`
	MeanMs    map[protocol.Tag]float64 `json:"mean_ms"`
}

// Snap captures the current totals.
func (s *Stats) Snap() Snapshot {
	in := s.state.Load()
	snap := Snapshot{
		Total:     in.total.Load(),
		Successes: in.successes.Load(),
		Failures:  in.failures.Load(),
		PerTag:    make(map[protocol.Tag]int64),
		MeanMs:    make(map[protocol.Tag]float64),
	}
	in.mu.RLock()
	defer in.mu.RUnlock()
	for tag, c := range in.perTag {
		n := c.count.Load()
		if n == 0 {
			continue
		}
		snap.PerTag[tag] = n
		snap.MeanMs[tag] = float64(c.sumMicros.Load()) / float64(n) / 1000.0
	}
	return snap
}
