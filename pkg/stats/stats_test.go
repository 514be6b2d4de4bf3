package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protolens/protolens/pkg/protocol"
)

func TestRecordAndMean(t *testing.T) {
	s := New()

	durations := []time.Duration{
		2 * time.Millisecond,
		4 * time.Millisecond,
		6 * time.Millisecond,
	}
	for _, d := range durations {
		s.RecordSuccess(protocol.TLS, d)
	}
	s.RecordFailure(time.Millisecond)

	assert.Equal(t, int64(4), s.Total())
	assert.Equal(t, int64(3), s.Successes())
	assert.Equal(t, int64(1), s.Failures())
	assert.Equal(t, int64(3), s.Count(protocol.TLS))

	// Mean elapsed equals the arithmetic mean of the recorded durations.
	assert.Equal(t, 4*time.Millisecond, s.MeanElapsed(protocol.TLS))

	// Population variance of {2000, 4000, 6000} microseconds.
	assert.InDelta(t, 8000*1000/3.0, s.VarianceElapsed(protocol.TLS), 1.0)
}

func TestMostCommonProtocol(t *testing.T) {
	s := New()

	_, ok := s.MostCommonProtocol()
	assert.False(t, ok)

	s.RecordSuccess(protocol.HTTP11, time.Millisecond)
	s.RecordSuccess(protocol.HTTP11, time.Millisecond)
	s.RecordSuccess(protocol.TLS, time.Millisecond)

	tag, ok := s.MostCommonProtocol()
	require.True(t, ok)
	assert.Equal(t, protocol.HTTP11, tag)

	// Ties break toward the most recent occurrence.
	s.RecordSuccess(protocol.TLS, time.Millisecond)
	tag, ok = s.MostCommonProtocol()
	require.True(t, ok)
	assert.Equal(t, protocol.TLS, tag)
}

func TestReset(t *testing.T) {
	s := New()
	s.RecordSuccess(protocol.SSH, time.Millisecond)
	require.Equal(t, int64(1), s.Total())

	s.Reset()
	assert.Zero(t, s.Total())
	assert.Zero(t, s.Count(protocol.SSH))
	_, ok := s.MostCommonProtocol()
	assert.False(t, ok)
}

func TestRecent(t *testing.T) {
	s := New()
	s.RecordSuccess(protocol.DNS, time.Millisecond)
	s.RecordSuccess(protocol.MQTT, 2*time.Millisecond)

	recent := s.Recent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, protocol.MQTT, recent[0].Tag)
	assert.Equal(t, protocol.DNS, recent[1].Tag)
}

func TestConcurrentUpdates(t *testing.T) {
	s := New()

	const goroutines = 8
	const perGoroutine = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				s.RecordSuccess(protocol.QUIC, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(goroutines*perGoroutine), s.Successes())
	assert.Equal(t, int64(goroutines*perGoroutine), s.Count(protocol.QUIC))
	assert.Equal(t, time.Millisecond, s.MeanElapsed(protocol.QUIC))
}

func TestSnap(t *testing.T) {
	s := New()
	s.RecordSuccess(protocol.TLS, 2*time.Millisecond)
	s.RecordFailure(time.Millisecond)

	snap := s.Snap()
	assert.Equal(t, int64(2), snap.Total)
	assert.Equal(t, int64(1), snap.Successes)
	assert.Equal(t, int64(1), snap.Failures)
	assert.Equal(t, int64(1), snap.PerTag[protocol.TLS])
	assert.InDelta(t, 2.0, snap.MeanMs[protocol.TLS], 1e-9)
}
