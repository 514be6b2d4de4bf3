package agent

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protolens/protolens/pkg/detect"
	"github.com/protolens/protolens/pkg/protocol"
)

func newTestAgent(t *testing.T, mutate func(*Options)) *Agent {
	t.Helper()
	det, err := detect.New(detect.Options{
		EnabledProtocols: protocol.All(),
		Timeout:          500 * time.Millisecond,
	})
	require.NoError(t, err)

	opts := Options{Detector: det, Logger: zerolog.Nop()}
	if mutate != nil {
		mutate(&opts)
	}
	ag, err := New(opts)
	require.NoError(t, err)
	return ag
}

func TestNew_RequiresDetector(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestObserve(t *testing.T) {
	ag := newTestAgent(t, nil)

	window, _ := detect.Witness(protocol.SSH)
	res, err := ag.Observe(window)
	require.NoError(t, err)
	assert.Equal(t, protocol.SSH, res.Tag())
	assert.Equal(t, StateDetected, ag.State())

	_, err = ag.Observe(make([]byte, 4))
	require.Error(t, err)
	assert.Equal(t, StateFailed, ag.State())
}

func TestClassifyAndRoute(t *testing.T) {
	endpoints := []string{"10.0.0.1:443", "10.0.0.2:443", "10.0.0.3:443"}
	ag := newTestAgent(t, func(o *Options) {
		o.Role = RoleServer
		o.Endpoints = endpoints
		o.Balance = RoundRobin
	})

	window, _ := detect.Witness(protocol.HTTP11)
	seen := make(map[string]int)
	for i := 0; i < len(endpoints)*2; i++ {
		route, err := ag.ClassifyAndRoute(window, "peer-1", nil)
		require.NoError(t, err)
		assert.Equal(t, protocol.HTTP11, route.Result.Tag())
		seen[route.Endpoint]++
	}
	for _, ep := range endpoints {
		assert.Equal(t, 2, seen[ep], "round robin must cycle evenly")
	}
}

func TestClassifyAndRoute_RoleMismatch(t *testing.T) {
	ag := newTestAgent(t, func(o *Options) { o.Role = RoleClient })

	window, _ := detect.Witness(protocol.HTTP11)
	_, err := ag.ClassifyAndRoute(window, "peer", nil)
	assert.ErrorIs(t, err, ErrRoleMismatch)
}

func TestNegotiate(t *testing.T) {
	ag := newTestAgent(t, func(o *Options) {
		o.Fallback = []protocol.Tag{protocol.HTTP11}
	})

	confirmed := []protocol.Tag{protocol.TLS, protocol.HTTP11, protocol.HTTP2}

	// Preference list wins.
	got := ag.Negotiate(confirmed, []protocol.Tag{protocol.HTTP2, protocol.HTTP11})
	assert.Equal(t, protocol.HTTP2, got)

	// Unsatisfiable preferences fall back to the agent's list.
	got = ag.Negotiate(confirmed, []protocol.Tag{protocol.HTTP3})
	assert.Equal(t, protocol.HTTP11, got)

	// Nothing matches: degrade to the raw transport tag.
	got = ag.Negotiate([]protocol.Tag{protocol.TLS}, []protocol.Tag{protocol.HTTP3})
	assert.Equal(t, protocol.TCP, got)

	got = ag.Negotiate([]protocol.Tag{protocol.QUIC}, nil)
	assert.Equal(t, protocol.UDP, got)

	got = ag.Negotiate(nil, nil)
	assert.Equal(t, protocol.TCP, got)
}

// scriptedTransport answers each opener with a canned response keyed by its
// leading byte.
type scriptedTransport struct {
	pending  []byte
	deadline time.Time
	writes   int
}

func (s *scriptedTransport) Write(p []byte) (int, error) {
	s.writes++
	switch {
	case len(p) > 0 && p[0] == 0x16:
		// TLS ClientHello: answer with a ServerHello-shaped record.
		s.pending = []byte{0x16, 0x03, 0x03, 0x00, 0x2A, 0x02, 0x00, 0x00, 0x26}
	case bytes.HasPrefix(p, []byte("PRI * HTTP/2.0")):
		// HTTP/2 preface: answer with an empty SETTINGS frame.
		s.pending = []byte{0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00}
	case bytes.HasPrefix(p, []byte("OPTIONS ")):
		s.pending = []byte("HTTP/1.1 200 OK\r\nAllow: GET, POST\r\n\r\n")
	default:
		s.pending = nil
	}
	return len(p), nil
}

func (s *scriptedTransport) Read(p []byte) (int, error) {
	n := copy(p, s.pending)
	s.pending = nil
	return n, nil
}

func (s *scriptedTransport) SetDeadline(t time.Time) error {
	s.deadline = t
	return nil
}

func (s *scriptedTransport) Class() protocol.TransportClass { return protocol.Stream }

func TestProbeCapabilities(t *testing.T) {
	ag := newTestAgent(t, func(o *Options) { o.Role = RoleClient })

	tr := &scriptedTransport{}
	confirmed, err := ag.ProbeCapabilities(context.Background(), tr)
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]protocol.Tag{protocol.TLS, protocol.HTTP2, protocol.HTTP11},
		confirmed)
	assert.False(t, tr.deadline.IsZero(), "detector timeout must bound the exchange")
	assert.Equal(t, StateIdle, ag.State())
}

func TestProbeCapabilities_UnresponsivePeerIsEmptyNotError(t *testing.T) {
	ag := newTestAgent(t, func(o *Options) { o.Role = RoleClient })

	tr := &silentTransport{}
	confirmed, err := ag.ProbeCapabilities(context.Background(), tr)
	require.NoError(t, err)
	assert.Empty(t, confirmed)
}

type silentTransport struct{}

func (s *silentTransport) Write(p []byte) (int, error) { return len(p), nil }
func (s *silentTransport) Read(p []byte) (int, error) { return 0, nil }
func (s *silentTransport) SetDeadline(t time.Time) error { return nil }
func (s *silentTransport) Class() protocol.TransportClass { return protocol.Stream }

func TestProbeCapabilities_RoleMismatch(t *testing.T) {
	ag := newTestAgent(t, func(o *Options) { o.Role = RoleServer })
	_, err := ag.ProbeCapabilities(context.Background(), &silentTransport{})
	assert.ErrorIs(t, err, ErrRoleMismatch)
}

func TestProbeCapabilities_CancelledContext(t *testing.T) {
	ag := newTestAgent(t, func(o *Options) { o.Role = RoleClient })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ag.ProbeCapabilities(ctx, &silentTransport{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInstanceIDsAreUnique(t *testing.T) {
	a := newTestAgent(t, nil)
	b := newTestAgent(t, nil)
	assert.NotEqual(t, a.InstanceID(), b.InstanceID())
	assert.NotEmpty(t, a.InstanceID())
}

func TestCheckUpgrade(t *testing.T) {
	assert.NoError(t, CheckUpgrade(protocol.HTTP11, protocol.WebSocket))
	assert.NoError(t, CheckUpgrade(protocol.HTTP11, protocol.HTTP2))
	assert.NoError(t, CheckUpgrade(protocol.HTTP2, protocol.GRPC))
	assert.NoError(t, CheckUpgrade(protocol.TCP, protocol.TLS))

	err := CheckUpgrade(protocol.SSH, protocol.HTTP2)
	var unsupported *UpgradeNotSupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, protocol.SSH, unsupported.From)
	assert.Equal(t, protocol.HTTP2, unsupported.To)
}
