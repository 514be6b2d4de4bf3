package agent

import (
	"io"
	"net"
	"strings"
	"time"

	"github.com/protolens/protolens/pkg/protocol"
)

// Transport is the minimal connection surface the client-side agent drives.
// It is the only place the engine touches I/O.
type Transport interface {
	io.ReadWriter
	// SetDeadline bounds both reads and writes.
	SetDeadline(t time.Time) error
	// Class reports whether the transport is stream- or datagram-shaped.
	Class() protocol.TransportClass
}

type connTransport struct {
	net.Conn
	class protocol.TransportClass
}

func (t *connTransport) Class() protocol.TransportClass { return t.class }

// NewConnTransport wraps a net.Conn, deriving the transport class from the
// connection's network name.
func NewConnTransport(c net.Conn) Transport {
	class := protocol.Stream
	if c.LocalAddr() != nil && strings.HasPrefix(c.LocalAddr().Network(), "udp") {
		class = protocol.Datagram
	}
	return &connTransport{Conn: c, class: class}
}
