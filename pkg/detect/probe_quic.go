package detect

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/protolens/protolens/pkg/protocol"
)

// quicVersionKnown reports whether v is QUIC v1 or a draft-29 family
// version.
func quicVersionKnown(v uint32) bool {
	if v == 0x00000001 {
		return true
	}
	return v&0xFFFFFF00 == 0xFF000000
}

// quicProbe recognizes QUIC long-header packets.
type quicProbe struct{}

func (p *quicProbe) Name() string { return "quic" }

func (p *quicProbe) Supported() []protocol.Tag {
	return []protocol.Tag{protocol.QUIC}
}

func (p *quicProbe) MinWindow() int { return 13 }

func (p *quicProbe) Probe(window []byte) Outcome {
	if len(window) < p.MinWindow() {
		return NeedMoreData(p.MinWindow())
	}
	if window[0]&quicLongHeaderBit == 0 {
		// Short-header packets carry no version field; a prefix classifier
		// cannot tell them from arbitrary datagrams.
		return NotDetected()
	}
	version := binary.BigEndian.Uint32(window[1:5])
	switch {
	case quicVersionKnown(version):
		// Kept below the ALPN-backed HTTP/3 score so h3 evidence outranks
		// the bare transport shape.
		info := protocol.NewInfo(protocol.QUIC, 0.85)
		info.Features.Set("header", "long")
		info.Features.Set("version", fmt.Sprintf("0x%08x", version))
		return Detected(info, 5)
	case version == 0:
		info := protocol.NewInfo(protocol.QUIC, 0.60)
		info.Features.Set("header", "long")
		info.Features.Set("version", "negotiation")
		return Partial(info, 5)
	default:
		info := protocol.NewInfo(protocol.QUIC, 0.70)
		info.Features.Set("header", "long")
		info.Features.Set("version", fmt.Sprintf("0x%08x", version))
		return Partial(info, 5)
	}
}

// alpnH3Marker is the length-prefixed ALPN token for HTTP/3.
var alpnH3Marker = []byte{0x02, 'h', '3'}

// http3Probe recognizes HTTP/3 inside QUIC long-header packets. Without the
// ALPN marker it reports HTTP/3 only when HTTP/3 is enabled while QUIC is
// not; otherwise the bare QUIC shape is left for the QUIC probe.
type http3Probe struct {
	http3Enabled bool
	quicEnabled  bool
}

func (p *http3Probe) Name() string { return "http3" }

func (p *http3Probe) Supported() []protocol.Tag {
	return []protocol.Tag{protocol.HTTP3}
}

func (p *http3Probe) MinWindow() int { return 16 }

func (p *http3Probe) Probe(window []byte) Outcome {
	if len(window) < p.MinWindow() {
		return NeedMoreData(p.MinWindow())
	}
	if !quicLongHeaderShape(window) {
		return NotDetected()
	}
	if bytes.Contains(window, alpnH3Marker) {
		info := protocol.NewInfo(protocol.HTTP3, 0.90)
		info.Features.Set("alpn", "h3")
		return Detected(info, len(alpnH3Marker)+5)
	}
	if p.http3Enabled && !p.quicEnabled {
		info := protocol.NewInfo(protocol.HTTP3, 0.60)
		info.Features.Set("carrier", "quic")
		return Partial(info, 5)
	}
	return NotDetected()
}
