package detect

import (
	"bytes"

	"github.com/protolens/protolens/pkg/bytescan"
	"github.com/protolens/protolens/pkg/protocol"
)

// http1Probe recognizes HTTP/1.x request prefixes.
type http1Probe struct {
	scan bytescan.Kernels
}

func (p *http1Probe) Name() string { return "http1" }

func (p *http1Probe) Supported() []protocol.Tag {
	return []protocol.Tag{protocol.HTTP10, protocol.HTTP11}
}

func (p *http1Probe) MinWindow() int { return 16 }

func (p *http1Probe) Probe(window []byte) Outcome {
	if len(window) < p.MinWindow() {
		return NeedMoreData(p.MinWindow())
	}

	var method []byte
	for _, m := range http11Methods {
		if p.scan.CompareFixed(window, 0, m) {
			method = m[:len(m)-1] // strip trailing space
			break
		}
	}
	if method == nil {
		return NotDetected()
	}

	// The version token must appear on the request line, before the first
	// CRLF.
	lineEnd := p.scan.FindByte(window, '\r')
	line := window
	if lineEnd >= 0 {
		line = window[:lineEnd]
	}
	verAt := bytes.Index(line, []byte(" HTTP/1."))
	if verAt < 0 || verAt+8 >= len(line) {
		info := protocol.NewInfo(protocol.HTTP11, 0.70)
		info.Features.Set("method", string(method))
		return Partial(info, len(method))
	}

	tag := protocol.HTTP11
	version := "1.1"
	switch line[verAt+8] {
	case '0':
		tag = protocol.HTTP10
		version = "1.0"
	case '1':
	default:
		info := protocol.NewInfo(protocol.HTTP11, 0.70)
		info.Features.Set("method", string(method))
		return Partial(info, len(method))
	}

	info := protocol.NewInfo(tag, 0.95)
	info.Features.Set("method", string(method))
	info.Features.Set("version", version)
	if target := requestTarget(line, len(method)+1, verAt); target != "" {
		info.Features.Set("target", target)
	}
	return Detected(info, len(method)+1+9)
}

// requestTarget extracts the request path between the method and the version
// token, capped at 64 bytes.
func requestTarget(line []byte, start, end int) string {
	if start >= end || start >= len(line) {
		return ""
	}
	target := line[start:end]
	if len(target) > 64 {
		target = target[:64]
	}
	return string(target)
}

// http2FrameShape reports whether the first 9 bytes form a plausible HTTP/2
// frame header: 24-bit length within the default SETTINGS_MAX_FRAME_SIZE,
// a known frame type, and the reserved stream-id bit clear.
func http2FrameShape(window []byte) bool {
	if len(window) < 9 {
		return false
	}
	length := int(window[0])<<16 | int(window[1])<<8 | int(window[2])
	if length > 1<<14 {
		return false
	}
	if window[3] > 0x09 {
		return false
	}
	return window[5]&0x80 == 0
}

// http2Probe recognizes the HTTP/2 connection preface and bare frame headers.
type http2Probe struct {
	scan bytescan.Kernels
}

func (p *http2Probe) Name() string { return "http2" }

func (p *http2Probe) Supported() []protocol.Tag {
	return []protocol.Tag{protocol.HTTP2}
}

func (p *http2Probe) MinWindow() int { return 24 }

func (p *http2Probe) Probe(window []byte) Outcome {
	if len(window) < p.MinWindow() {
		return NeedMoreData(p.MinWindow())
	}
	if p.scan.CompareFixed(window, 0, http2Preface) {
		info := protocol.NewInfo(protocol.HTTP2, 1.0)
		info.Features.Set("preface", "true")
		return Detected(info, len(http2Preface))
	}
	if http2FrameShape(window) {
		info := protocol.NewInfo(protocol.HTTP2, 0.80)
		info.Metadata.Set("frame_type", frameTypeName(window[3]))
		return Partial(info, 9)
	}
	return NotDetected()
}

func frameTypeName(t byte) string {
	names := []string{
		"DATA", "HEADERS", "PRIORITY", "RST_STREAM", "SETTINGS",
		"PUSH_PROMISE", "PING", "GOAWAY", "WINDOW_UPDATE", "CONTINUATION",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "UNKNOWN"
}

// websocketProbe recognizes the HTTP/1.1 WebSocket upgrade handshake.
type websocketProbe struct{}

func (p *websocketProbe) Name() string { return "websocket" }

func (p *websocketProbe) Supported() []protocol.Tag {
	return []protocol.Tag{protocol.WebSocket}
}

func (p *websocketProbe) MinWindow() int { return 64 }

var (
	wsUpgradeHeader = []byte("Upgrade: websocket")
	wsKeyHeader     = []byte("Sec-WebSocket-Key:")
)

func (p *websocketProbe) Probe(window []byte) Outcome {
	if len(window) < p.MinWindow() {
		return NeedMoreData(p.MinWindow())
	}
	if !containsFold(window, wsUpgradeHeader, true) {
		return NotDetected()
	}
	if containsFold(window, wsKeyHeader, true) {
		info := protocol.NewInfo(protocol.WebSocket, 0.95)
		info.Features.Set("upgrade", "websocket")
		return Detected(info, len(wsUpgradeHeader)+len(wsKeyHeader))
	}
	info := protocol.NewInfo(protocol.WebSocket, 0.50)
	info.Features.Set("upgrade", "websocket")
	return Partial(info, len(wsUpgradeHeader))
}

// grpcProbe recognizes gRPC riding on HTTP/2. It requires the HTTP/2 shape
// to hold and then looks for the gRPC content type, either literally in a
// HEADERS frame or as an HPACK literal in preface-led data.
type grpcProbe struct {
	scan bytescan.Kernels
}

func (p *grpcProbe) Name() string { return "grpc" }

func (p *grpcProbe) Supported() []protocol.Tag {
	return []protocol.Tag{protocol.GRPC}
}

func (p *grpcProbe) MinWindow() int { return 24 }

func (p *grpcProbe) Probe(window []byte) Outcome {
	if len(window) < p.MinWindow() {
		return NeedMoreData(p.MinWindow())
	}
	isPreface := p.scan.CompareFixed(window, 0, http2Preface)
	if !isPreface && !http2FrameShape(window) {
		return NotDetected()
	}
	if !bytes.Contains(window, []byte(grpcContentTypeString)) {
		return NotDetected()
	}
	info := protocol.NewInfo(protocol.GRPC, 0.90)
	info.Features.Set("content-type", grpcContentTypeString)
	if isPreface {
		info.Metadata.Set("carrier", "preface")
	} else {
		info.Metadata.Set("carrier", "frame")
	}
	return Detected(info, len(grpcContentTypeString))
}
