package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protolens/protolens/pkg/bytescan"
	"github.com/protolens/protolens/pkg/protocol"
)

func TestHTTP1Probe(t *testing.T) {
	p := &http1Probe{scan: bytescan.Scalar()}

	t.Run("full request line", func(t *testing.T) {
		out := p.Probe([]byte("GET /api/v1/users HTTP/1.1\r\nHost: x\r\n\r\n"))
		require.Equal(t, KindDetected, out.Kind)
		assert.Equal(t, protocol.HTTP11, out.Info.Tag)
		assert.InDelta(t, 0.95, out.Info.Confidence, 1e-9)

		method, _ := out.Info.Features.Get("method")
		assert.Equal(t, "GET", method)
		version, _ := out.Info.Features.Get("version")
		assert.Equal(t, "1.1", version)
		target, _ := out.Info.Features.Get("target")
		assert.Equal(t, "/api/v1/users", target)
	})

	t.Run("http10 minor", func(t *testing.T) {
		out := p.Probe([]byte("HEAD / HTTP/1.0\r\n\r\n"))
		require.Equal(t, KindDetected, out.Kind)
		assert.Equal(t, protocol.HTTP10, out.Info.Tag)
	})

	t.Run("method without version token", func(t *testing.T) {
		out := p.Probe([]byte("DELETE /thing\r\nX-Other: 1\r\n\r\n"))
		require.Equal(t, KindPartial, out.Kind)
		assert.InDelta(t, 0.70, out.Info.Confidence, 1e-9)
	})

	t.Run("short window", func(t *testing.T) {
		out := p.Probe([]byte("GET /"))
		require.Equal(t, KindNeedMoreData, out.Kind)
		assert.Equal(t, 16, out.RequiredWindow)
	})

	t.Run("not http", func(t *testing.T) {
		out := p.Probe([]byte("NOTAMETHOD / HTTP/1.1\r\n"))
		assert.Equal(t, KindNotDetected, out.Kind)
	})
}

func TestHTTP2Probe(t *testing.T) {
	p := &http2Probe{scan: bytescan.Scalar()}

	t.Run("preface", func(t *testing.T) {
		out := p.Probe(mustWitnessBytes(t, protocol.HTTP2))
		require.Equal(t, KindDetected, out.Kind)
		assert.InDelta(t, 1.0, out.Info.Confidence, 1e-9)
	})

	t.Run("bare settings frame", func(t *testing.T) {
		frame := []byte{0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00}
		window := append(frame, make([]byte, 16)...)
		out := p.Probe(window)
		require.Equal(t, KindPartial, out.Kind)
		assert.InDelta(t, 0.80, out.Info.Confidence, 1e-9)
		frameType, _ := out.Info.Metadata.Get("frame_type")
		assert.Equal(t, "SETTINGS", frameType)
	})

	t.Run("reserved stream bit set", func(t *testing.T) {
		frame := []byte{0x00, 0x00, 0x00, 0x04, 0x00, 0x80, 0x00, 0x00, 0x00}
		window := append(frame, make([]byte, 16)...)
		assert.Equal(t, KindNotDetected, p.Probe(window).Kind)
	})
}

func TestWebSocketProbe(t *testing.T) {
	p := &websocketProbe{}

	t.Run("full handshake", func(t *testing.T) {
		out := p.Probe(mustWitnessBytes(t, protocol.WebSocket))
		require.Equal(t, KindDetected, out.Kind)
		assert.InDelta(t, 0.95, out.Info.Confidence, 1e-9)
	})

	t.Run("upgrade without key header", func(t *testing.T) {
		window := []byte("GET /chat HTTP/1.1\r\nHost: x\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n")
		out := p.Probe(window)
		require.Equal(t, KindPartial, out.Kind)
		assert.InDelta(t, 0.50, out.Info.Confidence, 1e-9)
	})
}

func TestGRPCProbe(t *testing.T) {
	p := &grpcProbe{scan: bytescan.Scalar()}

	t.Run("headers frame with content type", func(t *testing.T) {
		out := p.Probe(mustWitnessBytes(t, protocol.GRPC))
		require.Equal(t, KindDetected, out.Kind)
		assert.InDelta(t, 0.90, out.Info.Confidence, 1e-9)
	})

	t.Run("http2 without grpc marker", func(t *testing.T) {
		assert.Equal(t, KindNotDetected, p.Probe(mustWitnessBytes(t, protocol.HTTP2)).Kind)
	})
}

func TestTLSProbe(t *testing.T) {
	p := &tlsProbe{}

	t.Run("client hello with alpn", func(t *testing.T) {
		out := p.Probe(ClientHello([]string{"h2", "http/1.1"}))
		require.Equal(t, KindDetected, out.Kind)
		assert.InDelta(t, 0.95, out.Info.Confidence, 1e-9)
		alpn, ok := out.Info.Features.Get("alpn")
		require.True(t, ok)
		assert.Equal(t, "h2,http/1.1", alpn)
	})

	t.Run("record shape only", func(t *testing.T) {
		out := p.Probe([]byte{0x16, 0x03, 0x03, 0x00, 0x20, 0x02})
		require.Equal(t, KindPartial, out.Kind)
		assert.InDelta(t, 0.85, out.Info.Confidence, 1e-9)
	})

	t.Run("wrong content type", func(t *testing.T) {
		assert.Equal(t, KindNotDetected, p.Probe([]byte{0x17, 0x03, 0x03, 0x00, 0x20}).Kind)
	})
}

func TestSSHProbe(t *testing.T) {
	p := &sshProbe{}

	t.Run("openssh banner", func(t *testing.T) {
		out := p.Probe([]byte("SSH-2.0-OpenSSH_9.0\r\n"))
		require.Equal(t, KindDetected, out.Kind)
		assert.InDelta(t, 0.99, out.Info.Confidence, 1e-9)
		version, _ := out.Info.Features.Get("version")
		assert.Equal(t, "2.0", version)
		software, _ := out.Info.Features.Get("software")
		assert.Equal(t, "OpenSSH_9.0", software)
	})

	t.Run("banner without version shape", func(t *testing.T) {
		assert.Equal(t, KindNotDetected, p.Probe([]byte("SSH-bogus banner")).Kind)
	})
}

func TestQUICProbe(t *testing.T) {
	p := &quicProbe{}

	t.Run("v1 long header", func(t *testing.T) {
		out := p.Probe(mustWitnessBytes(t, protocol.QUIC))
		require.Equal(t, KindDetected, out.Kind)
		assert.InDelta(t, 0.85, out.Info.Confidence, 1e-9)
	})

	t.Run("draft-29 family", func(t *testing.T) {
		out := p.Probe(quicInitial(0xFF00001D, nil))
		require.Equal(t, KindDetected, out.Kind)
	})

	t.Run("version negotiation", func(t *testing.T) {
		pkt := quicInitial(0, nil)
		pkt[0] = 0x80
		out := p.Probe(pkt)
		require.Equal(t, KindPartial, out.Kind)
		assert.InDelta(t, 0.60, out.Info.Confidence, 1e-9)
	})

	t.Run("short header is not decidable", func(t *testing.T) {
		pkt := quicInitial(1, nil)
		pkt[0] = 0x43
		assert.Equal(t, KindNotDetected, p.Probe(pkt).Kind)
	})
}

func TestHTTP3Probe(t *testing.T) {
	t.Run("alpn marker present", func(t *testing.T) {
		p := &http3Probe{http3Enabled: true, quicEnabled: true}
		out := p.Probe(mustWitnessBytes(t, protocol.HTTP3))
		require.Equal(t, KindDetected, out.Kind)
		assert.InDelta(t, 0.90, out.Info.Confidence, 1e-9)
	})

	t.Run("bare quic shape reported only without quic enabled", func(t *testing.T) {
		bare := quicInitial(0x00000001, nil)

		both := &http3Probe{http3Enabled: true, quicEnabled: true}
		assert.Equal(t, KindNotDetected, both.Probe(bare).Kind)

		h3Only := &http3Probe{http3Enabled: true, quicEnabled: false}
		out := h3Only.Probe(bare)
		require.Equal(t, KindPartial, out.Kind)
		assert.InDelta(t, 0.60, out.Info.Confidence, 1e-9)
	})
}

func TestMQTTProbe(t *testing.T) {
	p := &mqttProbe{}

	t.Run("mqtt 3.1.1 connect", func(t *testing.T) {
		out := p.Probe(mqttConnect("device-1"))
		require.Equal(t, KindDetected, out.Kind)
		assert.InDelta(t, 0.92, out.Info.Confidence, 1e-9)
		version, _ := out.Info.Features.Get("version")
		assert.Equal(t, "3.1.1", version)
	})

	t.Run("mqisdp connect", func(t *testing.T) {
		pkt := []byte{0x10, 0x14, 0x00, 0x06, 'M', 'Q', 'I', 's', 'd', 'p', 0x03, 0x02, 0x00, 0x3C, 0x00, 0x02, 'i', 'd'}
		out := p.Probe(pkt)
		require.Equal(t, KindDetected, out.Kind)
		version, _ := out.Info.Features.Get("version")
		assert.Equal(t, "3.1", version)
	})

	t.Run("wrong packet type", func(t *testing.T) {
		pkt := mqttConnect("device-1")
		pkt[0] = 0x30 // PUBLISH
		assert.Equal(t, KindNotDetected, p.Probe(pkt).Kind)
	})
}

func TestDNSProbe(t *testing.T) {
	p := &dnsProbe{}

	t.Run("a query", func(t *testing.T) {
		out := p.Probe(dnsQuery("www.example.com"))
		require.Equal(t, KindDetected, out.Kind)
		assert.InDelta(t, 0.95, out.Info.Confidence, 1e-9)
		qname, _ := out.Info.Features.Get("qname")
		assert.Equal(t, "www.example.com", qname)
		qtype, _ := out.Info.Features.Get("qtype")
		assert.Equal(t, "A", qtype)
	})

	t.Run("response bit set", func(t *testing.T) {
		q := dnsQuery("www.example.com")
		q[2] |= 0x80
		assert.Equal(t, KindNotDetected, p.Probe(q).Kind)
	})

	t.Run("truncated qname degrades to header shape", func(t *testing.T) {
		q := dnsQuery("www.example.com")[:14]
		out := p.Probe(q)
		require.Equal(t, KindPartial, out.Kind)
		assert.InDelta(t, 0.75, out.Info.Confidence, 1e-9)
	})
}

func TestHeuristicProbe(t *testing.T) {
	p := &heuristicProbe{scan: bytescan.Scalar()}

	t.Run("textual prefix scores below every recognizer", func(t *testing.T) {
		window := []byte("hello: world\r\nthis is a plain textual stream / preamble of letters\r\n")
		out := p.Probe(window)
		require.Equal(t, KindPartial, out.Kind)
		assert.LessOrEqual(t, out.Info.Confidence, heuristicCap)
		shape, _ := out.Info.Metadata.Get("shape")
		assert.Equal(t, "textual", shape)
	})

	t.Run("short window", func(t *testing.T) {
		assert.Equal(t, KindNeedMoreData, p.Probe([]byte("short")).Kind)
	})
}
