package detect

import (
	"encoding/binary"

	"github.com/protolens/protolens/pkg/protocol"
)

// Witness returns the canonical evidence buffer for a builtin tag: a
// minimal, wire-accurate prefix that the engine classifies as that tag at
// or above its builtin base confidence. The client-side agent sends these
// as openers; the test suite uses them as the round-trip corpus.
func Witness(tag protocol.Tag) ([]byte, bool) {
	switch tag {
	case protocol.HTTP10:
		return []byte("GET /index.html HTTP/1.0\r\nHost: example.com\r\n\r\n"), true
	case protocol.HTTP11:
		return []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"), true
	case protocol.HTTP2:
		w := append([]byte{}, http2Preface...)
		// Empty SETTINGS frame.
		return append(w, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00), true
	case protocol.HTTP3:
		return quicInitial(0x00000001, alpnH3Marker), true
	case protocol.TLS:
		return ClientHello([]string{"h2", "http/1.1"}), true
	case protocol.SSH:
		return []byte("SSH-2.0-OpenSSH_9.0\r\n"), true
	case protocol.WebSocket:
		return []byte("GET /chat HTTP/1.1\r\n" +
			"Host: example.com\r\n" +
			"Upgrade: websocket\r\n" +
			"Connection: Upgrade\r\n" +
			"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
			"Sec-WebSocket-Version: 13\r\n\r\n"), true
	case protocol.GRPC:
		return grpcOpener(), true
	case protocol.QUIC:
		return quicInitial(0x00000001, nil), true
	case protocol.MQTT:
		return mqttConnect("protolens"), true
	case protocol.DNS:
		return dnsQuery("www.example.com"), true
	default:
		return nil, false
	}
}

// quicInitial assembles a QUIC long-header Initial-shaped packet with the
// given version, optionally embedding extra bytes after the connection IDs.
func quicInitial(version uint32, extra []byte) []byte {
	pkt := []byte{0xC3}
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], version)
	pkt = append(pkt, v[:]...)
	pkt = append(pkt, 0x08)                                           // DCID length
	pkt = append(pkt, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08) // DCID
	pkt = append(pkt, 0x00)                                           // SCID length
	pkt = append(pkt, extra...)
	for len(pkt) < 20 {
		pkt = append(pkt, 0x00)
	}
	return pkt
}

// grpcOpener is an HTTP/2 HEADERS frame whose payload carries the gRPC
// content type as a literal header field. It deliberately omits the
// connection preface so the frame recognizers, not the preface signature,
// decide.
func grpcOpener() []byte {
	payload := []byte("\x00\x0ccontent-type\x10application/grpc")
	var header [9]byte
	header[0] = byte(len(payload) >> 16)
	header[1] = byte(len(payload) >> 8)
	header[2] = byte(len(payload))
	header[3] = 0x01 // HEADERS
	header[4] = 0x04 // END_HEADERS
	binary.BigEndian.PutUint32(header[5:], 0x01)
	return append(header[:], payload...)
}

// mqttConnect assembles an MQTT 3.1.1 CONNECT packet for the client id.
func mqttConnect(clientID string) []byte {
	var variable []byte
	variable = append(variable, 0x00, 0x04, 'M', 'Q', 'T', 'T')
	variable = append(variable, 0x04)       // protocol level 3.1.1
	variable = append(variable, 0x02)       // clean session
	variable = append(variable, 0x00, 0x3C) // keepalive 60s
	variable = append(variable, byte(len(clientID)>>8), byte(len(clientID)))
	variable = append(variable, clientID...)

	pkt := []byte{mqttPacketConnect}
	remaining := len(variable)
	for {
		b := byte(remaining % 128)
		remaining /= 128
		if remaining > 0 {
			b |= 0x80
		}
		pkt = append(pkt, b)
		if remaining == 0 {
			break
		}
	}
	return append(pkt, variable...)
}

// dnsQuery assembles a recursion-desired A/IN query for name.
func dnsQuery(name string) []byte {
	q := []byte{
		0x12, 0x34, // transaction id
		0x01, 0x00, // flags: RD
		0x00, 0x01, // qdcount
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	}
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			q = append(q, byte(i-start))
			q = append(q, name[start:i]...)
			start = i + 1
		}
	}
	q = append(q, 0x00)             // root label
	q = append(q, 0x00, 0x01)       // qtype A
	return append(q, 0x00, 0x01)    // qclass IN
}

// ClientHello assembles a TLS 1.2 ClientHello record advertising the given
// ALPN protocols. Lengths are back-patched after assembly.
func ClientHello(alpn []string) []byte {
	var body []byte
	body = append(body, 0x03, 0x03) // client version TLS 1.2
	var random [32]byte
	body = append(body, random[:]...)
	body = append(body, 0x00)             // session id length
	body = append(body, 0x00, 0x02)       // cipher suites length
	body = append(body, 0x00, 0x35)       // TLS_RSA_WITH_AES_256_CBC_SHA
	body = append(body, 0x01, 0x00)       // compression: null only

	var ext []byte
	if len(alpn) > 0 {
		var list []byte
		for _, p := range alpn {
			list = append(list, byte(len(p)))
			list = append(list, p...)
		}
		ext = append(ext, 0x00, tlsExtensionALPN)
		ext = appendUint16(ext, uint16(len(list)+2))
		ext = appendUint16(ext, uint16(len(list)))
		ext = append(ext, list...)
	}
	body = appendUint16(body, uint16(len(ext)))
	body = append(body, ext...)

	handshake := []byte{tlsHandshakeHello,
		byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}
	handshake = append(handshake, body...)

	record := []byte{tlsRecordHandshake, 0x03, 0x01}
	record = appendUint16(record, uint16(len(handshake)))
	return append(record, handshake...)
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v>>8), byte(v))
}
