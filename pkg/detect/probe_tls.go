package detect

import (
	"encoding/binary"
	"strings"

	"github.com/protolens/protolens/pkg/protocol"
)

// tlsProbe recognizes the TLS record header and, when the window reaches
// into the handshake body, verifies a ClientHello and extracts the ALPN
// protocol list as a feature.
type tlsProbe struct{}

func (p *tlsProbe) Name() string { return "tls" }

func (p *tlsProbe) Supported() []protocol.Tag {
	return []protocol.Tag{protocol.TLS}
}

func (p *tlsProbe) MinWindow() int { return 5 }

func (p *tlsProbe) Probe(window []byte) Outcome {
	if len(window) < p.MinWindow() {
		return NeedMoreData(p.MinWindow())
	}
	if !tlsRecordShape(window) {
		return NotDetected()
	}

	version := tlsVersionName(window[2])
	if len(window) < 11 || window[5] != tlsHandshakeHello {
		info := protocol.NewInfo(protocol.TLS, 0.85)
		info.Features.Set("record", "handshake")
		info.Features.Set("version", version)
		return Partial(info, 5)
	}

	info := protocol.NewInfo(protocol.TLS, 0.95)
	info.Features.Set("record", "handshake")
	info.Features.Set("handshake", "client-hello")
	info.Features.Set("version", version)
	if alpn := clientHelloALPN(window); len(alpn) > 0 {
		info.Features.Set("alpn", strings.Join(alpn, ","))
	}
	return Detected(info, 11)
}

func tlsVersionName(minor byte) string {
	switch minor {
	case 0x00:
		return "ssl3.0"
	case 0x01:
		return "tls1.0"
	case 0x02:
		return "tls1.1"
	case 0x03:
		return "tls1.2"
	default:
		return "tls1.3"
	}
}

const tlsExtensionALPN = 16

// clientHelloALPN walks a ClientHello far enough to find the ALPN extension
// and returns the advertised protocol names. Every read is bounds-checked;
// a truncated or malformed hello simply yields nil.
func clientHelloALPN(window []byte) []string {
	// record(5) + handshake type(1) + length(3)
	if len(window) < 9 {
		return nil
	}
	body := window[9:]
	// client version(2) + random(32)
	pos := 34
	if pos >= len(body) {
		return nil
	}
	// session id
	pos += 1 + int(body[pos])
	if pos > len(body) {
		return nil
	}
	// cipher suites
	if pos+2 > len(body) {
		return nil
	}
	pos += 2 + int(binary.BigEndian.Uint16(body[pos:pos+2]))
	if pos > len(body) {
		return nil
	}
	// compression methods
	if pos+1 > len(body) {
		return nil
	}
	pos += 1 + int(body[pos])
	// extensions block
	if pos+2 > len(body) {
		return nil
	}
	extEnd := pos + 2 + int(binary.BigEndian.Uint16(body[pos:pos+2]))
	pos += 2
	if extEnd > len(body) {
		extEnd = len(body)
	}
	for pos+4 <= extEnd {
		extType := binary.BigEndian.Uint16(body[pos : pos+2])
		extLen := int(binary.BigEndian.Uint16(body[pos+2 : pos+4]))
		pos += 4
		if pos+extLen > extEnd {
			return nil
		}
		if extType == tlsExtensionALPN {
			return parseALPNList(body[pos : pos+extLen])
		}
		pos += extLen
	}
	return nil
}

func parseALPNList(ext []byte) []string {
	if len(ext) < 2 {
		return nil
	}
	listLen := int(binary.BigEndian.Uint16(ext[:2]))
	list := ext[2:]
	if listLen < len(list) {
		list = list[:listLen]
	}
	var names []string
	for pos := 0; pos < len(list); {
		n := int(list[pos])
		pos++
		if n == 0 || pos+n > len(list) {
			break
		}
		names = append(names, string(list[pos:pos+n]))
		pos += n
	}
	return names
}
