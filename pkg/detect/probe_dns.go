package detect

import (
	"encoding/binary"
	"strings"

	"github.com/protolens/protolens/pkg/protocol"
)

// dnsProbe parses a DNS query header and verifies the first question's
// QNAME parses as length-prefixed labels within the window.
type dnsProbe struct{}

func (p *dnsProbe) Name() string { return "dns" }

func (p *dnsProbe) Supported() []protocol.Tag {
	return []protocol.Tag{protocol.DNS}
}

func (p *dnsProbe) MinWindow() int { return 12 }

func (p *dnsProbe) Probe(window []byte) Outcome {
	if len(window) < p.MinWindow() {
		return NeedMoreData(p.MinWindow())
	}

	flags := binary.BigEndian.Uint16(window[2:4])
	if flags&0x8000 != 0 {
		return NotDetected()
	}
	if (flags>>11)&0x0F > dnsMaxOpcode {
		return NotDetected()
	}
	qdcount := binary.BigEndian.Uint16(window[4:6])
	ancount := binary.BigEndian.Uint16(window[6:8])
	if qdcount < 1 || ancount != 0 {
		if dnsHeaderShape(window) {
			return Partial(protocol.NewInfo(protocol.DNS, 0.75), 4)
		}
		return NotDetected()
	}

	qname, next := parseQName(window, 12)
	if next < 0 {
		if dnsHeaderShape(window) {
			return Partial(protocol.NewInfo(protocol.DNS, 0.75), 4)
		}
		return NotDetected()
	}

	info := protocol.NewInfo(protocol.DNS, 0.95)
	info.Features.Set("qname", qname)
	if next+4 <= len(window) {
		info.Features.Set("qtype", dnsTypeName(binary.BigEndian.Uint16(window[next:next+2])))
	}
	return Detected(info, next-12)
}

// parseQName walks length-prefixed labels starting at offset and returns the
// dotted name and the offset just past the terminating zero byte, or -1 when
// the name does not terminate within the window.
func parseQName(window []byte, offset int) (string, int) {
	var labels []string
	pos := offset
	for {
		if pos >= len(window) {
			return "", -1
		}
		n := int(window[pos])
		if n == 0 {
			if len(labels) == 0 {
				return "", -1
			}
			return strings.Join(labels, "."), pos + 1
		}
		if n > 63 || pos+1+n > len(window) {
			return "", -1
		}
		labels = append(labels, string(window[pos+1:pos+1+n]))
		pos += 1 + n
	}
}

func dnsTypeName(t uint16) string {
	switch t {
	case 1:
		return "A"
	case 2:
		return "NS"
	case 5:
		return "CNAME"
	case 15:
		return "MX"
	case 16:
		return "TXT"
	case 28:
		return "AAAA"
	default:
		return "other"
	}
}
