package detect

import (
	"encoding/binary"

	"github.com/protolens/protolens/pkg/protocol"
)

// Signature is a literal byte-pattern rule used by the fast path. A window
// matches when the bytes at Offset equal Pattern, with each byte masked first
// (when Mask is set) and ASCII case-folded (when CaseFold is set).
type Signature struct {
	Tag            protocol.Tag
	Offset         int
	Pattern        []byte
	Mask           []byte
	CaseFold       bool
	BaseConfidence float64
	Description    string

	// search matches the pattern anywhere in the window instead of at Offset.
	search bool
	// verify runs an additional structural check once the literal part (if
	// any) matched. Builtin signatures use it for framed-header sanity rules
	// that a flat byte pattern cannot express.
	verify func(window []byte) bool
}

func foldByte(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

func (s *Signature) literalAt(window []byte, at int) bool {
	if at < 0 || at+len(s.Pattern) > len(window) {
		return false
	}
	for i, p := range s.Pattern {
		b := window[at+i]
		if s.Mask != nil {
			b &= s.Mask[i]
			p &= s.Mask[i]
		}
		if s.CaseFold {
			b = foldByte(b)
			p = foldByte(p)
		}
		if b != p {
			return false
		}
	}
	return true
}

// Matches reports whether the window satisfies the signature, along with the
// number of literal bytes that matched (used for tie-breaking downstream).
func (s *Signature) Matches(window []byte) (bool, int) {
	evidence := len(s.Pattern)
	switch {
	case len(s.Pattern) == 0:
		// Purely structural rule.
	case s.search:
		if !containsFold(window, s.Pattern, s.CaseFold) {
			return false, 0
		}
	default:
		if !s.literalAt(window, s.Offset) {
			return false, 0
		}
	}
	if s.verify != nil && !s.verify(window) {
		return false, 0
	}
	return true, evidence
}

func containsFold(window, pattern []byte, fold bool) bool {
	if len(pattern) == 0 || len(pattern) > len(window) {
		return false
	}
	for i := 0; i+len(pattern) <= len(window); i++ {
		ok := true
		for j, p := range pattern {
			b := window[i+j]
			if fold {
				b = foldByte(b)
				p = foldByte(p)
			}
			if b != p {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// SignatureBuilder assembles a custom Signature.
type SignatureBuilder struct {
	sig Signature
}

// NewSignature starts a builder for the given tag.
func NewSignature(tag protocol.Tag, description string) *SignatureBuilder {
	return &SignatureBuilder{sig: Signature{
		Tag:            tag,
		BaseConfidence: 0.8,
		Description:    description,
	}}
}

// Pattern sets the literal byte pattern.
func (b *SignatureBuilder) Pattern(p []byte) *SignatureBuilder {
	b.sig.Pattern = p
	return b
}

// PatternString sets the literal pattern from an ASCII string.
func (b *SignatureBuilder) PatternString(p string) *SignatureBuilder {
	b.sig.Pattern = []byte(p)
	return b
}

// Offset sets the byte offset the pattern must match at.
func (b *SignatureBuilder) Offset(off int) *SignatureBuilder {
	b.sig.Offset = off
	return b
}

// Mask sets a per-byte mask applied before comparison. It must be the same
// length as the pattern; Build rejects mismatches.
func (b *SignatureBuilder) Mask(m []byte) *SignatureBuilder {
	b.sig.Mask = m
	return b
}

// CaseFold makes the comparison ASCII case-insensitive.
func (b *SignatureBuilder) CaseFold() *SignatureBuilder {
	b.sig.CaseFold = true
	return b
}

// Confidence sets the base confidence, clamped into [0,1].
func (b *SignatureBuilder) Confidence(c float64) *SignatureBuilder {
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	b.sig.BaseConfidence = c
	return b
}

// SearchAnywhere matches the pattern at any offset within the window.
func (b *SignatureBuilder) SearchAnywhere() *SignatureBuilder {
	b.sig.search = true
	return b
}

// Build validates and returns the signature.
func (b *SignatureBuilder) Build() (Signature, error) {
	if len(b.sig.Pattern) == 0 {
		return Signature{}, &ConfigError{Reason: "signature pattern must not be empty"}
	}
	if b.sig.Mask != nil && len(b.sig.Mask) != len(b.sig.Pattern) {
		return Signature{}, &ConfigError{Reason: "signature mask length must equal pattern length"}
	}
	if b.sig.Offset < 0 {
		return Signature{}, &ConfigError{Reason: "signature offset must be non-negative"}
	}
	return b.sig, nil
}

// Structural helpers shared between the fast path and the per-protocol
// probes, so both sides stay bit-accurate against the same rules.

const (
	tlsRecordHandshake    = 0x16
	tlsHandshakeHello     = 0x01
	tlsMaxRecordLength    = 1 << 14
	http2PrefaceString    = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"
	quicLongHeaderBit     = 0x80
	mqttPacketConnect     = 0x10
	dnsMaxOpcode          = 5
	dnsMaxQuestionCount   = 32
	sshBannerLimit        = 255
	grpcContentTypeString = "application/grpc"
)

var http2Preface = []byte(http2PrefaceString)

// tlsRecordShape checks the TLS record header: handshake content type,
// version major 0x03 with a known minor, and a sane record length.
func tlsRecordShape(window []byte) bool {
	if len(window) < 5 {
		return false
	}
	if window[0] != tlsRecordHandshake || window[1] != 0x03 || window[2] > 0x04 {
		return false
	}
	length := int(binary.BigEndian.Uint16(window[3:5]))
	return length > 0 && length <= tlsMaxRecordLength
}

// quicLongHeaderShape checks for a QUIC long header: high bit of byte 0 set
// and a non-zero 4-byte version.
func quicLongHeaderShape(window []byte) bool {
	if len(window) < 5 {
		return false
	}
	if window[0]&quicLongHeaderBit == 0 {
		return false
	}
	return binary.BigEndian.Uint32(window[1:5]) != 0
}

// mqttConnectShape checks for an MQTT CONNECT packet carrying the protocol
// name "MQTT" or "MQIsdp" within the first few bytes after the fixed header.
func mqttConnectShape(window []byte) bool {
	if len(window) < 4 || window[0]>>4 != mqttPacketConnect>>4 {
		return false
	}
	for off := 2; off <= 10 && off+2 <= len(window); off++ {
		nameLen := int(binary.BigEndian.Uint16(window[off : off+2]))
		if nameLen != 4 && nameLen != 6 {
			continue
		}
		start := off + 2
		if start+nameLen > len(window) {
			continue
		}
		name := string(window[start : start+nameLen])
		if name == "MQTT" || name == "MQIsdp" {
			return true
		}
	}
	return false
}

// dnsHeaderShape checks a DNS header for a query: QR bit clear, opcode in
// range, and a bounded question count.
func dnsHeaderShape(window []byte) bool {
	if len(window) < 6 {
		return false
	}
	flags := binary.BigEndian.Uint16(window[2:4])
	if flags&0x8000 != 0 {
		return false
	}
	if (flags>>11)&0x0F > dnsMaxOpcode {
		return false
	}
	qdcount := binary.BigEndian.Uint16(window[4:6])
	return qdcount <= dnsMaxQuestionCount
}

var http11Methods = [][]byte{
	[]byte("GET "), []byte("POST "), []byte("PUT "), []byte("DELETE "),
	[]byte("HEAD "), []byte("OPTIONS "), []byte("PATCH "), []byte("TRACE "),
	[]byte("CONNECT "),
}

// builtinSignatures returns the engine's literal signature set in
// registration order. The fast path and the probes both derive from these
// constants.
func builtinSignatures() []Signature {
	sigs := make([]Signature, 0, len(http11Methods)+10)

	for _, m := range http11Methods {
		sigs = append(sigs, Signature{
			Tag:            protocol.HTTP11,
			Pattern:        m,
			BaseConfidence: 0.95,
			Description:    "HTTP " + string(m[:len(m)-1]) + " request",
		})
	}

	sigs = append(sigs,
		// Registered ahead of the HTTP/1.x request-line rules: an upgrade
		// handshake is an HTTP/1.1 request too, and the more specific rule
		// must get first claim on the overflow scan.
		Signature{
			Tag:            protocol.WebSocket,
			Pattern:        []byte("Upgrade: websocket"),
			CaseFold:       true,
			BaseConfidence: 0.95,
			Description:    "WebSocket upgrade request",
			search:         true,
			verify: func(window []byte) bool {
				return containsFold(window, []byte("Sec-WebSocket-Key:"), true)
			},
		},
		Signature{
			Tag:            protocol.HTTP11,
			Pattern:        []byte(" HTTP/1.1\r\n"),
			BaseConfidence: 0.98,
			Description:    "HTTP/1.1 request line",
			search:         true,
		},
		Signature{
			Tag:            protocol.HTTP10,
			Pattern:        []byte(" HTTP/1.0\r\n"),
			BaseConfidence: 0.98,
			Description:    "HTTP/1.0 request line",
			search:         true,
		},
		Signature{
			Tag:            protocol.HTTP2,
			Pattern:        http2Preface,
			BaseConfidence: 1.0,
			Description:    "HTTP/2 connection preface",
		},
		Signature{
			Tag:            protocol.TLS,
			Pattern:        []byte{tlsRecordHandshake, 0x03},
			BaseConfidence: 0.90,
			Description:    "TLS handshake record",
			verify:         tlsRecordShape,
		},
		Signature{
			Tag:            protocol.SSH,
			Pattern:        []byte("SSH-"),
			BaseConfidence: 0.99,
			Description:    "SSH identification string",
		},
		Signature{
			Tag:            protocol.QUIC,
			BaseConfidence: 0.70,
			Description:    "QUIC long header",
			verify:         quicLongHeaderShape,
		},
		Signature{
			Tag:            protocol.MQTT,
			BaseConfidence: 0.88,
			Description:    "MQTT CONNECT packet",
			verify:         mqttConnectShape,
		},
		Signature{
			Tag:            protocol.DNS,
			BaseConfidence: 0.75,
			Description:    "DNS query header",
			verify:         dnsHeaderShape,
		},
	)

	return sigs
}
