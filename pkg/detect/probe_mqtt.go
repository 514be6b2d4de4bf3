package detect

import (
	"encoding/binary"

	"github.com/protolens/protolens/pkg/protocol"
)

// mqttProbe parses the fixed header of an MQTT CONNECT packet: control
// packet type, variable-length remaining length, then the protocol name.
type mqttProbe struct{}

func (p *mqttProbe) Name() string { return "mqtt" }

func (p *mqttProbe) Supported() []protocol.Tag {
	return []protocol.Tag{protocol.MQTT}
}

func (p *mqttProbe) MinWindow() int { return 14 }

func (p *mqttProbe) Probe(window []byte) Outcome {
	if len(window) < p.MinWindow() {
		return NeedMoreData(p.MinWindow())
	}
	if window[0]>>4 != mqttPacketConnect>>4 {
		return NotDetected()
	}

	// Remaining length: up to four continuation bytes.
	pos := 1
	length := 0
	shift := uint(0)
	for {
		if pos >= len(window) || pos > 4 {
			return NotDetected()
		}
		b := window[pos]
		length |= int(b&0x7F) << shift
		pos++
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	if length < 10 {
		return NotDetected()
	}

	if pos+2 > len(window) {
		return NeedMoreData(pos + 2)
	}
	nameLen := int(binary.BigEndian.Uint16(window[pos : pos+2]))
	pos += 2
	if nameLen != 4 && nameLen != 6 {
		// Fall back to the loose CONNECT shape shared with the fast path.
		if mqttConnectShape(window) {
			return Partial(protocol.NewInfo(protocol.MQTT, 0.88), 4)
		}
		return NotDetected()
	}
	if pos+nameLen > len(window) {
		return NeedMoreData(pos + nameLen)
	}
	name := string(window[pos : pos+nameLen])
	pos += nameLen

	var version string
	switch name {
	case "MQTT":
		version = "3.1.1"
		if pos < len(window) && window[pos] == 5 {
			version = "5.0"
		}
	case "MQIsdp":
		version = "3.1"
	default:
		if mqttConnectShape(window) {
			return Partial(protocol.NewInfo(protocol.MQTT, 0.88), 4)
		}
		return NotDetected()
	}

	info := protocol.NewInfo(protocol.MQTT, 0.92)
	info.Features.Set("protocol-name", name)
	info.Features.Set("version", version)
	return Detected(info, 2+nameLen)
}
