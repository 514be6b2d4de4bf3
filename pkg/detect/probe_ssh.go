package detect

import (
	"bytes"
	"strings"

	"github.com/protolens/protolens/pkg/protocol"
)

// sshProbe recognizes the SSH identification string, e.g.
// "SSH-2.0-OpenSSH_9.0\r\n".
type sshProbe struct{}

func (p *sshProbe) Name() string { return "ssh" }

func (p *sshProbe) Supported() []protocol.Tag {
	return []protocol.Tag{protocol.SSH}
}

func (p *sshProbe) MinWindow() int { return 8 }

func (p *sshProbe) Probe(window []byte) Outcome {
	if len(window) < p.MinWindow() {
		return NeedMoreData(p.MinWindow())
	}
	// SSH- digit dot digit dash
	if !bytes.HasPrefix(window, []byte("SSH-")) {
		return NotDetected()
	}
	if !isDigit(window[4]) || window[5] != '.' || !isDigit(window[6]) || window[7] != '-' {
		return NotDetected()
	}

	banner := window
	if len(banner) > sshBannerLimit {
		banner = banner[:sshBannerLimit]
	}
	if end := bytes.Index(banner, []byte("\r\n")); end >= 0 {
		banner = banner[:end]
	}

	info := protocol.NewInfo(protocol.SSH, 0.99)
	info.Features.Set("version", string(window[4:7]))
	if software := sshSoftware(string(banner)); software != "" {
		info.Features.Set("software", software)
	}
	return Detected(info, 8)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// sshSoftware pulls the software token from a banner like
// "SSH-2.0-OpenSSH_9.0 comment".
func sshSoftware(banner string) string {
	parts := strings.SplitN(banner, "-", 3)
	if len(parts) < 3 {
		return ""
	}
	software := parts[2]
	if at := strings.IndexByte(software, ' '); at >= 0 {
		software = software[:at]
	}
	return strings.TrimSpace(software)
}
