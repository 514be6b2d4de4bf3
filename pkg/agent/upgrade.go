package agent

import (
	"github.com/protolens/protolens/pkg/protocol"
)

// upgradePaths is the static table of legal protocol upgrade transitions.
// The stream-rewriting upgrade pipeline itself lives outside the engine;
// the agent only answers whether a transition is legal.
var upgradePaths = map[protocol.Tag][]protocol.Tag{
	protocol.HTTP10: {protocol.HTTP11},
	protocol.HTTP11: {protocol.HTTP2, protocol.WebSocket},
	protocol.HTTP2:  {protocol.GRPC},
	protocol.TCP:    {protocol.TLS},
}

// CanUpgrade reports whether from may be upgraded to to.
func CanUpgrade(from, to protocol.Tag) bool {
	for _, t := range upgradePaths[from] {
		if t == to {
			return true
		}
	}
	return false
}

// CheckUpgrade returns an UpgradeNotSupportedError when the transition is
// illegal.
func CheckUpgrade(from, to protocol.Tag) error {
	if !CanUpgrade(from, to) {
		return &UpgradeNotSupportedError{From: from, To: to}
	}
	return nil
}
