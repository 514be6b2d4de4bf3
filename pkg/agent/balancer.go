package agent

import (
	"hash/fnv"
	"sync/atomic"
)

// BalanceStrategy names a backend selection policy.
type BalanceStrategy string

const (
	RoundRobin     BalanceStrategy = "round_robin"
	LeastConn      BalanceStrategy = "least_conn"
	ConsistentHash BalanceStrategy = "consistent_hash"
)

// Balancer selects a backend endpoint for a classified connection.
type Balancer interface {
	// Select picks one of endpoints. peerID feeds hash-based strategies;
	// connCounts feeds load-based ones and maps endpoint to its live
	// connection count.
	Select(endpoints []string, peerID string, connCounts map[string]int) (string, error)
	Name() string
}

// NewBalancer returns the balancer for the strategy, defaulting to
// round-robin.
func NewBalancer(strategy BalanceStrategy) Balancer {
	switch strategy {
	case LeastConn:
		return &leastConnBalancer{}
	case ConsistentHash:
		return &consistentHashBalancer{}
	default:
		return &roundRobinBalancer{}
	}
}

// roundRobinBalancer advances an atomic cursor; selection is O(1) and safe
// for concurrent use.
type roundRobinBalancer struct {
	cursor atomic.Uint64
}

func (b *roundRobinBalancer) Select(endpoints []string, _ string, _ map[string]int) (string, error) {
	if len(endpoints) == 0 {
		return "", ErrNoEndpoints
	}
	idx := (b.cursor.Add(1) - 1) % uint64(len(endpoints))
	return endpoints[idx], nil
}

func (b *roundRobinBalancer) Name() string { return "round-robin" }

// leastConnBalancer consults the externally maintained connection-count
// map. Endpoints missing from the map count as idle.
type leastConnBalancer struct{}

func (b *leastConnBalancer) Select(endpoints []string, _ string, connCounts map[string]int) (string, error) {
	if len(endpoints) == 0 {
		return "", ErrNoEndpoints
	}
	selected := endpoints[0]
	minConns := connCounts[selected]
	for _, ep := range endpoints[1:] {
		if c := connCounts[ep]; c < minConns {
			minConns = c
			selected = ep
		}
	}
	return selected, nil
}

func (b *leastConnBalancer) Name() string { return "least-connections" }

// consistentHashBalancer pins a peer to an endpoint by FNV-1a of its id.
type consistentHashBalancer struct{}

func (b *consistentHashBalancer) Select(endpoints []string, peerID string, _ map[string]int) (string, error) {
	if len(endpoints) == 0 {
		return "", ErrNoEndpoints
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(peerID))
	return endpoints[h.Sum32()%uint32(len(endpoints))], nil
}

func (b *consistentHashBalancer) Name() string { return "consistent-hash" }
