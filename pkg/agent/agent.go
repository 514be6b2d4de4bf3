// Copyright 2025 Protolens Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package agent wraps a detector with role-dependent policy: server-side
// passive observation of incoming connections, or client-side active
// probing of a peer's protocol capabilities.
package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/protolens/protolens/pkg/detect"
	"github.com/protolens/protolens/pkg/protocol"
)

// Role selects the agent's side of the connection.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// State is the agent's coarse lifecycle position, for introspection only.
type State int32

const (
	StateIdle State = iota
	StateProbing
	StateDetected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateDetected:
		return "detected"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Options configures an Agent.
type Options struct {
	// Detector is required; the agent borrows it and never mutates it.
	Detector *detect.Detector
	Role     Role
	// Endpoints are the routing backends for the server role.
	Endpoints []string
	Balance   BalanceStrategy
	// Fallback tags are consulted by Negotiate after the caller's
	// preference list.
	Fallback []protocol.Tag
	Logger   zerolog.Logger
}

// Agent couples a shared detector with role policy. Safe for concurrent
// use; the lifecycle state is advisory only.
type Agent struct {
	det       *detect.Detector
	role      Role
	id        string
	endpoints []string
	balancer  Balancer
	fallback  []protocol.Tag
	log       zerolog.Logger
	state     atomic.Int32
}

// New builds an Agent around an existing detector.
func New(opts Options) (*Agent, error) {
	if opts.Detector == nil {
		return nil, &detect.ConfigError{Reason: "agent requires a detector"}
	}
	return &Agent{
		det:       opts.Detector,
		role:      opts.Role,
		id:        uuid.NewString(),
		endpoints: opts.Endpoints,
		balancer:  NewBalancer(opts.Balance),
		fallback:  opts.Fallback,
		log:       opts.Logger,
	}, nil
}

// InstanceID returns the agent's unique id.
func (a *Agent) InstanceID() string { return a.id }

// Role returns the configured role.
func (a *Agent) Role() Role { return a.role }

// State returns the advisory lifecycle state.
func (a *Agent) State() State { return State(a.state.Load()) }

func (a *Agent) setState(s State) { a.state.Store(int32(s)) }

// Observe classifies a window exactly as the underlying pipeline does.
func (a *Agent) Observe(window []byte) (protocol.Result, error) {
	a.setState(StateProbing)
	res, err := a.det.Detect(window)
	if err != nil {
		a.setState(StateFailed)
		return protocol.Result{}, err
	}
	a.setState(StateDetected)
	return res, nil
}

// Route pairs a classification verdict with the chosen backend.
type Route struct {
	Result   protocol.Result
	Endpoint string
}

// ClassifyAndRoute observes the window and derives the routing decision.
// peerID feeds consistent hashing; connCounts feeds least-connections and
// maps endpoint to its live connection count.
func (a *Agent) ClassifyAndRoute(window []byte, peerID string, connCounts map[string]int) (Route, error) {
	if a.role != RoleServer {
		return Route{}, ErrRoleMismatch
	}
	res, err := a.Observe(window)
	if err != nil {
		return Route{}, err
	}
	endpoint, err := a.balancer.Select(a.endpoints, peerID, connCounts)
	if err != nil {
		return Route{}, err
	}
	a.log.Debug().
		Str("protocol", string(res.Tag())).
		Str("endpoint", endpoint).
		Str("balancer", a.balancer.Name()).
		Msg("routed connection")
	return Route{Result: res, Endpoint: endpoint}, nil
}

// opener is one protocol-specific probe payload the client role sends.
type opener struct {
	tag     protocol.Tag
	payload []byte
	confirm func(response []byte) bool
}

// clientOpeners returns the probe sequence for the enabled tag set, highest
// value protocols first.
func clientOpeners(enabled map[protocol.Tag]bool) []opener {
	all := []opener{
		{
			tag:     protocol.TLS,
			payload: detect.ClientHello([]string{"h2", "http/1.1", "h3"}),
			confirm: func(resp []byte) bool {
				// ServerHello record.
				return len(resp) >= 3 && resp[0] == 0x16 && resp[1] == 0x03
			},
		},
		{
			tag:     protocol.HTTP2,
			payload: mustWitness(protocol.HTTP2),
			confirm: func(resp []byte) bool {
				// A SETTINGS frame is the mandatory first reply.
				return len(resp) >= 9 && resp[3] == 0x04
			},
		},
		{
			tag:     protocol.HTTP11,
			payload: []byte("OPTIONS * HTTP/1.1\r\nHost: probe\r\n\r\n"),
			confirm: func(resp []byte) bool {
				return len(resp) >= 8 && string(resp[:7]) == "HTTP/1." &&
					(resp[7] == '0' || resp[7] == '1')
			},
		},
	}
	var out []opener
	for _, o := range all {
		if enabled[o.tag] {
			out = append(out, o)
		}
	}
	return out
}

func mustWitness(tag protocol.Tag) []byte {
	w, _ := detect.Witness(tag)
	return w
}

// ProbeCapabilities sends protocol openers to the peer and returns the set
// of confirmed tags. The detector's timeout bounds the whole exchange, not
// each opener; the context is consulted between openers. An unresponsive
// or unconvincing peer yields an empty set with a nil error; only transport
// failures surface as errors.
func (a *Agent) ProbeCapabilities(ctx context.Context, tr Transport) ([]protocol.Tag, error) {
	if a.role != RoleClient {
		return nil, ErrRoleMismatch
	}
	a.setState(StateProbing)
	defer a.setState(StateIdle)

	deadline := time.Now().Add(a.det.Timeout())
	if err := tr.SetDeadline(deadline); err != nil {
		return nil, &TransportError{Reason: "setting deadline", Err: err}
	}

	enabled := make(map[protocol.Tag]bool)
	for _, t := range a.det.SupportedProtocols() {
		enabled[t] = true
	}

	var confirmed []protocol.Tag
	buf := make([]byte, a.det.BufferHint())
	for _, o := range clientOpeners(enabled) {
		select {
		case <-ctx.Done():
			return confirmed, ctx.Err()
		default:
		}
		if time.Now().After(deadline) {
			break
		}
		if _, err := tr.Write(o.payload); err != nil {
			return nil, &TransportError{Reason: "writing opener", Err: err}
		}
		n, err := tr.Read(buf)
		if err != nil || n == 0 {
			// A peer ignoring an opener is evidence, not an error.
			continue
		}
		if o.confirm(buf[:n]) {
			confirmed = append(confirmed, o.tag)
			a.log.Debug().
				Str("protocol", string(o.tag)).
				Msg("peer confirmed capability")
		}
	}
	return confirmed, nil
}

// Negotiate picks the tag to speak from the confirmed set: the first match
// in the caller's preference list, then in the agent's fallback list, and
// finally the raw transport tag for the class.
func (a *Agent) Negotiate(confirmed []protocol.Tag, preferences []protocol.Tag) protocol.Tag {
	in := func(tag protocol.Tag) bool {
		for _, c := range confirmed {
			if c == tag {
				return true
			}
		}
		return false
	}
	for _, p := range preferences {
		if in(p) {
			return p
		}
	}
	for _, f := range a.fallback {
		if in(f) {
			return f
		}
	}
	// Raw transport fallback: datagram-only confirmations degrade to UDP.
	for _, c := range confirmed {
		if c.Transport() == protocol.Stream {
			return protocol.TCP
		}
	}
	if len(confirmed) > 0 {
		return protocol.UDP
	}
	return protocol.TCP
}
