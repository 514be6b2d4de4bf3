// Copyright 2025 Protolens Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package detect implements the protocol identification engine: the literal
// signature fast path, the per-protocol probes, and the pipeline that picks
// a winner under the configured confidence gate.
package detect

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/protolens/protolens/pkg/bytescan"
	"github.com/protolens/protolens/pkg/protocol"
	"github.com/protolens/protolens/pkg/stats"
)

// Strategy selects which probes a detection run may consult.
type Strategy int

const (
	// StrategyPassive decides only from bytes the peer already sent.
	StrategyPassive Strategy = iota
	// StrategyActive also admits probes that may drive a peer under an
	// Agent.
	StrategyActive
	// StrategyHybrid runs passive probes first and falls back to active
	// ones when no passive candidate clears the gate.
	StrategyHybrid
)

func (s Strategy) String() string {
	switch s {
	case StrategyActive:
		return "active"
	case StrategyHybrid:
		return "hybrid"
	default:
		return "passive"
	}
}

// ProbeSpec registers a user-supplied probe with the builder.
type ProbeSpec struct {
	Probe    Probe
	Priority int
	// Active marks the probe as peer-driving; the Passive strategy skips
	// it.
	Active bool
}

// Options configures a Detector. The zero value is completed with defaults
// by New.
type Options struct {
	// EnabledProtocols is the non-empty tag set the detector may report.
	EnabledProtocols []protocol.Tag
	// CustomProbes are appended after the builtin probe set.
	CustomProbes []ProbeSpec
	// CustomSignatures extend the fast-path table.
	CustomSignatures []Signature
	Strategy         Strategy
	// Timeout bounds one classification call. Checked at step boundaries.
	Timeout time.Duration
	// MinConfidence is the winner gate in [0,1].
	MinConfidence float64
	// MinWindow is the smallest window Detect accepts.
	MinWindow int
	// BufferHint advises stream analyzers how much prefix to retain.
	BufferHint int
	// Accelerated selects the vectorized byte-scan kernels.
	Accelerated bool
	// Heuristic enables the textual/binary fallback probe.
	Heuristic bool
	// Logger receives debug-level pipeline traces. Defaults to a nop
	// logger.
	Logger zerolog.Logger
}

// Defaults mirrored by the configuration package.
const (
	DefaultTimeout       = 100 * time.Millisecond
	DefaultMinConfidence = 0.80
	DefaultMinWindow     = 16
	DefaultBufferHint    = 8 << 10
)

// Detector is the immutable classification engine. Safe for concurrent use;
// the statistics accumulator is its only mutable cell.
type Detector struct {
	magic    *magicTable
	registry *Registry
	enabled  map[protocol.Tag]struct{}
	order    []protocol.Tag

	strategy      Strategy
	minConfidence float64
	minWindow     int
	timeout       time.Duration
	bufferHint    int
	heuristic     bool
	accelerated   bool

	scan  bytescan.Kernels
	stats *stats.Stats
	log   zerolog.Logger
}

// New validates the options and builds a Detector. Configuration problems
// surface here as *ConfigError and never at classification time.
func New(opts Options) (*Detector, error) {
	if len(opts.EnabledProtocols) == 0 {
		return nil, &ConfigError{Reason: "enabled protocol set must not be empty"}
	}
	if opts.MinConfidence < 0 || opts.MinConfidence > 1 {
		return nil, &ConfigError{Reason: "min confidence must be within [0,1]"}
	}
	if opts.MinConfidence == 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Timeout < time.Millisecond {
		return nil, &ConfigError{Reason: "timeout must be at least 1ms"}
	}
	if opts.MinWindow == 0 {
		opts.MinWindow = DefaultMinWindow
	}
	if opts.MinWindow < 1 {
		return nil, &ConfigError{Reason: "min window must be at least 1"}
	}
	if opts.BufferHint <= 0 {
		opts.BufferHint = DefaultBufferHint
	}

	enabled := make(map[protocol.Tag]struct{}, len(opts.EnabledProtocols))
	var order []protocol.Tag
	for _, tag := range opts.EnabledProtocols {
		if _, dup := enabled[tag]; dup {
			continue
		}
		enabled[tag] = struct{}{}
		order = append(order, tag)
	}

	scan := bytescan.Scalar()
	if opts.Accelerated {
		scan = bytescan.Accelerated()
	}

	var sigs []Signature
	for _, s := range builtinSignatures() {
		if _, ok := enabled[s.Tag]; ok {
			sigs = append(sigs, s)
		}
	}
	for _, s := range opts.CustomSignatures {
		if _, ok := enabled[s.Tag]; ok || s.Tag.IsCustom() {
			sigs = append(sigs, s)
		}
	}

	records := builtinProbeRecords(enabled, scan, opts.Heuristic)
	for _, spec := range opts.CustomProbes {
		if spec.Probe == nil {
			return nil, &ConfigError{Reason: "custom probe must not be nil"}
		}
		records = append(records, newProbeRecord(spec.Probe, spec.Priority, spec.Active, len(records)))
	}

	registry := newRegistry(records, enabled)
	if registry.Len() == 0 {
		return nil, &ConfigError{Reason: "no probe matches the enabled protocol set"}
	}

	return &Detector{
		magic:         newMagicTable(sigs),
		registry:      registry,
		enabled:       enabled,
		order:         order,
		strategy:      opts.Strategy,
		minConfidence: opts.MinConfidence,
		minWindow:     opts.MinWindow,
		timeout:       opts.Timeout,
		bufferHint:    opts.BufferHint,
		heuristic:     opts.Heuristic,
		accelerated:   opts.Accelerated,
		scan:          scan,
		stats:         stats.New(),
		log:           opts.Logger,
	}, nil
}

// builtinProbeRecords assembles the builtin probe set. Priorities encode the
// sweep order: framed recognizers with strong literals first, loose binary
// shapes later, the heuristic last.
func builtinProbeRecords(enabled map[protocol.Tag]struct{}, scan bytescan.Kernels, heuristic bool) []ProbeRecord {
	_, quicOn := enabled[protocol.QUIC]
	_, h3On := enabled[protocol.HTTP3]

	specs := []struct {
		probe    Probe
		priority int
	}{
		{&http2Probe{scan: scan}, 100},
		{&grpcProbe{scan: scan}, 95},
		{&http1Probe{scan: scan}, 90},
		{&sshProbe{}, 85},
		{&websocketProbe{}, 85},
		{&tlsProbe{}, 80},
		{&http3Probe{http3Enabled: h3On, quicEnabled: quicOn}, 78},
		{&quicProbe{}, 75},
		{&mqttProbe{}, 70},
		{&dnsProbe{}, 65},
	}

	records := make([]ProbeRecord, 0, len(specs)+1)
	for i, s := range specs {
		records = append(records, newProbeRecord(s.probe, s.priority, false, i))
	}
	if heuristic {
		records = append(records, newProbeRecord(&heuristicProbe{scan: scan}, 10, false, len(records)))
	}
	return records
}

// SupportedProtocols returns the enabled tags in configuration order.
func (d *Detector) SupportedProtocols() []protocol.Tag {
	out := make([]protocol.Tag, len(d.order))
	copy(out, d.order)
	return out
}

// Stats exposes the accumulator.
func (d *Detector) Stats() *stats.Stats { return d.stats }

// Timeout returns the per-call deadline.
func (d *Detector) Timeout() time.Duration { return d.timeout }

// MinWindow returns the smallest window Detect accepts.
func (d *Detector) MinWindow() int { return d.minWindow }

// BufferHint returns the advisory prefix retention size.
func (d *Detector) BufferHint() int { return d.bufferHint }

// candidate is one probe (or fast-path) verdict competing for the verdict.
type candidate struct {
	info     protocol.Info
	evidence int
	priority int
	order    int
	name     string
	fastPath bool
}

func better(a, b *candidate) bool {
	if a.info.Confidence != b.info.Confidence {
		return a.info.Confidence > b.info.Confidence
	}
	if a.evidence != b.evidence {
		return a.evidence > b.evidence
	}
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.order < b.order
}

// Detect classifies the window. On success the result confidence is at
// least the configured gate; failures are *InsufficientDataError,
// *LowConfidenceError, or ErrTimeout.
func (d *Detector) Detect(window []byte) (protocol.Result, error) {
	start := time.Now()
	res, err := d.run(window, start)
	elapsed := time.Since(start)
	if err != nil {
		d.stats.RecordFailure(elapsed)
		return protocol.Result{}, err
	}
	res.Elapsed = elapsed
	d.stats.RecordSuccess(res.Info.Tag, elapsed)
	return res, nil
}

func (d *Detector) run(window []byte, start time.Time) (protocol.Result, error) {
	if len(window) < d.minWindow {
		return protocol.Result{}, &InsufficientDataError{Required: d.minWindow}
	}

	// Fast path: a literal signature at or above the gate decides alone.
	// The matching probe is still consulted for feature extraction; by the
	// fast/slow agreement rule it can only confirm, never lower, the
	// signature's confidence.
	fast := d.magic.quickDetect(window)
	if fast != nil && fast.sig.BaseConfidence >= d.minConfidence {
		info := protocol.NewInfo(fast.sig.Tag, fast.sig.BaseConfidence)
		if enriched := d.enrich(fast.sig.Tag, fast.sig.BaseConfidence, window); enriched != nil {
			info = *enriched
		}
		info.Metadata.Set("signature", fast.sig.Description)
		return protocol.Result{
			Info:      info,
			Method:    protocol.MethodMagicByte,
			ProbeName: "magic",
		}, nil
	}
	if time.Since(start) > d.timeout {
		return protocol.Result{}, ErrTimeout
	}

	candidates, needMore, err := d.sweep(window, start)
	if err != nil {
		return protocol.Result{}, err
	}

	if fast != nil {
		candidates = append(candidates, candidate{
			info:     protocol.NewInfo(fast.sig.Tag, fast.sig.BaseConfidence),
			evidence: fast.evidence,
			name:     "magic",
			fastPath: true,
		})
	}

	if len(candidates) == 0 {
		if needMore > len(window) {
			return protocol.Result{}, &InsufficientDataError{Required: needMore}
		}
		return protocol.Result{}, &LowConfidenceError{BestTag: protocol.Unknown}
	}

	winner := &candidates[0]
	for i := 1; i < len(candidates); i++ {
		if better(&candidates[i], winner) {
			winner = &candidates[i]
		}
	}

	// Method stamping. Supporters are probes that agreed on the winner's
	// tag with real confidence; two or more turn the verdict statistical
	// and average their scores.
	var (
		supporters   int
		sum, maxConf float64
		fastAgreed   bool
	)
	for i := range candidates {
		c := &candidates[i]
		if c.info.Tag != winner.info.Tag {
			continue
		}
		if c.fastPath {
			fastAgreed = true
			continue
		}
		if c.info.Confidence >= 0.5 {
			supporters++
			sum += c.info.Confidence
			if c.info.Confidence > maxConf {
				maxConf = c.info.Confidence
			}
		}
	}

	info := winner.info
	method := protocol.MethodHeuristic
	switch {
	case winner.fastPath && supporters == 0:
		method = protocol.MethodMagicByte
	case fastAgreed && supporters >= 1:
		method = protocol.MethodCombined
	case supporters >= 2:
		method = protocol.MethodStatistical
		avg := sum / float64(supporters)
		if avg > maxConf {
			avg = maxConf
		}
		info.Confidence = avg
	}

	if info.Confidence < d.minConfidence {
		if needMore > len(window) {
			return protocol.Result{}, &InsufficientDataError{Required: needMore}
		}
		return protocol.Result{}, &LowConfidenceError{
			BestTag:        info.Tag,
			BestConfidence: info.Confidence,
		}
	}

	return protocol.Result{Info: info, Method: method, ProbeName: winner.name}, nil
}

// enrich asks the probes behind tag for a feature-bearing Info. The probe
// may refine the tag to the exact HTTP minor version; by the fast/slow
// agreement rule the final confidence is the larger of the two sides.
func (d *Detector) enrich(tag protocol.Tag, base float64, window []byte) *protocol.Info {
	for _, rec := range d.registry.ByTag(tag) {
		outcome := d.runProbe(rec, window)
		if outcome.Kind != KindDetected && outcome.Kind != KindPartial {
			continue
		}
		got := outcome.Info.Tag
		if got != tag && !(tag == protocol.HTTP11 && got == protocol.HTTP10) &&
			!(tag == protocol.HTTP10 && got == protocol.HTTP11) {
			continue
		}
		info := outcome.Info
		if info.Confidence < base {
			info.Confidence = base
		}
		return &info
	}
	return nil
}

// sweep runs the registry under the strategy filter and collects candidates
// plus the smallest window a declining probe asked for.
func (d *Detector) sweep(window []byte, start time.Time) ([]candidate, int, error) {
	var (
		candidates []candidate
		needMore   int
		timedOut   bool
	)

	runPass := func(active bool) {
		d.registry.Each(func(rec *ProbeRecord) bool {
			if timedOut {
				return false
			}
			if rec.Active != active {
				return true
			}
			outcome := d.runProbe(rec, window)
			switch outcome.Kind {
			case KindDetected, KindPartial:
				if _, ok := d.enabled[outcome.Info.Tag]; ok || outcome.Info.Tag.IsCustom() {
					candidates = append(candidates, candidate{
						info:     outcome.Info,
						evidence: outcome.Evidence,
						priority: rec.Priority,
						order:    rec.order,
						name:     rec.Probe.Name(),
					})
				}
			case KindNeedMoreData:
				if outcome.RequiredWindow > len(window) &&
					(needMore == 0 || outcome.RequiredWindow < needMore) {
					needMore = outcome.RequiredWindow
				}
			}
			if time.Since(start) > d.timeout {
				timedOut = true
				return false
			}
			return true
		})
	}

	switch d.strategy {
	case StrategyActive:
		runPass(false)
		runPass(true)
	case StrategyHybrid:
		runPass(false)
		best := 0.0
		for i := range candidates {
			if candidates[i].info.Confidence > best {
				best = candidates[i].info.Confidence
			}
		}
		if best < d.minConfidence && !timedOut {
			runPass(true)
		}
	default:
		runPass(false)
	}

	if timedOut {
		return nil, 0, ErrTimeout
	}
	return candidates, needMore, nil
}

// runProbe guards against misbehaving custom probes; a panic is converted
// into NotDetected and logged, keeping the pipeline panic-free on untrusted
// input.
func (d *Detector) runProbe(rec *ProbeRecord, window []byte) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Debug().
				Str("probe", rec.Probe.Name()).
				Interface("panic", r).
				Msg("probe panicked; treating as not detected")
			outcome = NotDetected()
		}
	}()
	return rec.Probe.Probe(window)
}

// BatchResult pairs one window's verdict with its error.
type BatchResult struct {
	Result protocol.Result
	Err    error
}

// DetectBatch maps Detect over the windows independently.
func (d *Detector) DetectBatch(windows [][]byte) []BatchResult {
	out := make([]BatchResult, len(windows))
	for i, w := range windows {
		out[i].Result, out[i].Err = d.Detect(w)
	}
	return out
}

// Confidence runs only the probes able to report tag and returns the best
// confidence found, zero when nothing fired.
func (d *Detector) Confidence(window []byte, tag protocol.Tag) float64 {
	best := 0.0
	for _, rec := range d.registry.ByTag(tag) {
		outcome := d.runProbe(rec, window)
		if outcome.Kind != KindDetected && outcome.Kind != KindPartial {
			continue
		}
		if outcome.Info.Tag == tag && outcome.Info.Confidence > best {
			best = outcome.Info.Confidence
		}
	}
	return best
}
