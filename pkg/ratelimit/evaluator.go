// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package ratelimit

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ebpf-bandwidth/agent/pkg/telemetry"
)

// DefaultBPS is the default byte-rate cap, 10 MiB/s.
const DefaultBPS uint64 = 1048576 * 10

// Verdict is the value returned to the hook dispatcher.
type Verdict int32

const (
	// Deny discards the packet.
	Deny Verdict = 0
	// Allow lets the packet through.
	Allow Verdict = 1
)

func (v Verdict) String() string {
	if v == Allow {
		return "PASS"
	}
	return "DROP"
}

// Direction selects the packet path an evaluator is bound to.
type Direction int

const (
	Egress Direction = iota
	Ingress
)

func (d Direction) String() string {
	switch d {
	case Egress:
		return "egress"
	case Ingress:
		return "ingress"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection converts "egress" or "ingress" to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "egress":
		return Egress, nil
	case "ingress":
		return Ingress, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// FaultPolicy decides the verdict when the state of an entity cannot be read.
type FaultPolicy int

const (
	// FailClosed drops packets on internal faults.
	FailClosed FaultPolicy = iota
	// FailOpen allows packets on internal faults.
	FailOpen
)

func (p FaultPolicy) verdict() Verdict {
	if p == FailOpen {
		return Allow
	}
	return Deny
}

// Packet is the input of one evaluation.
type Packet struct {
	EntityID uint64
	Length   uint32
	// HintTS is the kernel packet timestamp; 0 means no hint.
	HintTS uint64
	Now    uint64
	CPU    int
}

// Result is the outcome of one evaluation.
type Result struct {
	Verdict Verdict
	// Offset is the diagnostic value published with the decision.
	Offset uint64
	// Fault is set when the store misbehaved. The verdict is still usable.
	Fault error
}

// Faulted reports whether the evaluation hit an internal fault.
func (r Result) Faulted() bool {
	return r.Fault != nil
}

// Statistics holds decision counters of one direction.
type Statistics struct {
	TotalPackets   uint64
	PassedPackets  uint64
	DroppedPackets uint64
	PassedBytes    uint64
	DroppedBytes   uint64
	Faults         uint64
}

type counters struct {
	total        atomic.Uint64
	passed       atomic.Uint64
	dropped      atomic.Uint64
	passedBytes  atomic.Uint64
	droppedBytes atomic.Uint64
	faults       atomic.Uint64
}

// Evaluator applies the virtual departure-time rate limit for one direction.
// Evaluate is safe for concurrent use.
type Evaluator struct {
	direction Direction
	bps       uint64
	store     Store
	emitter   telemetry.Emitter
	policy    FaultPolicy
	stats     counters
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithEmitter sets the telemetry emitter.
func WithEmitter(e telemetry.Emitter) Option {
	return func(ev *Evaluator) {
		if e != nil {
			ev.emitter = e
		}
	}
}

// WithFaultPolicy sets the verdict used when state cannot be read or kept.
func WithFaultPolicy(p FaultPolicy) Option {
	return func(ev *Evaluator) {
		ev.policy = p
	}
}

// NewEvaluator creates an evaluator capping each entity at bps bytes per second.
func NewEvaluator(direction Direction, bps uint64, store Store, opts ...Option) (*Evaluator, error) {
	if bps == 0 {
		return nil, ErrInvalidRate
	}
	if store == nil {
		return nil, fmt.Errorf("nil store")
	}

	ev := &Evaluator{
		direction: direction,
		bps:       bps,
		store:     store,
		emitter:   telemetry.Discard,
		policy:    FailClosed,
	}
	for _, opt := range opts {
		opt(ev)
	}
	return ev, nil
}

// Direction returns the direction the evaluator is bound to.
func (e *Evaluator) Direction() Direction {
	return e.direction
}

// BPS returns the byte-rate cap.
func (e *Evaluator) BPS() uint64 {
	return e.bps
}

// Evaluate decides whether p may pass. It never blocks on anything but a
// store shard lock and performs a fixed amount of work per call.
func (e *Evaluator) Evaluate(p Packet) Result {
	now := p.Now
	hint := p.HintTS
	// a hint from the future cannot be trusted, a zero hint is missing
	if hint > now || hint == 0 {
		hint = now
	}
	length := uint64(p.Length)

	st, ok, err := e.store.Get(p.EntityID)
	if err != nil {
		res := Result{Verdict: e.policy.verdict(), Fault: err}
		e.finish(res, p)
		return res
	}
	if !ok {
		st = RateState{ScheduledDeparture: now, LastSeen: now}
		if err := e.store.Put(p.EntityID, st); err != nil {
			// an entity without kept state cannot be limited
			res := Result{Verdict: e.policy.verdict(), Fault: err}
			e.finish(res, p)
			return res
		}
	}

	if length > e.bps {
		// the offset of an oversized packet is its own cost, always above one second
		res := Result{Verdict: Deny, Offset: length * NsecPerSec / e.bps}
		res.Fault = e.store.Put(p.EntityID, RateState{ScheduledDeparture: hint, LastSeen: now})
		e.finish(res, p)
		return res
	}

	delay := length * NsecPerSec / e.bps

	if now > st.LastSeen && now-st.LastSeen > NsecPerSec {
		st.ScheduledDeparture = hint
	}

	candidate := st.ScheduledDeparture + delay
	res := Result{Verdict: Allow, Offset: candidate - now}

	switch {
	case candidate <= hint:
		st.ScheduledDeparture = hint
	case candidate > now && candidate-now >= NsecPerSec:
		res.Verdict = Deny
	case candidate <= now:
		res.Verdict = Deny
		st.ScheduledDeparture = candidate
	default:
		st.ScheduledDeparture = candidate
	}

	st.LastSeen = now
	res.Fault = e.store.Put(p.EntityID, st)
	e.finish(res, p)
	return res
}

func (e *Evaluator) finish(res Result, p Packet) {
	e.emitter.Emit(p.CPU, telemetry.DecisionEvent{
		Offset: res.Offset,
		Action: int32(res.Verdict),
		Length: p.Length,
	})
	e.record(res, p)
}

func (e *Evaluator) record(res Result, p Packet) {
	e.stats.total.Add(1)
	if res.Verdict == Allow {
		e.stats.passed.Add(1)
		e.stats.passedBytes.Add(uint64(p.Length))
	} else {
		e.stats.dropped.Add(1)
		e.stats.droppedBytes.Add(uint64(p.Length))
	}
	if res.Fault != nil {
		e.stats.faults.Add(1)
	}
}

// GetStatistics returns a snapshot of the decision counters.
func (e *Evaluator) GetStatistics() Statistics {
	return Statistics{
		TotalPackets:   e.stats.total.Load(),
		PassedPackets:  e.stats.passed.Load(),
		DroppedPackets: e.stats.dropped.Load(),
		PassedBytes:    e.stats.passedBytes.Load(),
		DroppedBytes:   e.stats.droppedBytes.Load(),
		Faults:         e.stats.faults.Load(),
	}
}
