// Package ratelimit implements the per-entity bandwidth decision made for
// every packet at a cgroup-skb hook.
//
// The limiter is a leaky bucket expressed as a virtual departure-time
// scheduler. For each entity (a cgroup id) it remembers when the next byte
// may depart and when the last packet was seen. A packet of length L costs
// L*1e9/BPS nanoseconds; it passes when its candidate departure falls inside
// the next second and is dropped otherwise. Nothing is queued: every packet
// is answered immediately with PASS or DROP.
//
// # Windows
//
// Two one-second thresholds bound the behavior:
//   - an entity idle for more than one second has its backlog forgiven
//   - a packet whose candidate departure is one second or more ahead is dropped
//
// # Stores
//
// State lives in a Store. MemoryStore is a fixed-capacity in-process store
// used by the user-space evaluator and the simulator; MapStore reads and
// writes the BPF hash maps shared with the kernel program. Both reject new
// entities past capacity with ErrStoreFull. Packets of such an entity get
// the fault policy verdict, so with the default FailClosed they are dropped.
//
// # Example
//
//	store := ratelimit.NewMemoryStore(ratelimit.DefaultCapacity)
//	ev, err := ratelimit.NewEvaluator(ratelimit.Egress, ratelimit.DefaultBPS, store)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res := ev.Evaluate(ratelimit.Packet{EntityID: cgid, Length: 1500, Now: ratelimit.MonotonicNow()})
//	if res.Verdict == ratelimit.Deny {
//	    // discard
//	}
package ratelimit
