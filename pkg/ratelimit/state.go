// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package ratelimit

import "errors"

// NsecPerSec is the number of nanoseconds in one second.
const NsecPerSec uint64 = 1_000_000_000

// DefaultCapacity is the number of entities a state store tracks by default.
// It matches max_entries of the kernel info maps.
const DefaultCapacity = 100

var (
	// ErrStoreFull is returned by Put when a new key would exceed the store capacity.
	ErrStoreFull = errors.New("rate state store is full")

	// ErrInvalidRate is returned when a byte rate of zero is configured.
	ErrInvalidRate = errors.New("byte rate must be positive")
)

// RateState is the per-entity scheduling state kept for one direction.
// This must match the kernel-side struct rate_state exactly.
type RateState struct {
	// ScheduledDeparture is the virtual time (ns) at which the next byte may depart.
	ScheduledDeparture uint64
	// LastSeen is the time (ns) the previous packet for the entity was evaluated.
	LastSeen uint64
}

// Store holds RateState records keyed by entity id.
//
// Implementations must be safe for concurrent use. Concurrent updates to the
// same key are last-write-wins.
type Store interface {
	// Get returns the state for id and whether it exists.
	Get(id uint64) (RateState, bool, error)

	// Put creates or replaces the state for id. A new key past capacity
	// fails with ErrStoreFull.
	Put(id uint64, s RateState) error
}

// Entry is a snapshot of one stored record.
type Entry struct {
	EntityID uint64
	State    RateState
}

// Snapshotter is the read side of a store used for inspection. It is never
// used on the evaluation path.
type Snapshotter interface {
	// Get returns the state for id and whether it exists.
	Get(id uint64) (RateState, bool, error)

	// Entries lists every record.
	Entries() ([]Entry, error)
}
