// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package ratelimit

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"
)

// MapStore is a Store backed by a kernel BPF hash map of
// u64 -> struct rate_state. The kernel program and user space share it.
type MapStore struct {
	m *ebpf.Map
}

// NewMapStore wraps an already loaded BPF hash map.
func NewMapStore(m *ebpf.Map) (*MapStore, error) {
	if m == nil {
		return nil, fmt.Errorf("nil map")
	}
	if m.Type() != ebpf.Hash && m.Type() != ebpf.LRUHash {
		return nil, fmt.Errorf("map %s: unsupported type %s", m.String(), m.Type())
	}
	return &MapStore{m: m}, nil
}

// Get looks up the state for id.
func (s *MapStore) Get(id uint64) (RateState, bool, error) {
	var st RateState
	if err := s.m.Lookup(&id, &st); err != nil {
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return RateState{}, false, nil
		}
		return RateState{}, false, fmt.Errorf("looking up entity %d: %w", id, err)
	}
	return st, true, nil
}

// Put writes the state for id.
func (s *MapStore) Put(id uint64, st RateState) error {
	if err := s.m.Update(&id, &st, ebpf.UpdateAny); err != nil {
		if errors.Is(err, unix.E2BIG) {
			return ErrStoreFull
		}
		return fmt.Errorf("updating entity %d: %w", id, err)
	}
	return nil
}

// Capacity returns max_entries of the underlying map.
func (s *MapStore) Capacity() int {
	return int(s.m.MaxEntries())
}

// Entries iterates the map and returns all records ordered by entity id.
func (s *MapStore) Entries() ([]Entry, error) {
	var (
		entries []Entry
		id      uint64
		st      RateState
	)

	iter := s.m.Iterate()
	for iter.Next(&id, &st) {
		entries = append(entries, Entry{EntityID: id, State: st})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", s.m.String(), err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].EntityID < entries[j].EntityID
	})
	return entries, nil
}

var (
	_ Store       = (*MapStore)(nil)
	_ Snapshotter = (*MapStore)(nil)
)
