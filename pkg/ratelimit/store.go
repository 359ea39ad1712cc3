// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package ratelimit

import (
	"sort"
	"sync"
	"sync/atomic"
)

const shardCount = 16

type shard struct {
	mu      sync.Mutex
	records map[uint64]RateState
}

// MemoryStore is a fixed-capacity, lock-striped Store.
//
// Each key maps to one of a fixed number of shards; a shard lock is held only
// for a single map read or write. New keys are rejected with ErrStoreFull once
// the capacity is reached, existing keys can always be updated.
type MemoryStore struct {
	shards   [shardCount]shard
	capacity int64
	size     atomic.Int64
}

// NewMemoryStore creates a store holding at most capacity entities.
// A non-positive capacity falls back to DefaultCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	s := &MemoryStore{capacity: int64(capacity)}
	for i := range s.shards {
		s.shards[i].records = make(map[uint64]RateState)
	}
	return s
}

func (s *MemoryStore) shardFor(id uint64) *shard {
	// fibonacci hashing spreads sequential cgroup ids across shards
	return &s.shards[(id*0x9E3779B97F4A7C15)>>60]
}

// Get returns the state for id.
func (s *MemoryStore) Get(id uint64) (RateState, bool, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	st, ok := sh.records[id]
	sh.mu.Unlock()
	return st, ok, nil
}

// Put stores st for id.
func (s *MemoryStore) Put(id uint64, st RateState) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.records[id]; !ok {
		if s.size.Add(1) > s.capacity {
			s.size.Add(-1)
			return ErrStoreFull
		}
	}
	sh.records[id] = st
	return nil
}

// Len returns the number of stored entities.
func (s *MemoryStore) Len() int {
	return int(s.size.Load())
}

// Capacity returns the maximum number of entities.
func (s *MemoryStore) Capacity() int {
	return int(s.capacity)
}

// Entries returns all records ordered by entity id.
func (s *MemoryStore) Entries() ([]Entry, error) {
	entries := make([]Entry, 0, s.Len())
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, st := range sh.records {
			entries = append(entries, Entry{EntityID: id, State: st})
		}
		sh.mu.Unlock()
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].EntityID < entries[j].EntityID
	})
	return entries, nil
}

var (
	_ Store       = (*MemoryStore)(nil)
	_ Snapshotter = (*MemoryStore)(nil)
)
