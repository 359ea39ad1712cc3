// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package handlers

import (
	"errors"

	"github.com/ebpf-bandwidth/agent/pkg/collector"
	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
)

// MockDataPlane is a mock implementation of DataPlaneInterface for testing
type MockDataPlane struct {
	directions []ratelimit.Direction
	bps        map[ratelimit.Direction]uint64
	statistics map[ratelimit.Direction]ratelimit.Statistics
	stores     map[ratelimit.Direction]ratelimit.Snapshotter
	lost       map[ratelimit.Direction]uint64
}

func NewMockDataPlane() *MockDataPlane {
	return &MockDataPlane{
		directions: []ratelimit.Direction{ratelimit.Egress},
		bps: map[ratelimit.Direction]uint64{
			ratelimit.Egress:  ratelimit.DefaultBPS,
			ratelimit.Ingress: ratelimit.DefaultBPS,
		},
		statistics: map[ratelimit.Direction]ratelimit.Statistics{
			ratelimit.Egress: {
				TotalPackets:   1000,
				PassedPackets:  800,
				DroppedPackets: 200,
				PassedBytes:    800 * 1500,
				DroppedBytes:   200 * 1500,
			},
		},
		lost: map[ratelimit.Direction]uint64{ratelimit.Egress: 3},
		stores: map[ratelimit.Direction]ratelimit.Snapshotter{
			ratelimit.Egress: &fakeSnapshotter{entries: []ratelimit.Entry{
				{EntityID: 7, State: ratelimit.RateState{ScheduledDeparture: 12 * ratelimit.NsecPerSec, LastSeen: 10 * ratelimit.NsecPerSec}},
				{EntityID: 9, State: ratelimit.RateState{ScheduledDeparture: 9 * ratelimit.NsecPerSec, LastSeen: 9 * ratelimit.NsecPerSec}},
			}},
		},
	}
}

func (m *MockDataPlane) Directions() []ratelimit.Direction {
	return m.directions
}

func (m *MockDataPlane) BPS(dir ratelimit.Direction) uint64 {
	return m.bps[dir]
}

func (m *MockDataPlane) GetStatistics(dir ratelimit.Direction) ratelimit.Statistics {
	return m.statistics[dir]
}

func (m *MockDataPlane) SetStatistics(dir ratelimit.Direction, stats ratelimit.Statistics) {
	m.statistics[dir] = stats
}

func (m *MockDataPlane) StateStore(dir ratelimit.Direction) (ratelimit.Snapshotter, bool) {
	s, ok := m.stores[dir]
	return s, ok
}

func (m *MockDataPlane) TelemetrySources() []collector.Source {
	return nil
}

func (m *MockDataPlane) Lost(dir ratelimit.Direction) uint64 {
	return m.lost[dir]
}

func (m *MockDataPlane) Close() error {
	return nil
}

type fakeSnapshotter struct {
	entries []ratelimit.Entry
	err     error
	listed  int
}

func (f *fakeSnapshotter) Get(id uint64) (ratelimit.RateState, bool, error) {
	if f.err != nil {
		return ratelimit.RateState{}, false, f.err
	}
	for _, e := range f.entries {
		if e.EntityID == id {
			return e.State, true, nil
		}
	}
	return ratelimit.RateState{}, false, nil
}

func (f *fakeSnapshotter) Entries() ([]ratelimit.Entry, error) {
	f.listed++
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

var errMapRead = errors.New("map iteration failed")
