// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ebpf-bandwidth/agent/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testEntity = uint64(0x1234)
	start      = uint64(5 * NsecPerSec)
	mtu        = uint32(1500)
	// 1500 bytes at 10 MiB/s
	mtuDelay = uint64(143051)
)

// MockStore is a mock implementation of Store for fault injection
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(id uint64) (RateState, bool, error) {
	args := m.Called(id)
	return args.Get(0).(RateState), args.Bool(1), args.Error(2)
}

func (m *MockStore) Put(id uint64, s RateState) error {
	args := m.Called(id, s)
	return args.Error(0)
}

func newTestEvaluator(t *testing.T, opts ...Option) (*Evaluator, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore(DefaultCapacity)
	ev, err := NewEvaluator(Egress, DefaultBPS, store, opts...)
	require.NoError(t, err)
	return ev, store
}

func stored(t *testing.T, s Store, id uint64) RateState {
	t.Helper()
	st, ok, err := s.Get(id)
	require.NoError(t, err)
	require.True(t, ok, "entity %d should be stored", id)
	return st
}

// TestNewEvaluator_ZeroRate tests that a zero byte rate is rejected
func TestNewEvaluator_ZeroRate(t *testing.T) {
	_, err := NewEvaluator(Egress, 0, NewMemoryStore(1))
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = NewEvaluator(Egress, DefaultBPS, nil)
	assert.Error(t, err)
}

// TestEvaluate_FirstPacket tests a first packet for an unseen entity
func TestEvaluate_FirstPacket(t *testing.T) {
	ev, store := newTestEvaluator(t)

	res := ev.Evaluate(Packet{EntityID: testEntity, Length: mtu, Now: start})

	assert.Equal(t, Allow, res.Verdict)
	assert.False(t, res.Faulted())
	assert.Equal(t, mtuDelay, res.Offset)
	assert.Less(t, res.Offset, uint64(1_000_000), "offset should be close to zero")

	st := stored(t, store, testEntity)
	assert.Equal(t, start+mtuDelay, st.ScheduledDeparture)
	assert.Equal(t, start, st.LastSeen)
}

// TestEvaluate_BurstExceedsBacklog tests that a burst is cut once the backlog reaches one second
func TestEvaluate_BurstExceedsBacklog(t *testing.T) {
	ev, _ := newTestEvaluator(t)

	// 64 KiB costs exactly 6.25ms at 10 MiB/s, 160 of them fill one second
	const size = uint32(65536)
	verdicts := make([]Verdict, 200)
	for i := range verdicts {
		now := start + uint64(i)
		verdicts[i] = ev.Evaluate(Packet{EntityID: testEntity, Length: size, Now: now}).Verdict
	}

	for i, v := range verdicts {
		if i < 160 {
			assert.Equal(t, Allow, v, "packet %d", i)
		} else {
			assert.Equal(t, Deny, v, "packet %d", i)
		}
	}

	stats := ev.GetStatistics()
	assert.Equal(t, uint64(200), stats.TotalPackets)
	assert.Equal(t, uint64(160), stats.PassedPackets)
	assert.Equal(t, uint64(40), stats.DroppedPackets)
	assert.Equal(t, uint64(160)*uint64(size), stats.PassedBytes)
}

// TestEvaluate_BacklogDropKeepsSchedule tests that a backlog drop does not advance the schedule
func TestEvaluate_BacklogDropKeepsSchedule(t *testing.T) {
	ev, store := newTestEvaluator(t)
	require.NoError(t, store.Put(testEntity, RateState{
		ScheduledDeparture: start + NsecPerSec - 10,
		LastSeen:           start - 1,
	}))

	res := ev.Evaluate(Packet{EntityID: testEntity, Length: mtu, Now: start})
	assert.Equal(t, Deny, res.Verdict)
	assert.Equal(t, NsecPerSec-10+mtuDelay, res.Offset)

	st := stored(t, store, testEntity)
	assert.Equal(t, start+NsecPerSec-10, st.ScheduledDeparture)
	assert.Equal(t, start, st.LastSeen)
}

// TestEvaluate_OversizedPacket tests the per-packet hard ceiling
func TestEvaluate_OversizedPacket(t *testing.T) {
	store := NewMemoryStore(DefaultCapacity)
	ev, err := NewEvaluator(Ingress, 1000, store)
	require.NoError(t, err)

	testCases := []struct {
		name  string
		prior *RateState
	}{
		{name: "unseen entity"},
		{name: "idle entity", prior: &RateState{ScheduledDeparture: start - 10, LastSeen: start - 10}},
		{name: "backlogged entity", prior: &RateState{ScheduledDeparture: start + 500, LastSeen: start - 1}},
	}

	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id := uint64(i + 1)
			if tc.prior != nil {
				require.NoError(t, store.Put(id, *tc.prior))
			}

			hint := start - 7
			res := ev.Evaluate(Packet{EntityID: id, Length: 1001, HintTS: hint, Now: start})
			assert.Equal(t, Deny, res.Verdict)
			assert.Equal(t, 1001*NsecPerSec/1000, res.Offset)

			st := stored(t, store, id)
			assert.Equal(t, hint, st.ScheduledDeparture)
			assert.Equal(t, start, st.LastSeen)
		})
	}
}

// TestEvaluate_IdleGapResets tests that the backlog is forgiven after more than one second of silence
func TestEvaluate_IdleGapResets(t *testing.T) {
	ev, store := newTestEvaluator(t)
	require.NoError(t, store.Put(testEntity, RateState{
		ScheduledDeparture: start + NsecPerSec - 1,
		LastSeen:           start,
	}))

	now := start + 2*NsecPerSec
	res := ev.Evaluate(Packet{EntityID: testEntity, Length: mtu, HintTS: now, Now: now})

	assert.Equal(t, Allow, res.Verdict)
	assert.Equal(t, mtuDelay, res.Offset)
	st := stored(t, store, testEntity)
	assert.Equal(t, now+mtuDelay, st.ScheduledDeparture)
	assert.Equal(t, now, st.LastSeen)
}

// TestEvaluate_IdleGapStaleHint tests the reset with a hint older than one packet delay
func TestEvaluate_IdleGapStaleHint(t *testing.T) {
	testCases := []struct {
		name     string
		hint     uint64
		expected Verdict
	}{
		// the reset schedule plus one delay is already behind now
		{name: "stale hint drops", hint: start + 1_500_000_000, expected: Deny},
		{name: "recent hint passes", hint: start + 2*NsecPerSec - mtuDelay/2, expected: Allow},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ev, store := newTestEvaluator(t)
			require.NoError(t, store.Put(testEntity, RateState{ScheduledDeparture: start, LastSeen: start}))

			now := start + 2*NsecPerSec
			res := ev.Evaluate(Packet{EntityID: testEntity, Length: mtu, HintTS: tc.hint, Now: now})

			assert.Equal(t, tc.expected, res.Verdict)
			assert.Equal(t, int64(tc.hint+mtuDelay)-int64(now), int64(res.Offset))
			st := stored(t, store, testEntity)
			assert.Equal(t, tc.hint+mtuDelay, st.ScheduledDeparture)
			assert.Equal(t, now, st.LastSeen)
		})
	}
}

// TestEvaluate_ExactlyOneSecondGap tests that a gap of exactly one second does not reset
func TestEvaluate_ExactlyOneSecondGap(t *testing.T) {
	ev, store := newTestEvaluator(t)
	sched := start + NsecPerSec + 500_000_000
	require.NoError(t, store.Put(testEntity, RateState{ScheduledDeparture: sched, LastSeen: start}))

	now := start + NsecPerSec
	res := ev.Evaluate(Packet{EntityID: testEntity, Length: mtu, Now: now})

	assert.Equal(t, Allow, res.Verdict)
	assert.Equal(t, sched+mtuDelay, stored(t, store, testEntity).ScheduledDeparture)
}

// TestEvaluate_DueCandidateSnapsToHint tests that a due packet stores exactly the hint timestamp
func TestEvaluate_DueCandidateSnapsToHint(t *testing.T) {
	priors := []RateState{
		{ScheduledDeparture: start, LastSeen: start},
		{ScheduledDeparture: start + 1000, LastSeen: start + 10},
		{ScheduledDeparture: 1, LastSeen: start + 100},
	}

	for _, prior := range priors {
		ev, store := newTestEvaluator(t)
		require.NoError(t, store.Put(testEntity, prior))

		now := start + 500_000_000
		hint := start + 400_000_000
		res := ev.Evaluate(Packet{EntityID: testEntity, Length: mtu, HintTS: hint, Now: now})

		assert.Equal(t, Allow, res.Verdict)
		assert.Equal(t, hint, stored(t, store, testEntity).ScheduledDeparture)
	}
}

// TestEvaluate_FutureHintClamped tests that a hint later than now is treated as now
func TestEvaluate_FutureHintClamped(t *testing.T) {
	ev, store := newTestEvaluator(t)
	require.NoError(t, store.Put(testEntity, RateState{ScheduledDeparture: start - 5, LastSeen: start - 5}))

	res := ev.Evaluate(Packet{EntityID: testEntity, Length: 0, HintTS: start + NsecPerSec, Now: start})

	assert.Equal(t, Allow, res.Verdict)
	assert.Equal(t, start, stored(t, store, testEntity).ScheduledDeparture)
}

// TestEvaluate_PassedSlotDrops tests the drop of a packet whose slot lies between hint and now
func TestEvaluate_PassedSlotDrops(t *testing.T) {
	ev, store := newTestEvaluator(t)
	require.NoError(t, store.Put(testEntity, RateState{ScheduledDeparture: start + mtuDelay, LastSeen: start}))

	now := start + 500_000_000
	res := ev.Evaluate(Packet{EntityID: testEntity, Length: mtu, HintTS: start + 100, Now: now})

	candidate := start + 2*mtuDelay
	assert.Equal(t, Deny, res.Verdict)
	assert.Equal(t, int64(candidate)-int64(now), int64(res.Offset))
	assert.Equal(t, candidate, stored(t, store, testEntity).ScheduledDeparture)
}

// TestEvaluate_ZeroLength tests that empty packets pass without advancing the schedule
func TestEvaluate_ZeroLength(t *testing.T) {
	testCases := []struct {
		name  string
		sched uint64
	}{
		{name: "no backlog", sched: start - 100},
		{name: "half second backlog", sched: start + 500_000_000},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ev, store := newTestEvaluator(t)
			require.NoError(t, store.Put(testEntity, RateState{ScheduledDeparture: tc.sched, LastSeen: start - 100}))

			res := ev.Evaluate(Packet{EntityID: testEntity, Length: 0, Now: start})
			assert.Equal(t, Allow, res.Verdict)
			assert.GreaterOrEqual(t, stored(t, store, testEntity).ScheduledDeparture, min(tc.sched, start))
		})
	}
}

// TestEvaluate_Monotonic tests that the stored schedule never decreases without a window reset
func TestEvaluate_Monotonic(t *testing.T) {
	ev, store := newTestEvaluator(t)

	var prev uint64
	now := start
	for i := 0; i < 5000; i++ {
		now += uint64(10_000 + (i%7)*40_000)
		length := uint32(64 + (i*37)%9000)
		ev.Evaluate(Packet{EntityID: testEntity, Length: length, Now: now})

		st := stored(t, store, testEntity)
		require.GreaterOrEqual(t, st.ScheduledDeparture, prev, "packet %d", i)
		prev = st.ScheduledDeparture
	}
}

// TestEvaluate_ThroughputBound tests that steady-state windows stay within the cap plus one packet
func TestEvaluate_ThroughputBound(t *testing.T) {
	ev, _ := newTestEvaluator(t)

	type sample struct {
		now    uint64
		passed uint64
	}

	// offered load is twice the cap for three seconds
	interval := mtuDelay / 2
	var samples []sample
	for now := start; now < start+3*NsecPerSec; now += interval {
		res := ev.Evaluate(Packet{EntityID: testEntity, Length: mtu, Now: now})
		s := sample{now: now}
		if res.Verdict == Allow {
			s.passed = uint64(mtu)
		}
		samples = append(samples, s)
	}

	// the first second may use the one second backlog allowance
	var window uint64
	j := 0
	for i := range samples {
		for j < len(samples) && samples[j].now < samples[i].now+NsecPerSec {
			window += samples[j].passed
			j++
		}
		if samples[i].now >= start+NsecPerSec && j < len(samples) {
			assert.LessOrEqual(t, window, DefaultBPS+uint64(mtu), "window starting at %d", samples[i].now)
		}
		window -= samples[i].passed
	}
}

// TestEvaluate_StoreFull tests that entities past capacity get the fault policy verdict
func TestEvaluate_StoreFull(t *testing.T) {
	testCases := []struct {
		name     string
		policy   FaultPolicy
		expected Verdict
	}{
		{name: "fail closed", policy: FailClosed, expected: Deny},
		{name: "fail open", policy: FailOpen, expected: Allow},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewMemoryStore(1)
			ev, err := NewEvaluator(Egress, DefaultBPS, store, WithFaultPolicy(tc.policy))
			require.NoError(t, err)

			res := ev.Evaluate(Packet{EntityID: 1, Length: mtu, Now: start})
			assert.Equal(t, Allow, res.Verdict)
			assert.NoError(t, res.Fault)

			res = ev.Evaluate(Packet{EntityID: 2, Length: mtu, Now: start})
			assert.Equal(t, tc.expected, res.Verdict)
			assert.ErrorIs(t, res.Fault, ErrStoreFull)

			_, ok, _ := store.Get(2)
			assert.False(t, ok)
			assert.Equal(t, 1, store.Len())
			assert.Equal(t, uint64(1), ev.GetStatistics().Faults)
		})
	}
}

// TestEvaluate_StoreFullFloodIsDropped tests that an untracked entity cannot exceed the cap by flooding
func TestEvaluate_StoreFullFloodIsDropped(t *testing.T) {
	store := NewMemoryStore(1)
	ev, err := NewEvaluator(Egress, DefaultBPS, store)
	require.NoError(t, err)

	ev.Evaluate(Packet{EntityID: 1, Length: mtu, Now: start})

	const packets = 20000
	passed := 0
	for i := uint64(0); i < packets; i++ {
		res := ev.Evaluate(Packet{EntityID: 2, Length: 64 * 1024, Now: start + i})
		if res.Verdict == Allow {
			passed++
		}
	}

	assert.Zero(t, passed)
	stats := ev.GetStatistics()
	assert.Equal(t, uint64(packets), stats.Faults)
	assert.Equal(t, uint64(packets), stats.DroppedPackets)
}

// TestEvaluate_ReadFault tests the fault policy when the store cannot be read
func TestEvaluate_ReadFault(t *testing.T) {
	testCases := []struct {
		name     string
		policy   FaultPolicy
		expected Verdict
	}{
		{name: "fail closed", policy: FailClosed, expected: Deny},
		{name: "fail open", policy: FailOpen, expected: Allow},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := new(MockStore)
			readErr := errors.New("lookup failed")
			store.On("Get", testEntity).Return(RateState{}, false, readErr)

			ev, err := NewEvaluator(Egress, DefaultBPS, store, WithFaultPolicy(tc.policy))
			require.NoError(t, err)

			res := ev.Evaluate(Packet{EntityID: testEntity, Length: mtu, Now: start})
			assert.Equal(t, tc.expected, res.Verdict)
			assert.ErrorIs(t, res.Fault, readErr)
			store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
		})
	}
}

// TestEvaluate_WriteFault tests that a failed write keeps the computed verdict
func TestEvaluate_WriteFault(t *testing.T) {
	store := new(MockStore)
	writeErr := errors.New("update failed")
	store.On("Get", testEntity).Return(RateState{ScheduledDeparture: start, LastSeen: start}, true, nil)
	store.On("Put", testEntity, RateState{ScheduledDeparture: start + mtuDelay, LastSeen: start}).Return(writeErr)

	ev, err := NewEvaluator(Egress, DefaultBPS, store)
	require.NoError(t, err)

	res := ev.Evaluate(Packet{EntityID: testEntity, Length: mtu, Now: start})
	assert.Equal(t, Allow, res.Verdict)
	assert.ErrorIs(t, res.Fault, writeErr)
	store.AssertExpectations(t)
}

// TestEvaluate_EmitsTelemetry tests that each decision is published on the CPU channel
func TestEvaluate_EmitsTelemetry(t *testing.T) {
	emitter := telemetry.NewChannelEmitter(2, 4)
	ev, _ := newTestEvaluator(t, WithEmitter(emitter))

	ev.Evaluate(Packet{EntityID: testEntity, Length: mtu, Now: start, CPU: 1})
	ev.Evaluate(Packet{EntityID: testEntity, Length: uint32(DefaultBPS) + 1, Now: start + 1, CPU: 1})

	ctx := context.Background()
	reader := emitter.Reader(1)

	rec, err := reader.Read(ctx)
	require.NoError(t, err)
	event, err := telemetry.Decode(rec.Raw())
	require.NoError(t, err)
	assert.Equal(t, telemetry.DecisionEvent{Offset: mtuDelay, Action: telemetry.ActionPass, Length: uint32(mtu)}, event)

	rec, err = reader.Read(ctx)
	require.NoError(t, err)
	event, err = telemetry.Decode(rec.Raw())
	require.NoError(t, err)
	assert.Equal(t, telemetry.ActionDrop, event.Action)
	assert.Equal(t, uint32(DefaultBPS)+1, event.Length)
}

// TestEvaluate_FullTelemetryChannel tests that a full channel never affects enforcement
func TestEvaluate_FullTelemetryChannel(t *testing.T) {
	emitter := telemetry.NewChannelEmitter(1, 1)
	ev, _ := newTestEvaluator(t, WithEmitter(emitter))

	for i := 0; i < 10; i++ {
		res := ev.Evaluate(Packet{EntityID: testEntity, Length: mtu, Now: start + uint64(i)})
		assert.Equal(t, Allow, res.Verdict)
	}
	assert.Equal(t, uint64(9), emitter.Lost())
}

// TestEvaluate_Concurrent tests concurrent evaluation from several goroutines
func TestEvaluate_Concurrent(t *testing.T) {
	emitter := telemetry.NewChannelEmitter(4, 16)
	ev, store := newTestEvaluator(t, WithEmitter(emitter))

	const workers = 8
	const perWorker = 2000

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ev.Evaluate(Packet{
					EntityID: uint64(w % 3),
					Length:   mtu,
					Now:      start + uint64(i)*1000,
					CPU:      w % 4,
				})
			}
		}(w)
	}
	wg.Wait()

	stats := ev.GetStatistics()
	assert.Equal(t, uint64(workers*perWorker), stats.TotalPackets)
	assert.Equal(t, stats.TotalPackets, stats.PassedPackets+stats.DroppedPackets)
	assert.Equal(t, 3, store.Len())
}

// TestParseDirection tests direction parsing
func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("EGRESS")
	require.NoError(t, err)
	assert.Equal(t, Egress, d)

	d, err = ParseDirection("ingress")
	require.NoError(t, err)
	assert.Equal(t, Ingress, d)
	assert.Equal(t, "ingress", d.String())

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}
