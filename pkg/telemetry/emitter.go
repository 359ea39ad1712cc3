// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by a Reader once its channel has been closed.
var ErrClosed = errors.New("telemetry channel closed")

// Emitter publishes decision events. Emit must never block and never fail
// in a way visible to the caller.
type Emitter interface {
	Emit(cpu int, ev DecisionEvent)
}

// Discard is an Emitter that drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(int, DecisionEvent) {}

// Record is one raw telemetry sample read from a per-CPU channel.
type Record struct {
	CPU int
	// Data holds the first RecordSize bytes of the sample.
	Data [RecordSize]byte
	// Len is the size of the original sample, which may differ from RecordSize.
	Len int
	// LostSamples is non-zero when the producer reported dropped samples
	// instead of carrying data.
	LostSamples uint64
}

// Raw returns the record payload.
func (r *Record) Raw() []byte {
	if r.Len < RecordSize {
		return r.Data[:r.Len]
	}
	return r.Data[:]
}

// NewRecord copies raw into a Record.
func NewRecord(cpu int, raw []byte) Record {
	r := Record{CPU: cpu, Len: len(raw)}
	copy(r.Data[:], raw)
	return r
}

// Reader reads records from a single per-CPU channel.
type Reader interface {
	Read(ctx context.Context) (Record, error)
}

// ChannelEmitter fans events into one bounded channel per CPU.
// A full channel drops the event.
type ChannelEmitter struct {
	channels []chan Record
	lost     atomic.Uint64
	once     sync.Once
}

// NewChannelEmitter creates an emitter with cpus channels of depth entries each.
func NewChannelEmitter(cpus, depth int) *ChannelEmitter {
	if cpus < 1 {
		cpus = 1
	}
	if depth < 1 {
		depth = 1
	}

	e := &ChannelEmitter{channels: make([]chan Record, cpus)}
	for i := range e.channels {
		e.channels[i] = make(chan Record, depth)
	}
	return e
}

// Emit publishes ev on the channel of cpu without blocking.
func (e *ChannelEmitter) Emit(cpu int, ev DecisionEvent) {
	if cpu < 0 || cpu >= len(e.channels) {
		e.lost.Add(1)
		return
	}

	select {
	case e.channels[cpu] <- Record{CPU: cpu, Data: ev.Encode(), Len: RecordSize}:
	default:
		e.lost.Add(1)
	}
}

// Lost returns the number of events dropped because a channel was full.
func (e *ChannelEmitter) Lost() uint64 {
	return e.lost.Load()
}

// CPUs returns the number of per-CPU channels.
func (e *ChannelEmitter) CPUs() int {
	return len(e.channels)
}

// Reader returns a reader over the channel of cpu.
func (e *ChannelEmitter) Reader(cpu int) Reader {
	return NewChannelReader(e.channels[cpu])
}

// Readers returns one reader per CPU.
func (e *ChannelEmitter) Readers() []Reader {
	readers := make([]Reader, len(e.channels))
	for i := range e.channels {
		readers[i] = e.Reader(i)
	}
	return readers
}

// Close closes all channels. Emit must not be called afterwards.
func (e *ChannelEmitter) Close() {
	e.once.Do(func() {
		for _, ch := range e.channels {
			close(ch)
		}
	})
}

type channelReader struct {
	ch <-chan Record
}

// NewChannelReader returns a Reader that receives from ch.
func NewChannelReader(ch <-chan Record) Reader {
	return &channelReader{ch: ch}
}

func (r *channelReader) Read(ctx context.Context) (Record, error) {
	select {
	case <-ctx.Done():
		return Record{}, ctx.Err()
	case rec, ok := <-r.ch:
		if !ok {
			return Record{}, ErrClosed
		}
		return rec, nil
	}
}
