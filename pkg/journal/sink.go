// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package journal

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ebpf-bandwidth/agent/pkg/collector"
	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
	log "github.com/sirupsen/logrus"
)

const (
	defaultQueueDepth    = 4096
	defaultBatchSize     = 256
	defaultFlushInterval = time.Second
)

// Sink is a collector.Sink that journals decisions in batches.
// Decisions arriving while the queue is full are dropped.
type Sink struct {
	storage       Storage
	queue         chan Entry
	batchSize     int
	flushInterval time.Duration
	dropped       atomic.Uint64
}

// NewSink creates a journal sink writing to storage.
// A non-positive depth uses the default queue depth.
func NewSink(storage Storage, depth int) *Sink {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	return &Sink{
		storage:       storage,
		queue:         make(chan Entry, depth),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
	}
}

// HandleDecision queues d for journaling without blocking.
func (s *Sink) HandleDecision(d collector.Decision) {
	e := Entry{
		Direction:  d.Direction.String(),
		CPU:        d.CPU,
		Offset:     int64(d.Event.Offset),
		Action:     d.Event.ActionString(),
		Length:     d.Event.Length,
		RecordedAt: d.ReceivedAt,
	}

	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
	}
}

// HandleLost is a no-op.
func (s *Sink) HandleLost(ratelimit.Direction, int, uint64) {}

// Dropped returns the number of decisions dropped on a full queue.
func (s *Sink) Dropped() uint64 {
	return s.dropped.Load()
}

// Run writes queued decisions until ctx is cancelled, then flushes what is left.
func (s *Sink) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, s.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.storage.SaveEntries(batch); err != nil {
			log.Errorf("Failed to journal %d decisions: %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e := <-s.queue:
					batch = append(batch, e)
					if len(batch) >= s.batchSize {
						flush()
					}
				default:
					flush()
					return nil
				}
			}
		case e := <-s.queue:
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

var _ collector.Sink = (*Sink)(nil)
