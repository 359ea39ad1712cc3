// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
	"github.com/ebpf-bandwidth/agent/pkg/telemetry"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Source is one per-CPU telemetry channel of one direction.
type Source struct {
	Direction ratelimit.Direction
	CPU       int
	Reader    telemetry.Reader
}

// Decision is a decoded telemetry record.
type Decision struct {
	Direction  ratelimit.Direction
	CPU        int
	Event      telemetry.DecisionEvent
	ReceivedAt time.Time
}

// Sink consumes decoded decisions. Handlers are called concurrently from
// reader tasks and must not block for long.
type Sink interface {
	HandleDecision(d Decision)
	HandleLost(direction ratelimit.Direction, cpu int, count uint64)
}

// Stats holds collector counters.
type Stats struct {
	Decoded   uint64
	Malformed uint64
	Lost      uint64
}

// Collector runs one reader task per source and forwards decoded records to
// all sinks.
type Collector struct {
	sources []Source
	sinks   []Sink

	decoded   atomic.Uint64
	malformed atomic.Uint64
	lost      atomic.Uint64
}

// New creates a collector over sources.
func New(sources []Source, sinks ...Sink) (*Collector, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no telemetry sources")
	}
	for _, s := range sources {
		if s.Reader == nil {
			return nil, fmt.Errorf("%s cpu %d: nil reader", s.Direction, s.CPU)
		}
	}

	return &Collector{
		sources: sources,
		sinks:   sinks,
	}, nil
}

// Run reads all sources until ctx is cancelled or every source is closed.
func (c *Collector) Run(ctx context.Context) error {
	log.Infof("Starting decision collector with %d readers", len(c.sources))

	g, ctx := errgroup.WithContext(ctx)
	for _, src := range c.sources {
		src := src
		g.Go(func() error {
			return c.readLoop(ctx, src)
		})
	}

	err := g.Wait()
	log.Info("Decision collector stopped")
	return err
}

func (c *Collector) readLoop(ctx context.Context, src Source) error {
	for {
		rec, err := src.Reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, telemetry.ErrClosed) {
				return nil
			}
			log.Errorf("Reading %s telemetry on cpu %d: %v", src.Direction, src.CPU, err)
			continue
		}

		if rec.LostSamples > 0 {
			c.lost.Add(rec.LostSamples)
			log.Warnf("Lost %d %s samples on cpu %d", rec.LostSamples, src.Direction, src.CPU)
			for _, s := range c.sinks {
				s.HandleLost(src.Direction, src.CPU, rec.LostSamples)
			}
			continue
		}

		event, err := telemetry.Decode(rec.Raw())
		if err != nil {
			c.malformed.Add(1)
			log.WithFields(log.Fields{
				"direction": src.Direction.String(),
				"cpu":       src.CPU,
				"size":      rec.Len,
			}).Warnf("Skipping record: %v", err)
			continue
		}

		c.decoded.Add(1)
		d := Decision{
			Direction:  src.Direction,
			CPU:        src.CPU,
			Event:      event,
			ReceivedAt: time.Now(),
		}
		for _, s := range c.sinks {
			s.HandleDecision(d)
		}
	}
}

// Stats returns a snapshot of the collector counters.
func (c *Collector) Stats() Stats {
	return Stats{
		Decoded:   c.decoded.Load(),
		Malformed: c.malformed.Load(),
		Lost:      c.lost.Load(),
	}
}
