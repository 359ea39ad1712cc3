// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ebpf-bandwidth/agent/pkg/collector"
	"github.com/ebpf-bandwidth/agent/pkg/dataplane"
	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
)

// options describes one synthetic run on a virtual clock
type options struct {
	BPS        uint64
	Entities   int
	PacketSize uint32
	// Load is the offered rate as a multiple of BPS
	Load     float64
	Duration time.Duration
	CPUs     int
	Capacity int
	FailOpen bool
	Sinks    []collector.Sink
}

// report summarizes a run
type report struct {
	Stats     ratelimit.Statistics
	Collected collector.Stats
	Lost      uint64
	// PassedPerSecond holds the passed bytes of every entity per virtual second
	PassedPerSecond [][]uint64
}

// virtual clock origin, far enough from zero for the one second backlog
const epoch = 10 * ratelimit.NsecPerSec

func (o options) validate() error {
	switch {
	case o.BPS == 0:
		return ratelimit.ErrInvalidRate
	case o.Entities <= 0:
		return fmt.Errorf("entities must be positive")
	case o.PacketSize == 0:
		return fmt.Errorf("packet size must be positive")
	case o.Load <= 0:
		return fmt.Errorf("load must be positive")
	case o.Duration < time.Second:
		return fmt.Errorf("duration must be at least one second")
	}
	return nil
}

// simulate offers Load*BPS bytes per second to every entity for Duration of
// virtual time and collects the decisions.
func simulate(ctx context.Context, o options) (*report, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}

	policy := ratelimit.FailClosed
	if o.FailOpen {
		policy = ratelimit.FailOpen
	}

	u, err := dataplane.NewUserspace(dataplane.UserspaceOptions{
		Directions:  []ratelimit.Direction{ratelimit.Egress},
		EgressBPS:   o.BPS,
		IngressBPS:  o.BPS,
		Capacity:    o.Capacity,
		CPUs:        o.CPUs,
		FaultPolicy: policy,
	})
	if err != nil {
		return nil, err
	}

	c, err := collector.New(u.TelemetrySources(), o.Sinks...)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Run(gctx)
	})

	hook, _ := u.Hook(ratelimit.Egress)
	cpus := len(u.TelemetrySources())

	seconds := int(o.Duration / time.Second)
	passed := make([][]uint64, o.Entities)
	for i := range passed {
		passed[i] = make([]uint64, seconds)
	}

	interval := uint64(float64(o.PacketSize) * float64(ratelimit.NsecPerSec) / (float64(o.BPS) * o.Load))
	if interval == 0 {
		interval = 1
	}
	end := epoch + uint64(o.Duration)

	for t := epoch; t < end; t += interval {
		if ctx.Err() != nil {
			break
		}
		for e := 0; e < o.Entities; e++ {
			now := t + uint64(e)
			res := hook.Evaluate(ratelimit.Packet{
				EntityID: uint64(e + 1),
				Length:   o.PacketSize,
				Now:      now,
				CPU:      e % cpus,
			})
			if res.Verdict == ratelimit.Allow {
				if sec := int((now - epoch) / ratelimit.NsecPerSec); sec < seconds {
					passed[e][sec] += uint64(o.PacketSize)
				}
			}
		}
	}

	// closing the channels lets the collector drain and return
	u.Close()
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &report{
		Stats:           u.GetStatistics(ratelimit.Egress),
		Collected:       c.Stats(),
		Lost:            u.Lost(ratelimit.Egress),
		PassedPerSecond: passed,
	}, nil
}
