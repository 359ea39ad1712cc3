// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package dataplane

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/ebpf-bandwidth/agent/pkg/collector"
	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
	"github.com/ebpf-bandwidth/agent/pkg/telemetry"
)

// UserspaceOptions configures a user-space data plane.
type UserspaceOptions struct {
	Directions   []ratelimit.Direction
	EgressBPS    uint64
	IngressBPS   uint64
	Capacity     int
	CPUs         int
	ChannelDepth int
	FaultPolicy  ratelimit.FaultPolicy
}

type userspaceHook struct {
	evaluator *ratelimit.Evaluator
	store     *ratelimit.MemoryStore
	emitter   *telemetry.ChannelEmitter
}

// Userspace runs the evaluators in process with in-memory stores. It has no
// kernel dependency and backs the simulator and tests.
type Userspace struct {
	directions []ratelimit.Direction
	hooks      map[ratelimit.Direction]*userspaceHook
	closeOnce  sync.Once
}

// NewUserspace creates one evaluator per requested direction.
func NewUserspace(opts UserspaceOptions) (*Userspace, error) {
	if len(opts.Directions) == 0 {
		return nil, fmt.Errorf("no direction to evaluate")
	}
	if opts.CPUs <= 0 {
		opts.CPUs = runtime.NumCPU()
	}
	if opts.ChannelDepth <= 0 {
		opts.ChannelDepth = defaultChannelDepth
	}

	u := &Userspace{hooks: make(map[ratelimit.Direction]*userspaceHook)}
	for _, dir := range opts.Directions {
		if _, dup := u.hooks[dir]; dup {
			continue
		}

		bps := opts.EgressBPS
		if dir == ratelimit.Ingress {
			bps = opts.IngressBPS
		}

		store := ratelimit.NewMemoryStore(opts.Capacity)
		emitter := telemetry.NewChannelEmitter(opts.CPUs, opts.ChannelDepth)
		ev, err := ratelimit.NewEvaluator(dir, bps, store,
			ratelimit.WithEmitter(emitter),
			ratelimit.WithFaultPolicy(opts.FaultPolicy),
		)
		if err != nil {
			return nil, fmt.Errorf("%s evaluator: %w", dir, err)
		}

		u.hooks[dir] = &userspaceHook{evaluator: ev, store: store, emitter: emitter}
		u.directions = append(u.directions, dir)
	}

	return u, nil
}

// Hook returns the evaluator of dir.
func (u *Userspace) Hook(dir ratelimit.Direction) (*ratelimit.Evaluator, bool) {
	h, ok := u.hooks[dir]
	if !ok {
		return nil, false
	}
	return h.evaluator, true
}

// Directions returns the evaluated directions.
func (u *Userspace) Directions() []ratelimit.Direction {
	return u.directions
}

// BPS returns the rate cap of dir.
func (u *Userspace) BPS(dir ratelimit.Direction) uint64 {
	if h, ok := u.hooks[dir]; ok {
		return h.evaluator.BPS()
	}
	return 0
}

// GetStatistics returns the evaluator counters of dir.
func (u *Userspace) GetStatistics(dir ratelimit.Direction) ratelimit.Statistics {
	if h, ok := u.hooks[dir]; ok {
		return h.evaluator.GetStatistics()
	}
	return ratelimit.Statistics{}
}

// StateStore returns the in-memory store of dir.
func (u *Userspace) StateStore(dir ratelimit.Direction) (ratelimit.Snapshotter, bool) {
	h, ok := u.hooks[dir]
	if !ok {
		return nil, false
	}
	return h.store, true
}

// TelemetrySources returns one collector source per CPU and direction.
func (u *Userspace) TelemetrySources() []collector.Source {
	var sources []collector.Source
	for _, dir := range u.directions {
		for cpu, r := range u.hooks[dir].emitter.Readers() {
			sources = append(sources, collector.Source{Direction: dir, CPU: cpu, Reader: r})
		}
	}
	return sources
}

// Lost returns the number of telemetry events dropped on full channels.
func (u *Userspace) Lost(dir ratelimit.Direction) uint64 {
	if h, ok := u.hooks[dir]; ok {
		return h.emitter.Lost()
	}
	return 0
}

// Close closes the telemetry channels. Hooks must not be evaluated afterwards.
func (u *Userspace) Close() error {
	u.closeOnce.Do(func() {
		for _, h := range u.hooks {
			h.emitter.Close()
		}
	})
	return nil
}
