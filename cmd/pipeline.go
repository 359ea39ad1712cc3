// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package main

import (
	"context"
	"errors"

	"github.com/ebpf-bandwidth/agent/pkg/collector"
	"github.com/ebpf-bandwidth/agent/pkg/config"
	"github.com/ebpf-bandwidth/agent/pkg/dataplane"
	"github.com/ebpf-bandwidth/agent/pkg/journal"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// pipeline is the consumer side of the agent: the collector, its sinks and
// the optional journal.
type pipeline struct {
	dataPlane dataplane.DataPlaneInterface
	collector *collector.Collector
	journal   *journal.Sink
	storage   *journal.SQLiteStorage
}

// newPipeline builds every consumer without starting any of them, so an
// error leaves nothing running.
func newPipeline(cfg *config.Config, dp dataplane.DataPlaneInterface, reg prometheus.Registerer) (*pipeline, error) {
	p := &pipeline{dataPlane: dp}

	sinks := []collector.Sink{
		collector.NewLogSink(nil),
		collector.NewMetricsSink(reg),
	}

	if cfg.Journal.Path != "" {
		storage, err := journal.NewSQLiteStorage(cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		p.storage = storage
		p.journal = journal.NewSink(storage, cfg.Journal.QueueDepth)
		sinks = append(sinks, p.journal)
	}

	c, err := collector.New(dp.TelemetrySources(), sinks...)
	if err != nil {
		return nil, errors.Join(err, p.Close())
	}
	p.collector = c

	collector.RegisterDropped(reg, dp.Directions(), dp.Lost)
	return p, nil
}

// start runs the journal and the collector in g until ctx is done
func (p *pipeline) start(ctx context.Context, g *errgroup.Group) {
	if p.journal != nil {
		g.Go(func() error {
			return p.journal.Run(ctx)
		})
	}
	g.Go(func() error {
		return p.collector.Run(ctx)
	})
}

// logStatistics prints the data plane, collector and journal counters
func (p *pipeline) logStatistics() {
	log.Info("=== Statistics ===")
	for _, dir := range p.dataPlane.Directions() {
		stats := p.dataPlane.GetStatistics(dir)
		log.Infof("  %s: total=%d passed=%d dropped=%d faults=%d telemetry_dropped=%d",
			dir, stats.TotalPackets, stats.PassedPackets, stats.DroppedPackets, stats.Faults, p.dataPlane.Lost(dir))
	}
	cs := p.collector.Stats()
	log.Infof("  collector: decoded=%d malformed=%d lost=%d", cs.Decoded, cs.Malformed, cs.Lost)
	if p.journal != nil {
		log.Infof("  journal: dropped=%d", p.journal.Dropped())
	}
}

// Close releases the journal database. Tasks started by start must have
// returned.
func (p *pipeline) Close() error {
	if p.storage == nil {
		return nil
	}
	err := p.storage.Close()
	p.storage = nil
	return err
}
