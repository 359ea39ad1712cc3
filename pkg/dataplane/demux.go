// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package dataplane

import (
	"errors"
	"sync/atomic"

	"github.com/cilium/ebpf/perf"
	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
	"github.com/ebpf-bandwidth/agent/pkg/telemetry"
	log "github.com/sirupsen/logrus"
)

const defaultChannelDepth = 1024

// recordReader is the part of *perf.Reader the demux needs
type recordReader interface {
	Read() (perf.Record, error)
	Close() error
}

// perfDemux splits the samples of one perf event array into per-CPU
// channels so the collector can run one reader task per CPU.
type perfDemux struct {
	rd       recordReader
	channels []chan telemetry.Record
	dropped  atomic.Uint64
	done     chan struct{}
}

func newPerfDemux(rd recordReader, cpus, depth int) *perfDemux {
	if cpus < 1 {
		cpus = 1
	}
	if depth <= 0 {
		depth = defaultChannelDepth
	}

	d := &perfDemux{
		rd:       rd,
		channels: make([]chan telemetry.Record, cpus),
		done:     make(chan struct{}),
	}
	for i := range d.channels {
		d.channels[i] = make(chan telemetry.Record, depth)
	}
	return d
}

// run pumps samples until the reader is closed
func (d *perfDemux) run(dir ratelimit.Direction) {
	defer close(d.done)
	defer func() {
		for _, ch := range d.channels {
			close(ch)
		}
	}()

	for {
		rec, err := d.rd.Read()
		if err != nil {
			if errors.Is(err, perf.ErrClosed) {
				log.Infof("%s perf reader closed", dir)
				return
			}
			log.Errorf("Reading %s perf buffer: %v", dir, err)
			continue
		}

		if rec.CPU < 0 || rec.CPU >= len(d.channels) {
			log.Warnf("Sample from unexpected cpu %d", rec.CPU)
			continue
		}

		var out telemetry.Record
		if rec.LostSamples > 0 {
			out = telemetry.Record{CPU: rec.CPU, LostSamples: rec.LostSamples}
		} else {
			out = telemetry.NewRecord(rec.CPU, rec.RawSample)
		}

		select {
		case d.channels[rec.CPU] <- out:
		default:
			d.dropped.Add(1)
		}
	}
}

func (d *perfDemux) readers() []telemetry.Reader {
	readers := make([]telemetry.Reader, len(d.channels))
	for i, ch := range d.channels {
		readers[i] = telemetry.NewChannelReader(ch)
	}
	return readers
}

// close stops the pump and waits for it to finish
func (d *perfDemux) close() error {
	err := d.rd.Close()
	<-d.done
	return err
}
