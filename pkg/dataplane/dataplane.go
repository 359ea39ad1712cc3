// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package dataplane

import (
	"errors"
	"fmt"
	"os"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/perf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/ebpf-bandwidth/agent/pkg/collector"
	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Object names in bpf/bandwidth.bpf.c
const (
	statsMapName = "decision_stats"

	// counters per direction in decision_stats, see enum stat_index
	statPassed       = 0
	statDropped      = 1
	statPassedBytes  = 2
	statDroppedBytes = 3
	statFaults       = 4
	statsPerDir      = 5
)

type hookObjects struct {
	program   string
	infoMap   string
	eventsMap string
	constant  string
	attach    ebpf.AttachType
}

var hooks = map[ratelimit.Direction]hookObjects{
	ratelimit.Egress: {
		program:   "egress_bandwidth",
		infoMap:   "egress_info",
		eventsMap: "egress_events",
		constant:  "egress_bps",
		attach:    ebpf.AttachCGroupInetEgress,
	},
	ratelimit.Ingress: {
		program:   "ingress_bandwidth",
		infoMap:   "ingress_info",
		eventsMap: "ingress_events",
		constant:  "ingress_bps",
		attach:    ebpf.AttachCGroupInetIngress,
	},
}

// Options configures the kernel data plane.
type Options struct {
	// CgroupPath is the cgroup v2 directory the hooks are attached to.
	CgroupPath string
	// ObjectPath is the compiled bpf/bandwidth.bpf.o.
	ObjectPath string
	// Directions lists the hooks to attach. Maps of the other direction are
	// still loaded.
	Directions []ratelimit.Direction
	EgressBPS  uint64
	IngressBPS uint64
	// PerfBufferPages is the per-CPU perf buffer size in pages.
	PerfBufferPages int
	// ChannelDepth is the depth of each per-CPU telemetry channel.
	ChannelDepth int
}

// DataPlane manages the eBPF data plane
type DataPlane struct {
	coll       *ebpf.Collection
	cgroupPath string
	directions []ratelimit.Direction
	bps        map[ratelimit.Direction]uint64
	links      map[ratelimit.Direction]link.Link
	stores     map[ratelimit.Direction]*ratelimit.MapStore
	demuxes    map[ratelimit.Direction]*perfDemux
	statsMap   *ebpf.Map
}

// New loads the BPF object, attaches the requested hooks to the cgroup and
// opens the telemetry readers.
func New(opts Options) (*DataPlane, error) {
	if len(opts.Directions) == 0 {
		return nil, fmt.Errorf("no direction to attach")
	}
	if err := checkCgroup2(opts.CgroupPath); err != nil {
		return nil, err
	}
	if opts.PerfBufferPages <= 0 {
		opts.PerfBufferPages = 64
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("removing memlock limit: %w", err)
	}

	spec, err := ebpf.LoadCollectionSpec(opts.ObjectPath)
	if err != nil {
		return nil, fmt.Errorf("loading object %s: %w", opts.ObjectPath, err)
	}

	bps := map[ratelimit.Direction]uint64{
		ratelimit.Egress:  opts.EgressBPS,
		ratelimit.Ingress: opts.IngressBPS,
	}
	consts := make(map[string]interface{})
	for dir, h := range hooks {
		if bps[dir] == 0 {
			return nil, fmt.Errorf("%s: %w", dir, ratelimit.ErrInvalidRate)
		}
		consts[h.constant] = bps[dir]
	}
	if err := spec.RewriteConstants(consts); err != nil {
		return nil, fmt.Errorf("setting rate caps: %w", err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("loading eBPF objects: %w", err)
	}

	log.Debugf("eBPF objects loaded successfully")

	dp := &DataPlane{
		coll:       coll,
		cgroupPath: opts.CgroupPath,
		directions: opts.Directions,
		bps:        bps,
		links:      make(map[ratelimit.Direction]link.Link),
		stores:     make(map[ratelimit.Direction]*ratelimit.MapStore),
		demuxes:    make(map[ratelimit.Direction]*perfDemux),
		statsMap:   coll.Maps[statsMapName],
	}
	if dp.statsMap == nil {
		dp.Close()
		return nil, fmt.Errorf("map %s not found in %s", statsMapName, opts.ObjectPath)
	}

	for dir, h := range hooks {
		store, err := ratelimit.NewMapStore(coll.Maps[h.infoMap])
		if err != nil {
			dp.Close()
			return nil, fmt.Errorf("%s state map: %w", dir, err)
		}
		dp.stores[dir] = store
	}

	for _, dir := range opts.Directions {
		if err := dp.attach(dir, opts); err != nil {
			dp.Close()
			return nil, err
		}
	}

	return dp, nil
}

func (dp *DataPlane) attach(dir ratelimit.Direction, opts Options) error {
	h, ok := hooks[dir]
	if !ok {
		return fmt.Errorf("unsupported direction %s", dir)
	}
	if _, dup := dp.links[dir]; dup {
		return nil
	}

	prog := dp.coll.Programs[h.program]
	if prog == nil {
		return fmt.Errorf("program %s not found", h.program)
	}

	l, err := link.AttachCgroup(link.CgroupOptions{
		Path:    opts.CgroupPath,
		Attach:  h.attach,
		Program: prog,
	})
	if err != nil {
		return fmt.Errorf("attaching %s to %s: %w", h.program, opts.CgroupPath, err)
	}
	dp.links[dir] = l

	log.Infof("✓ %s program attached to %s", dir, opts.CgroupPath)

	rd, err := perf.NewReader(dp.coll.Maps[h.eventsMap], opts.PerfBufferPages*os.Getpagesize())
	if err != nil {
		return fmt.Errorf("creating %s perf reader: %w", dir, err)
	}

	cpus, err := ebpf.PossibleCPU()
	if err != nil {
		rd.Close()
		return fmt.Errorf("counting CPUs: %w", err)
	}

	d := newPerfDemux(rd, cpus, opts.ChannelDepth)
	dp.demuxes[dir] = d
	go d.run(dir)

	return nil
}

// checkCgroup2 verifies that path is a directory on a cgroup v2 mount
func checkCgroup2(path string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return fmt.Errorf("cgroup %s: %w", path, err)
	}
	if st.Type != unix.CGROUP2_SUPER_MAGIC {
		return fmt.Errorf("cgroup %s: not a cgroup v2 mount", path)
	}
	return nil
}

// Close detaches the hooks and releases all resources
func (dp *DataPlane) Close() error {
	var errs []error

	for dir, l := range dp.links {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("detaching %s program: %w", dir, err))
		}
	}

	for dir, d := range dp.demuxes {
		if err := d.close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s perf reader: %w", dir, err))
		}
	}

	if dp.coll != nil {
		dp.coll.Close()
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	log.Info("Data plane closed successfully")
	return nil
}

// Directions returns the attached directions
func (dp *DataPlane) Directions() []ratelimit.Direction {
	return dp.directions
}

// BPS returns the rate cap loaded for dir
func (dp *DataPlane) BPS(dir ratelimit.Direction) uint64 {
	return dp.bps[dir]
}

// CgroupPath returns the cgroup the hooks are attached to
func (dp *DataPlane) CgroupPath() string {
	return dp.cgroupPath
}

// GetStatistics sums the per-CPU decision counters of dir
func (dp *DataPlane) GetStatistics(dir ratelimit.Direction) ratelimit.Statistics {
	readStat := func(idx uint32) uint64 {
		key := uint32(dir)*statsPerDir + idx
		var values []uint64
		if err := dp.statsMap.Lookup(&key, &values); err != nil {
			log.Debugf("Failed to lookup stat key %d: %v", key, err)
			return 0
		}

		var total uint64
		for _, v := range values {
			total += v
		}
		return total
	}

	stats := ratelimit.Statistics{
		PassedPackets:  readStat(statPassed),
		DroppedPackets: readStat(statDropped),
		PassedBytes:    readStat(statPassedBytes),
		DroppedBytes:   readStat(statDroppedBytes),
		Faults:         readStat(statFaults),
	}
	stats.TotalPackets = stats.PassedPackets + stats.DroppedPackets
	return stats
}

// StateStore returns the kernel rate state map of dir
func (dp *DataPlane) StateStore(dir ratelimit.Direction) (ratelimit.Snapshotter, bool) {
	s, ok := dp.stores[dir]
	return s, ok
}

// Lost returns the samples of dir dropped because a per-CPU channel was
// full. Samples lost in the kernel perf buffer reach the collector as
// LostSamples records instead.
func (dp *DataPlane) Lost(dir ratelimit.Direction) uint64 {
	if d, ok := dp.demuxes[dir]; ok {
		return d.dropped.Load()
	}
	return 0
}

// TelemetrySources returns one collector source per CPU and attached direction
func (dp *DataPlane) TelemetrySources() []collector.Source {
	var sources []collector.Source
	for _, dir := range dp.directions {
		d, ok := dp.demuxes[dir]
		if !ok {
			continue
		}
		for cpu, r := range d.readers() {
			sources = append(sources, collector.Source{Direction: dir, CPU: cpu, Reader: r})
		}
	}
	return sources
}
