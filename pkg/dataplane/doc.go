// Package dataplane provides the enforcement side of the bandwidth limiter.
//
// Two implementations share DataPlaneInterface:
//   - DataPlane loads bpf/bandwidth.bpf.o, attaches the cgroup-skb programs
//     to a cgroup v2 directory and reads decisions from perf event arrays
//   - Userspace runs the same algorithm in process (package ratelimit) with
//     in-memory state, for simulation and tests
//
// # Architecture
//
// The kernel data plane consists of:
//   - egress_bandwidth / ingress_bandwidth: cgroup_skb programs
//   - egress_info / ingress_info: HASH maps of per-cgroup rate state (100 entries)
//   - egress_events / ingress_events: PERF_EVENT_ARRAY decision telemetry
//   - decision_stats: PERCPU_ARRAY of pass/drop/fault counters
//
// The rate caps are read-only constants rewritten at load time.
//
// Perf samples of one direction arrive through a single reader and are
// split into per-CPU channels, so the collector runs one task per
// (direction, CPU).
//
// # Example Usage
//
//	dp, err := dataplane.New(dataplane.Options{
//	    CgroupPath: "/sys/fs/cgroup/test",
//	    ObjectPath: "bpf/bandwidth.bpf.o",
//	    Directions: []ratelimit.Direction{ratelimit.Egress},
//	    EgressBPS:  ratelimit.DefaultBPS,
//	    IngressBPS: ratelimit.DefaultBPS,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dp.Close()
//
//	c, _ := collector.New(dp.TelemetrySources(), collector.NewLogSink(nil))
//	go c.Run(ctx)
//
// # Thread Safety
//
// Both data planes are safe for concurrent use. Statistics and state
// queries can be called from multiple goroutines.
package dataplane
