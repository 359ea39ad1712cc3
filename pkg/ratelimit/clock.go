// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package ratelimit

import "golang.org/x/sys/unix"

// Clock returns the current time in nanoseconds.
type Clock func() uint64

// MonotonicNow reads CLOCK_MONOTONIC, the same clock bpf_ktime_get_ns uses,
// so user-space timestamps are comparable with kernel ones.
func MonotonicNow() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Nano())
}
