// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package dataplane

import (
	"github.com/ebpf-bandwidth/agent/pkg/collector"
	"github.com/ebpf-bandwidth/agent/pkg/ratelimit"
)

// DataPlaneInterface defines the operations for data plane management.
// This interface is useful for testing and dependency injection.
type DataPlaneInterface interface {
	Directions() []ratelimit.Direction
	BPS(dir ratelimit.Direction) uint64
	GetStatistics(dir ratelimit.Direction) ratelimit.Statistics
	StateStore(dir ratelimit.Direction) (ratelimit.Snapshotter, bool)
	TelemetrySources() []collector.Source
	// Lost returns the decision events of dir dropped on full channels
	Lost(dir ratelimit.Direction) uint64
	Close() error
}

// Ensure both data planes implement DataPlaneInterface
var (
	_ DataPlaneInterface = (*DataPlane)(nil)
	_ DataPlaneInterface = (*Userspace)(nil)
)
