// Package telemetry carries enforcement decisions from the hook to user space.
//
// Each decision is packed into a fixed 16-byte record:
//
//	offset  u64  candidate departure - now, in nanoseconds
//	action  s32  1 = PASS, 0 = DROP
//	length  u32  packet length in bytes
//
// The layout is shared with the kernel program and is not self-describing,
// so producer and consumer must agree on it exactly. Records are published
// on per-CPU channels; when a channel is full the record is dropped and the
// enforcement path is never affected.
package telemetry
