// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// RecordSize is the wire size of a DecisionEvent:
// offset (u64), action (s32), length (u32).
const RecordSize = 16

// Action values carried in a DecisionEvent. They equal the hook verdict.
const (
	ActionDrop int32 = 0
	ActionPass int32 = 1
)

// ErrMalformedRecord is returned when a record does not have the expected layout.
var ErrMalformedRecord = errors.New("malformed decision record")

// DecisionEvent describes a single enforcement decision.
// This must match the kernel-side struct decision_event exactly.
type DecisionEvent struct {
	// Offset is candidate departure minus now in nanoseconds, two's complement
	// when the candidate lies in the past.
	Offset uint64
	Action int32
	Length uint32
}

// Passed reports whether the packet was allowed.
func (e DecisionEvent) Passed() bool {
	return e.Action == ActionPass
}

// ActionString returns "PASS" or "DROP".
func (e DecisionEvent) ActionString() string {
	if e.Passed() {
		return "PASS"
	}
	return "DROP"
}

// OffsetSeconds returns the offset in seconds, interpreting it as signed.
func (e DecisionEvent) OffsetSeconds() float64 {
	return float64(int64(e.Offset)) / 1e9
}

// Encode writes the event into a fixed-size record in native byte order.
func (e DecisionEvent) Encode() [RecordSize]byte {
	var b [RecordSize]byte
	binary.NativeEndian.PutUint64(b[0:8], e.Offset)
	binary.NativeEndian.PutUint32(b[8:12], uint32(e.Action))
	binary.NativeEndian.PutUint32(b[12:16], e.Length)
	return b
}

// Decode parses a raw record.
func Decode(raw []byte) (DecisionEvent, error) {
	if len(raw) < RecordSize {
		return DecisionEvent{}, fmt.Errorf("%w: %d bytes, want %d", ErrMalformedRecord, len(raw), RecordSize)
	}

	e := DecisionEvent{
		Offset: binary.NativeEndian.Uint64(raw[0:8]),
		Action: int32(binary.NativeEndian.Uint32(raw[8:12])),
		Length: binary.NativeEndian.Uint32(raw[12:16]),
	}
	if e.Action != ActionPass && e.Action != ActionDrop {
		return DecisionEvent{}, fmt.Errorf("%w: unknown action %d", ErrMalformedRecord, e.Action)
	}
	return e, nil
}
