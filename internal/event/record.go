package event

import (
	"encoding/binary"
	"errors"
)

// Priority selects the dispatch tier for a record. Lower values drain first.
type Priority uint8

const (
	PriorityGameplay Priority = iota
	PriorityAI
	PriorityAnalytics
	PriorityTelemetry

	priorityCount
)

// TierCount is the number of priority tiers.
const TierCount = int(priorityCount)

// Valid reports whether the priority names one of the four tiers.
func (p Priority) Valid() bool {
	return p < priorityCount
}

// String returns the lowercase tier name used in logs and metrics keys.
func (p Priority) String() string {
	switch p {
	case PriorityGameplay:
		return "gameplay"
	case PriorityAI:
		return "ai"
	case PriorityAnalytics:
		return "analytics"
	case PriorityTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

// ParsePriority maps a tier name back to its Priority value.
func ParsePriority(name string) (Priority, bool) {
	switch name {
	case "gameplay":
		return PriorityGameplay, true
	case "ai":
		return PriorityAI, true
	case "analytics":
		return PriorityAnalytics, true
	case "telemetry":
		return PriorityTelemetry, true
	default:
		return 0, false
	}
}

// EntityID references a participant in an event. Zero means no participant.
type EntityID uint64

const (
	// PayloadSize is the inline payload capacity of a Record in bytes.
	PayloadSize = 28

	// RecordSize is the fixed footprint of a Record: one cache line.
	RecordSize = 64
)

// ErrPayloadTooLarge is returned when a payload exceeds PayloadSize bytes.
// Larger blobs belong in a SideTable, referenced from the inline payload.
var ErrPayloadTooLarge = errors.New("event: payload exceeds inline capacity")

// Record is the fixed-layout unit that flows through the queue. The field
// order packs to exactly RecordSize bytes with no compiler padding, which a
// sizing test asserts. A record is immutable once enqueued; consumers get a
// read-only view and express follow-up state changes as new events.
type Record struct {
	TypeID     uint16
	Priority   Priority
	PayloadLen uint8
	Seq        uint32
	Frame      uint64
	Source     EntityID
	Target     EntityID
	Payload    [PayloadSize]byte
	_          [4]byte
}

// SetPayload copies b into the inline payload buffer.
func (r *Record) SetPayload(b []byte) error {
	if len(b) > PayloadSize {
		return ErrPayloadTooLarge
	}
	n := copy(r.Payload[:], b)
	for i := n; i < PayloadSize; i++ {
		r.Payload[i] = 0
	}
	r.PayloadLen = uint8(n)
	return nil
}

// PayloadBytes returns the populated portion of the inline payload.
func (r *Record) PayloadBytes() []byte {
	n := int(r.PayloadLen)
	if n > PayloadSize {
		n = PayloadSize
	}
	return r.Payload[:n]
}

// PutSideRef stores a side-table reference as the whole inline payload.
// Event kinds that carry oversized blobs use this instead of SetPayload.
func (r *Record) PutSideRef(ref uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], ref)
	_ = r.SetPayload(buf[:])
}

// SideRef decodes a side-table reference written by PutSideRef.
func (r *Record) SideRef() (uint32, bool) {
	if r.PayloadLen != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(r.Payload[:4]), true
}
