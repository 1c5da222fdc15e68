package ledger

import (
	"errors"

	"emberfall/server/internal/event"
)

// Entry is one persisted frame: the frame number plus the dispatched
// events in realized order.
type Entry = event.FrameBatch

var (
	// ErrDuplicateFrame rejects a second append for an already persisted
	// frame. The ledger is append-only; frames are never rewritten.
	ErrDuplicateFrame = errors.New("ledger: frame already appended")
	// ErrInvalidRange rejects a range whose start exceeds its end.
	ErrInvalidRange = errors.New("ledger: start frame exceeds end frame")
	// ErrClosed rejects operations after Close.
	ErrClosed = errors.New("ledger: closed")
)

// Ledger is the append-only, frame-keyed record of dispatched batches.
// Only the dispatcher goroutine writes; readers (replay, verification,
// the stats surface) may run concurrently with writes.
type Ledger interface {
	// Append persists one frame's realized batch. Empty batches are
	// stored too, so a contiguous run of frames stays contiguous even
	// when nothing happened.
	Append(frame uint64, events []event.Record) error
	// LoadRange returns the stored entries with start <= frame <= end,
	// ordered by frame. Missing frames are simply absent; callers that
	// care run VerifyContiguous.
	LoadRange(start, end uint64) ([]Entry, error)
	// VerifyContiguous reports every frame in [start, end] that has no
	// entry. Gaps are reported, never repaired: a missing frame cannot
	// be replayed and the caller must decide how to treat it.
	VerifyContiguous(start, end uint64) ([]uint64, error)
	// Bounds reports the lowest and highest stored frame. ok is false
	// for an empty ledger.
	Bounds() (first, last uint64, ok bool, err error)
	Close() error
}

// missingInRange walks a sorted frame list against [start, end] and
// collects the holes. Shared by the memory and sqlite backends.
func missingInRange(start, end uint64, sorted []uint64) []uint64 {
	var missing []uint64
	next := start
	for _, frame := range sorted {
		if frame < start {
			continue
		}
		if frame > end {
			break
		}
		for next < frame {
			missing = append(missing, next)
			next++
		}
		next = frame + 1
	}
	for next <= end && next != 0 {
		missing = append(missing, next)
		next++
	}
	return missing
}
