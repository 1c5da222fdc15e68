package ledger

import (
	"fmt"
	"sort"
	"sync"

	"emberfall/server/internal/event"
)

// Memory keeps the ledger in process memory. It is the default backend
// for dev servers and tests; a restart loses history, which is fine for
// both.
type Memory struct {
	mu     sync.RWMutex
	frames map[uint64][]event.Record
	order  []uint64
	closed bool
}

// NewMemory constructs an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{frames: make(map[uint64][]event.Record)}
}

// Append implements Ledger. The batch is copied so the caller may recycle
// its records immediately after the call returns.
func (m *Memory) Append(frame uint64, events []event.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, exists := m.frames[frame]; exists {
		return fmt.Errorf("%w: frame %d", ErrDuplicateFrame, frame)
	}
	stored := make([]event.Record, len(events))
	copy(stored, events)
	m.frames[frame] = stored

	// Appends arrive in frame order from the dispatcher, so the common
	// case is a plain push; out-of-order writes (tests, tooling) fall
	// back to an insertion sort step.
	if n := len(m.order); n == 0 || m.order[n-1] < frame {
		m.order = append(m.order, frame)
	} else {
		at := sort.Search(n, func(i int) bool { return m.order[i] > frame })
		m.order = append(m.order, 0)
		copy(m.order[at+1:], m.order[at:])
		m.order[at] = frame
	}
	return nil
}

// LoadRange implements Ledger.
func (m *Memory) LoadRange(start, end uint64) ([]Entry, error) {
	if start > end {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, start, end)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var entries []Entry
	for _, frame := range m.order {
		if frame < start {
			continue
		}
		if frame > end {
			break
		}
		stored := m.frames[frame]
		events := make([]event.Record, len(stored))
		copy(events, stored)
		entries = append(entries, Entry{Frame: frame, Events: events})
	}
	return entries, nil
}

// VerifyContiguous implements Ledger.
func (m *Memory) VerifyContiguous(start, end uint64) ([]uint64, error) {
	if start > end {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrInvalidRange, start, end)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return missingInRange(start, end, m.order), nil
}

// Bounds implements Ledger.
func (m *Memory) Bounds() (uint64, uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, 0, false, ErrClosed
	}
	if len(m.order) == 0 {
		return 0, 0, false, nil
	}
	return m.order[0], m.order[len(m.order)-1], true, nil
}

// Len reports the number of stored frames.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// Close implements Ledger. Stored entries are released.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.frames = nil
	m.order = nil
	return nil
}
