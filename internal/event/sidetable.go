package event

import "sync"

// SideTable stores payload blobs too large for a Record's inline buffer.
// Producers Put the blob before enqueueing and embed the returned reference
// with Record.PutSideRef; consumers resolve it with Get and the owner
// releases the slot once the event is fully processed. References carry a
// generation so a lookup after release misses instead of reading a
// recycled slot.
type SideTable struct {
	mu        sync.Mutex
	blobs     [][]byte
	gens      []uint16
	free      []int
	inUse     int
	highWater int
}

// SideTableStats is a point-in-time snapshot of side-table occupancy.
type SideTableStats struct {
	Capacity  int `json:"capacity"`
	InUse     int `json:"inUse"`
	HighWater int `json:"highWater"`
}

const sideTableMaxSlots = 1 << 16

// NewSideTable constructs a table with a fixed number of slots. Capacity is
// clamped to 65535 so a reference fits the 16-bit slot field.
func NewSideTable(capacity int) *SideTable {
	if capacity < 1 {
		capacity = 1
	}
	if capacity >= sideTableMaxSlots {
		capacity = sideTableMaxSlots - 1
	}
	t := &SideTable{
		blobs: make([][]byte, capacity),
		gens:  make([]uint16, capacity),
		free:  make([]int, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		t.free = append(t.free, i)
	}
	return t
}

// Put copies blob into a free slot and returns its reference. The second
// result is false when the table is full; the caller decides whether to
// drop the event or fall back to a truncated inline payload.
func (t *SideTable) Put(blob []byte) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.free) == 0 {
		return 0, false
	}
	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	stored := t.blobs[idx]
	if cap(stored) < len(blob) {
		stored = make([]byte, len(blob))
	} else {
		stored = stored[:len(blob)]
	}
	copy(stored, blob)
	t.blobs[idx] = stored
	t.inUse++
	if t.inUse > t.highWater {
		t.highWater = t.inUse
	}
	return packSideRef(t.gens[idx], idx), true
}

// Get resolves a reference to the stored blob. The returned slice aliases
// table memory and must not be retained past Release.
func (t *SideTable) Get(ref uint32) ([]byte, bool) {
	gen, idx := unpackSideRef(ref)
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.blobs) || t.gens[idx] != gen {
		return nil, false
	}
	return t.blobs[idx], true
}

// Release frees the slot behind ref. Releasing an already-released or
// unknown reference is a no-op.
func (t *SideTable) Release(ref uint32) {
	gen, idx := unpackSideRef(ref)
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.blobs) || t.gens[idx] != gen {
		return
	}
	t.gens[idx]++
	t.blobs[idx] = t.blobs[idx][:0]
	t.free = append(t.free, idx)
	t.inUse--
}

// Stats reports current occupancy.
func (t *SideTable) Stats() SideTableStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return SideTableStats{
		Capacity:  len(t.blobs),
		InUse:     t.inUse,
		HighWater: t.highWater,
	}
}

// packSideRef encodes generation<<16 | slot+1; zero is never a valid ref.
func packSideRef(gen uint16, idx int) uint32 {
	return uint32(gen)<<16 | uint32(idx+1)
}

func unpackSideRef(ref uint32) (uint16, int) {
	return uint16(ref >> 16), int(ref&0xffff) - 1
}
