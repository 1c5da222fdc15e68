package event

import (
	"sync/atomic"
	"unsafe"
)

const (
	poolInUseMetricKey    = "event_pool_in_use"
	poolGrowthMetricKey   = "event_pool_growth_total"
	poolOverflowMetricKey = "event_pool_overflow_live"
)

type telemetryMetrics interface {
	Add(string, uint64)
	Store(string, uint64)
}

// Handle leases one Record from a Pool. The zero Handle is empty; Record
// returns nil for it. Handles for heap-fallback records report Pooled false.
type Handle struct {
	rec *Record
	idx int32
}

// Record returns the leased record, or nil for the zero Handle.
func (h Handle) Record() *Record {
	return h.rec
}

// Pooled reports whether the record came from the pre-allocated arena.
func (h Handle) Pooled() bool {
	return h.rec != nil && h.idx >= 0
}

// Pool hands out pre-allocated Record slots through a lock-free free list.
// Producers and the dispatcher share it concurrently; all mutation goes
// through atomic operations on the packed head word. When the arena is
// exhausted the pool falls back to heap allocation and counts the growth
// instead of failing.
type Pool struct {
	slots []Record
	next  []int32
	head  atomic.Uint64 // generation<<32 | slot index+1; low word 0 = empty

	capacity    int
	maxOverflow int64

	inUse    atomic.Int64
	overflow atomic.Int64
	growth   atomic.Uint64

	metrics telemetryMetrics
}

// PoolStats is a point-in-time snapshot of pool occupancy.
type PoolStats struct {
	Capacity int   `json:"capacity"`
	InUse    int64 `json:"inUse"`
	Free     int64 `json:"free"`
	// Overflow counts live heap-fallback records not yet released.
	Overflow int64 `json:"overflow"`
	// Growth counts every heap fallback since construction.
	Growth uint64 `json:"growthTotal"`
}

// NewPool constructs a pool with capacity pre-allocated slots. maxOverflow
// bounds how many live heap-fallback records are tolerated before Acquire
// starts reporting the capacity warning; negative means unbounded.
func NewPool(capacity int, maxOverflow int, metrics telemetryMetrics) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	p := &Pool{
		slots:       newSlotArena(capacity),
		next:        make([]int32, capacity),
		capacity:    capacity,
		maxOverflow: int64(maxOverflow),
		metrics:     metrics,
	}
	for i := 0; i < capacity-1; i++ {
		p.next[i] = int32(i + 1)
	}
	p.next[capacity-1] = -1
	p.head.Store(packFreeHead(0, 0))
	return p
}

// Acquire returns a zeroed record. The second result is false only when the
// lease had to fall back to the heap past the configured overflow budget;
// the record is still usable and the condition is a warning, not a failure.
func (p *Pool) Acquire() (Handle, bool) {
	for {
		old := p.head.Load()
		low := uint32(old)
		if low == 0 {
			break
		}
		idx := int32(low - 1)
		nxt := atomic.LoadInt32(&p.next[idx])
		gen := uint32(old>>32) + 1
		if p.head.CompareAndSwap(old, packFreeHead(gen, nxt)) {
			slot := &p.slots[idx]
			*slot = Record{}
			p.inUse.Add(1)
			p.storeInUse()
			return Handle{rec: slot, idx: idx}, true
		}
	}

	p.growth.Add(1)
	if p.metrics != nil {
		p.metrics.Add(poolGrowthMetricKey, 1)
	}
	live := p.overflow.Add(1)
	p.inUse.Add(1)
	p.storeInUse()
	if p.metrics != nil {
		p.metrics.Store(poolOverflowMetricKey, uint64(live))
	}
	ok := p.maxOverflow < 0 || live <= p.maxOverflow
	return Handle{rec: &Record{}, idx: -1}, ok
}

// Release returns a record to the free list. Each handle must be released
// exactly once, and only after no consumer still reads the record.
func (p *Pool) Release(h Handle) {
	if h.rec == nil {
		return
	}
	if h.idx < 0 {
		live := p.overflow.Add(-1)
		p.inUse.Add(-1)
		p.storeInUse()
		if p.metrics != nil {
			p.metrics.Store(poolOverflowMetricKey, uint64(live))
		}
		return
	}
	for {
		old := p.head.Load()
		atomic.StoreInt32(&p.next[h.idx], int32(uint32(old))-1)
		gen := uint32(old>>32) + 1
		if p.head.CompareAndSwap(old, packFreeHead(gen, h.idx)) {
			break
		}
	}
	p.inUse.Add(-1)
	p.storeInUse()
}

// Capacity reports the number of pre-allocated slots.
func (p *Pool) Capacity() int {
	if p == nil {
		return 0
	}
	return p.capacity
}

// Stats reports current occupancy and lifetime growth.
func (p *Pool) Stats() PoolStats {
	if p == nil {
		return PoolStats{}
	}
	inUse := p.inUse.Load()
	overflow := p.overflow.Load()
	return PoolStats{
		Capacity: p.capacity,
		InUse:    inUse,
		Free:     int64(p.capacity) - (inUse - overflow),
		Overflow: overflow,
		Growth:   p.growth.Load(),
	}
}

func (p *Pool) storeInUse() {
	if p.metrics == nil {
		return
	}
	p.metrics.Store(poolInUseMetricKey, uint64(p.inUse.Load()))
}

// packFreeHead encodes the free-list head as generation<<32 | index+1 so an
// empty list is a zero low word and each successful swap bumps the
// generation, which keeps a stale CAS from re-linking a reused slot.
func packFreeHead(gen uint32, idx int32) uint64 {
	return uint64(gen)<<32 | uint64(uint32(idx+1))
}

// newSlotArena allocates the slot array on a cache-line boundary so a record
// never straddles two lines.
func newSlotArena(capacity int) []Record {
	buf := make([]byte, capacity*RecordSize+RecordSize-1)
	base := uintptr(unsafe.Pointer(&buf[0]))
	off := uintptr(0)
	if rem := base % RecordSize; rem != 0 {
		off = RecordSize - rem
	}
	return unsafe.Slice((*Record)(unsafe.Pointer(&buf[off])), capacity)
}
