package ring

import (
	"errors"
	"fmt"
	"sync/atomic"

	"emberfall/server/internal/event"
)

// ErrCapacityNotPowerOfTwo rejects buffer sizes that would break the
// bitmask index arithmetic.
var ErrCapacityNotPowerOfTwo = errors.New("ring: capacity must be a power of two")

type cacheLinePad [64]byte

// Buffer is a lock-free multi-producer single-consumer ring of event
// handles. Producers race on the tail with compare-and-swap; exactly one
// consumer owns the head. A per-slot published flag keeps a reserved but
// half-written slot invisible to the consumer, so a drain never observes a
// partial write. Unlike an overwriting ring, a full buffer rejects the
// enqueue and leaves existing entries intact.
type Buffer struct {
	slots     []event.Handle
	published []atomic.Bool
	mask      uint64

	_    cacheLinePad
	head atomic.Uint64
	_    cacheLinePad
	tail atomic.Uint64
	_    cacheLinePad
}

// NewBuffer constructs a buffer with the given capacity, which must be a
// power of two.
func NewBuffer(capacity int) (*Buffer, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrCapacityNotPowerOfTwo, capacity)
	}
	return &Buffer{
		slots:     make([]event.Handle, capacity),
		published: make([]atomic.Bool, capacity),
		mask:      uint64(capacity - 1),
	}, nil
}

// TryEnqueue reserves the next tail slot and publishes h into it. Returns
// false without blocking when the buffer is full. Safe for concurrent
// producers; entries from the same producer drain in enqueue order.
func (b *Buffer) TryEnqueue(h event.Handle) bool {
	for {
		tail := b.tail.Load()
		head := b.head.Load()
		if tail-head >= uint64(len(b.slots)) {
			return false
		}
		if b.tail.CompareAndSwap(tail, tail+1) {
			idx := tail & b.mask
			b.slots[idx] = h
			b.published[idx].Store(true)
			return true
		}
	}
}

// DrainBatch moves up to len(dst) published entries into dst in FIFO order
// and returns how many were moved. Consumer-only; never blocks. A slot
// whose producer has reserved but not yet published ends the batch early,
// preserving order.
func (b *Buffer) DrainBatch(dst []event.Handle) int {
	if len(dst) == 0 {
		return 0
	}
	head := b.head.Load()
	avail := b.tail.Load() - head
	if avail == 0 {
		return 0
	}
	if max := uint64(len(dst)); avail > max {
		avail = max
	}
	n := 0
	for i := uint64(0); i < avail; i++ {
		idx := (head + i) & b.mask
		if !b.published[idx].Load() {
			break
		}
		dst[n] = b.slots[idx]
		b.slots[idx] = event.Handle{}
		b.published[idx].Store(false)
		n++
	}
	// Flags are cleared before the head moves so a producer can never
	// claim a slot that still carries a stale published flag.
	b.head.Store(head + uint64(n))
	return n
}

// Len reports the number of buffered entries. The value is approximate
// while producers are active.
func (b *Buffer) Len() int {
	return int(b.tail.Load() - b.head.Load())
}

// Cap reports the fixed capacity.
func (b *Buffer) Cap() int {
	return len(b.slots)
}
