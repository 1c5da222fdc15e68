package ring

import (
	"errors"
	"sync"
	"testing"

	"emberfall/server/internal/event"
)

func TestNewBufferRejectsNonPowerOfTwo(t *testing.T) {
	for _, capacity := range []int{0, -8, 3, 6, 100} {
		if _, err := NewBuffer(capacity); !errors.Is(err, ErrCapacityNotPowerOfTwo) {
			t.Fatalf("expected capacity %d to be rejected, got %v", capacity, err)
		}
	}
	for _, capacity := range []int{1, 2, 8, 1024} {
		buf, err := NewBuffer(capacity)
		if err != nil {
			t.Fatalf("expected capacity %d to be accepted, got %v", capacity, err)
		}
		if buf.Cap() != capacity {
			t.Fatalf("expected capacity %d, got %d", capacity, buf.Cap())
		}
	}
}

func TestBufferFIFOSingleProducer(t *testing.T) {
	pool := event.NewPool(8, -1, nil)
	buf, err := NewBuffer(8)
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	for i := 0; i < 5; i++ {
		h, _ := pool.Acquire()
		h.Record().Seq = uint32(i + 1)
		if !buf.TryEnqueue(h) {
			t.Fatalf("expected enqueue %d to succeed", i)
		}
	}
	if buf.Len() != 5 {
		t.Fatalf("expected length 5, got %d", buf.Len())
	}
	dst := make([]event.Handle, 8)
	n := buf.DrainBatch(dst)
	if n != 5 {
		t.Fatalf("expected to drain 5 entries, got %d", n)
	}
	for i := 0; i < n; i++ {
		if seq := dst[i].Record().Seq; seq != uint32(i+1) {
			t.Fatalf("expected seq %d at position %d, got %d", i+1, i, seq)
		}
		pool.Release(dst[i])
	}
	if buf.Len() != 0 {
		t.Fatalf("expected empty buffer after drain, got %d", buf.Len())
	}
}

func TestBufferRejectsWhenFull(t *testing.T) {
	pool := event.NewPool(8, -1, nil)
	buf, err := NewBuffer(4)
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	for i := 0; i < 4; i++ {
		h, _ := pool.Acquire()
		h.Record().Seq = uint32(i)
		if !buf.TryEnqueue(h) {
			t.Fatalf("expected enqueue %d to succeed", i)
		}
	}
	extra, _ := pool.Acquire()
	if buf.TryEnqueue(extra) {
		t.Fatalf("expected enqueue into full buffer to fail")
	}
	pool.Release(extra)

	// The rejection must not clobber buffered entries.
	dst := make([]event.Handle, 4)
	if n := buf.DrainBatch(dst); n != 4 {
		t.Fatalf("expected 4 entries intact, got %d", n)
	}
	for i := 0; i < 4; i++ {
		if seq := dst[i].Record().Seq; seq != uint32(i) {
			t.Fatalf("expected seq %d at position %d, got %d", i, i, seq)
		}
		pool.Release(dst[i])
	}
}

func TestBufferDrainBatchHonorsDstSize(t *testing.T) {
	pool := event.NewPool(16, -1, nil)
	buf, err := NewBuffer(16)
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	for i := 0; i < 10; i++ {
		h, _ := pool.Acquire()
		h.Record().Seq = uint32(i)
		if !buf.TryEnqueue(h) {
			t.Fatalf("expected enqueue %d to succeed", i)
		}
	}
	dst := make([]event.Handle, 4)
	total := 0
	for batch := 0; ; batch++ {
		n := buf.DrainBatch(dst)
		if n == 0 {
			break
		}
		for i := 0; i < n; i++ {
			if seq := dst[i].Record().Seq; seq != uint32(total+i) {
				t.Fatalf("batch %d: expected seq %d, got %d", batch, total+i, seq)
			}
			pool.Release(dst[i])
		}
		total += n
		if n > 4 {
			t.Fatalf("expected batches capped at 4, got %d", n)
		}
	}
	if total != 10 {
		t.Fatalf("expected 10 drained entries, got %d", total)
	}
}

func TestBufferWraparound(t *testing.T) {
	pool := event.NewPool(8, -1, nil)
	buf, err := NewBuffer(4)
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	dst := make([]event.Handle, 4)
	seq := uint32(0)
	for round := 0; round < 10; round++ {
		for i := 0; i < 3; i++ {
			h, _ := pool.Acquire()
			seq++
			h.Record().Seq = seq
			if !buf.TryEnqueue(h) {
				t.Fatalf("round %d: expected enqueue to succeed", round)
			}
		}
		n := buf.DrainBatch(dst)
		if n != 3 {
			t.Fatalf("round %d: expected 3 entries, got %d", round, n)
		}
		for i := 0; i < n; i++ {
			pool.Release(dst[i])
		}
	}
}

func TestBufferConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	const (
		producers = 4
		perWorker = 200
	)
	pool := event.NewPool(producers*perWorker, -1, nil)
	buf, err := NewBuffer(1024)
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				h, _ := pool.Acquire()
				rec := h.Record()
				rec.Source = event.EntityID(p + 1)
				rec.Seq = uint32(i)
				for !buf.TryEnqueue(h) {
				}
			}
		}(p)
	}
	wg.Wait()

	lastSeq := make(map[event.EntityID]int)
	counts := make(map[event.EntityID]int)
	dst := make([]event.Handle, 64)
	drained := 0
	for {
		n := buf.DrainBatch(dst)
		if n == 0 {
			break
		}
		for i := 0; i < n; i++ {
			rec := dst[i].Record()
			last, seen := lastSeq[rec.Source]
			if seen && int(rec.Seq) <= last {
				t.Fatalf("producer %d: seq %d drained after %d", rec.Source, rec.Seq, last)
			}
			lastSeq[rec.Source] = int(rec.Seq)
			counts[rec.Source]++
			pool.Release(dst[i])
		}
		drained += n
	}
	if drained != producers*perWorker {
		t.Fatalf("expected %d drained entries, got %d", producers*perWorker, drained)
	}
	for p := 1; p <= producers; p++ {
		if counts[event.EntityID(p)] != perWorker {
			t.Fatalf("producer %d: expected %d entries, got %d", p, perWorker, counts[event.EntityID(p)])
		}
	}
}
