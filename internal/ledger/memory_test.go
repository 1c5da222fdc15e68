package ledger

import (
	"errors"
	"testing"

	"emberfall/server/internal/event"
)

func recordWithPayload(typeID uint16, frame uint64, payload []byte) event.Record {
	rec := event.Record{TypeID: typeID, Frame: frame}
	if err := rec.SetPayload(payload); err != nil {
		panic(err)
	}
	return rec
}

func TestMemoryAppendAndLoadRange(t *testing.T) {
	lg := NewMemory()
	for frame := uint64(1); frame <= 5; frame++ {
		batch := []event.Record{recordWithPayload(uint16(frame), frame, []byte{byte(frame)})}
		if err := lg.Append(frame, batch); err != nil {
			t.Fatalf("unexpected append error for frame %d: %v", frame, err)
		}
	}
	entries, err := lg.LoadRange(2, 4)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, entry := range entries {
		wantFrame := uint64(i + 2)
		if entry.Frame != wantFrame {
			t.Fatalf("expected frame %d at position %d, got %d", wantFrame, i, entry.Frame)
		}
		if len(entry.Events) != 1 || entry.Events[0].TypeID != uint16(wantFrame) {
			t.Fatalf("entry %d carries wrong events: %+v", i, entry.Events)
		}
	}
}

func TestMemoryAppendCopiesBatch(t *testing.T) {
	lg := NewMemory()
	batch := []event.Record{recordWithPayload(1, 1, []byte{42})}
	if err := lg.Append(1, batch); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	batch[0].TypeID = 99

	entries, err := lg.LoadRange(1, 1)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if entries[0].Events[0].TypeID != 1 {
		t.Fatal("ledger entry aliases the caller's batch slice")
	}
}

func TestMemoryRejectsDuplicateFrame(t *testing.T) {
	lg := NewMemory()
	if err := lg.Append(7, nil); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if err := lg.Append(7, nil); !errors.Is(err, ErrDuplicateFrame) {
		t.Fatalf("expected ErrDuplicateFrame, got %v", err)
	}
}

func TestMemoryVerifyContiguousReportsSingleGap(t *testing.T) {
	lg := NewMemory()
	const dropped = 57
	for frame := uint64(1); frame <= 100; frame++ {
		if frame == dropped {
			continue
		}
		if err := lg.Append(frame, nil); err != nil {
			t.Fatalf("unexpected append error for frame %d: %v", frame, err)
		}
	}
	missing, err := lg.VerifyContiguous(1, 100)
	if err != nil {
		t.Fatalf("unexpected verify error: %v", err)
	}
	if len(missing) != 1 || missing[0] != dropped {
		t.Fatalf("expected exactly frame %d missing, got %v", dropped, missing)
	}
}

func TestMemoryVerifyContiguousCleanRange(t *testing.T) {
	lg := NewMemory()
	for frame := uint64(10); frame <= 20; frame++ {
		if err := lg.Append(frame, nil); err != nil {
			t.Fatalf("unexpected append error: %v", err)
		}
	}
	missing, err := lg.VerifyContiguous(10, 20)
	if err != nil {
		t.Fatalf("unexpected verify error: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected no gaps, got %v", missing)
	}
}

func TestMemoryBounds(t *testing.T) {
	lg := NewMemory()
	if _, _, ok, err := lg.Bounds(); err != nil || ok {
		t.Fatalf("expected empty bounds, got ok=%v err=%v", ok, err)
	}
	for _, frame := range []uint64{5, 3, 9} {
		if err := lg.Append(frame, nil); err != nil {
			t.Fatalf("unexpected append error: %v", err)
		}
	}
	first, last, ok, err := lg.Bounds()
	if err != nil || !ok {
		t.Fatalf("expected bounds, got ok=%v err=%v", ok, err)
	}
	if first != 3 || last != 9 {
		t.Fatalf("expected bounds [3, 9], got [%d, %d]", first, last)
	}
}

func TestMemoryInvalidRange(t *testing.T) {
	lg := NewMemory()
	if _, err := lg.LoadRange(5, 1); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange from LoadRange, got %v", err)
	}
	if _, err := lg.VerifyContiguous(5, 1); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange from VerifyContiguous, got %v", err)
	}
}

func TestMemoryClose(t *testing.T) {
	lg := NewMemory()
	if err := lg.Append(1, nil); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if err := lg.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := lg.Append(2, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}
