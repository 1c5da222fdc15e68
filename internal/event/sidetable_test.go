package event

import (
	"bytes"
	"testing"
)

func TestSideTablePutGetRelease(t *testing.T) {
	table := NewSideTable(2)
	blob := bytes.Repeat([]byte("loot-table:"), 8)
	ref, ok := table.Put(blob)
	if !ok {
		t.Fatalf("expected put to succeed")
	}
	got, ok := table.Get(ref)
	if !ok {
		t.Fatalf("expected get to resolve the reference")
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("expected blob %q, got %q", blob, got)
	}
	table.Release(ref)
	if _, ok := table.Get(ref); ok {
		t.Fatalf("expected released reference to miss")
	}
}

func TestSideTableStaleReferenceMisses(t *testing.T) {
	table := NewSideTable(1)
	ref1, ok := table.Put([]byte("first"))
	if !ok {
		t.Fatalf("expected first put to succeed")
	}
	table.Release(ref1)
	ref2, ok := table.Put([]byte("second"))
	if !ok {
		t.Fatalf("expected second put to succeed")
	}
	if ref1 == ref2 {
		t.Fatalf("expected recycled slot to mint a new reference")
	}
	if _, ok := table.Get(ref1); ok {
		t.Fatalf("expected stale reference to miss after slot reuse")
	}
	got, ok := table.Get(ref2)
	if !ok || string(got) != "second" {
		t.Fatalf("expected live reference to resolve, got %q ok=%v", got, ok)
	}
}

func TestSideTableFull(t *testing.T) {
	table := NewSideTable(1)
	if _, ok := table.Put([]byte("a")); !ok {
		t.Fatalf("expected put into empty table to succeed")
	}
	if _, ok := table.Put([]byte("b")); ok {
		t.Fatalf("expected put into full table to fail")
	}
	stats := table.Stats()
	if stats.InUse != 1 || stats.HighWater != 1 || stats.Capacity != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSideTableRecordRoundTrip(t *testing.T) {
	table := NewSideTable(4)
	blob := bytes.Repeat([]byte{0xee}, PayloadSize*3)
	ref, ok := table.Put(blob)
	if !ok {
		t.Fatalf("expected put to succeed")
	}
	var r Record
	r.PutSideRef(ref)
	decoded, ok := r.SideRef()
	if !ok {
		t.Fatalf("expected record to carry a side reference")
	}
	got, ok := table.Get(decoded)
	if !ok {
		t.Fatalf("expected reference from record to resolve")
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("expected stored blob to round-trip through the record")
	}
}
