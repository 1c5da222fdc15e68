package event

import (
	"bytes"
	"testing"
	"unsafe"
)

func TestRecordLayoutIsOneCacheLine(t *testing.T) {
	if size := unsafe.Sizeof(Record{}); size != RecordSize {
		t.Fatalf("expected record size %d, got %d", RecordSize, size)
	}
	var r Record
	offsets := map[string]uintptr{
		"TypeID":     unsafe.Offsetof(r.TypeID),
		"Priority":   unsafe.Offsetof(r.Priority),
		"PayloadLen": unsafe.Offsetof(r.PayloadLen),
		"Seq":        unsafe.Offsetof(r.Seq),
		"Frame":      unsafe.Offsetof(r.Frame),
		"Source":     unsafe.Offsetof(r.Source),
		"Target":     unsafe.Offsetof(r.Target),
		"Payload":    unsafe.Offsetof(r.Payload),
	}
	expected := map[string]uintptr{
		"TypeID":     0,
		"Priority":   2,
		"PayloadLen": 3,
		"Seq":        4,
		"Frame":      8,
		"Source":     16,
		"Target":     24,
		"Payload":    32,
	}
	for field, want := range expected {
		if offsets[field] != want {
			t.Fatalf("expected %s at offset %d, got %d", field, want, offsets[field])
		}
	}
}

func TestRecordPayloadRoundTrip(t *testing.T) {
	var r Record
	payload := []byte("damage:30")
	if err := r.SetPayload(payload); err != nil {
		t.Fatalf("expected payload to fit, got %v", err)
	}
	if got := r.PayloadBytes(); !bytes.Equal(got, payload) {
		t.Fatalf("expected payload %q, got %q", payload, got)
	}
	if r.PayloadLen != uint8(len(payload)) {
		t.Fatalf("expected payload length %d, got %d", len(payload), r.PayloadLen)
	}
}

func TestRecordPayloadTooLarge(t *testing.T) {
	var r Record
	oversized := make([]byte, PayloadSize+1)
	if err := r.SetPayload(oversized); err != ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestRecordPayloadShrinkClearsStaleBytes(t *testing.T) {
	var r Record
	if err := r.SetPayload(bytes.Repeat([]byte{0xff}, PayloadSize)); err != nil {
		t.Fatalf("expected full payload to fit, got %v", err)
	}
	if err := r.SetPayload([]byte{1, 2}); err != nil {
		t.Fatalf("expected short payload to fit, got %v", err)
	}
	for i := 2; i < PayloadSize; i++ {
		if r.Payload[i] != 0 {
			t.Fatalf("expected byte %d cleared after shrink, got %#x", i, r.Payload[i])
		}
	}
}

func TestRecordSideRef(t *testing.T) {
	var r Record
	r.PutSideRef(0x00ab0012)
	ref, ok := r.SideRef()
	if !ok {
		t.Fatalf("expected side ref to decode")
	}
	if ref != 0x00ab0012 {
		t.Fatalf("expected ref %#x, got %#x", 0x00ab0012, ref)
	}
	if err := r.SetPayload([]byte("plain")); err != nil {
		t.Fatalf("expected payload to fit, got %v", err)
	}
	if _, ok := r.SideRef(); ok {
		t.Fatalf("expected non-ref payload to decode as no side ref")
	}
}

func TestPriorityNames(t *testing.T) {
	for p := PriorityGameplay; p.Valid(); p++ {
		parsed, ok := ParsePriority(p.String())
		if !ok {
			t.Fatalf("expected %q to parse", p.String())
		}
		if parsed != p {
			t.Fatalf("expected %v to round-trip, got %v", p, parsed)
		}
	}
	if Priority(4).Valid() {
		t.Fatalf("expected priority 4 to be invalid")
	}
	if _, ok := ParsePriority("background"); ok {
		t.Fatalf("expected unknown tier name to fail parsing")
	}
}
