package intake

import (
	"testing"

	"emberfall/server/catalog"
	"emberfall/server/internal/event"
	"emberfall/server/internal/net/proto"
	"emberfall/server/internal/queue"
)

const testDefinitions = `[
  {"name": "combat.attack", "typeId": 1, "priority": "gameplay", "forward": true},
  {"name": "telemetry.heartbeat", "typeId": 40, "priority": "telemetry"}
]`

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.NewCatalog(catalog.MemorySource{Name: "definitions", Data: []byte(testDefinitions)})
	if err != nil {
		t.Fatalf("unexpected catalog error: %v", err)
	}
	return c
}

type fakeEnqueuer struct {
	result queue.EnqueueResult

	typeID  uint16
	payload []byte
	source  event.EntityID
	target  event.EntityID
	calls   int
}

func (f *fakeEnqueuer) Enqueue(typeID uint16, payload []byte, source, target event.EntityID) queue.EnqueueResult {
	f.calls++
	f.typeID = typeID
	f.payload = payload
	f.source = source
	f.target = target
	return f.result
}

func TestStageClientEventAccepts(t *testing.T) {
	enq := &fakeEnqueuer{result: queue.Accepted}
	ctx := Context{
		Catalog: testCatalog(t),
		Queue:   enq,
		Frame:   func() uint64 { return 12 },
	}

	staged, ok, reason := StageClientEvent(ctx, 7, proto.ClientMessage{
		Type:    proto.TypePublish,
		Name:    "combat.attack",
		Target:  9,
		Payload: []byte{1, 2, 3, 4},
	})
	if !ok {
		t.Fatalf("expected publish accepted, got reason %q", reason)
	}
	if staged.TypeID != 1 || staged.Tier != "gameplay" || staged.Frame != 12 {
		t.Fatalf("unexpected staged event: %+v", staged)
	}
	if enq.source != 7 || enq.target != 9 || len(enq.payload) != 4 {
		t.Fatalf("unexpected enqueue call: %+v", enq)
	}
}

func TestStageClientEventRejectsUnknownType(t *testing.T) {
	enq := &fakeEnqueuer{result: queue.Accepted}
	ctx := Context{Catalog: testCatalog(t), Queue: enq}

	_, ok, reason := StageClientEvent(ctx, 7, proto.ClientMessage{Type: proto.TypePublish, Name: "combat.nope"})
	if ok || reason != RejectUnknownType {
		t.Fatalf("expected unknownType reject, got ok=%v reason=%q", ok, reason)
	}
	if enq.calls != 0 {
		t.Fatalf("expected no enqueue for unknown type, got %d calls", enq.calls)
	}
}

func TestStageClientEventRejectsMissingName(t *testing.T) {
	ctx := Context{Catalog: testCatalog(t), Queue: &fakeEnqueuer{result: queue.Accepted}}
	_, ok, reason := StageClientEvent(ctx, 7, proto.ClientMessage{Type: proto.TypePublish})
	if ok || reason != RejectInvalidMessage {
		t.Fatalf("expected invalidMessage reject, got ok=%v reason=%q", ok, reason)
	}
}

func TestStageClientEventRejectsOversizedPayload(t *testing.T) {
	enq := &fakeEnqueuer{result: queue.Accepted}
	ctx := Context{Catalog: testCatalog(t), Queue: enq}

	payload := make([]byte, event.PayloadSize+1)
	_, ok, reason := StageClientEvent(ctx, 7, proto.ClientMessage{Type: proto.TypePublish, Name: "combat.attack", Payload: payload})
	if ok || reason != RejectPayloadTooLarge {
		t.Fatalf("expected payloadTooLarge reject, got ok=%v reason=%q", ok, reason)
	}
	if enq.calls != 0 {
		t.Fatalf("expected no enqueue for oversized payload, got %d calls", enq.calls)
	}
}

func TestStageClientEventMapsQueueResults(t *testing.T) {
	cases := []struct {
		result queue.EnqueueResult
		reason string
		retry  bool
	}{
		{queue.DroppedFull, RejectQueueFull, true},
		{queue.DroppedPolicy, RejectShuttingDown, false},
	}
	for _, tc := range cases {
		ctx := Context{Catalog: testCatalog(t), Queue: &fakeEnqueuer{result: tc.result}}
		_, ok, reason := StageClientEvent(ctx, 7, proto.ClientMessage{Type: proto.TypePublish, Name: "combat.attack"})
		if ok || reason != tc.reason {
			t.Fatalf("result %v: expected reason %q, got ok=%v reason=%q", tc.result, tc.reason, ok, reason)
		}
		if RetryableReject(reason) != tc.retry {
			t.Fatalf("result %v: expected retryable=%v", tc.result, tc.retry)
		}
	}
}
