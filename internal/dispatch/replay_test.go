package dispatch

import (
	"context"
	"errors"
	"testing"

	"emberfall/server/internal/event"
	"emberfall/server/internal/ledger"
)

func TestReplayReproducesInvocationSequence(t *testing.T) {
	q := newTestQueue(t, 64)
	liveRegistry := NewRegistry()
	liveRecorder := &recordingHandler{}
	for _, typeID := range []uint16{typeAttack, typeHeal, typeHeartbeat} {
		liveRegistry.Register(typeID, liveRecorder)
	}
	lg := ledger.NewMemory()
	d := newTestDispatcher(t, q, liveRegistry, lg)

	// Three frames of mixed-tier traffic.
	q.Enqueue(typeAttack, event.PriorityGameplay, damagePayload(10), 1, 2)
	q.Enqueue(typeHeartbeat, event.PriorityTelemetry, nil, 0, 0)
	d.Tick(context.Background())
	q.Enqueue(typeHeal, event.PriorityGameplay, damagePayload(7), 3, 1)
	q.Enqueue(typeAttack, event.PriorityGameplay, damagePayload(25), 2, 1)
	d.Tick(context.Background())
	d.Tick(context.Background())

	freshRegistry := NewRegistry()
	replayRecorder := &recordingHandler{}
	for _, typeID := range []uint16{typeAttack, typeHeal, typeHeartbeat} {
		freshRegistry.Register(typeID, replayRecorder)
	}
	report, err := NewReplayer(nil).Replay(context.Background(), lg, 1, 3, freshRegistry)
	if err != nil {
		t.Fatalf("unexpected replay error: %v", err)
	}
	if report.Frames != 3 || report.Events != 4 || report.Failures != 0 {
		t.Fatalf("unexpected replay report: %+v", report)
	}

	live := liveRecorder.invocations()
	replayed := replayRecorder.invocations()
	if len(replayed) != len(live) {
		t.Fatalf("expected %d replayed invocations, got %d", len(live), len(replayed))
	}
	for i := range live {
		if live[i] != replayed[i] {
			t.Fatalf("invocation %d diverged: live %+v replay %+v", i, live[i], replayed[i])
		}
	}
}

func TestReplayRejectsRangeWithGap(t *testing.T) {
	lg := ledger.NewMemory()
	for _, frame := range []uint64{1, 2, 4} {
		if err := lg.Append(frame, nil); err != nil {
			t.Fatalf("unexpected append error: %v", err)
		}
	}
	_, err := NewReplayer(nil).Replay(context.Background(), lg, 1, 4, NewRegistry())
	if !errors.Is(err, ErrReplayGap) {
		t.Fatalf("expected ErrReplayGap, got %v", err)
	}
}

func TestReplayIsolatesHandlerFailures(t *testing.T) {
	lg := ledger.NewMemory()
	rec := event.Record{TypeID: typeAttack, Priority: event.PriorityGameplay, Frame: 1}
	if err := lg.Append(1, []event.Record{rec}); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	registry := NewRegistry()
	registry.Register(typeAttack, HandlerFunc(func(context.Context, []event.Record) error {
		panic("replay handler exploded")
	}))
	recorder := &recordingHandler{}
	registry.Register(typeAttack, recorder)

	report, err := NewReplayer(nil).Replay(context.Background(), lg, 1, 1, registry)
	if err != nil {
		t.Fatalf("unexpected replay error: %v", err)
	}
	if report.Failures != 1 {
		t.Fatalf("expected 1 isolated failure, got %d", report.Failures)
	}
	if calls := recorder.invocations(); len(calls) != 1 {
		t.Fatalf("expected second handler to run during replay, got %d calls", len(calls))
	}
}

func TestReplayRequiresLedgerAndRegistry(t *testing.T) {
	r := NewReplayer(nil)
	if _, err := r.Replay(context.Background(), nil, 0, 0, NewRegistry()); err == nil {
		t.Fatal("expected error for nil ledger")
	}
	if _, err := r.Replay(context.Background(), ledger.NewMemory(), 0, 0, nil); err == nil {
		t.Fatal("expected error for nil registry")
	}
}

func TestReplayAgainstQueueBackedLedgerMatchesDrainOrder(t *testing.T) {
	// Same-frame cross-tier ordering survives the ledger round trip.
	q := newTestQueue(t, 8)
	registry := NewRegistry()
	registry.Register(typeAttack, &recordingHandler{})
	registry.Register(typeHeartbeat, &recordingHandler{})
	lg := ledger.NewMemory()
	d := newTestDispatcher(t, q, registry, lg)

	q.Enqueue(typeHeartbeat, event.PriorityTelemetry, nil, 0, 0)
	q.Enqueue(typeAttack, event.PriorityGameplay, nil, 0, 0)
	d.Tick(context.Background())

	entries, err := lg.LoadRange(1, 1)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	events := entries[0].Events
	if len(events) != 2 || events[0].TypeID != typeAttack || events[1].TypeID != typeHeartbeat {
		t.Fatalf("expected persisted order [attack, heartbeat], got %+v", events)
	}
}
