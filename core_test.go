package server

import (
	"context"
	"os"
	"sync"
	"testing"

	"emberfall/server/catalog"
	"emberfall/server/internal/config"
	"emberfall/server/internal/dispatch"
	"emberfall/server/internal/event"
	"emberfall/server/internal/queue"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	data, err := os.ReadFile("config/events/definitions.json")
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	c, err := catalog.NewCatalog(catalog.MemorySource{Name: "definitions", Data: data})
	if err != nil {
		t.Fatalf("unexpected catalog error: %v", err)
	}
	return c
}

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cfg := config.Default()
	cfg.Dispatcher.WorkerCount = 0
	core, err := NewCore(cfg, CoreDeps{Catalog: testCatalog(t)})
	if err != nil {
		t.Fatalf("unexpected core error: %v", err)
	}
	return core
}

type captureHandler struct {
	mu    sync.Mutex
	types []uint16
}

func (h *captureHandler) HandleBatch(_ context.Context, events []event.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range events {
		h.types = append(h.types, events[i].TypeID)
	}
	return nil
}

func (h *captureHandler) seen() []uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	copied := make([]uint16, len(h.types))
	copy(copied, h.types)
	return copied
}

func TestCoreEndToEndFrame(t *testing.T) {
	core := newTestCore(t)
	capture := &captureHandler{}
	for _, typeID := range []uint16{EventAttack, EventQuestProgress, EventSessionSample, EventHeartbeat} {
		core.Registry.Register(typeID, capture)
	}

	combat := NewCombatProducer(core)
	quests := NewQuestProducer(core)
	telemetry := NewTelemetryProducer(core)

	if res := telemetry.Heartbeat(9); res != queue.Accepted {
		t.Fatalf("expected heartbeat accepted, got %v", res)
	}
	if res := telemetry.SessionSample(9, 1, 250); res != queue.Accepted {
		t.Fatalf("expected sample accepted, got %v", res)
	}
	if res := quests.Progress(7, 400, 2); res != queue.Accepted {
		t.Fatalf("expected quest progress accepted, got %v", res)
	}
	if res := combat.Attack(1, 2, 10); res != queue.Accepted {
		t.Fatalf("expected attack accepted, got %v", res)
	}

	core.Dispatcher.Tick(context.Background())

	want := []uint16{EventAttack, EventQuestProgress, EventSessionSample, EventHeartbeat}
	got := capture.seen()
	if len(got) != len(want) {
		t.Fatalf("expected %d invocations, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected dispatch order %v, got %v", want, got)
		}
	}

	entries, err := core.Ledger.LoadRange(1, 1)
	if err != nil {
		t.Fatalf("unexpected ledger error: %v", err)
	}
	if len(entries) != 1 || len(entries[0].Events) != 4 {
		t.Fatalf("expected frame 1 with 4 events in ledger, got %+v", entries)
	}
}

func TestCoreEnqueueResolvesTierFromCatalog(t *testing.T) {
	core := newTestCore(t)
	if res := core.Enqueue(EventAttack, []byte{1, 0, 0, 0}, 1, 2); res != queue.Accepted {
		t.Fatalf("expected attack accepted, got %v", res)
	}
	dst := make([]event.Handle, 4)
	if n := core.Queue.DrainTier(event.PriorityGameplay, dst); n != 1 {
		t.Fatalf("expected attack routed to gameplay tier, drained %d", n)
	}
	core.Queue.Pool().Release(dst[0])

	// Unknown types land in telemetry, the least protected tier.
	if res := core.Enqueue(9999, nil, 0, 0); res != queue.Accepted {
		t.Fatalf("expected unknown type accepted, got %v", res)
	}
	if n := core.Queue.DrainTier(event.PriorityTelemetry, dst); n != 1 {
		t.Fatalf("expected unknown type in telemetry tier, drained %d", n)
	}
	core.Queue.Pool().Release(dst[0])
}

func TestCoreStatsAggregates(t *testing.T) {
	core := newTestCore(t)
	core.Registry.Register(EventAttack, &captureHandler{})
	NewCombatProducer(core).Attack(1, 2, 5)
	core.Dispatcher.Tick(context.Background())

	stats := core.Stats()
	if stats.Queue.Tiers[event.PriorityGameplay].Accepted != 1 {
		t.Fatalf("expected 1 accepted gameplay event, got %+v", stats.Queue)
	}
	if stats.Dispatcher.Frames != 1 || stats.Dispatcher.Events != 1 {
		t.Fatalf("unexpected dispatcher stats: %+v", stats.Dispatcher)
	}
	if stats.Ledger == nil || stats.Ledger.Empty || stats.Ledger.LastFrame != 1 {
		t.Fatalf("unexpected ledger stats: %+v", stats.Ledger)
	}
}

func TestAttackDamageRoundTrip(t *testing.T) {
	core := newTestCore(t)
	var got uint32
	core.Registry.Register(EventAttack, dispatch.HandlerFunc(func(_ context.Context, events []event.Record) error {
		got = AttackDamage(&events[0])
		return nil
	}))
	NewCombatProducer(core).Attack(1, 2, 1234)
	core.Dispatcher.Tick(context.Background())
	if got != 1234 {
		t.Fatalf("expected damage 1234, got %d", got)
	}
}

func TestCoreRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Queue.GameplayCapacity = 100
	if _, err := NewCore(cfg, CoreDeps{Catalog: testCatalog(t)}); err == nil {
		t.Fatal("expected invalid config rejected")
	}
}
