package catalog

import (
	"strings"
	"testing"

	"emberfall/server/internal/event"
)

const arrayDoc = `[
	{"name": "combat.attack", "typeId": 1, "priority": "gameplay", "forward": true, "payload": "u32 damage"},
	{"name": "telemetry.heartbeat", "typeId": 40, "priority": "telemetry", "parallelSafe": true}
]`

func TestLoadArrayDocument(t *testing.T) {
	c, err := NewCatalog(MemorySource{Name: "array", Data: []byte(arrayDoc)})
	if err != nil {
		t.Fatalf("unexpected catalog error: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 definitions, got %d", c.Len())
	}
	attack, ok := c.Lookup(1)
	if !ok {
		t.Fatal("expected typeId 1 resolved")
	}
	if attack.Name != "combat.attack" || attack.Priority != event.PriorityGameplay || !attack.Forward {
		t.Fatalf("unexpected attack definition: %+v", attack)
	}
	heartbeat, ok := c.ByName("telemetry.heartbeat")
	if !ok {
		t.Fatal("expected heartbeat resolved by name")
	}
	if heartbeat.Priority != event.PriorityTelemetry || !heartbeat.ParallelSafe {
		t.Fatalf("unexpected heartbeat definition: %+v", heartbeat)
	}
}

func TestLoadObjectDocumentInheritsKeyAsName(t *testing.T) {
	doc := `{"quest.progress": {"typeId": 7, "priority": "gameplay"}}`
	c, err := NewCatalog(MemorySource{Data: []byte(doc)})
	if err != nil {
		t.Fatalf("unexpected catalog error: %v", err)
	}
	def, ok := c.ByName("quest.progress")
	if !ok || def.TypeID != 7 {
		t.Fatalf("expected key used as name, got %+v ok=%v", def, ok)
	}
}

func TestLaterSourceOverridesEarlier(t *testing.T) {
	base := MemorySource{Name: "base", Data: []byte(arrayDoc)}
	overlay := MemorySource{Name: "overlay", Data: []byte(`[{"name": "combat.attack_v2", "typeId": 1, "priority": "gameplay"}]`)}
	c, err := NewCatalog(base, overlay)
	if err != nil {
		t.Fatalf("unexpected catalog error: %v", err)
	}
	def, ok := c.Lookup(1)
	if !ok || def.Name != "combat.attack_v2" {
		t.Fatalf("expected overlay to win, got %+v", def)
	}
	if _, stale := c.ByName("combat.attack"); stale {
		t.Fatal("expected overridden name removed from index")
	}
}

func TestRejectsDuplicateTypeID(t *testing.T) {
	doc := `[
		{"name": "a", "typeId": 3, "priority": "ai"},
		{"name": "b", "typeId": 3, "priority": "ai"}
	]`
	if _, err := NewCatalog(MemorySource{Data: []byte(doc)}); err == nil || !strings.Contains(err.Error(), "duplicate typeId") {
		t.Fatalf("expected duplicate typeId error, got %v", err)
	}
}

func TestRejectsUnknownPriority(t *testing.T) {
	doc := `[{"name": "a", "typeId": 3, "priority": "urgent"}]`
	if _, err := NewCatalog(MemorySource{Data: []byte(doc)}); err == nil || !strings.Contains(err.Error(), "unknown priority") {
		t.Fatalf("expected priority error, got %v", err)
	}
}

func TestRejectsReservedTypeIDZero(t *testing.T) {
	doc := `[{"name": "a", "typeId": 0, "priority": "gameplay"}]`
	if _, err := NewCatalog(MemorySource{Data: []byte(doc)}); err == nil || !strings.Contains(err.Error(), "reserved") {
		t.Fatalf("expected reserved typeId error, got %v", err)
	}
}

func TestForwardedFiltersAndOrders(t *testing.T) {
	doc := `[
		{"name": "c", "typeId": 9, "priority": "gameplay", "forward": true},
		{"name": "a", "typeId": 1, "priority": "gameplay", "forward": true},
		{"name": "b", "typeId": 5, "priority": "gameplay"}
	]`
	c, err := NewCatalog(MemorySource{Data: []byte(doc)})
	if err != nil {
		t.Fatalf("unexpected catalog error: %v", err)
	}
	forwarded := c.Forwarded()
	if len(forwarded) != 2 || forwarded[0].TypeID != 1 || forwarded[1].TypeID != 9 {
		t.Fatalf("unexpected forwarded set: %+v", forwarded)
	}
}

func TestNameFallsBackToNumeric(t *testing.T) {
	c, err := NewCatalog()
	if err != nil {
		t.Fatalf("unexpected catalog error: %v", err)
	}
	if got := c.Name(250); got != "type_250" {
		t.Fatalf("expected numeric fallback name, got %q", got)
	}
}

func TestMissingFileIsSkipped(t *testing.T) {
	c, err := Load("does/not/exist.json")
	if err != nil {
		t.Fatalf("expected missing file skipped, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty catalog, got %d", c.Len())
	}
}
