package server

import (
	"encoding/binary"

	"emberfall/server/internal/event"
	"emberfall/server/internal/queue"
)

// Well-known event type ids. The authoritative definitions live in
// config/events/definitions.json; these constants exist so producers and
// tests do not scatter magic numbers.
const (
	EventAttack         uint16 = 1
	EventHeal           uint16 = 2
	EventGatherProgress uint16 = 10
	EventCraftCompleted uint16 = 11
	EventQuestProgress  uint16 = 20
	EventAIDecision     uint16 = 30
	EventSessionSample  uint16 = 35
	EventHeartbeat      uint16 = 40
)

// CombatProducer enqueues combat events the way the combat engine does:
// fire-and-forget, treating any Dropped result as a signal to retry next
// frame rather than an error.
type CombatProducer struct {
	core *Core
}

// NewCombatProducer binds a producer to the core.
func NewCombatProducer(core *Core) *CombatProducer {
	return &CombatProducer{core: core}
}

// Attack enqueues one attack with its damage amount inline.
func (p *CombatProducer) Attack(attacker, target event.EntityID, damage uint32) queue.EnqueueResult {
	var payload [4]byte
	binary.LittleEndian.PutUint32(payload[:], damage)
	return p.core.Queue.Enqueue(EventAttack, event.PriorityGameplay, payload[:], attacker, target)
}

// Heal enqueues one heal with the restored amount inline.
func (p *CombatProducer) Heal(healer, target event.EntityID, amount uint32) queue.EnqueueResult {
	var payload [4]byte
	binary.LittleEndian.PutUint32(payload[:], amount)
	return p.core.Queue.Enqueue(EventHeal, event.PriorityGameplay, payload[:], healer, target)
}

// AttackDamage decodes the damage amount from an attack or heal record.
func AttackDamage(rec *event.Record) uint32 {
	b := rec.PayloadBytes()
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b[:4])
}

// ProfessionProducer enqueues resource-gathering and crafting events.
type ProfessionProducer struct {
	core *Core
}

// NewProfessionProducer binds a producer to the core.
func NewProfessionProducer(core *Core) *ProfessionProducer {
	return &ProfessionProducer{core: core}
}

// GatherProgress reports progress on a node: itemID identifies the
// resource, permille is the completed fraction in thousandths.
func (p *ProfessionProducer) GatherProgress(gatherer event.EntityID, itemID uint32, permille uint16) queue.EnqueueResult {
	var payload [6]byte
	binary.LittleEndian.PutUint32(payload[0:4], itemID)
	binary.LittleEndian.PutUint16(payload[4:6], permille)
	return p.core.Queue.Enqueue(EventGatherProgress, event.PriorityGameplay, payload[:], gatherer, 0)
}

// CraftCompleted reports a finished recipe with the produced quantity.
func (p *ProfessionProducer) CraftCompleted(crafter event.EntityID, recipeID uint32, quantity uint16) queue.EnqueueResult {
	var payload [6]byte
	binary.LittleEndian.PutUint32(payload[0:4], recipeID)
	binary.LittleEndian.PutUint16(payload[4:6], quantity)
	return p.core.Queue.Enqueue(EventCraftCompleted, event.PriorityGameplay, payload[:], crafter, 0)
}

// QuestProducer enqueues quest progression events.
type QuestProducer struct {
	core *Core
}

// NewQuestProducer binds a producer to the core.
func NewQuestProducer(core *Core) *QuestProducer {
	return &QuestProducer{core: core}
}

// Progress reports a quest objective update.
func (p *QuestProducer) Progress(player event.EntityID, questID uint32, step uint16) queue.EnqueueResult {
	var payload [6]byte
	binary.LittleEndian.PutUint32(payload[0:4], questID)
	binary.LittleEndian.PutUint16(payload[4:6], step)
	return p.core.Queue.Enqueue(EventQuestProgress, event.PriorityGameplay, payload[:], player, 0)
}

// TelemetryProducer enqueues heartbeat and session-sample events into
// the tiers that tolerate loss under load.
type TelemetryProducer struct {
	core *Core
}

// NewTelemetryProducer binds a producer to the core.
func NewTelemetryProducer(core *Core) *TelemetryProducer {
	return &TelemetryProducer{core: core}
}

// Heartbeat enqueues a liveness sample. Drops are acceptable.
func (p *TelemetryProducer) Heartbeat(session event.EntityID) queue.EnqueueResult {
	return p.core.Queue.Enqueue(EventHeartbeat, event.PriorityTelemetry, nil, session, 0)
}

// SessionSample enqueues an analytics measurement.
func (p *TelemetryProducer) SessionSample(session event.EntityID, metric uint32, value uint32) queue.EnqueueResult {
	var payload [8]byte
	binary.LittleEndian.PutUint32(payload[0:4], metric)
	binary.LittleEndian.PutUint32(payload[4:8], value)
	return p.core.Queue.Enqueue(EventSessionSample, event.PriorityAnalytics, payload[:], session, 0)
}
