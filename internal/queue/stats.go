package queue

import "emberfall/server/internal/event"

// Metric keys published through the telemetry counters. One key per tier
// and condition so the stats endpoint can expose drop rates per tier.
const (
	metricInvalidPriority = "queue_invalid_priority_total"
)

var droppedFullMetricKeys = [event.TierCount]string{
	event.PriorityGameplay:  "queue_dropped_full_gameplay_total",
	event.PriorityAI:        "queue_dropped_full_ai_total",
	event.PriorityAnalytics: "queue_dropped_full_analytics_total",
	event.PriorityTelemetry: "queue_dropped_full_telemetry_total",
}

var droppedPolicyMetricKeys = [event.TierCount]string{
	event.PriorityGameplay:  "queue_dropped_policy_gameplay_total",
	event.PriorityAI:        "queue_dropped_policy_ai_total",
	event.PriorityAnalytics: "queue_dropped_policy_analytics_total",
	event.PriorityTelemetry: "queue_dropped_policy_telemetry_total",
}

// TierStats is the per-tier slice of a queue snapshot.
type TierStats struct {
	Tier          string `json:"tier"`
	Depth         int    `json:"depth"`
	Capacity      int    `json:"capacity"`
	Accepted      uint64 `json:"accepted"`
	DroppedFull   uint64 `json:"droppedFull"`
	DroppedPolicy uint64 `json:"droppedPolicy"`
}

// Stats is a point-in-time view of the queue served over the stats
// endpoint and asserted in tests.
type Stats struct {
	Frame           uint64                     `json:"frame"`
	Closed          bool                       `json:"closed"`
	Tiers           [event.TierCount]TierStats `json:"tiers"`
	InvalidPriority uint64                     `json:"invalidPriority"`
	Pool            event.PoolStats            `json:"pool"`
}

// AcceptedTotal sums accepted events across tiers.
func (s Stats) AcceptedTotal() uint64 {
	var total uint64
	for _, tier := range s.Tiers {
		total += tier.Accepted
	}
	return total
}

// DroppedTotal sums full and policy drops across tiers.
func (s Stats) DroppedTotal() uint64 {
	var total uint64
	for _, tier := range s.Tiers {
		total += tier.DroppedFull + tier.DroppedPolicy
	}
	return total
}

// Snapshot collects counters from every tier plus the pool. Depth values
// are approximate while producers are active, like ring.Buffer.Len.
func (q *Queue) Snapshot() Stats {
	snap := Stats{
		Frame:           q.frame.Load(),
		Closed:          q.closed.Load(),
		InvalidPriority: q.invalidPriority.Load(),
		Pool:            q.pool.Stats(),
	}
	for p := event.PriorityGameplay; p.Valid(); p++ {
		tier := &q.tiers[p]
		snap.Tiers[p] = TierStats{
			Tier:          p.String(),
			Depth:         q.rings[p].Len(),
			Capacity:      q.rings[p].Cap(),
			Accepted:      tier.accepted.Load(),
			DroppedFull:   tier.droppedFull.Load(),
			DroppedPolicy: tier.droppedPolicy.Load(),
		}
	}
	return snap
}

// DroppedFullCount reports the running full-drop counter for one tier.
func (q *Queue) DroppedFullCount(prio event.Priority) uint64 {
	if !prio.Valid() {
		return 0
	}
	return q.tiers[prio].droppedFull.Load()
}
