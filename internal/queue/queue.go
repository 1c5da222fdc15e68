package queue

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"emberfall/server/internal/event"
	"emberfall/server/internal/ring"
	"emberfall/server/internal/telemetry"
	"emberfall/server/logging"
	"emberfall/server/logging/queuelog"
)

// EnqueueResult reports the outcome of an Enqueue call. Rejections are
// signals, never errors; producers treat them as non-fatal.
type EnqueueResult uint8

const (
	// Accepted means the event landed in its tier's ring.
	Accepted EnqueueResult = iota
	// DroppedFull means the tier stayed full through the retry window.
	DroppedFull
	// DroppedPolicy means the event was rejected before reaching a ring:
	// closed queue, invalid priority, or oversized payload.
	DroppedPolicy
)

func (r EnqueueResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case DroppedFull:
		return "dropped_full"
	case DroppedPolicy:
		return "dropped_policy"
	default:
		return "unknown"
	}
}

// Config sizes the tier rings, the record pool, and the bounded retry
// windows applied before a full tier rejects.
type Config struct {
	TierCapacity    [event.TierCount]int
	PoolCapacity    int
	PoolMaxOverflow int
	// AIRetryWindow bounds the spin for a full AI tier.
	AIRetryWindow time.Duration
	// GameplayRetryWindow bounds the longer wait for a full Gameplay tier.
	GameplayRetryWindow time.Duration
}

// DefaultConfig mirrors the sizing used by the dev server.
func DefaultConfig() Config {
	return Config{
		TierCapacity: [event.TierCount]int{
			event.PriorityGameplay:  1024,
			event.PriorityAI:        1024,
			event.PriorityAnalytics: 2048,
			event.PriorityTelemetry: 4096,
		},
		PoolCapacity:        8192,
		PoolMaxOverflow:     1024,
		AIRetryWindow:       4 * time.Microsecond,
		GameplayRetryWindow: 100 * time.Microsecond,
	}
}

// Deps carries the infrastructure dependencies injected at construction.
type Deps struct {
	Publisher logging.Publisher
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
}

type tierCounters struct {
	accepted      atomic.Uint64
	droppedFull   atomic.Uint64
	droppedPolicy atomic.Uint64
}

// Queue routes events into one lock-free ring per priority tier and owns
// the frame counter and the backpressure policy. Any goroutine may call
// Enqueue; draining belongs to exactly one dispatcher.
type Queue struct {
	cfg   Config
	rings [event.TierCount]*ring.Buffer
	pool  *event.Pool

	frame atomic.Uint64
	seq   atomic.Uint32

	closed          atomic.Bool
	tiers           [event.TierCount]tierCounters
	invalidPriority atomic.Uint64

	publisher logging.Publisher
	logger    telemetry.Logger
	metrics   telemetry.Metrics
}

// New validates cfg and constructs the queue. Every tier capacity must be
// a power of two.
func New(cfg Config, deps Deps) (*Queue, error) {
	if cfg.PoolCapacity <= 0 {
		cfg.PoolCapacity = DefaultConfig().PoolCapacity
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	q := &Queue{
		cfg:       cfg,
		pool:      event.NewPool(cfg.PoolCapacity, cfg.PoolMaxOverflow, deps.Metrics),
		publisher: deps.Publisher,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}
	for p := event.PriorityGameplay; p.Valid(); p++ {
		buf, err := ring.NewBuffer(cfg.TierCapacity[p])
		if err != nil {
			return nil, fmt.Errorf("queue: %s tier: %w", p, err)
		}
		q.rings[p] = buf
	}
	return q, nil
}

// Enqueue stamps a pooled record with the current frame and places it in
// the tier ring for prio. It never blocks beyond the tier's bounded retry
// window and never returns an error to the producer.
func (q *Queue) Enqueue(typeID uint16, prio event.Priority, payload []byte, source, target event.EntityID) EnqueueResult {
	if !prio.Valid() {
		q.invalidPriority.Add(1)
		q.count(metricInvalidPriority, 1)
		return DroppedPolicy
	}
	tier := &q.tiers[prio]
	if q.closed.Load() {
		tier.droppedPolicy.Add(1)
		q.count(droppedPolicyMetricKeys[prio], 1)
		return DroppedPolicy
	}
	if len(payload) > event.PayloadSize {
		tier.droppedPolicy.Add(1)
		q.count(droppedPolicyMetricKeys[prio], 1)
		return DroppedPolicy
	}

	h, ok := q.pool.Acquire()
	if !ok {
		q.warnPoolOverflow()
	}
	rec := h.Record()
	rec.TypeID = typeID
	rec.Priority = prio
	rec.Seq = q.seq.Add(1)
	rec.Frame = q.frame.Load()
	rec.Source = source
	rec.Target = target
	if err := rec.SetPayload(payload); err != nil {
		q.pool.Release(h)
		tier.droppedPolicy.Add(1)
		q.count(droppedPolicyMetricKeys[prio], 1)
		return DroppedPolicy
	}

	if q.rings[prio].TryEnqueue(h) {
		tier.accepted.Add(1)
		return Accepted
	}
	if window := q.retryWindow(prio); window > 0 {
		deadline := time.Now().Add(window)
		for {
			runtime.Gosched()
			if q.rings[prio].TryEnqueue(h) {
				tier.accepted.Add(1)
				return Accepted
			}
			if !time.Now().Before(deadline) {
				break
			}
		}
	}

	q.pool.Release(h)
	count := tier.droppedFull.Add(1)
	q.count(droppedFullMetricKeys[prio], 1)
	if prio == event.PriorityGameplay {
		q.reportGameplayDrop(typeID, source, count)
	}
	return DroppedFull
}

// CurrentFrame reports the frame stamped onto newly enqueued events.
func (q *Queue) CurrentFrame() uint64 {
	return q.frame.Load()
}

// AdvanceFrame moves the frame counter forward and returns the new frame.
// The dispatcher calls it exactly once per tick.
func (q *Queue) AdvanceFrame() uint64 {
	return q.frame.Add(1)
}

// DrainTier moves up to len(dst) events from prio's ring into dst in FIFO
// order. Consumer-only, like ring.Buffer.DrainBatch.
func (q *Queue) DrainTier(prio event.Priority, dst []event.Handle) int {
	if !prio.Valid() {
		return 0
	}
	return q.rings[prio].DrainBatch(dst)
}

// Pool exposes the record pool so the dispatcher can release handles once
// a frame completes.
func (q *Queue) Pool() *event.Pool {
	return q.pool
}

// Depth reports the buffered event count for one tier.
func (q *Queue) Depth(prio event.Priority) int {
	if !prio.Valid() {
		return 0
	}
	return q.rings[prio].Len()
}

// Close stops accepting new events. Buffered events stay drainable so the
// dispatcher can flush or discard them per its shutdown mode.
func (q *Queue) Close() {
	q.closed.Store(true)
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	return q.closed.Load()
}

// DiscardPending drains every tier and returns the records to the pool,
// reporting how many events were thrown away.
func (q *Queue) DiscardPending(ctx context.Context) int {
	discarded := 0
	scratch := make([]event.Handle, 256)
	for p := event.PriorityGameplay; p.Valid(); p++ {
		for {
			n := q.rings[p].DrainBatch(scratch)
			if n == 0 {
				break
			}
			for i := 0; i < n; i++ {
				q.pool.Release(scratch[i])
			}
			discarded += n
		}
	}
	if discarded > 0 {
		queuelog.Closed(ctx, q.publisher, q.frame.Load(), queuelog.ClosedPayload{Discarded: discarded})
	}
	return discarded
}

func (q *Queue) retryWindow(prio event.Priority) time.Duration {
	switch prio {
	case event.PriorityGameplay:
		return q.cfg.GameplayRetryWindow
	case event.PriorityAI:
		return q.cfg.AIRetryWindow
	default:
		return 0
	}
}

// reportGameplayDrop logs loudly but sampled: only when the running drop
// count is a power of two.
func (q *Queue) reportGameplayDrop(typeID uint16, source event.EntityID, count uint64) {
	if count == 0 || count&(count-1) != 0 {
		return
	}
	if q.logger != nil {
		q.logger.Printf(
			"[backpressure] dropping gameplay event type=%d source=%d count=%d capacity=%d",
			typeID,
			source,
			count,
			q.cfg.TierCapacity[event.PriorityGameplay],
		)
	}
	queuelog.BackpressureDrop(context.Background(), q.publisher, q.frame.Load(),
		logging.EntityRef{ID: fmt.Sprintf("%d", source), Kind: logging.EntityKindProducer},
		queuelog.BackpressureDropPayload{
			Tier:      event.PriorityGameplay.String(),
			TypeID:    typeID,
			DropCount: count,
			Capacity:  q.cfg.TierCapacity[event.PriorityGameplay],
		})
}

func (q *Queue) warnPoolOverflow() {
	stats := q.pool.Stats()
	if stats.Growth == 0 || stats.Growth&(stats.Growth-1) != 0 {
		return
	}
	if q.logger != nil {
		q.logger.Printf("[pool] record pool exhausted, heap fallback in use growth=%d capacity=%d", stats.Growth, stats.Capacity)
	}
}

func (q *Queue) count(key string, delta uint64) {
	if q.metrics == nil {
		return
	}
	q.metrics.Add(key, delta)
}
