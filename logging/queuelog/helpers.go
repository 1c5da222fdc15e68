package queuelog

import (
	"context"

	"emberfall/server/logging"
)

const (
	// EventBackpressureDrop is emitted when a tier rejects an enqueue.
	EventBackpressureDrop logging.EventType = "queue.backpressure_drop"
	// EventClosed is emitted when the queue stops accepting events.
	EventClosed logging.EventType = "queue.closed"
)

// BackpressureDropPayload captures the rejected enqueue and the running
// drop count for its tier.
type BackpressureDropPayload struct {
	Tier      string `json:"tier"`
	TypeID    uint16 `json:"typeId"`
	DropCount uint64 `json:"dropCount"`
	Capacity  int    `json:"capacity"`
}

// ClosedPayload reports how many buffered events were discarded at close.
type ClosedPayload struct {
	Discarded int `json:"discarded"`
}

// BackpressureDrop publishes a tier rejection. Callers are expected to
// sample; every drop is still counted in metrics.
func BackpressureDrop(ctx context.Context, pub logging.Publisher, frame uint64, source logging.EntityRef, payload BackpressureDropPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventBackpressureDrop,
		Frame:    frame,
		Actor:    source,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryQueue,
		Payload:  payload,
	})
}

// Closed publishes the queue shutdown notice.
func Closed(ctx context.Context, pub logging.Publisher, frame uint64, payload ClosedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventClosed,
		Frame:    frame,
		Actor:    logging.EntityRef{Kind: logging.EntityKindSystem},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryQueue,
		Payload:  payload,
	})
}
