package gatewaylog

import (
	"context"

	"emberfall/server/logging"
)

const (
	// EventSessionOpened is emitted when a subscriber connects.
	EventSessionOpened logging.EventType = "gateway.session_opened"
	// EventSessionClosed is emitted when a subscriber disconnects.
	EventSessionClosed logging.EventType = "gateway.session_closed"
	// EventSlowConsumer is emitted when a session's send buffer overflows
	// and a broadcast is dropped for it.
	EventSlowConsumer logging.EventType = "gateway.slow_consumer"
	// EventPublishRejected is emitted when a client publish is refused.
	EventPublishRejected logging.EventType = "gateway.publish_rejected"
)

// SessionPayload identifies one subscriber session.
type SessionPayload struct {
	Session    uint64 `json:"session"`
	RemoteAddr string `json:"remoteAddr,omitempty"`
}

// SlowConsumerPayload reports accumulated drops for a lagging session.
type SlowConsumerPayload struct {
	Session uint64 `json:"session"`
	Dropped uint64 `json:"dropped"`
}

// PublishRejectedPayload carries the reject handed back to the client.
type PublishRejectedPayload struct {
	Session uint64 `json:"session"`
	Name    string `json:"name,omitempty"`
	Reason  string `json:"reason"`
}

// SessionOpened publishes a subscriber connect notice.
func SessionOpened(ctx context.Context, pub logging.Publisher, frame uint64, payload SessionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSessionOpened,
		Frame:    frame,
		Actor:    logging.EntityRef{Kind: logging.EntityKindSystem},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryGateway,
		Payload:  payload,
	})
}

// SessionClosed publishes a subscriber disconnect notice.
func SessionClosed(ctx context.Context, pub logging.Publisher, frame uint64, payload SessionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSessionClosed,
		Frame:    frame,
		Actor:    logging.EntityRef{Kind: logging.EntityKindSystem},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryGateway,
		Payload:  payload,
	})
}

// SlowConsumer publishes a sampled warning for a lagging session.
func SlowConsumer(ctx context.Context, pub logging.Publisher, frame uint64, payload SlowConsumerPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSlowConsumer,
		Frame:    frame,
		Actor:    logging.EntityRef{Kind: logging.EntityKindSystem},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryGateway,
		Payload:  payload,
	})
}

// PublishRejected publishes a debug notice for a refused client publish.
func PublishRejected(ctx context.Context, pub logging.Publisher, frame uint64, payload PublishRejectedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPublishRejected,
		Frame:    frame,
		Actor:    logging.EntityRef{Kind: logging.EntityKindSystem},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryGateway,
		Payload:  payload,
	})
}
