// Package intake validates client publish messages and stages them into
// the event queue. It sits between the websocket gateway and the core so
// the gateway never touches queue semantics directly.
package intake

import (
	"emberfall/server/catalog"
	"emberfall/server/internal/event"
	"emberfall/server/internal/net/proto"
	"emberfall/server/internal/queue"
)

// Reject reasons mirrored back to clients.
const (
	RejectInvalidMessage  = "invalidMessage"
	RejectUnknownType     = "unknownType"
	RejectPayloadTooLarge = "payloadTooLarge"
	RejectQueueFull       = "queueFull"
	RejectShuttingDown    = "shuttingDown"
)

// Enqueuer routes one event by type id. The core satisfies this.
type Enqueuer interface {
	Enqueue(typeID uint16, payload []byte, source, target event.EntityID) queue.EnqueueResult
}

// Context carries the collaborators staging needs.
type Context struct {
	Catalog *catalog.Catalog
	Queue   Enqueuer
	Frame   func() uint64
}

// StagedEvent describes an accepted publish.
type StagedEvent struct {
	TypeID uint16
	Tier   string
	Frame  uint64
}

// StageClientEvent validates msg against the catalog and enqueues it with
// the session as source. On refusal it returns false plus a reject reason
// for the client.
func StageClientEvent(ctx Context, session event.EntityID, msg proto.ClientMessage) (StagedEvent, bool, string) {
	var zero StagedEvent

	if msg.Name == "" {
		return zero, false, RejectInvalidMessage
	}
	if ctx.Catalog == nil || ctx.Queue == nil {
		return zero, false, RejectShuttingDown
	}

	def, ok := ctx.Catalog.ByName(msg.Name)
	if !ok {
		return zero, false, RejectUnknownType
	}
	if len(msg.Payload) > event.PayloadSize {
		return zero, false, RejectPayloadTooLarge
	}

	switch ctx.Queue.Enqueue(def.TypeID, msg.Payload, session, event.EntityID(msg.Target)) {
	case queue.Accepted:
	case queue.DroppedFull:
		return zero, false, RejectQueueFull
	default:
		return zero, false, RejectShuttingDown
	}

	staged := StagedEvent{
		TypeID: def.TypeID,
		Tier:   def.Priority.String(),
	}
	if ctx.Frame != nil {
		staged.Frame = ctx.Frame()
	}
	return staged, true, ""
}

// RetryableReject reports whether the client should resend after a short
// backoff. Only transient queue pressure qualifies.
func RetryableReject(reason string) bool {
	return reason == RejectQueueFull
}
