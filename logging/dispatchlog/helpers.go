package dispatchlog

import (
	"context"

	"emberfall/server/logging"
)

const (
	// EventHandlerFailure is emitted when a handler returns an error or
	// panics while processing a batch.
	EventHandlerFailure logging.EventType = "dispatch.handler_failure"
	// EventFrameOverrun is emitted when a frame takes longer than the
	// tick budget.
	EventFrameOverrun logging.EventType = "dispatch.frame_overrun"
	// EventShutdown is emitted once when the dispatch loop stops.
	EventShutdown logging.EventType = "dispatch.shutdown"
	// EventReplayCompleted is emitted after a ledger replay finishes.
	EventReplayCompleted logging.EventType = "dispatch.replay_completed"
)

// HandlerFailurePayload carries the full context of a failed invocation:
// the batch identity plus the ids of the first offending record.
type HandlerFailurePayload struct {
	TypeID    uint16 `json:"typeId"`
	Tier      string `json:"tier"`
	BatchSize int    `json:"batchSize"`
	Source    uint64 `json:"source,omitempty"`
	Target    uint64 `json:"target,omitempty"`
	Error     string `json:"error,omitempty"`
	Panicked  bool   `json:"panicked,omitempty"`
}

// FrameOverrunPayload compares elapsed frame time against the tick budget.
type FrameOverrunPayload struct {
	BudgetMillis  float64 `json:"budgetMillis"`
	ElapsedMillis float64 `json:"elapsedMillis"`
	Events        int     `json:"events"`
}

// ShutdownPayload summarizes the final drain.
type ShutdownPayload struct {
	Mode      string `json:"mode"`
	Flushed   int    `json:"flushed"`
	Discarded int    `json:"discarded"`
}

// ReplayPayload summarizes a completed replay run.
type ReplayPayload struct {
	StartFrame uint64 `json:"startFrame"`
	EndFrame   uint64 `json:"endFrame"`
	Frames     int    `json:"frames"`
	Events     int    `json:"events"`
	Failures   int    `json:"failures"`
}

// HandlerFailure publishes an isolated handler error or panic.
func HandlerFailure(ctx context.Context, pub logging.Publisher, frame uint64, handler logging.EntityRef, payload HandlerFailurePayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventHandlerFailure,
		Frame:    frame,
		Actor:    handler,
		Severity: logging.SeverityError,
		Category: logging.CategoryDispatch,
		Payload:  payload,
		Extra:    extra,
	})
}

// FrameOverrun publishes a budget overrun warning.
func FrameOverrun(ctx context.Context, pub logging.Publisher, frame uint64, payload FrameOverrunPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventFrameOverrun,
		Frame:    frame,
		Actor:    logging.EntityRef{Kind: logging.EntityKindDispatcher},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryDispatch,
		Payload:  payload,
	})
}

// Shutdown publishes the loop stop notice.
func Shutdown(ctx context.Context, pub logging.Publisher, frame uint64, payload ShutdownPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventShutdown,
		Frame:    frame,
		Actor:    logging.EntityRef{Kind: logging.EntityKindDispatcher},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryDispatch,
		Payload:  payload,
	})
}

// ReplayCompleted publishes the outcome of a replay run.
func ReplayCompleted(ctx context.Context, pub logging.Publisher, payload ReplayPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventReplayCompleted,
		Frame:    payload.EndFrame,
		Actor:    logging.EntityRef{Kind: logging.EntityKindSystem},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryDispatch,
		Payload:  payload,
	})
}
