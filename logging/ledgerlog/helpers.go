package ledgerlog

import (
	"context"

	"emberfall/server/logging"
)

const (
	// EventAppendFailure is emitted when a frame batch cannot be persisted.
	EventAppendFailure logging.EventType = "ledger.append_failure"
	// EventIntegrityGap is emitted when verification finds missing frames.
	EventIntegrityGap logging.EventType = "ledger.integrity_gap"
)

// AppendFailurePayload identifies the frame that failed to persist.
type AppendFailurePayload struct {
	Frame  uint64 `json:"frame"`
	Events int    `json:"events"`
	Error  string `json:"error"`
}

// IntegrityGapPayload lists missing frames inside a verified range.
type IntegrityGapPayload struct {
	StartFrame uint64   `json:"startFrame"`
	EndFrame   uint64   `json:"endFrame"`
	Missing    []uint64 `json:"missing"`
}

// AppendFailure publishes a persistence error for one frame.
func AppendFailure(ctx context.Context, pub logging.Publisher, payload AppendFailurePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAppendFailure,
		Frame:    payload.Frame,
		Actor:    logging.EntityRef{Kind: logging.EntityKindSystem},
		Severity: logging.SeverityError,
		Category: logging.CategoryLedger,
		Payload:  payload,
	})
}

// IntegrityGap publishes the result of a failed contiguity check.
func IntegrityGap(ctx context.Context, pub logging.Publisher, payload IntegrityGapPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventIntegrityGap,
		Frame:    payload.EndFrame,
		Actor:    logging.EntityRef{Kind: logging.EntityKindSystem},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryLedger,
		Payload:  payload,
	})
}
