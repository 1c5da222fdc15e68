package dispatch

import (
	"context"
	"errors"
	"fmt"

	"emberfall/server/internal/ledger"
	"emberfall/server/logging"
	"emberfall/server/logging/dispatchlog"
	"emberfall/server/logging/ledgerlog"
)

// ErrReplayGap rejects a replay over a range with missing frames. A
// missing frame cannot be replayed by definition, so the caller decides
// how to shrink the range.
var ErrReplayGap = errors.New("dispatch: replay range has missing frames")

// ReplayReport summarizes a completed replay.
type ReplayReport struct {
	StartFrame uint64
	EndFrame   uint64
	Frames     int
	Events     int
	Failures   uint64
}

// Replayer re-invokes persisted frame batches against a fresh registry.
// It never touches the live registry: replaying production handlers
// would double every side effect. Replay is strictly sequential, one
// frame at a time in ledger order, so the invocation sequence is a pure
// function of the persisted batches.
type Replayer struct {
	publisher logging.Publisher
}

// NewReplayer constructs a replayer. publisher may be nil.
func NewReplayer(publisher logging.Publisher) *Replayer {
	if publisher == nil {
		publisher = logging.NopPublisher()
	}
	return &Replayer{publisher: publisher}
}

// Replay loads [start, end] from lg and dispatches every stored batch
// against registry, grouped exactly like live dispatch. Handler failures
// are isolated and counted like live dispatch, then reported in the
// returned summary.
func (r *Replayer) Replay(ctx context.Context, lg ledger.Ledger, start, end uint64, registry *Registry) (ReplayReport, error) {
	report := ReplayReport{StartFrame: start, EndFrame: end}
	if lg == nil {
		return report, fmt.Errorf("dispatch: replay requires a ledger")
	}
	if registry == nil {
		return report, fmt.Errorf("dispatch: replay requires a registry")
	}

	missing, err := lg.VerifyContiguous(start, end)
	if err != nil {
		return report, fmt.Errorf("dispatch: verify replay range: %w", err)
	}
	if len(missing) > 0 {
		ledgerlog.IntegrityGap(ctx, r.publisher, ledgerlog.IntegrityGapPayload{
			StartFrame: start,
			EndFrame:   end,
			Missing:    missing,
		})
		return report, fmt.Errorf("%w: %d missing in [%d, %d]", ErrReplayGap, len(missing), start, end)
	}

	entries, err := lg.LoadRange(start, end)
	if err != nil {
		return report, fmt.Errorf("dispatch: load replay range: %w", err)
	}

	// A throwaway dispatcher shell reuses the live invocation path (group
	// isolation, failure logging) without a queue, ticker, or workers.
	shell := &Dispatcher{
		cfg:       DefaultConfig(),
		registry:  registry,
		publisher: r.publisher,
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("dispatch: replay cancelled at frame %d: %w", entry.Frame, err)
		}
		groups := groupBatch(entry.Events)
		for i := range groups {
			g := &groups[i]
			handlers := registry.entriesFor(g.typeID)
			if len(handlers) == 0 {
				continue
			}
			shell.invokeGroup(ctx, entry.Frame, g, handlers)
		}
		report.Frames++
		report.Events += len(entry.Events)
	}
	report.Failures = shell.failures.Load()

	dispatchlog.ReplayCompleted(ctx, r.publisher, dispatchlog.ReplayPayload{
		StartFrame: start,
		EndFrame:   end,
		Frames:     report.Frames,
		Events:     report.Events,
		Failures:   int(report.Failures),
	})
	return report, nil
}
