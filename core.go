// Package server wires the event core together: the unified priority
// queue, the frame dispatcher, the handler registry, and the ledger.
// Every collaborator receives its dependencies explicitly at
// construction; there is no ambient global to look things up in.
package server

import (
	"context"
	"fmt"

	"emberfall/server/catalog"
	"emberfall/server/internal/config"
	"emberfall/server/internal/dispatch"
	"emberfall/server/internal/event"
	"emberfall/server/internal/ledger"
	"emberfall/server/internal/queue"
	"emberfall/server/internal/telemetry"
	"emberfall/server/logging"
)

// CoreDeps carries the infrastructure shared by every core component.
type CoreDeps struct {
	Publisher logging.Publisher
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Catalog   *catalog.Catalog
}

// Core owns the queue, registry, dispatcher, and ledger for one process.
type Core struct {
	Queue      *queue.Queue
	Registry   *dispatch.Registry
	Dispatcher *dispatch.Dispatcher
	Ledger     ledger.Ledger
	Catalog    *catalog.Catalog
}

// NewCore constructs the event core from cfg. The returned Core is ready
// to accept producers; call Run to start the dispatch loop.
func NewCore(cfg config.Config, deps CoreDeps) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}

	cat := deps.Catalog
	if cat == nil {
		loaded, err := catalog.Load(catalog.DefaultPaths()...)
		if err != nil {
			return nil, fmt.Errorf("core: load event catalog: %w", err)
		}
		cat = loaded
	}

	var lg ledger.Ledger
	if cfg.Ledger.Enabled {
		switch cfg.Ledger.Driver {
		case config.LedgerDriverSQLite:
			opened, err := ledger.OpenSQLite(cfg.Ledger.Path)
			if err != nil {
				return nil, fmt.Errorf("core: open ledger: %w", err)
			}
			lg = opened
		default:
			lg = ledger.NewMemory()
		}
	}

	q, err := queue.New(queue.Config{
		TierCapacity:        cfg.Queue.TierCapacities(),
		PoolCapacity:        cfg.Queue.PoolCapacity,
		PoolMaxOverflow:     cfg.Queue.PoolMaxOverflow,
		AIRetryWindow:       cfg.Queue.AIRetryWindow.Std(),
		GameplayRetryWindow: cfg.Queue.GameplayRetryWindow.Std(),
	}, queue.Deps{
		Publisher: deps.Publisher,
		Logger:    deps.Logger,
		Metrics:   deps.Metrics,
	})
	if err != nil {
		if lg != nil {
			_ = lg.Close()
		}
		return nil, err
	}

	registry := dispatch.NewRegistry()
	dispatcher, err := dispatch.New(dispatch.Config{
		TickInterval:    cfg.Dispatcher.TickInterval.Std(),
		MaxBatchPerTier: cfg.Dispatcher.MaxBatchPerTier,
		WorkerCount:     cfg.Dispatcher.WorkerCount,
		FlushOnShutdown: cfg.Dispatcher.FlushOnShutdown,
		ShutdownTimeout: cfg.Dispatcher.ShutdownTimeout.Std(),
	}, dispatch.Deps{
		Queue:     q,
		Registry:  registry,
		Ledger:    lg,
		Publisher: deps.Publisher,
		Logger:    deps.Logger,
		Metrics:   deps.Metrics,
	})
	if err != nil {
		if lg != nil {
			_ = lg.Close()
		}
		return nil, err
	}

	return &Core{
		Queue:      q,
		Registry:   registry,
		Dispatcher: dispatcher,
		Ledger:     lg,
		Catalog:    cat,
	}, nil
}

// Run drives the dispatch loop until ctx is cancelled, then closes the
// ledger once the final drain completes.
func (c *Core) Run(ctx context.Context) error {
	err := c.Dispatcher.Run(ctx)
	if c.Ledger != nil {
		if cerr := c.Ledger.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Enqueue routes one event by type id, resolving the tier from the
// catalog. Types absent from the catalog fall back to Telemetry, the
// least protected tier, so an unregistered producer can never starve
// gameplay traffic.
func (c *Core) Enqueue(typeID uint16, payload []byte, source, target event.EntityID) queue.EnqueueResult {
	prio := event.PriorityTelemetry
	if def, ok := c.Catalog.Lookup(typeID); ok {
		prio = def.Priority
	}
	return c.Queue.Enqueue(typeID, prio, payload, source, target)
}

// StatsSnapshot aggregates every component's counters for the stats
// endpoint.
type StatsSnapshot struct {
	Queue      queue.Stats          `json:"queue"`
	Dispatcher dispatch.TimingStats `json:"dispatcher"`
	Ledger     *LedgerStats         `json:"ledger,omitempty"`
}

// LedgerStats summarizes ledger occupancy.
type LedgerStats struct {
	FirstFrame uint64 `json:"firstFrame"`
	LastFrame  uint64 `json:"lastFrame"`
	Empty      bool   `json:"empty"`
	Error      string `json:"error,omitempty"`
}

// Stats snapshots the whole core.
func (c *Core) Stats() StatsSnapshot {
	snap := StatsSnapshot{
		Queue:      c.Queue.Snapshot(),
		Dispatcher: c.Dispatcher.Stats(),
	}
	if c.Ledger != nil {
		stats := &LedgerStats{}
		first, last, ok, err := c.Ledger.Bounds()
		if err != nil {
			stats.Error = err.Error()
		}
		stats.Empty = !ok
		if ok {
			stats.FirstFrame = first
			stats.LastFrame = last
		}
		snap.Ledger = stats
	}
	return snap
}
