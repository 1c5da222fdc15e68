package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"emberfall/server/internal/event"
	"emberfall/server/internal/ledger"
	"emberfall/server/internal/queue"
	"emberfall/server/internal/telemetry"
	"emberfall/server/logging"
	"emberfall/server/logging/dispatchlog"
	"emberfall/server/logging/ledgerlog"
)

// Phase names the dispatcher's position inside a tick. Exposed for the
// stats surface; only the dispatcher goroutine moves it.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseTicking
	PhaseDraining
	PhaseGrouping
	PhaseInvoking
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseTicking:
		return "ticking"
	case PhaseDraining:
		return "draining"
	case PhaseGrouping:
		return "grouping"
	case PhaseInvoking:
		return "invoking"
	default:
		return "unknown"
	}
}

const (
	metricFramesTotal      = "dispatch_frames_total"
	metricEventsTotal      = "dispatch_events_total"
	metricFailuresTotal    = "dispatch_handler_failures_total"
	metricOverrunsTotal    = "dispatch_frame_overruns_total"
	metricUnhandledTotal   = "dispatch_unhandled_events_total"
	metricLedgerAppendFail = "dispatch_ledger_append_failures_total"
)

// ErrMissingDeps rejects construction without a queue or registry.
var ErrMissingDeps = errors.New("dispatch: queue and registry are required")

// Config sizes the tick loop.
type Config struct {
	// TickInterval is the frame budget; the default targets ~60 frames
	// per second.
	TickInterval time.Duration
	// MaxBatchPerTier caps how many events one tick drains from each
	// tier. Whatever stays buffered is picked up next tick.
	MaxBatchPerTier int
	// WorkerCount bounds the fan-out pool for parallel-safe groups.
	// Zero disables the pool; every group then runs inline.
	WorkerCount int
	// FlushOnShutdown dispatches remaining buffered events before the
	// loop exits instead of discarding them.
	FlushOnShutdown bool
	// ShutdownTimeout bounds the wait for in-flight worker tasks.
	ShutdownTimeout time.Duration
}

// DefaultConfig mirrors the sizing used by the dev server.
func DefaultConfig() Config {
	return Config{
		TickInterval:    16 * time.Millisecond,
		MaxBatchPerTier: 512,
		WorkerCount:     4,
		FlushOnShutdown: true,
		ShutdownTimeout: time.Second,
	}
}

// Deps carries the collaborators injected at construction. Ledger may be
// nil when persistence is disabled.
type Deps struct {
	Queue     *queue.Queue
	Registry  *Registry
	Ledger    ledger.Ledger
	Publisher logging.Publisher
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
}

// TimingStats is the dispatcher slice of the stats surface.
type TimingStats struct {
	Frames           uint64  `json:"frames"`
	Events           uint64  `json:"events"`
	Failures         uint64  `json:"handlerFailures"`
	Overruns         uint64  `json:"frameOverruns"`
	Unhandled        uint64  `json:"unhandledEvents"`
	LastFrameMillis  float64 `json:"lastFrameMillis"`
	AvgFrameMillis   float64 `json:"avgFrameMillis"`
	WorstFrameMillis float64 `json:"worstFrameMillis"`
	EventsPerSecond  float64 `json:"eventsPerSecond"`
	Phase            string  `json:"phase"`
}

// Dispatcher owns the frame tick: it advances the frame counter, drains
// the tier rings in strict priority order, groups the drained events by
// type, invokes registered handlers with per-invocation isolation, and
// appends the realized batch to the ledger. Exactly one goroutine runs
// the tick at a time.
type Dispatcher struct {
	cfg       Config
	queue     *queue.Queue
	registry  *Registry
	ledger    ledger.Ledger
	publisher logging.Publisher
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	workers   *workerPool

	phase atomic.Int32

	scratch []event.Handle
	handles []event.Handle
	batch   []event.Record

	mu          sync.Mutex
	startedAt   time.Time
	frames      uint64
	events      uint64
	failures    atomic.Uint64
	overruns    uint64
	unhandled   uint64
	totalMillis float64
	lastMillis  float64
	worstMillis float64
}

// New validates cfg and constructs a dispatcher. Run or Tick starts work.
func New(cfg Config, deps Deps) (*Dispatcher, error) {
	if deps.Queue == nil || deps.Registry == nil {
		return nil, ErrMissingDeps
	}
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MaxBatchPerTier <= 0 {
		cfg.MaxBatchPerTier = def.MaxBatchPerTier
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	d := &Dispatcher{
		cfg:       cfg,
		queue:     deps.Queue,
		registry:  deps.Registry,
		ledger:    deps.Ledger,
		publisher: deps.Publisher,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		scratch:   make([]event.Handle, min(cfg.MaxBatchPerTier, 256)),
		startedAt: time.Now(),
	}
	if cfg.WorkerCount > 0 {
		d.workers = newWorkerPool(cfg.WorkerCount)
	}
	return d, nil
}

// Run drives ticks at the configured interval until ctx is cancelled,
// then performs the shutdown drain and awaits in-flight workers.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return d.shutdown()
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one complete frame and reports how many events it dispatched.
// Callers outside Run use it for deterministic stepping in tests and
// tooling; it must never run concurrently with Run.
func (d *Dispatcher) Tick(ctx context.Context) int {
	start := time.Now()

	d.phase.Store(int32(PhaseTicking))
	frame := d.queue.AdvanceFrame()

	d.phase.Store(int32(PhaseDraining))
	d.handles = d.handles[:0]
	d.batch = d.batch[:0]
	for p := event.PriorityGameplay; p.Valid(); p++ {
		drained := 0
		for drained < d.cfg.MaxBatchPerTier {
			want := d.cfg.MaxBatchPerTier - drained
			if want > len(d.scratch) {
				want = len(d.scratch)
			}
			n := d.queue.DrainTier(p, d.scratch[:want])
			if n == 0 {
				break
			}
			for i := 0; i < n; i++ {
				d.handles = append(d.handles, d.scratch[i])
				d.batch = append(d.batch, *d.scratch[i].Record())
			}
			drained += n
		}
	}

	d.phase.Store(int32(PhaseGrouping))
	groups := groupBatch(d.batch)

	d.phase.Store(int32(PhaseInvoking))
	d.invokeGroups(ctx, frame, groups)

	if d.ledger != nil {
		if err := d.ledger.Append(frame, d.batch); err != nil {
			d.count(metricLedgerAppendFail, 1)
			ledgerlog.AppendFailure(ctx, d.publisher, ledgerlog.AppendFailurePayload{
				Frame:  frame,
				Events: len(d.batch),
				Error:  err.Error(),
			})
		}
	}

	// Pool slots go back only after every handler finished and the frame
	// is in the ledger; nothing downstream can still read them.
	pool := d.queue.Pool()
	for i := range d.handles {
		pool.Release(d.handles[i])
	}

	dispatched := len(d.batch)
	elapsed := time.Since(start)
	d.finishFrame(ctx, frame, dispatched, elapsed)
	d.phase.Store(int32(PhaseIdle))
	return dispatched
}

// group is one homogeneous run of records: same priority tier, same
// TypeID, in drained order.
type group struct {
	typeID  uint16
	prio    event.Priority
	records []event.Record
}

type groupKey struct {
	prio   event.Priority
	typeID uint16
}

// groupBatch splits the drained frame list into type groups. Groups keep
// first-seen order, which is priority order across tiers because the
// batch was drained tier by tier; records within a group keep FIFO order.
func groupBatch(batch []event.Record) []group {
	if len(batch) == 0 {
		return nil
	}
	var groups []group
	index := make(map[groupKey]int, 8)
	for i := range batch {
		rec := &batch[i]
		key := groupKey{prio: rec.Priority, typeID: rec.TypeID}
		at, ok := index[key]
		if !ok {
			at = len(groups)
			index[key] = at
			groups = append(groups, group{typeID: rec.TypeID, prio: rec.Priority})
		}
		groups[at].records = append(groups[at].records, *rec)
	}
	return groups
}

// invokeGroups runs every group's handlers: parallel-safe groups fan out
// to the worker pool, the rest run inline. The frame waits for all of
// them; a wait past the tick budget is reported, never abandoned.
func (d *Dispatcher) invokeGroups(ctx context.Context, frame uint64, groups []group) {
	var wg sync.WaitGroup
	for i := range groups {
		g := &groups[i]
		entries := d.registry.entriesFor(g.typeID)
		if len(entries) == 0 {
			d.noteUnhandled(len(g.records))
			continue
		}
		if d.workers != nil && groupParallelSafe(entries) {
			wg.Add(1)
			d.workers.submit(func() {
				defer wg.Done()
				d.invokeGroup(ctx, frame, g, entries)
			})
			continue
		}
		d.invokeGroup(ctx, frame, g, entries)
	}
	d.awaitGroups(ctx, frame, &wg, len(groups))
}

// awaitGroups blocks until outstanding worker groups finish. If the wait
// alone exceeds the tick budget an overrun warning fires early so a stuck
// handler shows up in logs while it is still stuck.
func (d *Dispatcher) awaitGroups(ctx context.Context, frame uint64, wg *sync.WaitGroup, groupCount int) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	budget := time.NewTimer(d.cfg.TickInterval)
	defer budget.Stop()
	select {
	case <-done:
		return
	case <-budget.C:
		if d.logger != nil {
			d.logger.Printf("[dispatch] frame %d still waiting on worker groups past %s budget (groups=%d)", frame, d.cfg.TickInterval, groupCount)
		}
		<-done
	}
}

// invokeGroup walks the handler list in registration order. Each
// invocation is isolated: a panic or error is recovered, counted, and
// logged with the offending batch's identity, then the next handler runs.
func (d *Dispatcher) invokeGroup(ctx context.Context, frame uint64, g *group, entries []handlerEntry) {
	for _, entry := range entries {
		d.safeInvoke(ctx, frame, g, entry)
	}
}

func (d *Dispatcher) safeInvoke(ctx context.Context, frame uint64, g *group, entry handlerEntry) {
	var err error
	panicked := false
	var stack []byte
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				stack = debug.Stack()
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		err = entry.handler.HandleBatch(ctx, g.records)
	}()
	if err == nil {
		return
	}

	d.failures.Add(1)
	d.count(metricFailuresTotal, 1)
	payload := dispatchlog.HandlerFailurePayload{
		TypeID:    g.typeID,
		Tier:      g.prio.String(),
		BatchSize: len(g.records),
		Error:     err.Error(),
		Panicked:  panicked,
	}
	if len(g.records) > 0 {
		payload.Source = uint64(g.records[0].Source)
		payload.Target = uint64(g.records[0].Target)
	}
	var extra map[string]any
	if panicked {
		extra = map[string]any{"stack": string(stack)}
	}
	actor := logging.EntityRef{ID: entry.name, Kind: logging.EntityKindHandler}
	dispatchlog.HandlerFailure(ctx, d.publisher, frame, actor, payload, extra)
	if d.logger != nil {
		d.logger.Printf("[dispatch] handler %q failed type=%d tier=%s frame=%d: %v", entry.name, g.typeID, g.prio, frame, err)
	}
}

func (d *Dispatcher) noteUnhandled(count int) {
	d.mu.Lock()
	d.unhandled += uint64(count)
	d.mu.Unlock()
	d.count(metricUnhandledTotal, uint64(count))
}

func (d *Dispatcher) finishFrame(ctx context.Context, frame uint64, dispatched int, elapsed time.Duration) {
	millis := float64(elapsed) / float64(time.Millisecond)
	overrun := elapsed > d.cfg.TickInterval

	d.mu.Lock()
	d.frames++
	d.events += uint64(dispatched)
	d.totalMillis += millis
	d.lastMillis = millis
	if millis > d.worstMillis {
		d.worstMillis = millis
	}
	if overrun {
		d.overruns++
	}
	d.mu.Unlock()

	d.count(metricFramesTotal, 1)
	d.count(metricEventsTotal, uint64(dispatched))
	if overrun {
		d.count(metricOverrunsTotal, 1)
		dispatchlog.FrameOverrun(ctx, d.publisher, frame, dispatchlog.FrameOverrunPayload{
			BudgetMillis:  float64(d.cfg.TickInterval) / float64(time.Millisecond),
			ElapsedMillis: millis,
			Events:        dispatched,
		})
	}
}

// Phase reports where the dispatcher currently is inside the tick.
func (d *Dispatcher) Phase() Phase {
	return Phase(d.phase.Load())
}

// Stats snapshots the timing counters.
func (d *Dispatcher) Stats() TimingStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := TimingStats{
		Frames:           d.frames,
		Events:           d.events,
		Failures:         d.failures.Load(),
		Overruns:         d.overruns,
		Unhandled:        d.unhandled,
		LastFrameMillis:  d.lastMillis,
		WorstFrameMillis: d.worstMillis,
		Phase:            d.Phase().String(),
	}
	if d.frames > 0 {
		stats.AvgFrameMillis = d.totalMillis / float64(d.frames)
	}
	if uptime := time.Since(d.startedAt).Seconds(); uptime > 0 {
		stats.EventsPerSecond = float64(d.events) / uptime
	}
	return stats
}

// shutdown runs the final drain. FlushOnShutdown dispatches whatever is
// still buffered through ordinary ticks; otherwise buffered events are
// discarded back to the pool. In-flight worker tasks are awaited up to
// ShutdownTimeout.
func (d *Dispatcher) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout)
	defer cancel()

	d.queue.Close()
	flushed := 0
	discarded := 0
	mode := "discard"
	if d.cfg.FlushOnShutdown {
		mode = "flush"
		for {
			n := d.Tick(ctx)
			flushed += n
			if n == 0 {
				break
			}
		}
	} else {
		discarded = d.queue.DiscardPending(ctx)
	}

	var err error
	if d.workers != nil {
		err = d.closeWorkers(ctx)
	}
	dispatchlog.Shutdown(ctx, d.publisher, d.queue.CurrentFrame(), dispatchlog.ShutdownPayload{
		Mode:      mode,
		Flushed:   flushed,
		Discarded: discarded,
	})
	return err
}

func (d *Dispatcher) closeWorkers(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.workers.close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch: worker pool did not drain before shutdown timeout: %w", ctx.Err())
	}
}

func (d *Dispatcher) count(key string, delta uint64) {
	if d.metrics == nil {
		return
	}
	d.metrics.Add(key, delta)
}
