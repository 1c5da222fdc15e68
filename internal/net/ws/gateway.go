// Package ws exposes dispatched event batches to websocket subscribers
// and stages client publishes back into the queue. The gateway is an
// ordinary batch handler registered for every catalog type marked
// forward; it never blocks the dispatcher, slow subscribers lose
// messages instead.
package ws

import (
	"context"
	nethttp "net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"emberfall/server/catalog"
	"emberfall/server/internal/dispatch"
	"emberfall/server/internal/event"
	"emberfall/server/internal/net/intake"
	"emberfall/server/internal/net/proto"
	"emberfall/server/internal/telemetry"
	"emberfall/server/logging"
	"emberfall/server/logging/gatewaylog"
)

const (
	metricSessionsOpened  = "gateway_sessions_opened_total"
	metricSessionsClosed  = "gateway_sessions_closed_total"
	// One batch per (priority, type) group per frame, so a frame with
	// several forwarded types counts several broadcasts.
	metricBatchesBroadcast = "gateway_batches_broadcast_total"
	metricDroppedSlow     = "gateway_messages_dropped_slow_total"
	metricPublishAccepted = "gateway_publish_accepted_total"
	metricPublishRejected = "gateway_publish_rejected_total"
)

// Config tunes the gateway.
type Config struct {
	// SendBuffer is the per-session outbound buffer in messages.
	SendBuffer int
	// WriteTimeout bounds a single websocket write.
	WriteTimeout time.Duration
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		SendBuffer:   64,
		WriteTimeout: 5 * time.Second,
	}
}

// Deps carries the gateway's collaborators.
type Deps struct {
	Catalog   *catalog.Catalog
	Intake    intake.Context
	Publisher logging.Publisher
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
}

// Stats is a point-in-time snapshot of gateway counters.
type Stats struct {
	Sessions        int    `json:"sessions"`
	Broadcasts      uint64 `json:"broadcasts"`
	DroppedSlow     uint64 `json:"droppedSlow"`
	PublishAccepted uint64 `json:"publishAccepted"`
	PublishRejected uint64 `json:"publishRejected"`
}

// Gateway fans dispatched batches out to websocket sessions.
type Gateway struct {
	cfg      Config
	deps     Deps
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[uint64]*session
	nextID   uint64

	broadcasts      atomic.Uint64
	droppedSlow     atomic.Uint64
	publishAccepted atomic.Uint64
	publishRejected atomic.Uint64
}

// NewGateway constructs a gateway. Zero config fields take defaults.
func NewGateway(cfg Config, deps Deps) *Gateway {
	def := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &Gateway{
		cfg:  cfg,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *nethttp.Request) bool {
				return true
			},
		},
		sessions: make(map[uint64]*session),
	}
}

// Register subscribes the gateway to every catalog type marked forward.
// Broadcasting only hands data to per-session buffers, so the handler is
// safe to run off the dispatcher goroutine.
func (g *Gateway) Register(registry *dispatch.Registry) {
	if registry == nil || g.deps.Catalog == nil {
		return
	}
	for _, def := range g.deps.Catalog.Forwarded() {
		registry.Register(def.TypeID, g, dispatch.WithName("gateway"), dispatch.WithParallelSafe())
	}
}

// HandleBatch implements dispatch.Handler: it encodes the batch once and
// offers it to every session.
func (g *Gateway) HandleBatch(_ context.Context, events []event.Record) error {
	if len(events) == 0 {
		return nil
	}
	targets := g.snapshotSessions()
	if len(targets) == 0 {
		return nil
	}

	name := g.deps.Catalog.Name(events[0].TypeID)
	data, err := proto.EncodeFrame(proto.NewFrameMessage(name, events))
	if err != nil {
		return err
	}

	frame := events[0].Frame
	for _, sess := range targets {
		if sess.enqueue(data) {
			continue
		}
		g.droppedSlow.Add(1)
		g.count(metricDroppedSlow, 1)
		// Log the first drop and every power-of-two after it; a stalled
		// subscriber must not flood the log at tick rate.
		if dropped := sess.droppedCount(); dropped&(dropped-1) == 0 {
			gatewaylog.SlowConsumer(context.Background(), g.deps.Publisher, frame, gatewaylog.SlowConsumerPayload{
				Session: sess.id,
				Dropped: dropped,
			})
		}
	}
	g.broadcasts.Add(1)
	g.count(metricBatchesBroadcast, 1)
	return nil
}

// Handle upgrades an HTTP request into a subscriber session and serves it
// until the connection drops.
func (g *Gateway) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logf("upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	sess := g.addSession(conn)
	g.count(metricSessionsOpened, 1)
	gatewaylog.SessionOpened(r.Context(), g.deps.Publisher, g.currentFrame(), gatewaylog.SessionPayload{
		Session:    sess.id,
		RemoteAddr: r.RemoteAddr,
	})

	if data, err := g.helloPayload(sess.id); err == nil {
		sess.enqueue(data)
	} else {
		g.logf("failed to encode hello for session %d: %v", sess.id, err)
	}

	go sess.writeLoop(g.cfg.WriteTimeout)
	g.readLoop(sess, conn)

	g.removeSession(sess)
	g.count(metricSessionsClosed, 1)
	gatewaylog.SessionClosed(context.Background(), g.deps.Publisher, g.currentFrame(), gatewaylog.SessionPayload{
		Session:    sess.id,
		RemoteAddr: r.RemoteAddr,
	})
}

func (g *Gateway) readLoop(sess *session, conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			g.logf("discarding malformed message from session %d: %v", sess.id, err)
			continue
		}

		switch msg.Type {
		case proto.TypePublish:
			staged, ok, reason := intake.StageClientEvent(g.deps.Intake, event.EntityID(sess.id), msg)
			if ok {
				g.publishAccepted.Add(1)
				g.count(metricPublishAccepted, 1)
				if msg.Seq > 0 {
					g.reply(sess, func() ([]byte, error) {
						return proto.EncodeAck(proto.Ack{Seq: msg.Seq, Frame: staged.Frame})
					})
				}
				continue
			}
			g.publishRejected.Add(1)
			g.count(metricPublishRejected, 1)
			gatewaylog.PublishRejected(context.Background(), g.deps.Publisher, g.currentFrame(), gatewaylog.PublishRejectedPayload{
				Session: sess.id,
				Name:    msg.Name,
				Reason:  reason,
			})
			if msg.Seq > 0 {
				g.reply(sess, func() ([]byte, error) {
					return proto.EncodeReject(proto.Reject{
						Seq:    msg.Seq,
						Reason: reason,
						Retry:  intake.RetryableReject(reason),
					})
				})
			}
		case proto.TypeHeartbeat:
			g.reply(sess, func() ([]byte, error) {
				return proto.EncodeHeartbeat(proto.Heartbeat{
					ServerTime: time.Now().UnixMilli(),
					ClientTime: msg.SentAt,
				})
			})
		default:
			g.logf("unknown message type %q from session %d", msg.Type, sess.id)
		}
	}
}

func (g *Gateway) reply(sess *session, encode func() ([]byte, error)) {
	data, err := encode()
	if err != nil {
		g.logf("failed to encode reply for session %d: %v", sess.id, err)
		return
	}
	sess.enqueue(data)
}

func (g *Gateway) helloPayload(sessionID uint64) ([]byte, error) {
	var types []proto.TypeInfo
	if g.deps.Catalog != nil {
		forwarded := g.deps.Catalog.Forwarded()
		types = make([]proto.TypeInfo, 0, len(forwarded))
		for _, def := range forwarded {
			types = append(types, proto.TypeInfo{
				Name:    def.Name,
				TypeID:  def.TypeID,
				Tier:    def.Priority.String(),
				Payload: def.Payload,
			})
		}
	}
	return proto.EncodeHello(sessionID, types)
}

func (g *Gateway) addSession(conn *websocket.Conn) *session {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	sess := newSession(g.nextID, conn, g.cfg.SendBuffer)
	g.sessions[sess.id] = sess
	return sess
}

func (g *Gateway) removeSession(sess *session) {
	g.mu.Lock()
	delete(g.sessions, sess.id)
	g.mu.Unlock()
	sess.close()
}

func (g *Gateway) snapshotSessions() []*session {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sessions) == 0 {
		return nil
	}
	targets := make([]*session, 0, len(g.sessions))
	for _, sess := range g.sessions {
		targets = append(targets, sess)
	}
	return targets
}

// Close drops every session. New connections are still accepted; callers
// stop the HTTP server first.
func (g *Gateway) Close() {
	g.mu.Lock()
	sessions := make([]*session, 0, len(g.sessions))
	for _, sess := range g.sessions {
		sessions = append(sessions, sess)
	}
	g.sessions = make(map[uint64]*session)
	g.mu.Unlock()
	for _, sess := range sessions {
		sess.close()
	}
}

// Stats snapshots the gateway counters.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	sessions := len(g.sessions)
	g.mu.Unlock()
	return Stats{
		Sessions:        sessions,
		Broadcasts:      g.broadcasts.Load(),
		DroppedSlow:     g.droppedSlow.Load(),
		PublishAccepted: g.publishAccepted.Load(),
		PublishRejected: g.publishRejected.Load(),
	}
}

func (g *Gateway) currentFrame() uint64 {
	if g.deps.Intake.Frame == nil {
		return 0
	}
	return g.deps.Intake.Frame()
}

func (g *Gateway) logf(format string, args ...any) {
	if g.deps.Logger == nil {
		return
	}
	g.deps.Logger.Printf(format, args...)
}

func (g *Gateway) count(key string, delta uint64) {
	if g.deps.Metrics == nil {
		return
	}
	g.deps.Metrics.Add(key, delta)
}
