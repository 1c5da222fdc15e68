// Package net serves the HTTP surface: health, stats, the event catalog,
// ledger inspection, and the websocket upgrade.
package net

import (
	"encoding/json"
	nethttp "net/http"
	"strconv"
	"time"

	"emberfall/server"
	"emberfall/server/catalog"
	"emberfall/server/internal/ledger"
	"emberfall/server/internal/net/ws"
	"emberfall/server/internal/observability"
	"emberfall/server/logging"
)

// HTTPHandlerConfig carries the optional collaborators of the HTTP
// surface. Nil fields disable their endpoints.
type HTTPHandlerConfig struct {
	Gateway       *ws.Gateway
	Router        *logging.Router
	Observability observability.Config
}

type statsResponse struct {
	server.StatsSnapshot
	Gateway *ws.Stats     `json:"gateway,omitempty"`
	Logging *loggingStats `json:"logging,omitempty"`
}

type loggingStats struct {
	Events  uint64 `json:"events"`
	Dropped uint64 `json:"dropped"`
}

type catalogEntryView struct {
	Name         string `json:"name"`
	TypeID       uint16 `json:"typeId"`
	Tier         string `json:"tier"`
	Forward      bool   `json:"forward,omitempty"`
	ParallelSafe bool   `json:"parallelSafe,omitempty"`
	Payload      string `json:"payload,omitempty"`
	Description  string `json:"description,omitempty"`
}

type ledgerFrameView struct {
	Frame  uint64            `json:"frame"`
	Events []ledgerEventView `json:"events"`
}

type ledgerEventView struct {
	Name    string `json:"name"`
	TypeID  uint16 `json:"typeId"`
	Tier    string `json:"tier"`
	Seq     uint32 `json:"seq"`
	Source  uint64 `json:"source,omitempty"`
	Target  uint64 `json:"target,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// NewHTTPHandler builds the server mux around a core.
func NewHTTPHandler(core *server.Core, cfg HTTPHandlerConfig) nethttp.Handler {
	mux := nethttp.NewServeMux()

	mux.HandleFunc("/healthz", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		writeJSON(w, struct {
			Status     string `json:"status"`
			Frame      uint64 `json:"frame"`
			ServerTime int64  `json:"serverTime"`
		}{
			Status:     "ok",
			Frame:      core.Queue.CurrentFrame(),
			ServerTime: time.Now().UnixMilli(),
		})
	})

	mux.HandleFunc("/stats", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := statsResponse{StatsSnapshot: core.Stats()}
		if cfg.Gateway != nil {
			stats := cfg.Gateway.Stats()
			payload.Gateway = &stats
		}
		if cfg.Router != nil {
			stats := cfg.Router.Stats()
			payload.Logging = &loggingStats{Events: stats.EventsTotal, Dropped: stats.DroppedTotal}
		}
		writeJSON(w, payload)
	})

	mux.HandleFunc("/catalog", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		defs := core.Catalog.All()
		entries := make([]catalogEntryView, 0, len(defs))
		for _, def := range defs {
			entries = append(entries, catalogEntryView{
				Name:         def.Name,
				TypeID:       def.TypeID,
				Tier:         def.Priority.String(),
				Forward:      def.Forward,
				ParallelSafe: def.ParallelSafe,
				Payload:      def.Payload,
				Description:  def.Description,
			})
		}
		writeJSON(w, struct {
			Events []catalogEntryView `json:"events"`
		}{Events: entries})
	})

	mux.HandleFunc("/ledger/frames", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		if core.Ledger == nil {
			httpError(w, "ledger disabled", nethttp.StatusNotFound)
			return
		}

		start, err := queryUint(r, "start")
		if err != nil {
			httpError(w, "invalid start", nethttp.StatusBadRequest)
			return
		}
		end, err := queryUint(r, "end")
		if err != nil {
			httpError(w, "invalid end", nethttp.StatusBadRequest)
			return
		}
		if start == 0 || end < start {
			httpError(w, "invalid range", nethttp.StatusBadRequest)
			return
		}

		entries, err := core.Ledger.LoadRange(start, end)
		if err != nil {
			httpError(w, "failed to load range", nethttp.StatusInternalServerError)
			return
		}

		frames := make([]ledgerFrameView, 0, len(entries))
		for _, entry := range entries {
			frames = append(frames, ledgerFrameView{
				Frame:  entry.Frame,
				Events: ledgerEventViews(core.Catalog, entry),
			})
		}
		writeJSON(w, struct {
			Frames []ledgerFrameView `json:"frames"`
		}{Frames: frames})
	})

	if cfg.Gateway != nil {
		mux.HandleFunc("/ws", cfg.Gateway.Handle)
	}
	observability.RegisterPprof(mux, cfg.Observability)

	return mux
}

func ledgerEventViews(cat *catalog.Catalog, entry ledger.Entry) []ledgerEventView {
	views := make([]ledgerEventView, 0, len(entry.Events))
	for i := range entry.Events {
		rec := &entry.Events[i]
		view := ledgerEventView{
			Name:   cat.Name(rec.TypeID),
			TypeID: rec.TypeID,
			Tier:   rec.Priority.String(),
			Seq:    rec.Seq,
			Source: uint64(rec.Source),
			Target: uint64(rec.Target),
		}
		if payload := rec.PayloadBytes(); len(payload) > 0 {
			view.Payload = append([]byte(nil), payload...)
		}
		views = append(views, view)
	}
	return views
}

func queryUint(r *nethttp.Request, key string) (uint64, error) {
	return strconv.ParseUint(r.URL.Query().Get(key), 10, 64)
}

func writeJSON(w nethttp.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
