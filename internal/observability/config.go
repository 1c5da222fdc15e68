// Package observability holds opt-in profiling toggles. Everything here
// is off by default; production traffic pays nothing for it.
package observability

import (
	nethttp "net/http"
	"net/http/pprof"
)

// Config captures opt-in observability toggles that wire into the server.
type Config struct {
	EnablePprofTrace bool
}

// RegisterPprof mounts the pprof handlers on mux when enabled. The
// standard library registers them on the default mux only, which the
// server deliberately does not use.
func RegisterPprof(mux *nethttp.ServeMux, cfg Config) {
	if !cfg.EnablePprofTrace {
		return
	}
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
