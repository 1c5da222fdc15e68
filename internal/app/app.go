// Package app boots the process: configuration, the logging router, the
// event core, the websocket gateway, and the HTTP server, with an
// orderly shutdown in the reverse order.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	server "emberfall/server"
	"emberfall/server/internal/config"
	servernet "emberfall/server/internal/net"
	"emberfall/server/internal/net/intake"
	"emberfall/server/internal/net/ws"
	"emberfall/server/internal/observability"
	"emberfall/server/internal/telemetry"
	"emberfall/server/logging"
	loggingSinks "emberfall/server/logging/sinks"
)

const shutdownGrace = 5 * time.Second

// Config carries process-level options not covered by the config file.
type Config struct {
	// ConfigPath locates the TOML configuration; empty means defaults
	// plus environment variables.
	ConfigPath string
	Logger     telemetry.Logger
}

// Run boots the server and blocks until ctx is cancelled or serving
// fails.
func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}

	fileCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return err
	}

	router, closeSinks, err := buildRouter(fileCfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
		closeSinks()
	}()

	metrics := &logging.Metrics{}
	core, err := server.NewCore(fileCfg, server.CoreDeps{
		Publisher: router,
		Logger:    logger,
		Metrics:   telemetry.WrapMetrics(metrics),
	})
	if err != nil {
		return err
	}

	var gateway *ws.Gateway
	if fileCfg.Gateway.Enabled {
		gateway = ws.NewGateway(ws.Config{SendBuffer: fileCfg.Gateway.SendBufferSize}, ws.Deps{
			Catalog: core.Catalog,
			Intake: intake.Context{
				Catalog: core.Catalog,
				Queue:   core,
				Frame:   core.Queue.CurrentFrame,
			},
			Publisher: router,
			Logger:    logger,
			Metrics:   telemetry.WrapMetrics(metrics),
		})
		gateway.Register(core.Registry)
	}

	observabilityCfg := observability.Config{}
	if raw := os.Getenv("EMBERFALL_PPROF_TRACE"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			observabilityCfg.EnablePprofTrace = value
		} else {
			logger.Printf("invalid EMBERFALL_PPROF_TRACE=%q: %v", raw, err)
		}
	}

	handler := servernet.NewHTTPHandler(core, servernet.HTTPHandlerConfig{
		Gateway:       gateway,
		Router:        router,
		Observability: observabilityCfg,
	})
	srv := &http.Server{Addr: fileCfg.HTTPAddr, Handler: handler}

	coreCtx, stopCore := context.WithCancel(context.Background())
	coreDone := make(chan error, 1)
	go func() {
		coreDone <- core.Run(coreCtx)
	}()

	serveDone := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
			return
		}
		serveDone <- nil
	}()
	logger.Printf("server listening on %s", srv.Addr)

	select {
	case err := <-serveDone:
		// Serving failed on its own; drain the core before reporting.
		if gateway != nil {
			gateway.Close()
		}
		stopCore()
		if coreErr := <-coreDone; coreErr != nil {
			logger.Printf("core stopped with error: %v", coreErr)
		}
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Shutdown order: stop accepting HTTP, drop websocket sessions, then
	// let the core flush its final frames.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}
	if gateway != nil {
		gateway.Close()
	}
	stopCore()
	<-serveDone
	return <-coreDone
}

// buildRouter assembles the structured-logging router from config. The
// returned closer releases any sink files once the router is closed.
func buildRouter(cfg config.LoggingConfig) (*logging.Router, func(), error) {
	logCfg := logging.DefaultConfig()
	if len(cfg.Sinks) > 0 {
		logCfg.EnabledSinks = cfg.Sinks
	}
	if cfg.BufferSize > 0 {
		logCfg.BufferSize = cfg.BufferSize
	}
	if cfg.MinSeverity != "" {
		sev, ok := logging.ParseSeverity(cfg.MinSeverity)
		if !ok {
			return nil, nil, fmt.Errorf("unknown log severity %q", cfg.MinSeverity)
		}
		logCfg.MinimumSeverity = sev
	}
	logCfg.JSON.FilePath = cfg.JSONPath

	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	named := make([]logging.NamedSink, 0, len(logCfg.EnabledSinks))
	for _, name := range logCfg.EnabledSinks {
		switch name {
		case "console":
			named = append(named, logging.NamedSink{
				Name: name,
				Sink: loggingSinks.NewConsole(os.Stdout, logCfg.Console),
			})
		case "json":
			var w io.Writer = os.Stdout
			if logCfg.JSON.FilePath != "" {
				f, err := os.OpenFile(logCfg.JSON.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
				if err != nil {
					closeAll()
					return nil, nil, fmt.Errorf("open log file: %w", err)
				}
				closers = append(closers, f)
				w = f
			}
			named = append(named, logging.NamedSink{
				Name: name,
				Sink: loggingSinks.NewJSON(w, logCfg.JSON.FlushInterval),
			})
		case "memory":
			named = append(named, logging.NamedSink{Name: name, Sink: loggingSinks.NewMemory()})
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown log sink %q", name)
		}
	}

	router, err := logging.NewRouter(logging.SystemClock{}, logCfg, named)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return router, closeAll, nil
}
