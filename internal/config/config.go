// Package config loads the server configuration in three layers:
// compiled defaults, an optional TOML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"emberfall/server/internal/event"
)

// Duration wraps time.Duration so values like "16ms" decode from both
// TOML and environment variables through encoding.TextUnmarshaler.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std converts back to the standard library type.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// LedgerDriver selects the ledger backend.
type LedgerDriver string

const (
	LedgerDriverMemory LedgerDriver = "memory"
	LedgerDriverSQLite LedgerDriver = "sqlite"
)

// Config is the full server configuration.
type Config struct {
	HTTPAddr string `toml:"http_addr" env:"EMBERFALL_HTTP_ADDR"`

	Queue      QueueConfig      `toml:"queue"`
	Dispatcher DispatcherConfig `toml:"dispatcher"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Logging    LoggingConfig    `toml:"logging"`
	Gateway    GatewayConfig    `toml:"gateway"`
}

// QueueConfig sizes the tier rings and the record pool. Capacities must
// be powers of two.
type QueueConfig struct {
	GameplayCapacity  int `toml:"gameplay_capacity" env:"EMBERFALL_QUEUE_GAMEPLAY_CAPACITY"`
	AICapacity        int `toml:"ai_capacity" env:"EMBERFALL_QUEUE_AI_CAPACITY"`
	AnalyticsCapacity int `toml:"analytics_capacity" env:"EMBERFALL_QUEUE_ANALYTICS_CAPACITY"`
	TelemetryCapacity int `toml:"telemetry_capacity" env:"EMBERFALL_QUEUE_TELEMETRY_CAPACITY"`
	PoolCapacity      int `toml:"pool_capacity" env:"EMBERFALL_QUEUE_POOL_CAPACITY"`
	PoolMaxOverflow   int `toml:"pool_max_overflow" env:"EMBERFALL_QUEUE_POOL_MAX_OVERFLOW"`

	AIRetryWindow       Duration `toml:"ai_retry_window" env:"EMBERFALL_QUEUE_AI_RETRY_WINDOW"`
	GameplayRetryWindow Duration `toml:"gameplay_retry_window" env:"EMBERFALL_QUEUE_GAMEPLAY_RETRY_WINDOW"`
}

// DispatcherConfig sizes the tick loop.
type DispatcherConfig struct {
	TickInterval    Duration `toml:"tick_interval" env:"EMBERFALL_TICK_INTERVAL"`
	MaxBatchPerTier int      `toml:"max_batch_per_tier" env:"EMBERFALL_MAX_BATCH_PER_TIER"`
	WorkerCount     int      `toml:"worker_count" env:"EMBERFALL_WORKER_COUNT"`
	FlushOnShutdown bool     `toml:"flush_on_shutdown" env:"EMBERFALL_FLUSH_ON_SHUTDOWN"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" env:"EMBERFALL_SHUTDOWN_TIMEOUT"`
}

// LedgerConfig selects and locates the ledger backend.
type LedgerConfig struct {
	Enabled bool         `toml:"enabled" env:"EMBERFALL_LEDGER_ENABLED"`
	Driver  LedgerDriver `toml:"driver" env:"EMBERFALL_LEDGER_DRIVER"`
	Path    string       `toml:"path" env:"EMBERFALL_LEDGER_PATH"`
}

// LoggingConfig tunes the structured-logging router.
type LoggingConfig struct {
	Sinks       []string `toml:"sinks" env:"EMBERFALL_LOG_SINKS"`
	BufferSize  int      `toml:"buffer_size" env:"EMBERFALL_LOG_BUFFER_SIZE"`
	MinSeverity string   `toml:"min_severity" env:"EMBERFALL_LOG_MIN_SEVERITY"`
	JSONPath    string   `toml:"json_path" env:"EMBERFALL_LOG_JSON_PATH"`
}

// GatewayConfig tunes the websocket forwarding gateway.
type GatewayConfig struct {
	Enabled        bool `toml:"enabled" env:"EMBERFALL_GATEWAY_ENABLED"`
	SendBufferSize int  `toml:"send_buffer_size" env:"EMBERFALL_GATEWAY_SEND_BUFFER"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Queue: QueueConfig{
			GameplayCapacity:    1024,
			AICapacity:          1024,
			AnalyticsCapacity:   2048,
			TelemetryCapacity:   4096,
			PoolCapacity:        8192,
			PoolMaxOverflow:     1024,
			AIRetryWindow:       Duration(4 * time.Microsecond),
			GameplayRetryWindow: Duration(100 * time.Microsecond),
		},
		Dispatcher: DispatcherConfig{
			TickInterval:    Duration(16 * time.Millisecond),
			MaxBatchPerTier: 512,
			WorkerCount:     4,
			FlushOnShutdown: true,
			ShutdownTimeout: Duration(time.Second),
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Driver:  LedgerDriverMemory,
			Path:    "emberfall-ledger.db",
		},
		Logging: LoggingConfig{
			Sinks:       []string{"console"},
			BufferSize:  512,
			MinSeverity: "info",
		},
		Gateway: GatewayConfig{
			Enabled:        true,
			SendBufferSize: 64,
		},
	}
}

// Load layers the configuration: defaults, then the TOML file at path
// (skipped when path is empty; missing files are an error so typos fail
// loudly), then environment variables. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TierCapacities orders the per-tier ring capacities by priority.
func (c QueueConfig) TierCapacities() [event.TierCount]int {
	return [event.TierCount]int{
		event.PriorityGameplay:  c.GameplayCapacity,
		event.PriorityAI:        c.AICapacity,
		event.PriorityAnalytics: c.AnalyticsCapacity,
		event.PriorityTelemetry: c.TelemetryCapacity,
	}
}

// Validate checks the constraints construction would reject anyway, so
// operators get one readable error instead of a stack of them.
func (c Config) Validate() error {
	var errs []error
	for prio, capacity := range c.Queue.TierCapacities() {
		if capacity <= 0 || capacity&(capacity-1) != 0 {
			errs = append(errs, fmt.Errorf("config: %s tier capacity %d is not a power of two", event.Priority(prio), capacity))
		}
	}
	if c.Queue.PoolCapacity <= 0 {
		errs = append(errs, fmt.Errorf("config: pool capacity %d must be positive", c.Queue.PoolCapacity))
	}
	if c.Dispatcher.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("config: tick interval %s must be positive", c.Dispatcher.TickInterval))
	}
	if c.Dispatcher.MaxBatchPerTier <= 0 {
		errs = append(errs, fmt.Errorf("config: max batch per tier %d must be positive", c.Dispatcher.MaxBatchPerTier))
	}
	if c.Dispatcher.WorkerCount < 0 {
		errs = append(errs, fmt.Errorf("config: worker count %d must not be negative", c.Dispatcher.WorkerCount))
	}
	if c.Ledger.Enabled {
		switch c.Ledger.Driver {
		case LedgerDriverMemory:
		case LedgerDriverSQLite:
			if c.Ledger.Path == "" {
				errs = append(errs, errors.New("config: sqlite ledger requires a path"))
			}
		default:
			errs = append(errs, fmt.Errorf("config: unknown ledger driver %q", c.Ledger.Driver))
		}
	}
	if c.Gateway.Enabled && c.Gateway.SendBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("config: gateway send buffer %d must be positive", c.Gateway.SendBufferSize))
	}
	return errors.Join(errs...)
}
