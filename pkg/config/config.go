// Package config loads supervisor settings from defaults, a TOML file, the
// environment and command-line flags.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/openbms-io/supervisor-sub001/pkg/device"
	"github.com/openbms-io/supervisor-sub001/pkg/logging"
)

// DefaultFile is read when no --config flag is given. It may be absent.
const DefaultFile = "supervisor.toml"

// EnvPrefix prefixes environment overrides, e.g. SUPERVISOR_PORT=9090 or
// SUPERVISOR_COMMAND_TIMEOUT=2s.
const EnvPrefix = "SUPERVISOR_"

// Config holds all configuration for the application
type Config struct {
	Workflow   string `koanf:"workflow"`
	WebMode    bool   `koanf:"web"`
	Port       int    `koanf:"port"`
	Watch      bool   `koanf:"watch"`
	Once       bool   `koanf:"once"`
	Verbosity  string `koanf:"verbosity"`
	VerboseCnt int    `koanf:"verbose"`

	Log      LogConfig      `koanf:"log"`
	Function FunctionConfig `koanf:"function"`
	Command  TimeoutConfig  `koanf:"command"`
	Breaker  BreakerConfig  `koanf:"breaker"`
	CORS     CORSConfig     `koanf:"cors"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Points   map[string]any `koanf:"points"`
}

// LogConfig selects the log output.
type LogConfig struct {
	Format string `koanf:"format"`
}

// FunctionConfig bounds user expressions in function nodes. Timeout is the
// default; MaxTimeout caps what a node may ask for.
type FunctionConfig struct {
	Timeout    time.Duration `koanf:"timeout"`
	MaxTimeout time.Duration `koanf:"maxtimeout"`
}

// TimeoutConfig bounds one kind of outbound call.
type TimeoutConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// BreakerConfig tunes the circuit breaker on the command channel.
type BreakerConfig struct {
	MaxRequests  uint32        `koanf:"maxrequests"`
	Interval     time.Duration `koanf:"interval"`
	Cooldown     time.Duration `koanf:"cooldown"`
	FailureRatio float64       `koanf:"failureratio"`
	MinRequests  uint32        `koanf:"minrequests"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	Origins []string `koanf:"origins"`
}

// MetricsConfig names the Prometheus namespace.
type MetricsConfig struct {
	Namespace string `koanf:"namespace"`
}

// Flags returns the command-line flags Load understands.
func Flags() *pflag.FlagSet {
	f := pflag.NewFlagSet("supervisor", pflag.ContinueOnError)
	f.String("config", DefaultFile, "Path to the TOML config file")
	f.String("workflow", "", "Path to the workflow document (.json, .yaml)")
	f.Bool("web", false, "Serve the editor API")
	f.Int("port", 8080, "Port for the web server (only used with --web)")
	f.Bool("watch", false, "Reload and re-execute when the workflow file changes")
	f.Bool("once", false, "Execute one pass, print the report and exit")
	f.String("verbosity", "", "Log level: trace, debug, info, warn, error")
	f.CountP("verbose", "v", "Increase log verbosity (repeatable)")
	return f
}

func defaults() map[string]any {
	breaker := device.DefaultBreakerConfig()
	return map[string]any{
		"workflow":  "",
		"web":       false,
		"port":      8080,
		"watch":     false,
		"once":      false,
		"verbosity": "",
		"verbose":   0,
		"log":       map[string]any{"format": "compact"},
		"function":  map[string]any{"timeout": "1s", "maxtimeout": "10s"},
		"command":   map[string]any{"timeout": "5s"},
		"breaker": map[string]any{
			"maxrequests":  breaker.MaxRequests,
			"interval":     breaker.Interval.String(),
			"cooldown":     breaker.Cooldown.String(),
			"failureratio": breaker.FailureRatio,
			"minrequests":  breaker.MinRequests,
		},
		"cors":    map[string]any{"origins": []string{"*"}},
		"metrics": map[string]any{"namespace": "supervisor"},
		"points":  map[string]any{},
	}
}

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(makeMapProvider(defaults()), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config File (optional)
	path := DefaultFile
	explicit := false
	if f != nil {
		if fl := f.Lookup("config"); fl != nil {
			path = fl.Value.String()
			explicit = fl.Changed
		}
	}
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil && explicit {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	// 3. Environment Variables
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks combinations the individual keys cannot express.
func (c *Config) Validate() error {
	if c.Workflow == "" && (c.Once || c.Watch) {
		return fmt.Errorf("--once and --watch need a --workflow")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Breaker.FailureRatio < 0 || c.Breaker.FailureRatio > 1 {
		return fmt.Errorf("breaker.failureratio must be within [0,1], got %g", c.Breaker.FailureRatio)
	}
	if _, err := c.SeedPoints(); err != nil {
		return err
	}
	return nil
}

// LogLevel resolves the log level. An explicit verbosity name wins over
// repeated -v flags.
func (c *Config) LogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Verbosity) {
	case "":
		return logging.LevelFromVerbosity(c.VerboseCnt), nil
	case "trace":
		return logging.LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown verbosity %q", c.Verbosity)
}

// BreakerSettings converts the breaker keys for the device package.
func (c *Config) BreakerSettings() device.BreakerConfig {
	b := device.DefaultBreakerConfig()
	b.MaxRequests = c.Breaker.MaxRequests
	b.Interval = c.Breaker.Interval
	b.Cooldown = c.Breaker.Cooldown
	b.FailureRatio = c.Breaker.FailureRatio
	b.MinRequests = c.Breaker.MinRequests
	return b
}

// SeedPoints parses the [points] table: "device:object-type:instance" keys
// mapped to initial present values for the in-memory device bus.
func (c *Config) SeedPoints() (map[device.PointRef]any, error) {
	out := make(map[device.PointRef]any, len(c.Points))
	for key, v := range c.Points {
		ref, err := device.ParsePointRef(key)
		if err != nil {
			return nil, fmt.Errorf("points: %w", err)
		}
		out[ref] = v
	}
	return out, nil
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]any
}

func makeMapProvider(m map[string]any) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]any, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
