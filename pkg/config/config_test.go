package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openbms-io/supervisor-sub001/pkg/device"
	"github.com/openbms-io/supervisor-sub001/pkg/logging"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "supervisor.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	f := Flags()
	if err := f.Parse([]string{"--config", filepath.Join(t.TempDir(), "absent.toml")}); err != nil {
		t.Fatal(err)
	}
	// An explicit but missing file is an error; the implicit default is not.
	if _, err := Load(f); err == nil {
		t.Error("Expected error for missing explicit config file")
	}

	cfg, err := Load(Flags())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != 8080 || cfg.WebMode || cfg.Once {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Command.Timeout != 5*time.Second || cfg.Function.Timeout != time.Second {
		t.Errorf("unexpected timeouts: command=%s function=%s", cfg.Command.Timeout, cfg.Function.Timeout)
	}
	if cfg.Log.Format != "compact" {
		t.Errorf("Expected compact log format, got %q", cfg.Log.Format)
	}
	if got := cfg.BreakerSettings(); got != device.DefaultBreakerConfig() {
		t.Errorf("Expected default breaker settings, got %+v", got)
	}
}

func TestLoad_Precedence(t *testing.T) {
	path := writeTOML(t, `
workflow = "from-file.yaml"
port = 9000
once = true

[command]
timeout = "750ms"

[breaker]
failureratio = 0.25

[points]
"ahu-1:analog-input:1" = 21.5
`)
	t.Setenv("SUPERVISOR_PORT", "9100")
	t.Setenv("SUPERVISOR_LOG_FORMAT", "json")

	f := Flags()
	if err := f.Parse([]string{"--config", path, "--workflow", "from-flag.yaml", "-vv"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(f)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Workflow != "from-flag.yaml" {
		t.Errorf("flag should override file, got workflow %q", cfg.Workflow)
	}
	if cfg.Port != 9100 {
		t.Errorf("env should override file, got port %d", cfg.Port)
	}
	if !cfg.Once {
		t.Error("file value should survive when no flag is set")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Expected json log format from env, got %q", cfg.Log.Format)
	}
	if cfg.Command.Timeout != 750*time.Millisecond {
		t.Errorf("Expected 750ms command timeout, got %s", cfg.Command.Timeout)
	}
	if cfg.BreakerSettings().FailureRatio != 0.25 {
		t.Errorf("Expected failure ratio 0.25, got %g", cfg.BreakerSettings().FailureRatio)
	}

	level, err := cfg.LogLevel()
	if err != nil || level != logging.LevelTrace {
		t.Errorf("Expected trace level from -vv, got %v (%v)", level, err)
	}

	points, err := cfg.SeedPoints()
	if err != nil {
		t.Fatalf("SeedPoints failed: %v", err)
	}
	ref := device.PointRef{DeviceID: "ahu-1", ObjectType: "analog-input", Instance: 1}
	if points[ref] != 21.5 {
		t.Errorf("Expected seeded value 21.5, got %v", points[ref])
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"once without workflow", "once = true"},
		{"bad port", "port = 70000"},
		{"bad ratio", "[breaker]\nfailureratio = 2.0"},
		{"bad point key", "[points]\n\"ahu-1:analog-input\" = 1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := Flags()
			if err := f.Parse([]string{"--config", writeTOML(t, tc.body)}); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(f); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	testCases := []struct {
		verbosity string
		verbose   int
		want      slog.Level
	}{
		{"", 0, slog.LevelInfo},
		{"", 1, slog.LevelDebug},
		{"warn", 2, slog.LevelWarn},
		{"ERROR", 0, slog.LevelError},
		{"trace", 0, logging.LevelTrace},
	}

	for _, tc := range testCases {
		cfg := &Config{Verbosity: tc.verbosity, VerboseCnt: tc.verbose}
		got, err := cfg.LogLevel()
		if err != nil {
			t.Errorf("LogLevel(%q, %d) failed: %v", tc.verbosity, tc.verbose, err)
			continue
		}
		if got != tc.want {
			t.Errorf("LogLevel(%q, %d) = %v, want %v", tc.verbosity, tc.verbose, got, tc.want)
		}
	}

	if _, err := (&Config{Verbosity: "loud"}).LogLevel(); err == nil {
		t.Error("Expected error for unknown verbosity")
	}
}
