package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

type testOptions struct {
	Config string

	QueueCapacity     int      `toml:"queue.capacity" env:"QUEUE_CAPACITY"`
	CaptureIntervalMs int      `toml:"capture.interval_ms" env:"CAPTURE_INTERVAL_MS"`
	AnalyzerURL       string   `toml:"analyzer.url" env:"ANALYZER_URL"`
	Debug             bool     `toml:"debug" env:"DEBUG"`
	Ratio             float64  `toml:"ratio" env:"RATIO"`
	Hosts             []string `toml:"hosts" env:"HOSTS"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeConfig(t, `
debug = true
ratio = 2
hosts = ["a", "b"]

[queue]
capacity = 7

[capture]
interval_ms = 2000

[analyzer]
url = "http://model:9000"
`)

	opts := &testOptions{Config: path, QueueCapacity: 5}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.QueueCapacity != 7 {
		t.Errorf("QueueCapacity = %d, want 7", opts.QueueCapacity)
	}
	if opts.CaptureIntervalMs != 2000 {
		t.Errorf("CaptureIntervalMs = %d, want 2000", opts.CaptureIntervalMs)
	}
	if opts.AnalyzerURL != "http://model:9000" {
		t.Errorf("AnalyzerURL = %q", opts.AnalyzerURL)
	}
	if !opts.Debug || opts.Ratio != 2 {
		t.Errorf("Debug=%v Ratio=%v", opts.Debug, opts.Ratio)
	}
	if len(opts.Hosts) != 2 || opts.Hosts[1] != "b" {
		t.Errorf("Hosts = %v", opts.Hosts)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "[queue]\ncapacity = 7\n")
	t.Setenv("CCTVNODE_QUEUE_CAPACITY", "9")
	t.Setenv("CCTVNODE_CAPTURE_INTERVAL_MS", "250")
	t.Setenv("CCTVNODE_HOSTS", "x, y ,z")

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatal(err)
	}
	if opts.QueueCapacity != 9 {
		t.Errorf("QueueCapacity = %d, want 9", opts.QueueCapacity)
	}
	if opts.CaptureIntervalMs != 250 {
		t.Errorf("CaptureIntervalMs = %d, want 250", opts.CaptureIntervalMs)
	}
	if len(opts.Hosts) != 3 || opts.Hosts[1] != "y" {
		t.Errorf("Hosts = %v", opts.Hosts)
	}
}

func TestLoadConfigCLIWins(t *testing.T) {
	path := writeConfig(t, "[queue]\ncapacity = 7\n")
	t.Setenv("CCTVNODE_QUEUE_CAPACITY", "9")

	opts := &testOptions{Config: path}
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().IntVar(&opts.QueueCapacity, "queue-capacity", 5, "")
	if err := cmd.Flags().Parse([]string{"--queue-capacity", "3"}); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatal(err)
	}
	if opts.QueueCapacity != 3 {
		t.Errorf("QueueCapacity = %d, want 3 from flag", opts.QueueCapacity)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file is ignored", func(t *testing.T) {
		opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml"), QueueCapacity: 5}
		if err := LoadConfig(opts, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if opts.QueueCapacity != 5 {
			t.Errorf("default changed to %d", opts.QueueCapacity)
		}
	})

	t.Run("malformed toml", func(t *testing.T) {
		opts := &testOptions{Config: writeConfig(t, "[queue\ncapacity = ")}
		if err := LoadConfig(opts, nil); err == nil {
			t.Fatal("expected parse error")
		}
	})

	t.Run("bad env value", func(t *testing.T) {
		t.Setenv("CCTVNODE_CAPTURE_INTERVAL_MS", "soon")
		if err := LoadConfig(&testOptions{}, nil); err == nil {
			t.Fatal("expected env parse error")
		}
	})

	t.Run("not a pointer", func(t *testing.T) {
		if err := LoadConfig(testOptions{}, nil); err == nil {
			t.Fatal("expected type error")
		}
	})
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Port":               "port",
		"QueueCapacity":      "queue-capacity",
		"AnalyzerRetryDelay": "analyzer-retry-delay",
		"DatabaseURL":        "database-url",
		"HTTPListenAddr":     "http-listen-addr",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "warn"
format = "json"
capture = "debug"
`)
	cfg := LoadLoggingConfig(path)
	if cfg.Level != "warn" || cfg.Format != "json" {
		t.Errorf("got level=%q format=%q", cfg.Level, cfg.Format)
	}
	if cfg.Modules["capture"] != "debug" {
		t.Errorf("capture module level = %q", cfg.Modules["capture"])
	}

	def := LoadLoggingConfig("")
	if def.Level != "info" || def.Format != "text" {
		t.Errorf("defaults = %+v", def)
	}
}
