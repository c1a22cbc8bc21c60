package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

// resetForTest clears module state and redirects output into buf.
func resetForTest(t *testing.T, buf *bytes.Buffer) {
	t.Helper()
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevels = make(map[string]*slog.LevelVar)
	isInitialized = false
	globalConfig = Config{Level: "info", Format: "text"}
	output = buf
	mutex.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	var buf bytes.Buffer
	resetForTest(t, &buf)

	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"capture": "debug",
			"worker":  "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"capture", true, true, true},
		{"worker", false, false, true},
		{"resolver", false, true, true},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			h := GetLogger(tt.module).Handler()
			if got := h.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := h.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("info enabled = %v, want %v", got, tt.wantInfo)
			}
			if got := h.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("warn enabled = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestLoggerCreatedBeforeInitialize(t *testing.T) {
	var buf bytes.Buffer
	resetForTest(t, &buf)

	early := GetLogger("capture")
	if early.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("uninitialised logger should default to info")
	}

	Initialize(Config{Level: "info", Format: "json", Modules: map[string]string{"capture": "debug"}})

	logger := GetLogger("capture")
	logger.Debug("segment fetched", "camera_id", 7)

	out := buf.String()
	if !strings.Contains(out, `"msg":"segment fetched"`) {
		t.Errorf("expected json debug output, got %q", out)
	}
	if !strings.Contains(out, `"module":"capture"`) {
		t.Errorf("expected module attribute, got %q", out)
	}
}

func TestSetModuleLevel(t *testing.T) {
	var buf bytes.Buffer
	resetForTest(t, &buf)
	Initialize(Config{Level: "info", Format: "text"})

	logger := GetLogger("analyzer")
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered, got %q", buf.String())
	}

	if !SetModuleLevel("analyzer", "debug") {
		t.Fatal("SetModuleLevel rejected a valid level")
	}
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("expected debug output after level change, got %q", buf.String())
	}

	if SetModuleLevel("analyzer", "loud") {
		t.Error("SetModuleLevel accepted an invalid level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{" error ", slog.LevelError, true},
		{"verbose", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := parseLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseLevel(%q) = %v,%v want %v,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPutFieldFlattensGroups(t *testing.T) {
	fields := make(map[string]string)
	putField(fields, "", slog.Group("queue", slog.Int("depth", 3), slog.Bool("saturated", false)))
	putField(fields, "", slog.Int64("camera_id", 101))

	if fields["QUEUE_DEPTH"] != "3" {
		t.Errorf("QUEUE_DEPTH = %q", fields["QUEUE_DEPTH"])
	}
	if fields["QUEUE_SATURATED"] != "false" {
		t.Errorf("QUEUE_SATURATED = %q", fields["QUEUE_SATURATED"])
	}
	if fields["CAMERA_ID"] != "101" {
		t.Errorf("CAMERA_ID = %q", fields["CAMERA_ID"])
	}
}
