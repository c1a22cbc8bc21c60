package process

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingLogger captures messages per level.
type recordingLogger struct {
	mu    sync.Mutex
	lines map[string][]string
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{lines: make(map[string][]string)}
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	l.lines[level] = append(l.lines[level], msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func collect() (*bytes.Buffer, func([]byte)) {
	var buf bytes.Buffer
	return &buf, func(p []byte) { buf.Write(p) }
}

func TestRunPipesStdinToStdout(t *testing.T) {
	buf, sink := collect()
	input := bytes.Repeat([]byte("segment-bytes "), 10000)

	res, err := Run(context.Background(), Command{
		Args:   []string{"cat"},
		Stdin:  bytes.NewReader(input),
		Stdout: sink,
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 || res.Interrupted {
		t.Errorf("result = %+v", res)
	}
	if !bytes.Equal(buf.Bytes(), input) {
		t.Errorf("stdout has %d bytes, want %d", buf.Len(), len(input))
	}
}

func TestRunNonZeroExit(t *testing.T) {
	res, err := Run(context.Background(), Command{Args: []string{"sh", "-c", "exit 3"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestRunLaunchFailure(t *testing.T) {
	if _, err := Run(context.Background(), Command{Args: []string{"/nonexistent/binary-xyz"}}); err == nil {
		t.Error("expected start error")
	}
	if _, err := Run(context.Background(), Command{}); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestRunTimeoutGraceful(t *testing.T) {
	buf, sink := collect()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	res, err := Run(ctx, Command{
		Args:        []string{"sh", "-c", "trap 'exit 0' INT; printf early; while :; do sleep 0.05; done"},
		Stdout:      sink,
		GracePeriod: time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Interrupted {
		t.Error("Interrupted = false")
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0 from trap", res.ExitCode)
	}
	if buf.String() != "early" {
		t.Errorf("stdout = %q, want output produced before the deadline", buf.String())
	}
}

func TestRunTimeoutForceKill(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := Run(ctx, Command{
		Args:        []string{"sh", "-c", "trap '' INT; sleep 10"},
		GracePeriod: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Run took %v, kill did not happen", elapsed)
	}
	if !res.Interrupted || res.ExitCode != ExitKilled {
		t.Errorf("result = %+v, want interrupted with exit %d", res, ExitKilled)
	}
}

func TestRunStderrLogLevels(t *testing.T) {
	logger := newRecordingLogger()
	parser := func(line string) (string, string) {
		if level, msg, ok := strings.Cut(line, ":"); ok {
			return level, strings.TrimSpace(msg)
		}
		return "info", line
	}

	_, err := Run(context.Background(), Command{
		Args:      []string{"sh", "-c", "echo 'error: broken' >&2; echo 'warning: odd' >&2; printf 'plain' >&2"},
		Logger:    logger,
		LogParser: parser,
	})
	if err != nil {
		t.Fatal(err)
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if got := logger.lines["error"]; len(got) != 1 || got[0] != "broken" {
		t.Errorf("error lines = %v", got)
	}
	if got := logger.lines["warn"]; len(got) != 1 || got[0] != "odd" {
		t.Errorf("warn lines = %v", got)
	}
	if got := logger.lines["info"]; len(got) != 1 || got[0] != "plain" {
		t.Errorf("unterminated last line not flushed: %v", got)
	}
}

func TestExitCodeFromError(t *testing.T) {
	if exitCodeFromError(nil) != 0 {
		t.Error("nil error should be exit 0")
	}
	if exitCodeFromError(io.EOF) != 1 {
		t.Error("non-exit error should be exit 1")
	}
}
