package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/cctvnode/internal/logging"
)

// LogParser parses a log line and returns the log level and message.
type LogParser func(line string) (level, msg string)

// ExitKilled is reported when the process was terminated by a signal.
const ExitKilled = 137

const defaultGracePeriod = 500 * time.Millisecond

// Command describes one run.
type Command struct {
	// Args holds the program followed by its arguments.
	Args []string
	// Stdin is copied to the process; nil means no input.
	Stdin io.Reader
	// Stdout receives output chunks in order. The slice is only valid for
	// the duration of the call.
	Stdout func(chunk []byte)
	Logger logging.Logger
	// LogParser classifies stderr lines; nil logs everything at debug.
	LogParser LogParser
	// GracePeriod is the time between SIGINT and kill after the context ends.
	GracePeriod time.Duration
}

// Result describes how a run ended.
type Result struct {
	ExitCode int
	// Interrupted is true when the context ended before the process exited.
	Interrupted bool
	Duration    time.Duration
}

// Run starts the process and blocks until it exits and its output has been
// drained. The error is non-nil only when the process could not be started;
// a non-zero exit or an interrupted run is reported through Result.
func Run(ctx context.Context, c Command) (Result, error) {
	if len(c.Args) == 0 {
		return Result{}, errors.New("empty command")
	}
	grace := c.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if c.Logger != nil {
			c.Logger.Debug("Interrupting process", "pid", cmd.Process.Pid)
		}
		// Signal the whole group so helpers spawned by the tool stop too.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGINT)
	}
	cmd.WaitDelay = grace
	cmd.Stdin = c.Stdin
	if c.Stdout != nil {
		cmd.Stdout = chunkWriter(c.Stdout)
	}
	stderr := &lineWriter{logger: c.Logger, parse: c.LogParser}
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", c.Args[0], err)
	}

	waitErr := cmd.Wait()
	stderr.flush()
	if ctx.Err() != nil {
		// Reap anything left in the group after the leader was killed.
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	res := Result{
		Interrupted: ctx.Err() != nil,
		Duration:    time.Since(start),
	}
	if st := cmd.ProcessState; st != nil {
		// Wait reports the context error even for a clean exit, so the
		// state is the authority on how the process ended.
		res.ExitCode = st.ExitCode()
		if res.ExitCode < 0 {
			res.ExitCode = ExitKilled
		}
	} else {
		res.ExitCode = exitCodeFromError(waitErr)
	}
	return res, nil
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		return ExitKilled
	}
	return 1
}

type chunkWriter func([]byte)

func (w chunkWriter) Write(p []byte) (int, error) {
	w(p)
	return len(p), nil
}

// lineWriter splits stderr into lines and logs them at the parsed level.
type lineWriter struct {
	mu     sync.Mutex
	logger logging.Logger
	parse  LogParser
	buf    []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(bytes.TrimRight(w.buf[:i], "\r")))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}

func (w *lineWriter) emit(line string) {
	if w.logger == nil || line == "" {
		return
	}

	level, msg := "debug", line
	if w.parse != nil {
		level, msg = w.parse(line)
	}

	switch level {
	case "fatal", "error":
		w.logger.Error(msg)
	case "warning":
		w.logger.Warn(msg)
	case "info":
		w.logger.Info(msg)
	default:
		w.logger.Debug(msg)
	}
}
