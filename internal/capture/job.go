package capture

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/smazurov/cctvnode/internal/logging"
)

// Ticker is the subset of *time.Ticker a Job needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock abstracts wall time so periodic work can be driven by hand in tests.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// SystemClock is the real clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// NewTicker implements Clock.
func (SystemClock) NewTicker(d time.Duration) Ticker { return systemTicker{time.NewTicker(d)} }

type systemTicker struct{ t *time.Ticker }

func (s systemTicker) C() <-chan time.Time { return s.t.C }
func (s systemTicker) Stop()               { s.t.Stop() }

// Job runs fn once immediately and then on every tick, never concurrently
// with itself. A run that overruns the interval swallows the ticks it missed.
// Panics in fn are recovered and logged so the schedule survives them.
type Job struct {
	name     string
	interval time.Duration
	clock    Clock
	fn       func(context.Context)
	logger   logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJob creates a stopped job.
func NewJob(name string, interval time.Duration, clock Clock, logger logging.Logger, fn func(context.Context)) *Job {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Job{name: name, interval: interval, clock: clock, fn: fn, logger: logger}
}

// Start launches the job. Calling Start on a running job does nothing.
func (j *Job) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})
	ticker := j.clock.NewTicker(j.interval)

	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()

		j.runOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				if ctx.Err() != nil {
					return
				}
				j.runOnce(ctx)
			}
		}
	}(j.done)
}

// Stop cancels the job and waits for an in-flight run to return.
func (j *Job) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the job has been started and not stopped.
func (j *Job) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancel != nil
}

func (j *Job) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("Periodic job panicked",
				"job", j.name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	j.fn(ctx)
}
