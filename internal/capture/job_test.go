package capture

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJobRunsImmediatelyThenOnTicks(t *testing.T) {
	clock := newFakeClock()
	var runs atomic.Int32
	job := NewJob("test", time.Second, clock, testLogger(), func(context.Context) {
		runs.Add(1)
	})

	job.Start(context.Background())
	defer job.Stop()

	eventually(t, "first run", func() bool { return runs.Load() == 1 })

	clock.Tick(t)
	eventually(t, "second run", func() bool { return runs.Load() == 2 })

	clock.Tick(t)
	eventually(t, "third run", func() bool { return runs.Load() == 3 })
}

func TestJobStartIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	var runs atomic.Int32
	job := NewJob("test", time.Second, clock, testLogger(), func(context.Context) { runs.Add(1) })

	job.Start(context.Background())
	job.Start(context.Background())
	defer job.Stop()

	eventually(t, "first run", func() bool { return runs.Load() >= 1 })
	if len(clock.tickers) != 1 {
		t.Fatalf("expected one ticker, got %d", len(clock.tickers))
	}
	if !job.Running() {
		t.Fatal("expected job to be running")
	}
}

func TestJobRecoversPanics(t *testing.T) {
	clock := newFakeClock()
	var runs atomic.Int32
	job := NewJob("test", time.Second, clock, testLogger(), func(context.Context) {
		if runs.Add(1) == 1 {
			panic("boom")
		}
	})

	job.Start(context.Background())
	defer job.Stop()

	eventually(t, "first run", func() bool { return runs.Load() == 1 })
	clock.Tick(t)
	eventually(t, "run after panic", func() bool { return runs.Load() == 2 })
}

func TestJobStopCancelsAndWaits(t *testing.T) {
	clock := newFakeClock()
	started := make(chan struct{})
	var finished atomic.Bool
	job := NewJob("test", time.Second, clock, testLogger(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		finished.Store(true)
	})

	job.Start(context.Background())
	<-started
	job.Stop()

	if !finished.Load() {
		t.Fatal("Stop returned before the run finished")
	}
	if job.Running() {
		t.Fatal("expected job to be stopped")
	}
	if !clock.tickers[0].isStopped() {
		t.Fatal("expected ticker to be stopped")
	}

	// Stopping twice is harmless.
	job.Stop()
}
