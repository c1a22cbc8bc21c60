// Package processing drains the per-camera frame queues: every tick it claims
// at most one frame per idle camera, shrinks it and sends it for analysis.
package processing

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/smazurov/cctvnode/internal/analyzer"
	"github.com/smazurov/cctvnode/internal/events"
	"github.com/smazurov/cctvnode/internal/faults"
	"github.com/smazurov/cctvnode/internal/framequeue"
	"github.com/smazurov/cctvnode/internal/logging"
	"github.com/smazurov/cctvnode/internal/metrics"
)

// QueueSource lists the queues of the cameras being captured.
type QueueSource interface {
	Queues() []*framequeue.Queue
}

// Transformer prepares a raw frame for dispatch.
type Transformer interface {
	Transform(data []byte) ([]byte, error)
}

// Dispatcher sends a prepared frame to the analyzer.
type Dispatcher interface {
	Dispatch(ctx context.Context, f analyzer.Frame) (analyzer.Result, error)
}

// Publisher receives analysis events.
type Publisher interface {
	Publish(ev events.Event)
}

// Options configures a Worker.
type Options struct {
	Tick              time.Duration
	MaxCamerasPerTick int
}

// DefaultOptions is a 100ms tick serving at most 8 cameras.
func DefaultOptions() Options {
	return Options{Tick: 100 * time.Millisecond, MaxCamerasPerTick: 8}
}

// Worker is the single consumer of every frame queue.
type Worker struct {
	opts        Options
	source      QueueSource
	transformer Transformer
	dispatcher  Dispatcher
	publisher   Publisher
	logger      *slog.Logger

	mu     sync.Mutex
	cursor int
	wg     sync.WaitGroup
}

// NewWorker creates a worker. publisher may be nil.
func NewWorker(opts Options, source QueueSource, transformer Transformer, dispatcher Dispatcher, publisher Publisher) *Worker {
	def := DefaultOptions()
	if opts.Tick <= 0 {
		opts.Tick = def.Tick
	}
	if opts.MaxCamerasPerTick <= 0 {
		opts.MaxCamerasPerTick = def.MaxCamerasPerTick
	}
	return &Worker{
		opts:        opts,
		source:      source,
		transformer: transformer,
		dispatcher:  dispatcher,
		publisher:   publisher,
		logger:      logging.GetLogger("worker"),
	}
}

// Run ticks until ctx is cancelled. In-flight frames are not waited for;
// call Wait for that.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.opts.Tick)
	defer ticker.Stop()

	w.logger.Info("Processing worker started", "tick", w.opts.Tick, "max_cameras_per_tick", w.opts.MaxCamerasPerTick)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Processing worker stopped")
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick claims one frame from each idle, non-empty queue, up to the per-tick
// camera limit, and processes them in the background. Successive ticks start
// at different queues so the limit rotates across cameras. It returns the
// number of frames claimed.
func (w *Worker) Tick(ctx context.Context) int {
	queues := w.source.Queues()
	n := len(queues)
	if n == 0 {
		return 0
	}

	w.mu.Lock()
	start := w.cursor % n
	claimed, visited := 0, 0
	for ; visited < n && claimed < w.opts.MaxCamerasPerTick; visited++ {
		q := queues[(start+visited)%n]
		f, ok := q.Claim()
		if !ok {
			continue
		}
		claimed++
		w.wg.Add(1)
		go w.process(ctx, q, f)
	}
	w.cursor = (start + visited) % n
	w.mu.Unlock()

	return claimed
}

// Wait blocks until every claimed frame has finished processing.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) process(ctx context.Context, q *framequeue.Queue, f framequeue.Frame) {
	defer w.wg.Done()

	started := time.Now()
	logger := w.logger.With("camera_id", f.CameraID, "frame_id", f.ID)

	finished := false
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Frame processing panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
		if !finished {
			q.Done(time.Since(started))
		}
	}()

	image, err := w.transformer.Transform(f.Data)
	rawBytes := len(f.Data)
	f.Data = nil
	if err != nil {
		took := time.Since(started)
		finished = true
		q.Done(took)
		logger.Warn("Failed to prepare frame", "bytes", rawBytes, "error", err)
		w.publishFailure(f, err)
		return
	}

	res, err := w.dispatcher.Dispatch(ctx, analyzer.Frame{CameraID: f.CameraID, FrameID: f.ID, Image: image})
	took := time.Since(started)
	finished = true
	q.Done(took)
	metrics.ObserveProcessing(f.CameraID, took)

	if err != nil {
		if faults.HasCode(err, analyzer.ErrCodeNotImplemented) {
			logger.Warn("Analyzer endpoint not available, frame dropped", "error", err)
		} else {
			logger.Error("Frame dispatch failed", "attempts", res.Attempts, "error", err)
		}
		w.publishFailure(f, err)
		return
	}

	stats := q.Stats()
	if float64(took.Milliseconds()) > stats.AvgProcessMs*1.5 || stats.TotalProcessed%10 == 0 {
		logger.Info("Frame processed",
			"took_ms", took.Milliseconds(),
			"avg_ms", int64(stats.AvgProcessMs),
			"queue", stats.Length,
			"capacity", stats.Capacity,
			"total_processed", stats.TotalProcessed,
			"detections", res.DetectionsCount)
	}

	w.publish(events.AnalysisCompletedEvent{
		CameraID:   f.CameraID,
		FrameID:    f.ID,
		Detections: res.DetectionsCount,
		Attempts:   res.Attempts,
		LatencyMs:  float64(took) / float64(time.Millisecond),
		Timestamp:  time.Now(),
	})
}

func (w *Worker) publishFailure(f framequeue.Frame, err error) {
	w.publish(events.AnalysisFailedEvent{
		CameraID:  f.CameraID,
		FrameID:   f.ID,
		Code:      string(faults.CodeOf(err)),
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
}

func (w *Worker) publish(ev events.Event) {
	if w.publisher != nil {
		w.publisher.Publish(ev)
	}
}
