// Package capture runs one periodic capture task per camera and feeds the
// frames it finds into per-camera bounded queues.
package capture

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/smazurov/cctvnode/internal/cameras"
	"github.com/smazurov/cctvnode/internal/events"
	"github.com/smazurov/cctvnode/internal/framequeue"
	"github.com/smazurov/cctvnode/internal/logging"
	"github.com/smazurov/cctvnode/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// Descriptors looks up the stored endpoint descriptor of a camera.
type Descriptors interface {
	StreamDescriptor(ctx context.Context, cameraID int64) (string, error)
}

// StreamResolver turns descriptors into stream URLs.
type StreamResolver interface {
	Resolve(ctx context.Context, descriptor string) (string, error)
	Invalidate(descriptor string)
}

// FrameExtractor decodes frames out of an MPEG-TS segment.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, segment []byte) ([][]byte, error)
}

// Publisher receives state and frame events.
type Publisher interface {
	Publish(ev events.Event)
}

// Options configures a Manager.
type Options struct {
	Interval      time.Duration
	FetchTimeout  time.Duration
	MaxMediaBytes int64
	MaxFrameBytes int
	Queue         framequeue.Policy
	// ReresolveAfter is the number of consecutive failed attempts after
	// which the stream URL is resolved again. Zero disables it.
	ReresolveAfter int
	Client         *http.Client
	Clock          Clock
}

// DefaultOptions returns the stock capture settings.
func DefaultOptions() Options {
	return Options{
		Interval:       time.Second,
		FetchTimeout:   10 * time.Second,
		MaxMediaBytes:  10 << 20,
		MaxFrameBytes:  5 << 20,
		Queue:          framequeue.DefaultPolicy(),
		ReresolveAfter: 5,
	}
}

// Deps are the collaborators a Manager calls into.
type Deps struct {
	Descriptors Descriptors
	Resolver    StreamResolver
	Extractor   FrameExtractor
	Recorder    cameras.FrameRecorder
	Publisher   Publisher
}

// Status is a snapshot of one camera's capture.
type Status struct {
	CameraID            int64            `json:"camera_id" example:"101" doc:"Camera id"`
	State               string           `json:"state" example:"running" doc:"starting, running or stopped"`
	StreamURL           string           `json:"stream_url,omitempty" doc:"Resolved stream URL"`
	StartedAt           time.Time        `json:"started_at,omitempty" doc:"When capture started"`
	ConsecutiveFailures int              `json:"consecutive_failures" doc:"Failed attempts since the last success"`
	LastError           string           `json:"last_error,omitempty" doc:"Most recent attempt failure"`
	LastFrameAt         *time.Time       `json:"last_frame_at,omitempty" doc:"Capture time of the last queued frame"`
	Queue               framequeue.Stats `json:"queue" doc:"Frame queue counters"`
}

// Manager owns every camera's capture task and queue.
type Manager struct {
	opts        Options
	clock       Clock
	fetcher     *Fetcher
	descriptors Descriptors
	resolver    StreamResolver
	extractor   FrameExtractor
	recorder    cameras.FrameRecorder
	publisher   Publisher
	logger      *slog.Logger

	mu    sync.RWMutex
	tasks map[int64]*task
}

// NewManager creates a manager with no active cameras.
func NewManager(opts Options, deps Deps) *Manager {
	defaults := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = defaults.Interval
	}
	if opts.Queue.Capacity == 0 {
		opts.Queue = defaults.Queue
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}

	return &Manager{
		opts:  opts,
		clock: opts.Clock,
		fetcher: &Fetcher{
			Client:   opts.Client,
			Timeout:  opts.FetchTimeout,
			MaxBytes: opts.MaxMediaBytes,
		},
		descriptors: deps.Descriptors,
		resolver:    deps.Resolver,
		extractor:   deps.Extractor,
		recorder:    deps.Recorder,
		publisher:   deps.Publisher,
		logger:      logging.GetLogger("capture"),
		tasks:       make(map[int64]*task),
	}
}

// Start begins capturing cameraID. It resolves the stream synchronously and
// returns the resolution error, leaving the camera stopped. Starting a
// camera that is already starting or running does nothing.
func (m *Manager) Start(ctx context.Context, cameraID int64) error {
	m.mu.Lock()
	if _, ok := m.tasks[cameraID]; ok {
		m.mu.Unlock()
		return nil
	}
	t := &task{
		cameraID:  cameraID,
		queue:     framequeue.New(cameraID, m.opts.Queue),
		logger:    m.logger.With("camera_id", cameraID),
		m:         m,
		state:     events.StateStarting,
		startedAt: m.clock.Now(),
	}
	m.tasks[cameraID] = t
	m.mu.Unlock()

	m.publish(events.CaptureStateChangedEvent{CameraID: cameraID, State: events.StateStarting, Timestamp: m.clock.Now()})

	streamURL, err := m.resolve(ctx, cameraID)
	if err != nil {
		m.mu.Lock()
		if m.tasks[cameraID] == t {
			delete(m.tasks, cameraID)
		}
		m.mu.Unlock()

		t.logger.Error("Failed to start capture", "error", err)
		m.publish(events.CaptureStateChangedEvent{
			CameraID:  cameraID,
			State:     events.StateStopped,
			Error:     err.Error(),
			Timestamp: m.clock.Now(),
		})
		return err
	}

	m.mu.Lock()
	if m.tasks[cameraID] != t {
		// Stopped while resolving.
		m.mu.Unlock()
		return nil
	}
	job := NewJob(fmt.Sprintf("capture-%d", cameraID), m.opts.Interval, m.clock, t.logger, t.attempt)
	t.mu.Lock()
	t.streamURL = streamURL
	t.state = events.StateRunning
	t.job = job
	t.mu.Unlock()
	job.Start(context.Background())
	active := len(m.tasks)
	m.mu.Unlock()

	metrics.SetActiveCaptures(active)
	t.logger.Info("Capture started", "stream_url", streamURL, "interval", m.opts.Interval)
	m.publish(events.CaptureStateChangedEvent{
		CameraID:  cameraID,
		State:     events.StateRunning,
		StreamURL: streamURL,
		Timestamp: m.clock.Now(),
	})
	return nil
}

func (m *Manager) resolve(ctx context.Context, cameraID int64) (string, error) {
	descriptor, err := m.descriptors.StreamDescriptor(ctx, cameraID)
	if err != nil {
		return "", err
	}
	return m.resolver.Resolve(ctx, descriptor)
}

// Stop cancels cameraID's capture and discards its queue. A frame already
// claimed by the worker finishes processing. It reports whether the camera
// was being captured.
func (m *Manager) Stop(cameraID int64) bool {
	m.mu.Lock()
	t, ok := m.tasks[cameraID]
	if ok {
		delete(m.tasks, cameraID)
	}
	active := len(m.tasks)
	m.mu.Unlock()

	if !ok {
		return false
	}

	t.mu.Lock()
	job := t.job
	t.state = events.StateStopped
	t.mu.Unlock()
	if job != nil {
		job.Stop()
	}

	dropped := t.queue.Clear()
	stats := t.queue.Stats()
	t.logger.Info("Capture stopped",
		"dropped", dropped,
		"total_queued", stats.TotalQueued,
		"total_processed", stats.TotalProcessed,
		"total_skipped", stats.TotalSkipped,
		"avg_process_ms", stats.AvgProcessMs)

	metrics.DeleteCamera(cameraID)
	metrics.SetActiveCaptures(active)
	m.publish(events.CaptureStateChangedEvent{CameraID: cameraID, State: events.StateStopped, Timestamp: m.clock.Now()})
	return true
}

// StopAll stops every camera.
func (m *Manager) StopAll() {
	for _, id := range m.ids() {
		m.Stop(id)
	}
}

// Sync starts every camera in ids that is not captured yet and stops every
// captured camera that is not in ids. Cameras start concurrently, so a slow
// upstream only delays its own camera. Start failures are joined.
func (m *Manager) Sync(ctx context.Context, ids []int64) error {
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	for _, id := range m.ids() {
		if _, ok := want[id]; !ok {
			m.Stop(id)
		}
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, id := range ids {
		g.Go(func() error {
			if err := m.Start(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("camera %d: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Status returns the capture snapshot of cameraID.
func (m *Manager) Status(cameraID int64) (Status, bool) {
	m.mu.RLock()
	t, ok := m.tasks[cameraID]
	m.mu.RUnlock()
	if !ok {
		return Status{CameraID: cameraID, State: events.StateStopped}, false
	}
	return t.snapshot(), true
}

// List returns snapshots of every captured camera ordered by id.
func (m *Manager) List() []Status {
	m.mu.RLock()
	tasks := make([]*task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.RUnlock()

	out := make([]Status, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.snapshot())
	}
	slices.SortFunc(out, func(a, b Status) int { return cmp.Compare(a.CameraID, b.CameraID) })
	return out
}

// Queues returns the queues of running cameras ordered by camera id.
func (m *Manager) Queues() []*framequeue.Queue {
	m.mu.RLock()
	out := make([]*framequeue.Queue, 0, len(m.tasks))
	for _, t := range m.tasks {
		t.mu.Lock()
		running := t.state == events.StateRunning
		t.mu.Unlock()
		if running {
			out = append(out, t.queue)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *framequeue.Queue) int { return cmp.Compare(a.CameraID(), b.CameraID()) })
	return out
}

func (m *Manager) ids() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *Manager) publish(ev events.Event) {
	if m.publisher != nil {
		m.publisher.Publish(ev)
	}
}
