package capture

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/smazurov/cctvnode/internal/events"
	"github.com/smazurov/cctvnode/internal/framequeue"
	"github.com/smazurov/cctvnode/internal/jpegscan"
	"github.com/smazurov/cctvnode/internal/metrics"
	"github.com/smazurov/cctvnode/internal/resolver"
)

// task is the capture state of one camera. Its presence in Manager.tasks is
// what makes the camera "captured".
type task struct {
	cameraID int64
	queue    *framequeue.Queue
	logger   *slog.Logger
	m        *Manager

	mu          sync.Mutex
	state       string
	streamURL   string
	startedAt   time.Time
	failures    int
	lastError   string
	lastFrameAt time.Time
	job         *Job
}

func (t *task) snapshot() Status {
	t.mu.Lock()
	st := Status{
		CameraID:            t.cameraID,
		State:               t.state,
		StreamURL:           t.streamURL,
		StartedAt:           t.startedAt,
		ConsecutiveFailures: t.failures,
		LastError:           t.lastError,
	}
	if !t.lastFrameAt.IsZero() {
		at := t.lastFrameAt
		st.LastFrameAt = &at
	}
	t.mu.Unlock()
	st.Queue = t.queue.Stats()
	return st
}

func (t *task) currentURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streamURL
}

// attempt runs one capture cycle. Nothing escapes it: failures become log
// lines and counters.
func (t *task) attempt(ctx context.Context) {
	if t.queue.Saturated() {
		t.queue.RecordSkip()
		metrics.RecordFrameSkipped(t.cameraID, metrics.SkipStopThreshold)
		metrics.RecordCaptureAttempt(t.cameraID, metrics.CaptureSaturated)
		t.logger.Debug("Queue saturated, skipping capture", "length", t.queue.Len())
		return
	}

	frames, err := t.m.grab(ctx, t.logger, t.currentURL())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.RecordCaptureAttempt(t.cameraID, metrics.CaptureFailed)
		t.logger.Warn("Capture attempt failed", "error", err)
		t.recordFailure(ctx, err)
		return
	}

	t.mu.Lock()
	t.failures = 0
	t.lastError = ""
	t.mu.Unlock()

	if len(frames) == 0 {
		metrics.RecordCaptureAttempt(t.cameraID, metrics.CaptureEmpty)
		t.logger.Debug("Capture produced no frames")
		return
	}
	metrics.RecordCaptureAttempt(t.cameraID, metrics.CaptureFrames)

	for _, data := range frames {
		t.enqueue(ctx, data)
	}
}

func (t *task) enqueue(ctx context.Context, data []byte) {
	if limit := t.m.opts.MaxFrameBytes; limit > 0 && len(data) > limit {
		t.queue.RecordSkip()
		metrics.RecordFrameSkipped(t.cameraID, metrics.SkipOversize)
		t.logger.Warn("Dropping oversized frame", "bytes", len(data), "limit", limit)
		return
	}

	capturedAt := t.m.clock.Now()
	frameID, err := t.m.recorder.CreateFrameRecord(ctx, t.cameraID, capturedAt)
	if err != nil {
		t.logger.Warn("Failed to create frame record", "error", err)
		return
	}

	outcome := t.queue.Push(framequeue.Frame{
		ID:         frameID,
		CameraID:   t.cameraID,
		CapturedAt: capturedAt,
		Data:       data,
	})
	depth := t.queue.Len()
	metrics.SetQueueDepth(t.cameraID, depth)

	switch outcome {
	case framequeue.Rejected:
		metrics.RecordFrameSkipped(t.cameraID, metrics.SkipStopThreshold)
		return
	case framequeue.Evicted:
		metrics.RecordFrameSkipped(t.cameraID, metrics.SkipEvicted)
	}
	metrics.RecordFrameQueued(t.cameraID)

	t.mu.Lock()
	t.lastFrameAt = capturedAt
	t.mu.Unlock()

	t.m.publish(events.FrameQueuedEvent{
		CameraID:   t.cameraID,
		FrameID:    frameID,
		Bytes:      len(data),
		QueueDepth: depth,
		Evicted:    outcome == framequeue.Evicted,
		Timestamp:  capturedAt,
	})
}

// recordFailure counts a failed attempt and re-resolves the stream after
// too many in a row. A failed re-resolution keeps the old URL.
func (t *task) recordFailure(ctx context.Context, cause error) {
	limit := t.m.opts.ReresolveAfter

	t.mu.Lock()
	t.failures++
	t.lastError = cause.Error()
	due := limit > 0 && t.failures >= limit
	if due {
		t.failures = 0
	}
	old := t.streamURL
	t.mu.Unlock()

	if !due {
		return
	}

	descriptor, err := t.m.descriptors.StreamDescriptor(ctx, t.cameraID)
	if err == nil {
		t.m.resolver.Invalidate(descriptor)
		var streamURL string
		if streamURL, err = t.m.resolver.Resolve(ctx, descriptor); err == nil {
			if streamURL == old {
				return
			}
			t.mu.Lock()
			t.streamURL = streamURL
			t.mu.Unlock()
			t.logger.Info("Stream re-resolved", "old_url", old, "stream_url", streamURL)
			t.m.publish(events.CaptureStateChangedEvent{
				CameraID:  t.cameraID,
				State:     events.StateRunning,
				StreamURL: streamURL,
				Timestamp: t.m.clock.Now(),
			})
			return
		}
	}
	t.logger.Warn("Re-resolution failed, keeping current stream", "stream_url", old, "error", err)
}

// grab fetches media from streamURL and returns the frames found in it.
func (m *Manager) grab(ctx context.Context, logger *slog.Logger, streamURL string) ([][]byte, error) {
	if !resolver.IsPlaylistURL(streamURL) {
		resp, err := m.fetcher.Get(ctx, streamURL)
		if err != nil {
			return nil, err
		}
		frame := jpegscan.ExtractSingle(resp.Body, resp.ContentType)
		if frame == nil {
			logger.Debug("Response contained no image", "content_type", resp.ContentType, "bytes", len(resp.Body))
			return nil, nil
		}
		return [][]byte{frame}, nil
	}

	pl, err := m.fetchPlaylist(ctx, streamURL)
	if err != nil {
		return nil, err
	}
	if len(pl.Segments) == 0 && len(pl.Variants) > 0 {
		logger.Debug("Following variant playlist", "variant", pl.Variants[0])
		if pl, err = m.fetchPlaylist(ctx, pl.Variants[0]); err != nil {
			return nil, err
		}
	}
	if len(pl.Segments) == 0 {
		logger.Debug("Playlist has no segments", "stream_url", streamURL)
		return nil, nil
	}

	seg, err := m.fetcher.Get(ctx, pl.Segments[0])
	if err != nil {
		return nil, err
	}
	return m.extractor.ExtractFrames(ctx, seg.Body)
}

func (m *Manager) fetchPlaylist(ctx context.Context, playlistURL string) (Playlist, error) {
	resp, err := m.fetcher.Get(ctx, playlistURL)
	if err != nil {
		return Playlist{}, err
	}
	base, err := url.Parse(playlistURL)
	if err != nil {
		base = nil
	}
	return ParsePlaylist(string(resp.Body), base), nil
}
