// Package framequeue implements the bounded per-camera frame queue that sits
// between capture and processing.
package framequeue

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/cctvnode/internal/logging"
)

// Frame is a captured image waiting for processing. ID is the durable frame
// record id allocated before the frame is queued.
type Frame struct {
	ID         int64
	CameraID   int64
	CapturedAt time.Time
	Data       []byte
}

// Policy bounds a queue. StopThreshold <= Capacity; a zero StopThreshold
// disables the hard stop so that a full queue evicts its oldest frame instead.
type Policy struct {
	Capacity      int
	WarnThreshold int
	StopThreshold int
}

// DefaultPolicy is capacity 5, warn at 4, stop at 5.
func DefaultPolicy() Policy {
	return Policy{Capacity: 5, WarnThreshold: 4, StopThreshold: 5}
}

// Normalize clamps the thresholds into a consistent policy.
func (p Policy) Normalize() Policy {
	if p.Capacity < 1 {
		p.Capacity = 1
	}
	if p.StopThreshold < 0 || p.StopThreshold > p.Capacity {
		p.StopThreshold = p.Capacity
	}
	limit := p.StopThreshold
	if limit == 0 {
		limit = p.Capacity
	}
	if p.WarnThreshold < 1 || p.WarnThreshold > limit {
		p.WarnThreshold = limit
	}
	return p
}

// Outcome describes what Push did.
type Outcome int

const (
	// Appended means the frame was added without side effects.
	Appended Outcome = iota
	// Evicted means the oldest frame was dropped to make room.
	Evicted
	// Rejected means the queue was at its stop threshold.
	Rejected
)

// Accepted reports whether the pushed frame is now in the queue.
func (o Outcome) Accepted() bool { return o != Rejected }

func (o Outcome) String() string {
	switch o {
	case Appended:
		return "appended"
	case Evicted:
		return "evicted"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time view of a queue.
type Stats struct {
	Length         int     `json:"length"`
	Capacity       int     `json:"capacity"`
	Processing     bool    `json:"processing"`
	TotalQueued    uint64  `json:"total_queued"`
	TotalProcessed uint64  `json:"total_processed"`
	TotalSkipped   uint64  `json:"total_skipped"`
	AvgProcessMs   float64 `json:"avg_process_ms"`
}

// Queue is a bounded FIFO of frames for one camera. It has exactly one
// producer (the camera's capture task) and one consumer (the worker).
type Queue struct {
	cameraID int64
	policy   Policy
	logger   *slog.Logger

	mu             sync.Mutex
	frames         []Frame
	warned         bool
	totalQueued    uint64
	totalProcessed uint64
	totalSkipped   uint64
	avgProcessMs   float64

	processing atomic.Bool
}

// New creates a queue for cameraID.
func New(cameraID int64, policy Policy) *Queue {
	policy = policy.Normalize()
	return &Queue{
		cameraID: cameraID,
		policy:   policy,
		frames:   make([]Frame, 0, policy.Capacity),
		logger:   logging.GetLogger("capture").With("camera_id", cameraID),
	}
}

// CameraID returns the owning camera.
func (q *Queue) CameraID() int64 { return q.cameraID }

// Push offers a frame. At the stop threshold the frame is rejected and the
// queue is untouched. At capacity the oldest frame is evicted first.
func (q *Queue) Push(f Frame) Outcome {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stoppedLocked() {
		q.totalSkipped++
		if q.totalSkipped%10 == 0 {
			q.logger.Warn("Queue full, skipping frames",
				"length", len(q.frames), "capacity", q.policy.Capacity, "skipped", q.totalSkipped)
		}
		return Rejected
	}

	outcome := Appended
	if len(q.frames) >= q.policy.Capacity {
		q.dropHead()
		q.totalSkipped++
		outcome = Evicted
		if q.totalSkipped%5 == 0 {
			q.logger.Warn("Queue at capacity, evicted oldest frame", "skipped", q.totalSkipped)
		}
	}

	q.frames = append(q.frames, f)
	q.totalQueued++

	if !q.warned && len(q.frames) >= q.policy.WarnThreshold {
		q.warned = true
		q.logger.Warn("Queue nearing capacity", "length", len(q.frames), "capacity", q.policy.Capacity)
	}
	return outcome
}

// Saturated reports whether a push would currently be rejected.
func (q *Queue) Saturated() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stoppedLocked()
}

func (q *Queue) stoppedLocked() bool {
	return q.policy.StopThreshold > 0 && len(q.frames) >= q.policy.StopThreshold
}

// RecordSkip counts a frame dropped before it reached Push.
func (q *Queue) RecordSkip() {
	q.mu.Lock()
	q.totalSkipped++
	q.mu.Unlock()
}

// PopOne removes and returns the oldest frame.
func (q *Queue) PopOne() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Claim pops the oldest frame and marks the queue as processing. It fails
// when the queue is empty or a frame from it is already being processed.
func (q *Queue) Claim() (Frame, bool) {
	if !q.processing.CompareAndSwap(false, true) {
		return Frame{}, false
	}
	q.mu.Lock()
	f, ok := q.popLocked()
	q.mu.Unlock()
	if !ok {
		q.processing.Store(false)
	}
	return f, ok
}

// Done ends the processing started by Claim and folds took into the
// running average processing time.
func (q *Queue) Done(took time.Duration) {
	q.mu.Lock()
	q.totalProcessed++
	ms := float64(took) / float64(time.Millisecond)
	q.avgProcessMs += (ms - q.avgProcessMs) / float64(q.totalProcessed)
	q.mu.Unlock()
	q.processing.Store(false)
}

// Processing reports whether a claimed frame is in flight.
func (q *Queue) Processing() bool { return q.processing.Load() }

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Clear drops every queued frame and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.frames)
	for i := range q.frames {
		q.frames[i] = Frame{}
	}
	q.frames = q.frames[:0]
	q.warned = false
	return n
}

// Stats returns counters and the current length.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Length:         len(q.frames),
		Capacity:       q.policy.Capacity,
		Processing:     q.processing.Load(),
		TotalQueued:    q.totalQueued,
		TotalProcessed: q.totalProcessed,
		TotalSkipped:   q.totalSkipped,
		AvgProcessMs:   q.avgProcessMs,
	}
}

func (q *Queue) popLocked() (Frame, bool) {
	if len(q.frames) == 0 {
		return Frame{}, false
	}
	f := q.frames[0]
	q.dropHead()
	if q.warned && len(q.frames) < q.policy.WarnThreshold {
		q.warned = false
	}
	return f, true
}

// dropHead removes frames[0] and releases its buffer (must hold mu).
func (q *Queue) dropHead() {
	q.frames[0] = Frame{}
	copy(q.frames, q.frames[1:])
	q.frames[len(q.frames)-1] = Frame{}
	q.frames = q.frames[:len(q.frames)-1]
}
