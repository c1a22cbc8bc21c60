package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeCaptureStateChanged uint32 = iota + 1
	TypeFrameQueued
	TypeAnalysisCompleted
	TypeAnalysisFailed
	TypeCatalogReloaded
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Capture states carried by CaptureStateChangedEvent.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopped  = "stopped"
)

// CaptureStateChangedEvent is published when a camera's capture starts,
// stops, fails to start, or switches to a re-resolved stream URL.
type CaptureStateChangedEvent struct {
	CameraID  int64     `json:"camera_id" example:"101" doc:"Camera id"`
	State     string    `json:"state" example:"running" doc:"starting, running or stopped"`
	StreamURL string    `json:"stream_url,omitempty" doc:"Resolved stream URL"`
	Error     string    `json:"error,omitempty" doc:"Failure that caused the transition"`
	Timestamp time.Time `json:"timestamp" doc:"Transition time"`
}

// Type returns the event type identifier for CaptureStateChangedEvent.
func (e CaptureStateChangedEvent) Type() uint32 { return TypeCaptureStateChanged }

// FrameQueuedEvent is published for every frame accepted into a queue.
type FrameQueuedEvent struct {
	CameraID   int64     `json:"camera_id" example:"101" doc:"Camera id"`
	FrameID    int64     `json:"frame_id" example:"5512" doc:"Frame record id"`
	Bytes      int       `json:"bytes" doc:"Encoded image size"`
	QueueDepth int       `json:"queue_depth" doc:"Queue length after the push"`
	Evicted    bool      `json:"evicted" doc:"An older frame was dropped to make room"`
	Timestamp  time.Time `json:"timestamp" doc:"Capture time"`
}

// Type returns the event type identifier for FrameQueuedEvent.
func (e FrameQueuedEvent) Type() uint32 { return TypeFrameQueued }

// AnalysisCompletedEvent is published when the analyzer accepted a frame.
type AnalysisCompletedEvent struct {
	CameraID   int64     `json:"camera_id" doc:"Camera id"`
	FrameID    int64     `json:"frame_id" doc:"Frame record id"`
	Detections int       `json:"detections" doc:"Number of detections reported"`
	Attempts   int       `json:"attempts" doc:"HTTP attempts used"`
	LatencyMs  float64   `json:"latency_ms" doc:"Dequeue to completion"`
	Timestamp  time.Time `json:"timestamp" doc:"Completion time"`
}

// Type returns the event type identifier for AnalysisCompletedEvent.
func (e AnalysisCompletedEvent) Type() uint32 { return TypeAnalysisCompleted }

// AnalysisFailedEvent is published when a frame was given up on.
type AnalysisFailedEvent struct {
	CameraID  int64     `json:"camera_id" doc:"Camera id"`
	FrameID   int64     `json:"frame_id" doc:"Frame record id"`
	Code      string    `json:"code" example:"ANALYZER_DISPATCH_FAILED" doc:"Failure code"`
	Error     string    `json:"error" doc:"Failure detail"`
	Timestamp time.Time `json:"timestamp" doc:"Failure time"`
}

// Type returns the event type identifier for AnalysisFailedEvent.
func (e AnalysisFailedEvent) Type() uint32 { return TypeAnalysisFailed }

// CatalogReloadedEvent is published after the camera catalog file changed.
type CatalogReloadedEvent struct {
	Cameras   int       `json:"cameras" doc:"Cameras in the catalog"`
	Enabled   int       `json:"enabled" doc:"Cameras with analysis enabled"`
	Timestamp time.Time `json:"timestamp" doc:"Reload time"`
}

// Type returns the event type identifier for CatalogReloadedEvent.
func (e CatalogReloadedEvent) Type() uint32 { return TypeCatalogReloaded }
