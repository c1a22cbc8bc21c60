// Package metrics provides Prometheus metrics for the capture pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cctvnode"

// Resolver lookup outcomes.
const (
	ResolveHit      = "cache_hit"
	ResolveDirect   = "direct"
	ResolveScanned  = "scanned"
	ResolveFallback = "fallback"
	ResolveFailed   = "failed"
)

// Capture attempt outcomes.
const (
	CaptureFrames    = "frames"
	CaptureEmpty     = "empty"
	CaptureFailed    = "failed"
	CaptureSaturated = "saturated"
)

// Skip reasons.
const (
	SkipStopThreshold = "stop_threshold"
	SkipEvicted       = "evicted"
	SkipOversize      = "oversize"
)

// Dispatch outcomes.
const (
	DispatchOK             = "ok"
	DispatchNotImplemented = "not_implemented"
	DispatchFailed         = "failed"
)

var (
	resolverLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "resolver",
		Name:      "lookups_total",
		Help:      "Stream descriptor resolutions by outcome",
	}, []string{"result"})

	captureAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "attempts_total",
		Help:      "Capture attempts by outcome",
	}, []string{"camera_id", "result"})

	framesQueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "frames_queued_total",
		Help:      "Frames accepted into a camera queue",
	}, []string{"camera_id"})

	framesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "frames_skipped_total",
		Help:      "Frames dropped before processing",
	}, []string{"camera_id", "reason"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Frames waiting in a camera queue",
	}, []string{"camera_id"})

	activeCaptures = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "active",
		Help:      "Cameras with capture running",
	})

	extractionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ffmpeg",
		Name:      "extraction_seconds",
		Help:      "Wall time of a segment frame extraction",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
	})

	extractionTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ffmpeg",
		Name:      "timeouts_total",
		Help:      "Extractions killed by the wall-clock deadline",
	})

	dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analyzer",
		Name:      "dispatches_total",
		Help:      "Frame dispatches to the analysis service by final outcome",
	}, []string{"result"})

	dispatchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analyzer",
		Name:      "attempts_total",
		Help:      "HTTP attempts made against the analysis service",
	})

	processingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "processing_seconds",
		Help:      "Time from dequeue to dispatch completion",
		Buckets:   prometheus.DefBuckets,
	}, []string{"camera_id"})

	labelCache   = make(map[int64]string)
	labelCacheMu sync.RWMutex
)

func cameraLabel(id int64) string {
	labelCacheMu.RLock()
	s, ok := labelCache[id]
	labelCacheMu.RUnlock()
	if ok {
		return s
	}
	s = strconv.FormatInt(id, 10)
	labelCacheMu.Lock()
	labelCache[id] = s
	labelCacheMu.Unlock()
	return s
}

// RecordResolve counts a resolver outcome.
func RecordResolve(result string) {
	resolverLookups.WithLabelValues(result).Inc()
}

// RecordCaptureAttempt counts a capture attempt outcome.
func RecordCaptureAttempt(cameraID int64, result string) {
	captureAttempts.WithLabelValues(cameraLabel(cameraID), result).Inc()
}

// RecordFrameQueued counts an accepted frame.
func RecordFrameQueued(cameraID int64) {
	framesQueued.WithLabelValues(cameraLabel(cameraID)).Inc()
}

// RecordFrameSkipped counts a dropped frame.
func RecordFrameSkipped(cameraID int64, reason string) {
	framesSkipped.WithLabelValues(cameraLabel(cameraID), reason).Inc()
}

// SetQueueDepth publishes the current queue length of a camera.
func SetQueueDepth(cameraID int64, depth int) {
	queueDepth.WithLabelValues(cameraLabel(cameraID)).Set(float64(depth))
}

// SetActiveCaptures publishes the number of running capture tasks.
func SetActiveCaptures(n int) {
	activeCaptures.Set(float64(n))
}

// ObserveExtraction records one extraction run.
func ObserveExtraction(d time.Duration, timedOut bool) {
	extractionDuration.Observe(d.Seconds())
	if timedOut {
		extractionTimeouts.Inc()
	}
}

// RecordDispatchAttempt counts one HTTP attempt.
func RecordDispatchAttempt() {
	dispatchAttempts.Inc()
}

// RecordDispatch counts a final dispatch outcome.
func RecordDispatch(result string) {
	dispatches.WithLabelValues(result).Inc()
}

// ObserveProcessing records the processing latency of one frame.
func ObserveProcessing(cameraID int64, d time.Duration) {
	processingDuration.WithLabelValues(cameraLabel(cameraID)).Observe(d.Seconds())
}

// DeleteCamera removes all per-camera series.
func DeleteCamera(cameraID int64) {
	label := cameraLabel(cameraID)
	queueDepth.DeleteLabelValues(label)
	framesQueued.DeleteLabelValues(label)
	processingDuration.DeleteLabelValues(label)
	captureAttempts.DeletePartialMatch(prometheus.Labels{"camera_id": label})
	framesSkipped.DeletePartialMatch(prometheus.Labels{"camera_id": label})

	labelCacheMu.Lock()
	delete(labelCache, cameraID)
	labelCacheMu.Unlock()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
