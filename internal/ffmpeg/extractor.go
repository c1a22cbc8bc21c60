// Package ffmpeg extracts JPEG frames from MPEG-TS segments with an external
// ffmpeg process.
package ffmpeg

import (
	"bytes"
	"context"
	"time"

	"github.com/smazurov/cctvnode/internal/faults"
	"github.com/smazurov/cctvnode/internal/jpegscan"
	"github.com/smazurov/cctvnode/internal/logging"
	"github.com/smazurov/cctvnode/internal/metrics"
	"github.com/smazurov/cctvnode/internal/process"
	"golang.org/x/sync/semaphore"
)

// ErrCodeExtractionFailed marks a segment that could not be handed to ffmpeg.
const ErrCodeExtractionFailed faults.Code = "EXTRACTION_FAILED"

// ErrExtractionFailed matches extraction failures with errors.Is.
var ErrExtractionFailed = faults.New(ErrCodeExtractionFailed, "extraction failed", nil)

// ExtractorOptions configures an Extractor.
type ExtractorOptions struct {
	Params
	// MaxFrames caps the images taken per segment.
	MaxFrames int
	// MaxFrameBytes bounds a single image while it is being assembled.
	MaxFrameBytes int
	// Timeout is the wall-clock limit for one ffmpeg run.
	Timeout time.Duration
	// MaxConcurrent bounds simultaneous ffmpeg processes across all cameras.
	MaxConcurrent int64
}

// Extractor turns segments into JPEG frames.
type Extractor struct {
	opts   ExtractorOptions
	sem    *semaphore.Weighted
	logger logging.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(opts ExtractorOptions) *Extractor {
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Options == nil {
		opts.Options = DefaultOptions()
	}
	return &Extractor{
		opts:   opts,
		sem:    semaphore.NewWeighted(opts.MaxConcurrent),
		logger: logging.GetLogger("ffmpeg"),
	}
}

// ExtractFrames pipes segment through ffmpeg and returns up to MaxFrames
// JPEG images. A timeout yields the images decoded so far. Only a failure to
// run ffmpeg at all is returned as an error.
func (e *Extractor) ExtractFrames(ctx context.Context, segment []byte) ([][]byte, error) {
	if len(segment) == 0 {
		return nil, nil
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, faults.Wrap(ErrCodeExtractionFailed, "waiting for an extraction slot", err, nil)
	}
	defer e.sem.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	scanner := jpegscan.NewScanner(e.opts.MaxFrames, e.opts.MaxFrameBytes)
	var frames [][]byte

	res, err := process.Run(runCtx, process.Command{
		Args:  BuildArgs(e.opts.Params),
		Stdin: bytes.NewReader(segment),
		Stdout: func(chunk []byte) {
			frames = append(frames, scanner.Feed(chunk)...)
		},
		Logger:    e.logger,
		LogParser: ParseLogLevel,
	})
	if err != nil {
		return nil, faults.Wrap(ErrCodeExtractionFailed, "ffmpeg did not start", err, map[string]any{"binary": e.opts.Binary})
	}

	timedOut := res.Interrupted && ctx.Err() == nil
	metrics.ObserveExtraction(res.Duration, timedOut)

	switch {
	case timedOut:
		e.logger.Warn("Extraction timed out, keeping decoded frames",
			"timeout", e.opts.Timeout, "frames", scanner.Found(), "partial_bytes", scanner.Buffered(), "segment_bytes", len(segment))
	case res.ExitCode != 0 && len(frames) == 0:
		e.logger.Debug("ffmpeg produced no frames", "exit_code", res.ExitCode, "segment_bytes", len(segment))
	default:
		e.logger.Debug("Frames extracted", "frames", scanner.Found(), "took", res.Duration, "segment_bytes", len(segment))
	}
	return frames, nil
}
