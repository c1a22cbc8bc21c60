// Package analyzer dispatches processed frames to the external detection
// service.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/smazurov/cctvnode/internal/faults"
	"github.com/smazurov/cctvnode/internal/logging"
	"github.com/smazurov/cctvnode/internal/metrics"
)

// Error codes.
const (
	ErrCodeDispatchFailed faults.Code = "ANALYZER_DISPATCH_FAILED"
	ErrCodeNotImplemented faults.Code = "ANALYZER_NOT_IMPLEMENTED"
)

// Sentinels for errors.Is.
var (
	ErrDispatchFailed = faults.New(ErrCodeDispatchFailed, "analyzer dispatch failed", nil)
	ErrNotImplemented = faults.New(ErrCodeNotImplemented, "analyzer endpoint not implemented", nil)
)

const maxResponseBytes = 1 << 20

// Options configures a Client.
type Options struct {
	BaseURL    string
	Path       string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	// HTTPClient overrides the underlying client. Its Timeout is replaced
	// by Options.Timeout.
	HTTPClient *http.Client
}

// DefaultOptions points at the detection service's default address.
func DefaultOptions() Options {
	return Options{
		BaseURL:    "http://model:8000",
		Path:       "/analyze/frame",
		Timeout:    10 * time.Second,
		MaxRetries: 2,
		RetryDelay: time.Second,
	}
}

// Detection is one object found in a frame.
type Detection struct {
	Class      string    `json:"cls" doc:"Detected class"`
	Confidence float64   `json:"conf" doc:"Detection confidence"`
	BBox       []float64 `json:"bbox,omitempty" doc:"x1, y1, x2, y2"`
}

// Response is the detection service's reply.
type Response struct {
	OK              bool        `json:"ok"`
	Detections      []Detection `json:"detections"`
	DetectionsCount int         `json:"detections_count"`
	Error           string      `json:"error,omitempty"`
}

// Result describes a successful dispatch.
type Result struct {
	Response
	Attempts  int
	RequestID string
}

// Frame is what gets dispatched.
type Frame struct {
	CameraID int64
	FrameID  int64
	Image    []byte
}

// Client posts frames to the detection service, retrying with a linearly
// growing delay. 404 and 501 responses mean the endpoint does not exist yet
// and end the dispatch immediately.
type Client struct {
	endpoint string
	http     *retryablehttp.Client
}

type attemptsKey struct{}

// NewClient builds a client from opts, filling zero values from DefaultOptions.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.Path == "" {
		opts.Path = def.Path
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	rc := retryablehttp.NewClient()
	if opts.HTTPClient != nil {
		hc := *opts.HTTPClient
		rc.HTTPClient = &hc
	}
	rc.HTTPClient.Timeout = opts.Timeout
	rc.Logger = logging.GetLogger("analyzer")
	rc.RetryMax = opts.MaxRetries
	rc.RetryWaitMin = opts.RetryDelay
	rc.RetryWaitMax = opts.RetryDelay * time.Duration(opts.MaxRetries+1)
	rc.CheckRetry = checkRetry
	rc.Backoff = linearBackoff
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, _ int) {
		metrics.RecordDispatchAttempt()
		if n, ok := req.Context().Value(attemptsKey{}).(*atomic.Int32); ok {
			n.Add(1)
		}
	}

	return &Client{
		endpoint: strings.TrimRight(opts.BaseURL, "/") + "/" + strings.TrimLeft(opts.Path, "/"),
		http:     rc,
	}
}

// Endpoint returns the URL frames are posted to.
func (c *Client) Endpoint() string { return c.endpoint }

// Dispatch sends f and returns the parsed reply. Failures are
// ErrNotImplemented or ErrDispatchFailed.
func (c *Client) Dispatch(ctx context.Context, f Frame) (Result, error) {
	body, contentType, err := encodeForm(f)
	if err != nil {
		return Result{}, faults.Wrap(ErrCodeDispatchFailed, "encoding form", err, nil)
	}

	var attempts atomic.Int32
	ctx = context.WithValue(ctx, attemptsKey{}, &attempts)
	requestID := uuid.NewString()
	errCtx := map[string]any{"camera_id": f.CameraID, "frame_id": f.FrameID, "request_id": requestID}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return Result{}, faults.Wrap(ErrCodeDispatchFailed, "building request", err, errCtx)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.http.Do(req)
	n := int(attempts.Load())
	errCtx["attempts"] = n
	if err != nil {
		metrics.RecordDispatch(metrics.DispatchFailed)
		return Result{Attempts: n, RequestID: requestID}, faults.Wrap(ErrCodeDispatchFailed, "request failed", err, errCtx)
	}
	defer resp.Body.Close()

	if isTerminal(resp.StatusCode) {
		metrics.RecordDispatch(metrics.DispatchNotImplemented)
		errCtx["status"] = resp.StatusCode
		return Result{Attempts: n, RequestID: requestID}, faults.New(ErrCodeNotImplemented, "analyzer endpoint not available", errCtx)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordDispatch(metrics.DispatchFailed)
		errCtx["status"] = resp.StatusCode
		return Result{Attempts: n, RequestID: requestID}, faults.New(ErrCodeDispatchFailed, fmt.Sprintf("analyzer returned %d", resp.StatusCode), errCtx)
	}

	var out Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		metrics.RecordDispatch(metrics.DispatchFailed)
		return Result{Attempts: n, RequestID: requestID}, faults.Wrap(ErrCodeDispatchFailed, "decoding response", err, errCtx)
	}
	if !out.OK {
		metrics.RecordDispatch(metrics.DispatchFailed)
		msg := out.Error
		if msg == "" {
			msg = "unknown error"
		}
		return Result{Response: out, Attempts: n, RequestID: requestID}, faults.New(ErrCodeDispatchFailed, "analyzer rejected frame: "+msg, errCtx)
	}
	if out.DetectionsCount == 0 {
		out.DetectionsCount = len(out.Detections)
	}

	metrics.RecordDispatch(metrics.DispatchOK)
	return Result{Response: out, Attempts: n, RequestID: requestID}, nil
}

func isTerminal(status int) bool {
	return status == http.StatusNotFound || status == http.StatusNotImplemented
}

// checkRetry retries transport errors, every non-2xx status except the
// terminal ones, and 2xx replies whose body says ok=false.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if isTerminal(resp.StatusCode) {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return true, nil
	}

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(data))
	if readErr != nil {
		return true, nil
	}
	var probe struct {
		OK bool `json:"ok"`
	}
	if json.Unmarshal(data, &probe) != nil || !probe.OK {
		return true, nil
	}
	return false, nil
}

// linearBackoff waits min, 2*min, 3*min ... capped at max.
func linearBackoff(minWait, maxWait time.Duration, attemptNum int, _ *http.Response) time.Duration {
	wait := minWait * time.Duration(attemptNum+1)
	if maxWait > 0 && wait > maxWait {
		wait = maxWait
	}
	return wait
}

func encodeForm(f Frame) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="cctv_%d_%d.jpg"`, f.CameraID, f.FrameID))
	h.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(f.Image); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("cctv_id", strconv.FormatInt(f.CameraID, 10)); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("frame_id", strconv.FormatInt(f.FrameID, 10)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
