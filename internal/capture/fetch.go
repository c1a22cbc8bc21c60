package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smazurov/cctvnode/internal/faults"
)

// Error codes for capture attempts.
const (
	ErrCodeFetchFailed   faults.Code = "CAPTURE_FETCH_FAILED"
	ErrCodeFrameTooLarge faults.Code = "FRAME_TOO_LARGE"
)

// Sentinels for errors.Is.
var (
	ErrFetchFailed   = faults.New(ErrCodeFetchFailed, "capture fetch failed", nil)
	ErrFrameTooLarge = faults.New(ErrCodeFrameTooLarge, "frame too large", nil)
)

// Fetcher performs bounded GETs against camera upstreams.
type Fetcher struct {
	Client   *http.Client
	Timeout  time.Duration
	MaxBytes int64
}

// Response is a fully read upstream response.
type Response struct {
	Body        []byte
	ContentType string
}

// Get fetches url. Statuses of 400 and above and timeouts fail with
// ErrFetchFailed; bodies larger than MaxBytes fail with ErrFrameTooLarge.
func (f *Fetcher) Get(ctx context.Context, url string) (Response, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, faults.Wrap(ErrCodeFetchFailed, "bad request", err, map[string]any{"url": url})
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Response{}, faults.Wrap(ErrCodeFetchFailed, "request failed", err, map[string]any{"url": url})
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return Response{}, faults.New(ErrCodeFetchFailed, fmt.Sprintf("upstream returned %d", resp.StatusCode), map[string]any{"url": url, "status": resp.StatusCode})
	}

	reader := io.Reader(resp.Body)
	if f.MaxBytes > 0 {
		if resp.ContentLength > f.MaxBytes {
			return Response{}, faults.New(ErrCodeFrameTooLarge, fmt.Sprintf("response of %d bytes exceeds limit", resp.ContentLength), map[string]any{"url": url, "limit": f.MaxBytes})
		}
		reader = io.LimitReader(resp.Body, f.MaxBytes+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return Response{}, faults.Wrap(ErrCodeFetchFailed, "reading body", err, map[string]any{"url": url})
	}
	if f.MaxBytes > 0 && int64(len(body)) > f.MaxBytes {
		return Response{}, faults.New(ErrCodeFrameTooLarge, "response exceeds limit", map[string]any{"url": url, "limit": f.MaxBytes})
	}

	return Response{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}
