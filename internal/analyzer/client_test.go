package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testClient(url string) *Client {
	return NewClient(Options{
		BaseURL:    url,
		Path:       "/analyze/frame",
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		RetryDelay: 5 * time.Millisecond,
	})
}

var testFrame = Frame{CameraID: 12, FrameID: 3456, Image: []byte{0xFF, 0xD8, 0xFF, 0xD9}}

func TestDispatchSendsMultipartForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/analyze/frame" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if got := r.FormValue("cctv_id"); got != "12" {
			t.Errorf("cctv_id = %q", got)
		}
		if got := r.FormValue("frame_id"); got != "3456" {
			t.Errorf("frame_id = %q", got)
		}
		file, hdr, err := r.FormFile("image")
		if err != nil {
			t.Errorf("image part: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if hdr.Filename != "cctv_12_3456.jpg" || hdr.Header.Get("Content-Type") != "image/jpeg" || len(data) != 4 {
			t.Errorf("unexpected image part: %s %s %d bytes", hdr.Filename, hdr.Header.Get("Content-Type"), len(data))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"detections": []map[string]any{
				{"cls": "car", "conf": 0.91, "bbox": []float64{1, 2, 3, 4}},
				{"cls": "bus", "conf": 0.55, "bbox": []float64{5, 6, 7, 8}},
			},
		})
	}))
	defer srv.Close()

	res, err := testClient(srv.URL).Dispatch(context.Background(), testFrame)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Attempts != 1 || res.RequestID == "" {
		t.Fatalf("unexpected result meta: %+v", res)
	}
	if res.DetectionsCount != 2 || res.Detections[0].Class != "car" || res.Detections[1].Confidence != 0.55 {
		t.Fatalf("unexpected detections: %+v", res.Response)
	}
}

func TestDispatchTerminalStatuses(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusNotImplemented} {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(status)
		}))

		_, err := testClient(srv.URL).Dispatch(context.Background(), testFrame)
		srv.Close()

		if !errors.Is(err, ErrNotImplemented) {
			t.Fatalf("status %d: expected ErrNotImplemented, got %v", status, err)
		}
		if calls.Load() != 1 {
			t.Fatalf("status %d: expected a single call, got %d", status, calls.Load())
		}
	}
}

func TestDispatchRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"detections":[],"detections_count":0}`))
	}))
	defer srv.Close()

	res, err := testClient(srv.URL).Dispatch(context.Background(), testFrame)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.Attempts != 3 || calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d (calls %d)", res.Attempts, calls.Load())
	}
}

func TestDispatchExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	res, err := testClient(srv.URL).Dispatch(context.Background(), testFrame)
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}
	if calls.Load() != 3 || res.Attempts != 3 {
		t.Fatalf("expected 1 try plus 2 retries, got %d calls", calls.Load())
	}
}

func TestDispatchRetriesNotOK(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"ok":false,"error":"model warming up"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Dispatch(context.Background(), testFrame)
	if !errors.Is(err, ErrDispatchFailed) || !strings.Contains(err.Error(), "model warming up") {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestDispatchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := testClient(url).Dispatch(context.Background(), testFrame)
	if !errors.Is(err, ErrDispatchFailed) {
		t.Fatalf("expected ErrDispatchFailed, got %v", err)
	}
}

func TestLinearBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	for i, want := range []time.Duration{100, 200, 300, 300} {
		if got := linearBackoff(base, 300*time.Millisecond, i, nil); got != want*time.Millisecond {
			t.Errorf("attempt %d: got %v, want %v", i, got, want*time.Millisecond)
		}
	}
}

func TestEndpoint(t *testing.T) {
	c := NewClient(Options{BaseURL: "http://model:8000/", Path: "analyze/frame"})
	if c.Endpoint() != "http://model:8000/analyze/frame" {
		t.Fatalf("unexpected endpoint %s", c.Endpoint())
	}
}
