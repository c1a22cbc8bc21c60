package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/smazurov/cctvnode/internal/api/models"
	"github.com/smazurov/cctvnode/internal/cameras"
	"github.com/smazurov/cctvnode/internal/capture"
	"github.com/smazurov/cctvnode/internal/events"
	"github.com/smazurov/cctvnode/internal/resolver"
)

type fakeCaptures struct {
	running  map[int64]capture.Status
	startErr error
}

func (f *fakeCaptures) Start(_ context.Context, id int64) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running[id] = capture.Status{CameraID: id, State: events.StateRunning, StreamURL: "https://cams.example.com/live.m3u8"}
	return nil
}

func (f *fakeCaptures) Stop(id int64) bool {
	_, ok := f.running[id]
	delete(f.running, id)
	return ok
}

func (f *fakeCaptures) Status(id int64) (capture.Status, bool) {
	st, ok := f.running[id]
	return st, ok
}

func (f *fakeCaptures) List() []capture.Status {
	out := make([]capture.Status, 0, len(f.running))
	for _, st := range f.running {
		out = append(out, st)
	}
	return out
}

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, d string) (string, error) {
	switch {
	case strings.HasPrefix(d, "bad"):
		return "", resolver.ErrInvalidDescriptor
	case strings.Contains(d, "nowhere"):
		return "", resolver.ErrEndpointUnresolvable
	}
	return d + "/chunklist.m3u8", nil
}

func (fakeResolver) Lookup(string) (resolver.ResolvedStream, bool) {
	return resolver.ResolvedStream{ExpiresAt: time.Date(2024, 5, 1, 8, 5, 0, 0, time.UTC)}, true
}

func newTestServer(t *testing.T) (*Server, *fakeCaptures, *events.Bus) {
	t.Helper()
	caps := &fakeCaptures{running: map[int64]capture.Status{}}
	bus := events.New()
	srv := NewServer(Options{
		Catalog: cameras.NewCatalog([]cameras.Camera{
			{ID: 101, Name: "North gate", Endpoint: "https://cams.example.com/cctv?kind=v&cctvch=5&id=1047", Enabled: true},
			{ID: 102, Name: "Bridge", Endpoint: "https://cams.example.com/bridge.m3u8"},
		}),
		Captures: caps,
		Resolver: fakeResolver{},
		Events:   bus,
		PrometheusHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "# metrics\n")
		}),
		Checks: map[string]func(context.Context) error{
			"database": func(context.Context) error { return nil },
		},
	})
	return srv, caps, bus
}

func decode[T any](t *testing.T, body io.Reader) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestHealth(t *testing.T) {
	srv, caps, _ := newTestServer(t)
	caps.running[101] = capture.Status{CameraID: 101}
	api := humatest.Wrap(t, srv.API())

	resp := api.Get("/health")
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d", resp.Code)
	}
	data := decode[models.HealthData](t, resp.Body)
	if data.Status != "ok" || data.ActiveCaptures != 1 || data.Checks["database"] != "ok" {
		t.Fatalf("unexpected health: %+v", data)
	}

	srv.opts.Checks["database"] = func(context.Context) error { return errors.New("connection refused") }
	data = decode[models.HealthData](t, api.Get("/health").Body)
	if data.Status != "degraded" || data.Checks["database"] != "connection refused" {
		t.Fatalf("unexpected degraded health: %+v", data)
	}
}

func TestCameraRoutes(t *testing.T) {
	srv, _, _ := newTestServer(t)
	api := humatest.Wrap(t, srv.API())

	list := decode[models.CameraListData](t, api.Get("/api/cameras").Body)
	if list.Count != 2 || list.Cameras[0].ID != 101 || list.Cameras[0].Capture != nil {
		t.Fatalf("unexpected list: %+v", list)
	}

	if resp := api.Get("/api/cameras/999"); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}

	resp := api.Post("/api/cameras/101/capture")
	if resp.Code != http.StatusOK {
		t.Fatalf("start: status %d: %s", resp.Code, resp.Body.String())
	}
	st := decode[capture.Status](t, resp.Body)
	if st.CameraID != 101 || st.State != events.StateRunning {
		t.Fatalf("unexpected status: %+v", st)
	}

	cam := decode[models.CameraData](t, api.Get("/api/cameras/101").Body)
	if cam.Capture == nil || cam.Capture.StreamURL == "" {
		t.Fatalf("expected capture state on camera: %+v", cam)
	}

	stop := decode[models.CaptureStopData](t, api.Delete("/api/cameras/101/capture").Body)
	if !stop.Stopped {
		t.Fatal("expected stopped=true")
	}
	stop = decode[models.CaptureStopData](t, api.Delete("/api/cameras/101/capture").Body)
	if stop.Stopped {
		t.Fatal("second stop should report stopped=false")
	}
}

func TestStartCaptureErrors(t *testing.T) {
	srv, caps, _ := newTestServer(t)
	api := humatest.Wrap(t, srv.API())

	tests := []struct {
		err  error
		code int
	}{
		{cameras.ErrCameraNotFound, http.StatusNotFound},
		{resolver.ErrInvalidDescriptor, http.StatusBadRequest},
		{resolver.ErrEndpointUnresolvable, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		caps.startErr = tt.err
		if resp := api.Post("/api/cameras/101/capture"); resp.Code != tt.code {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.code, resp.Code)
		}
	}
}

func TestResolveRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)
	api := humatest.Wrap(t, srv.API())

	resp := api.Get("/api/resolve?endpoint=https://cams.example.com/page")
	if resp.Code != http.StatusOK {
		t.Fatalf("status %d: %s", resp.Code, resp.Body.String())
	}
	data := decode[models.ResolveData](t, resp.Body)
	if data.URL != "https://cams.example.com/page/chunklist.m3u8" || data.ExpiresAt == nil {
		t.Fatalf("unexpected resolve data: %+v", data)
	}

	if resp := api.Get("/api/resolve?endpoint=bad"); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if resp := api.Get("/api/resolve?endpoint=https://nowhere.example.com"); resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
	if resp := api.Get("/api/resolve"); resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without endpoint, got %d", resp.Code)
	}
}

func TestMetricsMounted(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "# metrics") {
		t.Fatalf("unexpected /metrics response: %d %q", resp.StatusCode, body)
	}
}

func TestEventStream(t *testing.T) {
	srv, _, bus := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Headers may only be flushed with the first event, so publish until
	// the subscription picks one up.
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				bus.Publish(events.AnalysisCompletedEvent{CameraID: 101, FrameID: 77, Detections: 4})
			}
		}
	}()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	deadline := time.After(3 * time.Second)
	var sawName bool
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed")
			}
			if line == "event: analysis-completed" {
				sawName = true
			}
			if strings.HasPrefix(line, "data:") && strings.Contains(line, `"frame_id":77`) {
				if !sawName {
					t.Fatal("data arrived without its event name")
				}
				return
			}
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}
