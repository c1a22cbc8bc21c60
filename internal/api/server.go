package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/smazurov/cctvnode/internal/api/models"
	"github.com/smazurov/cctvnode/internal/cameras"
	"github.com/smazurov/cctvnode/internal/capture"
	"github.com/smazurov/cctvnode/internal/events"
	"github.com/smazurov/cctvnode/internal/logging"
	"github.com/smazurov/cctvnode/internal/resolver"
	"github.com/smazurov/cctvnode/internal/version"
)

// Catalog is the camera lookup the API reads from.
type Catalog interface {
	List() []cameras.Camera
	Get(id int64) (cameras.Camera, error)
}

// Captures controls per-camera capture.
type Captures interface {
	Start(ctx context.Context, cameraID int64) error
	Stop(cameraID int64) bool
	Status(cameraID int64) (capture.Status, bool)
	List() []capture.Status
}

// Resolver resolves endpoint descriptors on demand.
type Resolver interface {
	Resolve(ctx context.Context, descriptor string) (string, error)
	Lookup(descriptor string) (resolver.ResolvedStream, bool)
}

// Options wires the server to the rest of the node.
type Options struct {
	Catalog  Catalog
	Captures Captures
	Resolver Resolver
	// Events feeds /api/events. Nil disables the stream.
	Events *events.Bus
	// PrometheusHandler is mounted at /metrics when set.
	PrometheusHandler http.Handler
	// Checks are run by /health; any failure reports "degraded".
	Checks map[string]func(context.Context) error
}

// Server is the control API.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	opts       Options
	logger     *slog.Logger
}

// NewServer creates the API server using Go 1.22+ native routing.
func NewServer(opts Options) *Server {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("cctvnode API", "1.0.0")
	config.Info.Description = "Camera capture and frame analysis control API"
	config.Servers = []*huma.Server{}

	api := humago.New(mux, config)
	api.UseMiddleware(HTTPLoggingMiddleware)

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	s := &Server{
		api:    api,
		mux:    mux,
		opts:   opts,
		logger: logging.GetLogger("api"),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// API returns the Huma API instance.
func (s *Server) API() huma.API {
	return s.api
}

// Start listens on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the server down, closing long-lived event streams once ctx
// expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Stopping API server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health",
		Description: "Report node health and dependency checks",
		Tags:        []string{"health"},
	}, func(ctx context.Context, _ *struct{}) (*models.HealthResponse, error) {
		data := models.HealthData{Status: "ok"}
		if s.opts.Captures != nil {
			data.ActiveCaptures = len(s.opts.Captures.List())
		}
		if len(s.opts.Checks) > 0 {
			data.Checks = make(map[string]string, len(s.opts.Checks))
			for name, check := range s.opts.Checks {
				if err := check(ctx); err != nil {
					data.Checks[name] = err.Error()
					data.Status = "degraded"
					continue
				}
				data.Checks[name] = "ok"
			}
		}
		return &models.HealthResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get build information",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		return &models.VersionResponse{Body: version.Get()}, nil
	})

	s.registerCameraRoutes()
	s.registerResolveRoutes()
	if s.opts.Events != nil {
		s.registerEventRoutes()
	}
}
