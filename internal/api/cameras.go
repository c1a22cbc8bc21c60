package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/cctvnode/internal/api/models"
	"github.com/smazurov/cctvnode/internal/cameras"
	"github.com/smazurov/cctvnode/internal/faults"
	"github.com/smazurov/cctvnode/internal/resolver"
)

func (s *Server) registerCameraRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-cameras",
		Method:      http.MethodGet,
		Path:        "/api/cameras",
		Summary:     "List Cameras",
		Description: "List catalog cameras with their live capture state",
		Tags:        []string{"cameras"},
	}, func(_ context.Context, _ *struct{}) (*models.CameraListResponse, error) {
		cams := s.opts.Catalog.List()
		out := make([]models.CameraData, len(cams))
		for i, cam := range cams {
			out[i] = s.cameraData(cam)
		}
		return &models.CameraListResponse{
			Body: models.CameraListData{Cameras: out, Count: len(out)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-camera",
		Method:      http.MethodGet,
		Path:        "/api/cameras/{camera_id}",
		Summary:     "Get Camera",
		Description: "Get one camera and its capture state",
		Tags:        []string{"cameras"},
		Errors:      []int{404},
	}, func(_ context.Context, input *models.CameraPathInput) (*models.CameraResponse, error) {
		cam, err := s.opts.Catalog.Get(input.CameraID)
		if err != nil {
			return nil, mapError(err)
		}
		return &models.CameraResponse{Body: s.cameraData(cam)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "start-capture",
		Method:      http.MethodPost,
		Path:        "/api/cameras/{camera_id}/capture",
		Summary:     "Start Capture",
		Description: "Resolve the camera stream and start periodic capture. Starting a running camera is a no-op.",
		Tags:        []string{"capture"},
		Errors:      []int{400, 404, 502},
	}, func(ctx context.Context, input *models.CameraPathInput) (*models.CaptureStatusResponse, error) {
		if err := s.opts.Captures.Start(ctx, input.CameraID); err != nil {
			return nil, mapError(err)
		}
		st, _ := s.opts.Captures.Status(input.CameraID)
		return &models.CaptureStatusResponse{Body: st}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-capture",
		Method:      http.MethodDelete,
		Path:        "/api/cameras/{camera_id}/capture",
		Summary:     "Stop Capture",
		Description: "Stop capture and discard the camera's queued frames",
		Tags:        []string{"capture"},
	}, func(_ context.Context, input *models.CameraPathInput) (*models.CaptureStopResponse, error) {
		stopped := s.opts.Captures.Stop(input.CameraID)
		return &models.CaptureStopResponse{
			Body: models.CaptureStopData{CameraID: input.CameraID, Stopped: stopped},
		}, nil
	})
}

func (s *Server) registerResolveRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "resolve-endpoint",
		Method:      http.MethodGet,
		Path:        "/api/resolve",
		Summary:     "Resolve Endpoint",
		Description: "Resolve a camera endpoint descriptor to a directly fetchable stream URL",
		Tags:        []string{"resolver"},
		Errors:      []int{400, 502},
	}, func(ctx context.Context, input *models.ResolveInput) (*models.ResolveResponse, error) {
		streamURL, err := s.opts.Resolver.Resolve(ctx, input.Endpoint)
		if err != nil {
			return nil, mapError(err)
		}
		data := models.ResolveData{Endpoint: input.Endpoint, URL: streamURL}
		if cached, ok := s.opts.Resolver.Lookup(input.Endpoint); ok {
			data.ExpiresAt = &cached.ExpiresAt
		}
		return &models.ResolveResponse{Body: data}, nil
	})
}

func (s *Server) cameraData(cam cameras.Camera) models.CameraData {
	data := models.CameraData{
		ID:       cam.ID,
		Name:     cam.Name,
		Endpoint: cam.Endpoint,
		Enabled:  cam.Enabled,
	}
	if st, ok := s.opts.Captures.Status(cam.ID); ok {
		data.Capture = &st
	}
	return data
}

// mapError maps domain errors to HTTP errors.
func mapError(err error) error {
	switch faults.CodeOf(err) {
	case cameras.ErrCodeCameraNotFound:
		return huma.Error404NotFound("camera not found", err)
	case resolver.ErrCodeInvalidDescriptor:
		return huma.Error400BadRequest("invalid endpoint descriptor", err)
	case resolver.ErrCodeEndpointUnresolvable:
		return huma.Error502BadGateway("stream endpoint could not be resolved", err)
	default:
		return huma.Error500InternalServerError("internal server error", err)
	}
}
