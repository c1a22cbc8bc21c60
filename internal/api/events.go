package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/cctvnode/internal/events"
)

// registerEventRoutes registers the pipeline event stream.
func (s *Server) registerEventRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Pipeline Events",
		Description: "Server-Sent Events for capture state changes, queued frames and analysis results",
		Tags:        []string{"events"},
	}, map[string]any{
		"capture-state":      events.CaptureStateChangedEvent{},
		"frame-queued":       events.FrameQueuedEvent{},
		"analysis-completed": events.AnalysisCompletedEvent{},
		"analysis-failed":    events.AnalysisFailedEvent{},
		"catalog-reloaded":   events.CatalogReloadedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 64)
		unsubscribe := s.opts.Events.Forward(eventCh)
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}
