package models

import (
	"time"

	"github.com/smazurov/cctvnode/internal/capture"
	"github.com/smazurov/cctvnode/internal/version"
)

// Health check models
type HealthData struct {
	Status         string            `json:"status" example:"ok" doc:"ok or degraded"`
	ActiveCaptures int               `json:"active_captures" example:"4" doc:"Cameras being captured"`
	Checks         map[string]string `json:"checks,omitempty" doc:"Dependency check results"`
}

type HealthResponse struct {
	Body HealthData
}

type VersionResponse struct {
	Body version.Info
}

// Camera models
type CameraData struct {
	ID       int64           `json:"id" example:"101" doc:"Camera id"`
	Name     string          `json:"name" example:"Sangmu-daero crossing" doc:"Display name"`
	Endpoint string          `json:"endpoint" doc:"Stored stream descriptor"`
	Enabled  bool            `json:"enabled" doc:"Whether the catalog asks for analysis"`
	Capture  *capture.Status `json:"capture,omitempty" doc:"Live capture state, absent when stopped"`
}

type CameraListData struct {
	Cameras []CameraData `json:"cameras" doc:"Cameras in the catalog"`
	Count   int          `json:"count" example:"12" doc:"Number of cameras"`
}

type CameraListResponse struct {
	Body CameraListData
}

type CameraPathInput struct {
	CameraID int64 `path:"camera_id" minimum:"1" example:"101" doc:"Camera id"`
}

type CameraResponse struct {
	Body CameraData
}

type CaptureStatusResponse struct {
	Body capture.Status
}

type CaptureStopData struct {
	CameraID int64 `json:"camera_id" example:"101" doc:"Camera id"`
	Stopped  bool  `json:"stopped" doc:"False when the camera was not being captured"`
}

type CaptureStopResponse struct {
	Body CaptureStopData
}

// Resolver models
type ResolveInput struct {
	Endpoint string `query:"endpoint" required:"true" minLength:"1" doc:"Camera endpoint descriptor"`
}

type ResolveData struct {
	Endpoint  string     `json:"endpoint" doc:"Descriptor as given"`
	URL       string     `json:"url" example:"https://example.com/live/chunklist.m3u8" doc:"Resolved stream URL"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" doc:"Cache expiry of the resolution"`
}

type ResolveResponse struct {
	Body ResolveData
}
