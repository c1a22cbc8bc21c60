// Package cameras holds the camera catalog and the frame-record collaborators
// the capture pipeline reports into.
package cameras

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/cctvnode/internal/faults"
)

// ErrCodeCameraNotFound is returned for unknown camera ids.
const ErrCodeCameraNotFound faults.Code = "CAMERA_NOT_FOUND"

// ErrCameraNotFound matches any camera-not-found error with errors.Is.
var ErrCameraNotFound = faults.New(ErrCodeCameraNotFound, "camera not found", nil)

// Camera is one catalog entry. Endpoint is the stored stream descriptor.
type Camera struct {
	ID       int64  `toml:"id" json:"id"`
	Name     string `toml:"name" json:"name"`
	Endpoint string `toml:"endpoint" json:"endpoint"`
	Enabled  bool   `toml:"enabled" json:"enabled"`
}

type catalogFile struct {
	Cameras []Camera `toml:"cameras"`
}

// LoadCatalogFile parses a TOML catalog. A missing file yields an empty list.
func LoadCatalogFile(path string) ([]Camera, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read camera catalog: %w", err)
	}

	var file catalogFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse camera catalog: %w", err)
	}

	seen := make(map[int64]bool, len(file.Cameras))
	for i, cam := range file.Cameras {
		if cam.ID <= 0 {
			return nil, fmt.Errorf("camera entry %d: id must be positive", i)
		}
		if seen[cam.ID] {
			return nil, fmt.Errorf("camera entry %d: duplicate id %d", i, cam.ID)
		}
		if strings.TrimSpace(cam.Endpoint) == "" {
			return nil, fmt.Errorf("camera %d: endpoint is empty", cam.ID)
		}
		seen[cam.ID] = true
	}
	return file.Cameras, nil
}

// Catalog is an in-memory, replaceable view of the configured cameras.
type Catalog struct {
	mu      sync.RWMutex
	cameras map[int64]Camera
}

// NewCatalog creates a catalog holding cams.
func NewCatalog(cams []Camera) *Catalog {
	c := &Catalog{}
	c.Replace(cams)
	return c
}

// Replace swaps the whole catalog, typically after the file was edited.
func (c *Catalog) Replace(cams []Camera) {
	next := make(map[int64]Camera, len(cams))
	for _, cam := range cams {
		next[cam.ID] = cam
	}
	c.mu.Lock()
	c.cameras = next
	c.mu.Unlock()
}

// Get returns the camera with id.
func (c *Catalog) Get(id int64) (Camera, error) {
	c.mu.RLock()
	cam, ok := c.cameras[id]
	c.mu.RUnlock()
	if !ok {
		return Camera{}, faults.New(ErrCodeCameraNotFound, fmt.Sprintf("camera %d not found", id), map[string]any{"camera_id": id})
	}
	return cam, nil
}

// StreamDescriptor returns the stored endpoint descriptor of a camera.
func (c *Catalog) StreamDescriptor(_ context.Context, id int64) (string, error) {
	cam, err := c.Get(id)
	if err != nil {
		return "", err
	}
	return cam.Endpoint, nil
}

// List returns all cameras ordered by id.
func (c *Catalog) List() []Camera {
	c.mu.RLock()
	out := make([]Camera, 0, len(c.cameras))
	for _, cam := range c.cameras {
		out = append(out, cam)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EnabledIDs returns the ids of cameras with analysis enabled, ordered.
func (c *Catalog) EnabledIDs() []int64 {
	var ids []int64
	for _, cam := range c.List() {
		if cam.Enabled {
			ids = append(ids, cam.ID)
		}
	}
	return ids
}
