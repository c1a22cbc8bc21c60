package resolver

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// DefaultFallbackTemplate is the live-stream layout used by the Gwangju
// traffic portal for kind=v descriptors.
const DefaultFallbackTemplate = "https://gjtic.go.kr/cctv{channel}/livehttp/{id}_video2/chunklist.m3u8"

// FallbackParams are the template parameters for one camera.
type FallbackParams struct {
	Channel string `toml:"channel"`
	ID      string `toml:"id"`
}

// Fallback synthesizes a stream URL for descriptors of a known provider
// when scraping fails.
type Fallback struct {
	Kind     string
	Template string
	// Dataset supplies parameters keyed by descriptor id for descriptors
	// that omit the channel.
	Dataset map[string]FallbackParams
}

// DefaultFallback returns the kind=v fallback with no dataset.
func DefaultFallback() Fallback {
	return Fallback{Kind: "v", Template: DefaultFallbackTemplate}
}

// Build returns the fallback URL for d, or false when d does not match.
func (f Fallback) Build(d Descriptor) (string, bool) {
	if f.Template == "" || d.Kind != strings.ToLower(f.Kind) {
		return "", false
	}

	params := FallbackParams{Channel: d.Channel, ID: d.ID}
	if params.Channel == "" || params.ID == "" {
		entry, ok := f.Dataset[d.ID]
		if !ok {
			return "", false
		}
		if params.Channel == "" {
			params.Channel = digitRun.FindString(entry.Channel)
		}
		if entry.ID != "" {
			params.ID = digitRun.FindString(entry.ID)
		}
	}
	if params.Channel == "" || params.ID == "" {
		return "", false
	}

	return strings.NewReplacer("{channel}", params.Channel, "{id}", params.ID).Replace(f.Template), true
}

// LoadFallbackDataset reads a TOML file of the form
//
//	[entries."1047"]
//	channel = "5"
//	id = "1047"
func LoadFallbackDataset(path string) (map[string]FallbackParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback dataset: %w", err)
	}
	var file struct {
		Entries map[string]FallbackParams `toml:"entries"`
	}
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse fallback dataset: %w", err)
	}
	return file.Entries, nil
}
