package resolver

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/smazurov/cctvnode/internal/faults"
)

var digitRun = regexp.MustCompile(`\d+`)

// Descriptor is a parsed camera endpoint descriptor.
type Descriptor struct {
	// Normalized is the canonical absolute URL, used as the cache key.
	Normalized string
	URL        *url.URL
	// Kind, Channel and ID come from the kind, cctvch and id query
	// parameters. Channel and ID keep only their first run of digits.
	Kind    string
	Channel string
	ID      string
}

// ParseDescriptor validates and normalizes a stored endpoint descriptor.
func ParseDescriptor(raw string) (Descriptor, error) {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil {
		return Descriptor{}, faults.Wrap(ErrCodeInvalidDescriptor, "descriptor is not a valid URL", err, map[string]any{"descriptor": raw})
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return Descriptor{}, faults.New(ErrCodeInvalidDescriptor, "descriptor must be an absolute http(s) URL", map[string]any{"descriptor": raw})
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment, u.RawFragment = "", ""

	q := u.Query()
	return Descriptor{
		Normalized: u.String(),
		URL:        u,
		Kind:       strings.ToLower(q.Get("kind")),
		Channel:    digitRun.FindString(q.Get("cctvch")),
		ID:         digitRun.FindString(q.Get("id")),
	}, nil
}

// IsPlaylistURL reports whether s points at an HLS playlist.
func IsPlaylistURL(s string) bool {
	return strings.Contains(strings.ToLower(s), ".m3u8")
}
