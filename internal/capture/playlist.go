package capture

import (
	"bufio"
	"net/url"
	"strings"
)

// Playlist is the subset of an HLS playlist capture cares about.
type Playlist struct {
	// Segments are absolute MPEG-TS segment URLs in playlist order.
	Segments []string
	// Variants are absolute media playlist URLs of a master playlist.
	Variants []string
}

// ParsePlaylist extracts segment and variant URLs from body, resolving
// relative references against base. Comment and tag lines are skipped.
func ParsePlaylist(body string, base *url.URL) Playlist {
	var pl Playlist
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		path := strings.ToLower(line)
		if i := strings.IndexAny(path, "?#"); i >= 0 {
			path = path[:i]
		}

		switch {
		case strings.HasSuffix(path, ".ts"):
			pl.Segments = append(pl.Segments, resolveRef(base, line))
		case strings.HasSuffix(path, ".m3u8"):
			pl.Variants = append(pl.Variants, resolveRef(base, line))
		}
	}
	return pl
}

func resolveRef(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
