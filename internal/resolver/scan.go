package resolver

import (
	"html"
	"regexp"
	"strings"
)

var (
	playlistPattern = regexp.MustCompile(`(?i)https?://[^"'<>\s]+\.m3u8[^"'<>\s]*`)
	videoPattern    = regexp.MustCompile(`(?i)https?://[^"'<>\s]+\.mp4[^"'<>\s]*`)

	trailingComment = regexp.MustCompile(`--+>?$`)
	trailingSemi    = regexp.MustCompile(`;+$`)
	trailingParen   = regexp.MustCompile(`\)+$`)
	absoluteHTTP    = regexp.MustCompile(`(?i)^https?://`)
)

// FindStreamURL returns the first usable playlist URL in body, or failing
// that the first usable video file URL. It returns "" when nothing qualifies.
func FindStreamURL(body string) string {
	for _, pattern := range []*regexp.Regexp{playlistPattern, videoPattern} {
		for _, match := range pattern.FindAllString(body, -1) {
			if candidate := cleanCandidate(match); candidate != "" {
				return candidate
			}
		}
	}
	return ""
}

// cleanCandidate strips markup debris from a scraped URL. Candidates that are
// not absolute or that carry an "undefined" token are rejected.
func cleanCandidate(s string) string {
	s = strings.TrimSpace(s)
	s = trailingComment.ReplaceAllString(s, "")
	s = trailingSemi.ReplaceAllString(s, "")
	s = trailingParen.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, `\u0026`, "&")
	s = html.UnescapeString(s)

	if !absoluteHTTP.MatchString(s) {
		return ""
	}
	if strings.Contains(strings.ToLower(s), "undefined") {
		return ""
	}
	return s
}
