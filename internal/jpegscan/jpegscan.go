// Package jpegscan finds JPEG images in byte streams by their start-of-image
// and end-of-image markers.
package jpegscan

import (
	"bytes"
	"strings"
)

var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// Scanner slices complete JPEG images out of a stream fed in arbitrary chunks.
type Scanner struct {
	buf       []byte
	maxFrames int
	maxBytes  int
	found     int
}

// NewScanner returns a scanner that stops after maxFrames images (0 means no
// limit) and abandons a partial image once it exceeds maxBytes (0 means no limit).
func NewScanner(maxFrames, maxBytes int) *Scanner {
	return &Scanner{maxFrames: maxFrames, maxBytes: maxBytes}
}

// Feed appends chunk and returns the images it completed. Each returned slice
// is an independent copy. Once the frame limit is reached Feed discards input.
func (s *Scanner) Feed(chunk []byte) [][]byte {
	if s.Full() {
		return nil
	}
	s.buf = append(s.buf, chunk...)

	var out [][]byte
	for !s.Full() {
		start := bytes.Index(s.buf, soi)
		if start < 0 {
			// Keep a trailing 0xFF that may begin a marker split across chunks.
			if n := len(s.buf); n > 0 && s.buf[n-1] == 0xFF {
				s.buf = append(s.buf[:0], 0xFF)
			} else {
				s.buf = s.buf[:0]
			}
			break
		}
		if start > 0 {
			s.buf = append(s.buf[:0], s.buf[start:]...)
		}

		end := bytes.Index(s.buf[len(soi):], eoi)
		if end < 0 {
			if s.maxBytes > 0 && len(s.buf) > s.maxBytes {
				s.buf = s.buf[:0]
			}
			break
		}
		end += len(soi) + len(eoi)

		img := make([]byte, end)
		copy(img, s.buf[:end])
		out = append(out, img)
		s.found++

		s.buf = append(s.buf[:0], s.buf[end:]...)
	}

	if s.Full() {
		s.buf = nil
	}
	return out
}

// Full reports whether the frame limit was reached.
func (s *Scanner) Full() bool {
	return s.maxFrames > 0 && s.found >= s.maxFrames
}

// Found returns the number of images emitted so far.
func (s *Scanner) Found() int { return s.found }

// Buffered returns the size of the pending partial data.
func (s *Scanner) Buffered() int { return len(s.buf) }

// ScanAll runs a fresh scanner over chunks and returns every image found.
func ScanAll(chunks [][]byte, maxFrames int) [][]byte {
	s := NewScanner(maxFrames, 0)
	var out [][]byte
	for _, c := range chunks {
		out = append(out, s.Feed(c)...)
	}
	return out
}

// ExtractSingle picks the image out of a single HTTP response body. A start
// marker without an end marker yields everything from the start marker on.
// Without any marker the whole body is used only when contentType is an image
// type; otherwise nil is returned.
func ExtractSingle(body []byte, contentType string) []byte {
	if start := bytes.Index(body, soi); start >= 0 {
		if end := bytes.Index(body[start+len(soi):], eoi); end >= 0 {
			return body[start : start+len(soi)+end+len(eoi)]
		}
		return body[start:]
	}
	if len(body) > 0 && strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
		return body
	}
	return nil
}
