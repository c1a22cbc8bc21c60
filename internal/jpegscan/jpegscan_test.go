package jpegscan

import (
	"bytes"
	"testing"
)

func fakeJPEG(fill byte, n int) []byte {
	b := []byte{0xFF, 0xD8}
	b = append(b, bytes.Repeat([]byte{fill}, n)...)
	return append(b, 0xFF, 0xD9)
}

func TestScannerBackToBack(t *testing.T) {
	a, b, c := fakeJPEG(1, 10), fakeJPEG(2, 20), fakeJPEG(3, 5)
	stream := append(append(append([]byte("noise"), a...), b...), c...)

	got := NewScanner(0, 0).Feed(stream)
	if len(got) != 3 {
		t.Fatalf("got %d images, want 3", len(got))
	}
	for i, want := range [][]byte{a, b, c} {
		if !bytes.Equal(got[i], want) {
			t.Errorf("image %d mismatch", i)
		}
	}
}

func TestScannerSplitAcrossChunks(t *testing.T) {
	a, b := fakeJPEG(7, 100), fakeJPEG(8, 50)
	stream := append(append([]byte{}, a...), b...)

	// Feed one byte at a time so every marker is split.
	s := NewScanner(0, 0)
	var got [][]byte
	for i := range stream {
		got = append(got, s.Feed(stream[i:i+1])...)
	}
	if len(got) != 2 || !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Fatalf("got %d images", len(got))
	}
	if s.Buffered() != 0 {
		t.Errorf("Buffered = %d after complete images", s.Buffered())
	}
}

func TestScannerFrameLimit(t *testing.T) {
	var chunks [][]byte
	for i := 0; i < 5; i++ {
		chunks = append(chunks, fakeJPEG(byte(i), 8))
	}
	got := ScanAll(chunks, 3)
	if len(got) != 3 {
		t.Fatalf("got %d images, want 3", len(got))
	}
	if got[2][2] != 2 {
		t.Errorf("third image has fill %d, want 2", got[2][2])
	}

	s := NewScanner(2, 0)
	for _, c := range chunks {
		s.Feed(c)
	}
	if s.Found() != 2 || !s.Full() {
		t.Errorf("Found = %d, Full = %v; want 2, true", s.Found(), s.Full())
	}
	if extra := s.Feed(fakeJPEG(9, 8)); extra != nil {
		t.Errorf("full scanner returned %d images", len(extra))
	}
}

func TestScannerDropsOversizedPartial(t *testing.T) {
	s := NewScanner(0, 64)
	s.Feed(append([]byte{0xFF, 0xD8}, bytes.Repeat([]byte{1}, 100)...))
	if s.Buffered() != 0 {
		t.Errorf("oversized partial kept: %d bytes", s.Buffered())
	}
	if got := s.Feed(fakeJPEG(9, 4)); len(got) != 1 {
		t.Errorf("scanner did not recover, got %d images", len(got))
	}
}

func TestScannerReturnsCopies(t *testing.T) {
	chunk := fakeJPEG(5, 4)
	got := NewScanner(0, 0).Feed(chunk)
	chunk[2] = 0
	if got[0][2] != 5 {
		t.Error("image aliases the input chunk")
	}
}

func TestExtractSingle(t *testing.T) {
	img := fakeJPEG(4, 6)
	tests := []struct {
		name        string
		body        []byte
		contentType string
		want        []byte
	}{
		{"framed", append(append([]byte("--boundary\r\n"), img...), []byte("\r\n--")...), "multipart/x-mixed-replace", img},
		{"no end marker", []byte{'x', 0xFF, 0xD8, 1, 2}, "", []byte{0xFF, 0xD8, 1, 2}},
		{"image content type", []byte("PNGDATA"), "Image/PNG", []byte("PNGDATA")},
		{"html", []byte("<html>"), "text/html", nil},
		{"empty image", nil, "image/jpeg", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractSingle(tt.body, tt.contentType); !bytes.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
