// Package imaging bounds captured frames to a maximum size and re-encodes
// them as JPEG before they are sent for analysis.
package imaging

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png"
	"math"

	"github.com/smazurov/cctvnode/internal/faults"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrCodeTransformFailed marks frames that could not be decoded or encoded.
const ErrCodeTransformFailed faults.Code = "TRANSFORM_FAILED"

// ErrTransformFailed is the sentinel for errors.Is.
var ErrTransformFailed = faults.New(ErrCodeTransformFailed, "image transform failed", nil)

// Options bounds the output image.
type Options struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

// DefaultOptions is 1280x720 at quality 85.
func DefaultOptions() Options {
	return Options{MaxWidth: 1280, MaxHeight: 720, Quality: 85}
}

// Transformer resizes and re-encodes frames. It holds no state and is safe
// for concurrent use.
type Transformer struct {
	opts Options
}

// NewTransformer fills zero options from DefaultOptions.
func NewTransformer(opts Options) *Transformer {
	def := DefaultOptions()
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = def.MaxWidth
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = def.MaxHeight
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = def.Quality
	}
	return &Transformer{opts: opts}
}

// Transform decodes data (JPEG, PNG or WebP), shrinks it to fit the bounds
// keeping its aspect ratio, and encodes it as a baseline JPEG. Images already
// inside the bounds keep their size. Encoder output carries no metadata.
func (t *Transformer) Transform(data []byte) ([]byte, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, faults.Wrap(ErrCodeTransformFailed, "decoding frame", err, map[string]any{"bytes": len(data)})
	}

	b := src.Bounds()
	w, h := Fit(b.Dx(), b.Dy(), t.opts.MaxWidth, t.opts.MaxHeight)

	img := src
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		img = dst
	}

	var buf bytes.Buffer
	buf.Grow(len(data) / 2)
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: t.opts.Quality}); err != nil {
		return nil, faults.Wrap(ErrCodeTransformFailed, "encoding frame", err, map[string]any{"format": format})
	}
	return buf.Bytes(), nil
}

// Fit returns the largest size no bigger than maxW x maxH with the aspect
// ratio of w x h. It never upscales.
func Fit(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 || (w <= maxW && h <= maxH) {
		return w, h
	}
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	return min(nw, maxW), min(nh, maxH)
}
