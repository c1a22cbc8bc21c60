package ffmpeg

import (
	"fmt"
	"strconv"
)

// Params describes one segment-to-JPEG extraction.
type Params struct {
	Binary string
	// InputFormat forces the demuxer; empty lets ffmpeg probe.
	InputFormat string
	// Stride keeps every Stride-th decoded frame.
	Stride int
	// Quality is the mjpeg qscale, 2 (best) to 31.
	Quality int
	Options []OptionType
}

// BuildArgs returns the argv for reading a segment on stdin and writing
// sampled frames as concatenated JPEGs on stdout.
func BuildArgs(p Params) []string {
	binary := p.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	stride := p.Stride
	if stride < 1 {
		stride = 1
	}
	quality := p.Quality
	if quality < 2 || quality > 31 {
		quality = 2
	}

	args := []string{binary, "-hide_banner", "-nostdin", "-loglevel", "level+warning"}
	args = append(args, inputArgs(p.Options)...)
	if p.InputFormat != "" {
		args = append(args, "-f", p.InputFormat)
	}
	args = append(args, "-i", "pipe:0")

	if stride > 1 {
		args = append(args, "-vf", fmt.Sprintf("select='not(mod(n,%d))'", stride))
	}
	args = append(args,
		"-vsync", "0",
		"-an",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(quality),
		"pipe:1",
	)
	return args
}
