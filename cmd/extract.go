package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/smazurov/cctvnode/internal/config"
	"github.com/smazurov/cctvnode/internal/ffmpeg"
	"github.com/spf13/cobra"
)

// ExtractOptions configures the extract command. Keys are shared with the
// server's [extract] table.
type ExtractOptions struct {
	Config    string
	Binary    string `toml:"extract.binary" env:"FFMPEG_PATH"`
	TimeoutMs int    `toml:"extract.timeout_ms" env:"FFMPEG_TIMEOUT_MS"`
	Frames    int    `toml:"extract.frames_per_segment" env:"FRAMES_PER_SEGMENT"`
	Stride    int    `toml:"extract.frame_stride" env:"FRAME_SAMPLE_RATE"`
	Quality   int    `toml:"extract.quality" env:"FFMPEG_JPEG_QUALITY"`
	Options   string `toml:"extract.options" env:"FFMPEG_OPTIONS"`
	Output    string
}

// CreateExtractCmd creates the extract command.
func CreateExtractCmd() *cobra.Command {
	var opts ExtractOptions

	cmd := &cobra.Command{
		Use:   "extract <segment.ts>...",
		Short: "Extract JPEG frames from transport stream segments",
		Long: `Run the segment extractor used by captures against local files and
write the sampled frames as JPEG images.

Examples:
  cctvnode extract segment.ts
  cctvnode extract -o frames --frames 10 --stride 5 a.ts b.ts`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if path, err := cmd.Flags().GetString("config"); err == nil {
				opts.Config = path
			}
			if err := config.LoadConfig(&opts, cmd); err != nil {
				return err
			}
			return runExtract(cmd.Context(), &opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Binary, "binary", "ffmpeg", "ffmpeg executable")
	cmd.Flags().IntVar(&opts.TimeoutMs, "timeout-ms", 15000, "Wall-clock limit per segment in milliseconds")
	cmd.Flags().IntVar(&opts.Frames, "frames", 3, "Frames kept per segment")
	cmd.Flags().IntVar(&opts.Stride, "stride", 30, "Keep every Nth decoded frame")
	cmd.Flags().IntVar(&opts.Quality, "quality", 2, "mjpeg qscale, 2 (best) to 31")
	cmd.Flags().StringVar(&opts.Options, "options", "ignore_err,discard_corrupt", "Comma separated ffmpeg input options")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", ".", "Directory for the extracted images")

	return cmd
}

func runExtract(ctx context.Context, opts *ExtractOptions, paths []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var names []string
	for _, name := range strings.Split(opts.Options, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	options, err := ffmpeg.ParseOptions(names)
	if err != nil {
		return err
	}

	extractor := ffmpeg.NewExtractor(ffmpeg.ExtractorOptions{
		Params: ffmpeg.Params{
			Binary:  opts.Binary,
			Stride:  opts.Stride,
			Quality: opts.Quality,
			Options: options,
		},
		MaxFrames:     opts.Frames,
		Timeout:       time.Duration(opts.TimeoutMs) * time.Millisecond,
		MaxConcurrent: 1,
	})

	if err := os.MkdirAll(opts.Output, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	total := 0
	for _, path := range paths {
		segment, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read segment: %w", err)
		}

		frames, err := extractor.ExtractFrames(ctx, segment)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		for i, frame := range frames {
			out := filepath.Join(opts.Output, fmt.Sprintf("%s_%03d.jpg", base, i+1))
			if err := os.WriteFile(out, frame, 0o644); err != nil {
				return fmt.Errorf("failed to write frame: %w", err)
			}
		}
		fmt.Printf("%s: %d frame(s)\n", path, len(frames))
		total += len(frames)
	}

	if len(paths) > 1 {
		fmt.Printf("Total: %d frame(s)\n", total)
	}
	return nil
}
