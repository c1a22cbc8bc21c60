package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/smazurov/cctvnode/internal/config"
	"github.com/smazurov/cctvnode/internal/logging"
	"github.com/smazurov/cctvnode/internal/resolver"
	"github.com/smazurov/cctvnode/internal/transport"
	"github.com/spf13/cobra"
)

// ResolveOptions configures the resolve command. Keys are shared with the
// server's [resolver] and [transport] tables.
type ResolveOptions struct {
	Config           string
	TimeoutMs        int    `toml:"resolver.timeout_ms" env:"RESOLVER_TIMEOUT_MS"`
	UserAgent        string `toml:"resolver.user_agent" env:"RESOLVER_USER_AGENT"`
	FallbackTemplate string `toml:"resolver.fallback_template" env:"RESOLVER_FALLBACK_TEMPLATE"`
	FallbackDataset  string `toml:"resolver.fallback_dataset" env:"RESOLVER_FALLBACK_DATASET"`
	CAFile           string `toml:"transport.ca_file" env:"UTIC_CA_PATH"`
	JSON             bool
}

// CreateResolveCmd creates the resolve command.
func CreateResolveCmd() *cobra.Command {
	var opts ResolveOptions

	cmd := &cobra.Command{
		Use:   "resolve <descriptor>",
		Short: "Resolve a stream descriptor to a playable URL",
		Long: `Resolve a stream descriptor the same way a capture does: fetch the
page, scan it for a stream URL, and fall back to the configured template.

Examples:
  cctvnode resolve "http://www.example.kr/cctv/view?kind=v&ch=5&id=1047"
  cctvnode resolve --json "kind=v&id=1047"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if path, err := cmd.Flags().GetString("config"); err == nil {
				opts.Config = path
			}
			if err := config.LoadConfig(&opts, cmd); err != nil {
				return err
			}
			return runResolve(cmd.Context(), &opts, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.TimeoutMs, "timeout-ms", 15000, "Page fetch timeout in milliseconds")
	cmd.Flags().StringVar(&opts.UserAgent, "user-agent", "", "User-Agent for upstream requests")
	cmd.Flags().StringVar(&opts.FallbackTemplate, "fallback-template", "", "Fallback URL template with {channel} and {id}")
	cmd.Flags().StringVar(&opts.FallbackDataset, "fallback-dataset", "", "TOML file of fallback parameters by id")
	cmd.Flags().StringVar(&opts.CAFile, "ca-file", "", "Extra CA certificate (PEM) for upstream TLS")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the cache entry as JSON")

	return cmd
}

func runResolve(ctx context.Context, opts *ResolveOptions, descriptor string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	client := transport.NewClient(transport.Options{
		UserAgent: opts.UserAgent,
		CAFile:    opts.CAFile,
	}, logging.GetLogger("transport"))

	fallback := resolver.DefaultFallback()
	if opts.FallbackTemplate != "" {
		fallback.Template = opts.FallbackTemplate
	}
	if opts.FallbackDataset != "" {
		dataset, err := resolver.LoadFallbackDataset(opts.FallbackDataset)
		if err != nil {
			return err
		}
		fallback.Dataset = dataset
	}

	res := resolver.New(client, resolver.Options{
		Timeout:  time.Duration(opts.TimeoutMs) * time.Millisecond,
		Fallback: fallback,
	})

	url, err := res.Resolve(ctx, descriptor)
	if err != nil {
		return err
	}

	if !opts.JSON {
		fmt.Println(url)
		return nil
	}

	entry, _ := res.Lookup(descriptor)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Descriptor string `json:"descriptor"`
		resolver.ResolvedStream
	}{descriptor, entry})
}
