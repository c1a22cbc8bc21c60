package main

import (
	"log/slog"
	"maps"
	"os"
	"sync"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/cctvnode/cmd"
	"github.com/smazurov/cctvnode/internal/config"
	"github.com/smazurov/cctvnode/internal/logging"
	"github.com/smazurov/cctvnode/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8095" toml:"server.port" env:"SERVER_PORT"`

	// Camera catalog
	CamerasFile      string `help:"Camera catalog file" default:"cameras.toml" toml:"cameras.file" env:"CAMERAS_FILE"`
	CamerasAutoStart bool   `help:"Capture every enabled catalog camera" default:"true" toml:"cameras.auto_start" env:"CAMERAS_AUTO_START"`

	// Frame records
	DatabaseURL      string `help:"Postgres URL for frame records; in-memory ids when empty" default:"" toml:"database.url" env:"DATABASE_URL"`
	DatabaseMaxConns int    `help:"Postgres pool size" default:"4" toml:"database.max_conns" env:"DATABASE_MAX_CONNS"`

	// Frame queue
	QueueCapacity      int `help:"Frames buffered per camera" default:"5" toml:"queue.capacity" env:"FRAME_QUEUE_SIZE"`
	QueueWarnThreshold int `help:"Queue length that logs a warning" default:"4" toml:"queue.warn_threshold" env:"QUEUE_WARNING_THRESHOLD"`
	QueueStopThreshold int `help:"Queue length at which new frames are rejected; 0 evicts the oldest instead" default:"5" toml:"queue.stop_threshold" env:"QUEUE_STOP_THRESHOLD"`

	// Capture
	CaptureIntervalMs     int `help:"Capture interval per camera" default:"1000" toml:"capture.interval_ms" env:"CAPTURE_INTERVAL_MS"`
	CaptureTimeoutMs      int `help:"Upstream fetch timeout" default:"10000" toml:"capture.timeout_ms" env:"CAPTURE_TIMEOUT_MS"`
	CaptureMaxMediaBytes  int `help:"Largest playlist, segment or image fetched" default:"10485760" toml:"capture.max_media_bytes" env:"CAPTURE_MAX_MEDIA_BYTES"`
	CaptureMaxFrameBytes  int `help:"Largest frame queued" default:"5242880" toml:"capture.max_frame_bytes" env:"MAX_FRAME_SIZE"`
	CaptureReresolveAfter int `help:"Consecutive failures before the stream is resolved again; 0 disables" default:"5" toml:"capture.reresolve_after" env:"CAPTURE_RERESOLVE_AFTER"`

	// Segment extraction
	ExtractBinary           string `help:"ffmpeg executable" default:"ffmpeg" toml:"extract.binary" env:"FFMPEG_PATH"`
	ExtractTimeoutMs        int    `help:"Wall-clock limit per extraction" default:"15000" toml:"extract.timeout_ms" env:"FFMPEG_TIMEOUT_MS"`
	ExtractFramesPerSegment int    `help:"Frames kept per segment" default:"3" toml:"extract.frames_per_segment" env:"FRAMES_PER_SEGMENT"`
	ExtractFrameStride      int    `help:"Keep every Nth decoded frame" default:"30" toml:"extract.frame_stride" env:"FRAME_SAMPLE_RATE"`
	ExtractQuality          int    `help:"mjpeg qscale, 2 (best) to 31" default:"2" toml:"extract.quality" env:"FFMPEG_JPEG_QUALITY"`
	ExtractOptions          string `help:"Comma separated ffmpeg input options" default:"ignore_err,discard_corrupt" toml:"extract.options" env:"FFMPEG_OPTIONS"`
	ExtractMaxConcurrent    int    `help:"Simultaneous ffmpeg processes" default:"4" toml:"extract.max_concurrent" env:"FFMPEG_MAX_CONCURRENT"`

	// Image preparation
	ImageMaxWidth  int `help:"Maximum width sent for analysis" default:"1280" toml:"image.max_width" env:"MAX_IMAGE_WIDTH"`
	ImageMaxHeight int `help:"Maximum height sent for analysis" default:"720" toml:"image.max_height" env:"MAX_IMAGE_HEIGHT"`
	ImageQuality   int `help:"JPEG quality sent for analysis" default:"85" toml:"image.quality" env:"JPEG_QUALITY"`

	// Processing worker
	WorkerTickMs     int `help:"Worker tick" default:"100" toml:"worker.tick_ms" env:"FRAME_WORKER_INTERVAL"`
	WorkerMaxCameras int `help:"Cameras serviced per tick" default:"8" toml:"worker.max_cameras_per_tick" env:"WORKER_MAX_CAMERAS"`

	// Analyzer
	AnalyzerURL          string `help:"Detection service base URL" default:"http://model:8000" toml:"analyzer.url" env:"MODEL_SERVER_URL"`
	AnalyzerPath         string `help:"Frame analysis path" default:"/analyze/frame" toml:"analyzer.path" env:"MODEL_SERVER_PATH"`
	AnalyzerTimeoutMs    int    `help:"Per-attempt timeout" default:"10000" toml:"analyzer.timeout_ms" env:"MODEL_SERVER_TIMEOUT"`
	AnalyzerMaxRetries   int    `help:"Retries after the first attempt" default:"2" toml:"analyzer.max_retries" env:"MODEL_SERVER_MAX_RETRIES"`
	AnalyzerRetryDelayMs int    `help:"Base delay, multiplied by the attempt number" default:"1000" toml:"analyzer.retry_delay_ms" env:"MODEL_SERVER_RETRY_DELAY"`

	// Resolver
	ResolverTTLMs            int    `help:"Resolved stream cache lifetime" default:"300000" toml:"resolver.ttl_ms" env:"RESOLVER_TTL_MS"`
	ResolverTimeoutMs        int    `help:"Page fetch timeout" default:"15000" toml:"resolver.timeout_ms" env:"RESOLVER_TIMEOUT_MS"`
	ResolverUserAgent        string `help:"User-Agent for upstream requests" default:"" toml:"resolver.user_agent" env:"RESOLVER_USER_AGENT"`
	ResolverFallbackTemplate string `help:"Fallback stream URL template with {channel} and {id}" default:"" toml:"resolver.fallback_template" env:"RESOLVER_FALLBACK_TEMPLATE"`
	ResolverFallbackDataset  string `help:"TOML file of fallback parameters by id" default:"" toml:"resolver.fallback_dataset" env:"RESOLVER_FALLBACK_DATASET"`
	TrustAnchorFile          string `help:"Extra CA certificate (PEM) for upstream TLS" default:"" toml:"transport.ca_file" env:"UTIC_CA_PATH"`

	// Event export
	NatsURL      string `help:"NATS server for event export and capture control; disabled when empty" default:"" toml:"nats.url" env:"NATS_URL"`
	NatsEmbedded bool   `help:"Run an embedded NATS server" default:"false" toml:"nats.embedded" env:"NATS_EMBEDDED"`
	NatsHost     string `help:"Embedded NATS server host" default:"127.0.0.1" toml:"nats.host" env:"NATS_HOST"`
	NatsPort     int    `help:"Embedded NATS server port" default:"4222" toml:"nats.port" env:"NATS_PORT"`
	NatsToken    string `help:"NATS authorization token, required by the embedded server when set" default:"" toml:"nats.token" env:"NATS_TOKEN"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingResolver string `help:"Resolver logging level" default:"info" toml:"logging.resolver" env:"LOGGING_RESOLVER"`
	LoggingCapture  string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingExtract  string `help:"Extraction logging level" default:"info" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingWorker   string `help:"Worker logging level" default:"info" toml:"logging.worker" env:"LOGGING_WORKER"`
	LoggingAnalyzer string `help:"Analyzer client logging level" default:"info" toml:"logging.analyzer" env:"LOGGING_ANALYZER"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingNats     string `help:"NATS bridge logging level" default:"info" toml:"logging.nats" env:"LOGGING_NATS"`
}

// loggingConfig starts from the [logging] table of the config file, which may
// name modules without a dedicated option (main, cameras, transport),
// and lays the resolved options on top.
func loggingConfig(opts *Options) logging.Config {
	cfg := config.LoadLoggingConfig(opts.Config)
	cfg.Level = opts.LoggingLevel
	cfg.Format = opts.LoggingFormat
	maps.Copy(cfg.Modules, map[string]string{
		"resolver": opts.LoggingResolver,
		"capture":  opts.LoggingCapture,
		"ffmpeg":   opts.LoggingExtract,
		"worker":   opts.LoggingWorker,
		"analyzer": opts.LoggingAnalyzer,
		"api":      opts.LoggingAPI,
		"http":     opts.LoggingAPI,
		"nats":     opts.LoggingNats,
	})
	return cfg
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(loggingConfig(opts))
		logger := logging.GetLogger("main")

		var (
			mu      sync.Mutex
			running *node
		)

		hooks.OnStart(func() {
			n, err := newNode(opts)
			if err != nil {
				logger.Error("Failed to initialize", "error", err)
				os.Exit(1)
			}
			mu.Lock()
			running = n
			mu.Unlock()

			if err := n.run(); err != nil {
				logger.Error("Failed to start HTTP server", "error", err)
				n.shutdown()
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			mu.Lock()
			n := running
			mu.Unlock()
			if n != nil {
				n.shutdown()
			}
		})
	})

	root := cli.Root()
	root.Use = "cctvnode"
	root.Short = "CCTV frame capture and analysis dispatch node"
	root.Version = version.String()

	root.AddCommand(cmd.CreateResolveCmd())
	root.AddCommand(cmd.CreateExtractCmd())

	cli.Run()
}
