package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/cctvnode/internal/analyzer"
	"github.com/smazurov/cctvnode/internal/api"
	"github.com/smazurov/cctvnode/internal/cameras"
	"github.com/smazurov/cctvnode/internal/capture"
	"github.com/smazurov/cctvnode/internal/config"
	"github.com/smazurov/cctvnode/internal/events"
	"github.com/smazurov/cctvnode/internal/ffmpeg"
	"github.com/smazurov/cctvnode/internal/framequeue"
	"github.com/smazurov/cctvnode/internal/imaging"
	"github.com/smazurov/cctvnode/internal/logging"
	"github.com/smazurov/cctvnode/internal/metrics"
	natsbus "github.com/smazurov/cctvnode/internal/nats"
	"github.com/smazurov/cctvnode/internal/processing"
	"github.com/smazurov/cctvnode/internal/resolver"
	"github.com/smazurov/cctvnode/internal/systemd"
	"github.com/smazurov/cctvnode/internal/transport"
)

const shutdownTimeout = 10 * time.Second

// node owns every long-lived component of a running instance.
type node struct {
	opts     *Options
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	bus      *events.Bus
	catalog  *cameras.Catalog
	watcher  *config.Watcher[[]cameras.Camera]
	postgres *cameras.PostgresRecorder
	captures *capture.Manager
	worker   *processing.Worker
	server   *api.Server
	natsd    *natsbus.Server
	bridge   *natsbus.Bridge
	notifier *systemd.Notifier
	checks   map[string]func(context.Context) error

	// syncMu serializes catalog syncs against each other and shutdown.
	syncMu sync.Mutex
	syncs  sync.WaitGroup
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func newNode(opts *Options) (*node, error) {
	logger := logging.GetLogger("main")
	ctx, cancel := context.WithCancel(context.Background())
	n := &node{
		opts:     opts,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		bus:      events.New(),
		notifier: systemd.NewNotifier(logger),
	}

	cams, err := cameras.LoadCatalogFile(opts.CamerasFile)
	if err != nil {
		cancel()
		return nil, err
	}
	n.catalog = cameras.NewCatalog(cams)
	logger.Info("Camera catalog loaded", "path", opts.CamerasFile, "cameras", len(cams), "enabled", len(n.catalog.EnabledIDs()))

	upstream := transport.NewClient(transport.Options{
		UserAgent: opts.ResolverUserAgent,
		CAFile:    opts.TrustAnchorFile,
	}, logging.GetLogger("transport"))

	fallback := resolver.DefaultFallback()
	if opts.ResolverFallbackTemplate != "" {
		fallback.Template = opts.ResolverFallbackTemplate
	}
	if opts.ResolverFallbackDataset != "" {
		dataset, err := resolver.LoadFallbackDataset(opts.ResolverFallbackDataset)
		if err != nil {
			logger.Warn("Fallback dataset not loaded", "path", opts.ResolverFallbackDataset, "error", err)
		} else {
			fallback.Dataset = dataset
		}
	}
	res := resolver.New(upstream, resolver.Options{
		TTL:      millis(opts.ResolverTTLMs),
		Timeout:  millis(opts.ResolverTimeoutMs),
		Fallback: fallback,
	})

	extractOptions, err := ffmpeg.ParseOptions(splitList(opts.ExtractOptions))
	if err != nil {
		cancel()
		return nil, err
	}
	extractor := ffmpeg.NewExtractor(ffmpeg.ExtractorOptions{
		Params: ffmpeg.Params{
			Binary:  opts.ExtractBinary,
			Stride:  opts.ExtractFrameStride,
			Quality: opts.ExtractQuality,
			Options: extractOptions,
		},
		MaxFrames:     opts.ExtractFramesPerSegment,
		MaxFrameBytes: opts.CaptureMaxFrameBytes,
		Timeout:       millis(opts.ExtractTimeoutMs),
		MaxConcurrent: int64(opts.ExtractMaxConcurrent),
	})

	var recorder cameras.FrameRecorder = cameras.NewMemoryRecorder(0)
	checks := map[string]func(context.Context) error{}
	if opts.DatabaseURL != "" {
		pg, err := cameras.NewPostgresRecorder(ctx, opts.DatabaseURL, cameras.PostgresOptions{
			MaxConns:       int32(opts.DatabaseMaxConns),
			ConnectTimeout: 5 * time.Second,
		})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to open frame database: %w", err)
		}
		n.postgres = pg
		recorder = pg
		checks["database"] = pg.Ping
	} else {
		logger.Warn("No database configured, frame ids are process-local")
	}

	n.captures = capture.NewManager(capture.Options{
		Interval:      millis(opts.CaptureIntervalMs),
		FetchTimeout:  millis(opts.CaptureTimeoutMs),
		MaxMediaBytes: int64(opts.CaptureMaxMediaBytes),
		MaxFrameBytes: opts.CaptureMaxFrameBytes,
		Queue: framequeue.Policy{
			Capacity:      opts.QueueCapacity,
			WarnThreshold: opts.QueueWarnThreshold,
			StopThreshold: opts.QueueStopThreshold,
		},
		ReresolveAfter: opts.CaptureReresolveAfter,
		Client:         upstream,
	}, capture.Deps{
		Descriptors: n.catalog,
		Resolver:    res,
		Extractor:   extractor,
		Recorder:    recorder,
		Publisher:   n.bus,
	})

	dispatcher := analyzer.NewClient(analyzer.Options{
		BaseURL:    opts.AnalyzerURL,
		Path:       opts.AnalyzerPath,
		Timeout:    millis(opts.AnalyzerTimeoutMs),
		MaxRetries: opts.AnalyzerMaxRetries,
		RetryDelay: millis(opts.AnalyzerRetryDelayMs),
	})
	logger.Info("Analyzer configured", "endpoint", dispatcher.Endpoint())

	transformer := imaging.NewTransformer(imaging.Options{
		MaxWidth:  opts.ImageMaxWidth,
		MaxHeight: opts.ImageMaxHeight,
		Quality:   opts.ImageQuality,
	})

	n.worker = processing.NewWorker(processing.Options{
		Tick:              millis(opts.WorkerTickMs),
		MaxCamerasPerTick: opts.WorkerMaxCameras,
	}, n.captures, transformer, dispatcher, n.bus)

	n.watcher = config.NewWatcher(opts.CamerasFile, cameras.LoadCatalogFile, logging.GetLogger("cameras"),
		config.WithErrorHandler[[]cameras.Camera](func(err error) {
			logger.Warn("Camera catalog reload failed, keeping previous catalog", "error", err)
		}))
	n.watcher.OnReload(n.reloadCatalog)

	if opts.NatsEmbedded {
		n.natsd = natsbus.NewServer(natsbus.ServerOptions{
			Host:   opts.NatsHost,
			Port:   opts.NatsPort,
			Token:  opts.NatsToken,
			Logger: logging.GetLogger("nats"),
		})
	}

	n.server = api.NewServer(api.Options{
		Catalog:           n.catalog,
		Captures:          n.captures,
		Resolver:          res,
		Events:            n.bus,
		PrometheusHandler: metrics.Handler(),
		Checks:            checks,
	})
	n.checks = checks

	return n, nil
}

func (n *node) reloadCatalog(cams []cameras.Camera) {
	n.catalog.Replace(cams)
	enabled := n.catalog.EnabledIDs()
	n.logger.Info("Camera catalog reloaded", "cameras", len(cams), "enabled", len(enabled))
	n.bus.Publish(events.CatalogReloadedEvent{
		Cameras:   len(cams),
		Enabled:   len(enabled),
		Timestamp: time.Now(),
	})

	if n.opts.CamerasAutoStart {
		n.syncCaptures()
	}
}

// syncCaptures aligns running captures with the enabled cameras of the
// catalog in the background. The catalog is read once the previous sync has
// finished, so the latest reload wins.
func (n *node) syncCaptures() {
	n.syncs.Add(1)
	go func() {
		defer n.syncs.Done()
		n.syncMu.Lock()
		defer n.syncMu.Unlock()
		if n.ctx.Err() != nil {
			return
		}
		if err := n.captures.Sync(n.ctx, n.catalog.EnabledIDs()); err != nil {
			n.logger.Warn("Some captures failed to start", "error", err)
		}
	}()
}

// startNats brings up the embedded server and the bridge. NATS is optional:
// failures are logged and the node runs without event export.
func (n *node) startNats() {
	url := n.opts.NatsURL
	if n.natsd != nil {
		if err := n.natsd.Start(); err != nil {
			n.logger.Warn("Embedded NATS server not started", "error", err)
			n.natsd = nil
		} else if url == "" {
			url = n.natsd.ClientURL()
		}
	}
	if url == "" {
		return
	}

	bridge := natsbus.NewBridge(natsbus.BridgeOptions{URL: url, Token: n.opts.NatsToken}, n.bus, n.captures, logging.GetLogger("nats"))
	if err := bridge.Start(); err != nil {
		n.logger.Warn("NATS bridge not started, events stay local", "error", err)
		return
	}
	n.bridge = bridge
}

// run starts the pipeline and blocks serving HTTP until the server is stopped.
func (n *node) run() error {
	if err := n.watcher.Start(); err != nil {
		n.logger.Warn("Camera catalog watcher not started", "path", n.opts.CamerasFile, "error", err)
	}

	n.startNats()

	go n.worker.Run(n.ctx)

	if n.opts.CamerasAutoStart {
		n.syncCaptures()
	}

	n.notifier.Ready(n.healthy)
	return n.server.Start(n.opts.Port)
}

func (n *node) healthy(ctx context.Context) error {
	var errs []error
	for name, check := range n.checks {
		if err := check(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (n *node) shutdown() {
	n.logger.Info("Shutting down")
	n.notifier.Stopping()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := n.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := n.watcher.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("catalog watcher: %w", err))
	}

	n.cancel()
	n.syncs.Wait()
	n.captures.StopAll()

	done := make(chan struct{})
	go func() {
		n.worker.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, errors.New("frames still in flight at shutdown"))
	}

	if n.bridge != nil {
		n.bridge.Stop()
	}
	if n.natsd != nil {
		n.natsd.Stop()
	}
	if n.postgres != nil {
		n.postgres.Close()
	}

	if err := errors.Join(errs...); err != nil {
		n.logger.Warn("Shutdown incomplete", "error", err)
		return
	}
	n.logger.Info("Shutdown complete")
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
