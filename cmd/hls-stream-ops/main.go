// Package main provides the hls-stream-ops CLI entry point.
//
// hls-stream-ops monitors a fleet of HLS (HTTP Live Streaming) endpoints,
// classifies per-stream health, and manages incident lifecycles. It exposes
// an operator HTTP API, a WebSocket event push, Prometheus metrics, and an
// optional terminal dashboard.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kvkushal/hls-stream-ops/internal/api"
	"github.com/kvkushal/hls-stream-ops/internal/config"
	"github.com/kvkushal/hls-stream-ops/internal/hls"
	"github.com/kvkushal/hls-stream-ops/internal/incident"
	"github.com/kvkushal/hls-stream-ops/internal/logging"
	"github.com/kvkushal/hls-stream-ops/internal/metrics"
	"github.com/kvkushal/hls-stream-ops/internal/monitor"
	"github.com/kvkushal/hls-stream-ops/internal/probe"
	"github.com/kvkushal/hls-stream-ops/internal/store"
	"github.com/kvkushal/hls-stream-ops/internal/tui"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/hls-stream-ops
var version = "dev"

// metricsRefreshInterval is how often supervisor counters are pushed into
// the Prometheus collector.
const metricsRefreshInterval = 5 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("hls-stream-ops %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	// When the TUI is enabled, suppress logs so they don't fight the
	// dashboard for the terminal.
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewDiscard()
	} else {
		logger = logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
	}
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	logger.Info("starting",
		"version", version,
		"http_addr", cfg.HTTPAddr,
		"metrics_addr", cfg.MetricsAddr,
		"poll_interval", cfg.PollInterval,
		"streams_file", cfg.StreamsFile,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Engine wiring: incident manager, event hub, HTTP fetcher, probers.
	incidents := incident.NewManager(logger)
	hub := api.NewHub()

	client := hls.NewClient(hls.ClientConfig{
		ManifestTimeout: cfg.ManifestTimeout,
		SegmentTimeout:  cfg.SegmentTimeout,
		UserAgent:       cfg.UserAgent,
	})

	supCfg := monitor.Config{
		PollInterval: cfg.PollInterval,
		ThumbnailDir: cfg.ThumbnailDir,
		Logger:       logger,
		Fetcher:      client,
		Sink:         hub,
		Incidents:    incidents,
	}

	ffprobe := probe.New(
		probe.WithTimeout(cfg.ProbeTimeout),
		probe.WithBinaries(cfg.FFprobePath, cfg.FFmpegPath),
	)
	if ffprobe.Available() {
		supCfg.Prober = ffprobe
	} else {
		logger.Warn("ffprobe_unavailable", "path", cfg.FFprobePath,
			"fallback_segment_duration", monitor.DefaultSegmentDuration)
	}
	if ffprobe.ThumbnailAvailable() {
		supCfg.Thumbnailer = ffprobe
	}

	sup := monitor.New(supCfg)

	// Restore the persisted stream set.
	fileStore := store.New(cfg.StreamsFile)
	streams, err := fileStore.Load()
	if err != nil {
		logger.Error("streams_file_load_failed", "path", fileStore.Path(), "error", err.Error())
		return 1
	}
	for _, sc := range streams {
		if err := sup.AddStream(ctx, sc); err != nil {
			logger.Error("stream_restore_failed", "stream_id", sc.ID, "error", err.Error())
		}
	}
	logger.Info("streams_restored", "count", sup.StreamCount())

	if cfg.WatchStreams {
		go func() {
			err := fileStore.Watch(ctx, logger, func(desired []monitor.StreamConfig) {
				sup.Sync(ctx, desired)
			})
			if err != nil {
				logger.Error("streams_file_watch_failed", "error", err.Error())
			}
		}()
	}

	// Prometheus: a dedicated registry feeding its own listener.
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegistry(version, registry)
	go func() {
		ticker := time.NewTicker(metricsRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collector.Record(sup.ListStreams(), sup.Totals())
			}
		}
	}()

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, registry, logger)
	metricsSrv.Start()

	handler := api.NewHandler(sup, incidents, fileStore, hub, logger)
	handler.ThumbnailDir = cfg.ThumbnailDir
	apiSrv := api.NewServer(cfg.HTTPAddr, handler.Router(), logger)
	apiSrv.Start()

	if cfg.TUIEnabled {
		runDashboard(ctx, cancel, sup, cfg)
	} else {
		<-ctx.Done()
	}

	logger.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err.Error())
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics_shutdown_failed", "error", err.Error())
	}
	hub.Close()

	// Drain every polling loop and in-flight segment task.
	sup.Sync(context.Background(), nil)

	logger.Info("stopped")
	return 0
}

// runDashboard runs the terminal dashboard until the user quits or the
// process is signalled. Quitting the dashboard stops the service.
func runDashboard(ctx context.Context, cancel context.CancelFunc, sup *monitor.Supervisor, cfg *config.Config) {
	model := tui.New(tui.Config{
		Source:      sup,
		HTTPAddr:    cfg.HTTPAddr,
		MetricsAddr: cfg.MetricsAddr,
	})
	program := tea.NewProgram(model, tea.WithAltScreen())

	go func() {
		<-ctx.Done()
		tui.SendQuit(program)
	}()

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Dashboard error: %v\n", err)
	}
	cancel()
}
