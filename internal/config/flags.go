package config

import (
	"flag"
	"fmt"
	"os"
)

// ParseFlags parses command-line flags and returns a Config. Defaults are
// layered: built-in values, then .env / environment, then flags.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()
	loadDotEnv(cfg)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `hls-stream-ops - HLS stream health monitoring and incident detection

Usage:
  hls-stream-ops [flags]

Listeners:
`)
		printFlagCategory([]string{"http", "metrics"})

		fmt.Fprintf(os.Stderr, "\nPolling:\n")
		printFlagCategory([]string{"poll-interval", "manifest-timeout", "segment-timeout", "user-agent"})

		fmt.Fprintf(os.Stderr, "\nProbing:\n")
		printFlagCategory([]string{"probe-timeout", "ffprobe", "ffmpeg"})

		fmt.Fprintf(os.Stderr, "\nPersistence:\n")
		printFlagCategory([]string{"streams-file", "thumbnail-dir", "watch-streams"})

		fmt.Fprintf(os.Stderr, "\nObservability:\n")
		printFlagCategory([]string{"v", "log-format"})

		fmt.Fprintf(os.Stderr, "\nDashboard:\n")
		printFlagCategory([]string{"tui"})

		fmt.Fprintf(os.Stderr, `
Examples:
  # Monitor streams from streams.yaml with the default API on :8080
  hls-stream-ops

  # Faster polling against a custom streams file
  hls-stream-ops -poll-interval 2s -streams-file /etc/hls-ops/streams.yaml

  # Terminal dashboard instead of log output
  hls-stream-ops -tui

`)
	}

	// Listeners
	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "API listen address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address")

	// Polling
	flag.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Playlist polling interval")
	flag.DurationVar(&cfg.ManifestTimeout, "manifest-timeout", cfg.ManifestTimeout, "Playlist fetch timeout")
	flag.DurationVar(&cfg.SegmentTimeout, "segment-timeout", cfg.SegmentTimeout, "Segment download timeout")
	flag.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "HTTP User-Agent header")

	// Probing
	flag.DurationVar(&cfg.ProbeTimeout, "probe-timeout", cfg.ProbeTimeout, "ffprobe/ffmpeg invocation timeout")
	flag.StringVar(&cfg.FFprobePath, "ffprobe", cfg.FFprobePath, "Path to ffprobe binary")
	flag.StringVar(&cfg.FFmpegPath, "ffmpeg", cfg.FFmpegPath, "Path to ffmpeg binary")

	// Persistence
	flag.StringVar(&cfg.StreamsFile, "streams-file", cfg.StreamsFile, "YAML file holding the monitored stream set")
	flag.StringVar(&cfg.ThumbnailDir, "thumbnail-dir", cfg.ThumbnailDir, "Directory for incident thumbnails")
	flag.BoolVar(&cfg.WatchStreams, "watch-streams", cfg.WatchStreams, "Reload the streams file on external edits")

	// Observability
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)

	// Dashboard
	flag.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard")

	flag.Parse()

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(names []string) {
	flag.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(os.Stderr, "  -%s\n    \t%s", f.Name, f.Usage)
				if f.DefValue != "" && f.DefValue != "false" {
					fmt.Fprintf(os.Stderr, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(os.Stderr)
				return
			}
		}
	})
}
