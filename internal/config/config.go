// Package config provides configuration management for hls-stream-ops.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration options for the service.
type Config struct {
	// Listeners
	HTTPAddr    string `json:"http_addr"`
	MetricsAddr string `json:"metrics_addr"`

	// Polling
	PollInterval    time.Duration `json:"poll_interval"`
	ManifestTimeout time.Duration `json:"manifest_timeout"`
	SegmentTimeout  time.Duration `json:"segment_timeout"`
	UserAgent       string        `json:"user_agent"`

	// Probing
	ProbeTimeout time.Duration `json:"probe_timeout"`
	FFprobePath  string        `json:"ffprobe_path"`
	FFmpegPath   string        `json:"ffmpeg_path"`

	// Persistence
	StreamsFile  string `json:"streams_file"`
	ThumbnailDir string `json:"thumbnail_dir"`
	WatchStreams bool   `json:"watch_streams"`

	// Observability
	Verbose   bool   `json:"verbose"`
	LogFormat string `json:"log_format"` // json, text

	// Dashboard
	TUIEnabled bool `json:"tui"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:    "0.0.0.0:8080",
		MetricsAddr: "0.0.0.0:9090",

		PollInterval:    5 * time.Second,
		ManifestTimeout: 10 * time.Second,
		SegmentTimeout:  30 * time.Second,
		UserAgent:       "hls-stream-ops/1.0",

		ProbeTimeout: 5 * time.Second,
		FFprobePath:  "ffprobe",
		FFmpegPath:   "ffmpeg",

		StreamsFile:  "streams.yaml",
		ThumbnailDir: "thumbnails",
		WatchStreams: true,

		Verbose:   false,
		LogFormat: "json",

		TUIEnabled: false,
	}
}

// loadDotEnv applies .env and environment overrides on top of defaults.
// Flags still win over both.
func loadDotEnv(cfg *Config) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	if v := os.Getenv("HLS_OPS_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("HLS_OPS_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("HLS_OPS_STREAMS_FILE"); v != "" {
		cfg.StreamsFile = v
	}
	if v := os.Getenv("HLS_OPS_THUMBNAIL_DIR"); v != "" {
		cfg.ThumbnailDir = v
	}
	if v := os.Getenv("HLS_OPS_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv("HLS_OPS_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}
