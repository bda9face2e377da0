package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.ManifestTimeout != 10*time.Second {
		t.Errorf("ManifestTimeout = %v, want 10s", cfg.ManifestTimeout)
	}
	if cfg.SegmentTimeout != 30*time.Second {
		t.Errorf("SegmentTimeout = %v, want 30s", cfg.SegmentTimeout)
	}
	if cfg.ProbeTimeout != 5*time.Second {
		t.Errorf("ProbeTimeout = %v, want 5s", cfg.ProbeTimeout)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("Validate(DefaultConfig()) = %v, want nil", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "empty http addr",
			mutate:    func(c *Config) { c.HTTPAddr = "" },
			wantField: "http",
		},
		{
			name:      "empty metrics addr",
			mutate:    func(c *Config) { c.MetricsAddr = "" },
			wantField: "metrics",
		},
		{
			name:      "zero poll interval",
			mutate:    func(c *Config) { c.PollInterval = 0 },
			wantField: "poll_interval",
		},
		{
			name:      "negative manifest timeout",
			mutate:    func(c *Config) { c.ManifestTimeout = -time.Second },
			wantField: "manifest_timeout",
		},
		{
			name:      "zero segment timeout",
			mutate:    func(c *Config) { c.SegmentTimeout = 0 },
			wantField: "segment_timeout",
		},
		{
			name:      "zero probe timeout",
			mutate:    func(c *Config) { c.ProbeTimeout = 0 },
			wantField: "probe_timeout",
		},
		{
			name:      "empty streams file",
			mutate:    func(c *Config) { c.StreamsFile = "" },
			wantField: "streams_file",
		},
		{
			name:      "bad log format",
			mutate:    func(c *Config) { c.LogFormat = "xml" },
			wantField: "log_format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantField) {
				t.Errorf("error %q does not mention field %q", err.Error(), tt.wantField)
			}
		})
	}
}

// TestValidate_CollectsAllErrors verifies validation reports every problem
// at once rather than stopping at the first.
func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPAddr = ""
	cfg.PollInterval = 0
	cfg.LogFormat = "yaml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, field := range []string{"http", "poll_interval", "log_format"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("combined error missing field %q: %v", field, err)
		}
	}
}

func TestValidationError_Error(t *testing.T) {
	e := ValidationError{Field: "poll_interval", Message: "must be positive"}
	if got := e.Error(); got != "poll_interval: must be positive" {
		t.Errorf("Error() = %q", got)
	}
}

func TestLoadDotEnv_Overrides(t *testing.T) {
	t.Setenv("HLS_OPS_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("HLS_OPS_POLL_INTERVAL", "2s")
	t.Setenv("HLS_OPS_LOG_FORMAT", "text")

	cfg := DefaultConfig()
	loadDotEnv(cfg)

	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Errorf("HTTPAddr = %q, want env override", cfg.HTTPAddr)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.PollInterval)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
}

func TestLoadDotEnv_InvalidDurationIgnored(t *testing.T) {
	t.Setenv("HLS_OPS_POLL_INTERVAL", "not-a-duration")

	cfg := DefaultConfig()
	loadDotEnv(cfg)

	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want default kept on bad env value", cfg.PollInterval)
	}
}
