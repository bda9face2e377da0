package config

import (
	"errors"
	"fmt"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.HTTPAddr == "" {
		errs = append(errs, ValidationError{
			Field:   "http",
			Message: "listen address is required",
		})
	}
	if cfg.MetricsAddr == "" {
		errs = append(errs, ValidationError{
			Field:   "metrics",
			Message: "listen address is required",
		})
	}

	if cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "poll_interval",
			Message: "must be positive",
		})
	}
	if cfg.ManifestTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "manifest_timeout",
			Message: "must be positive",
		})
	}
	if cfg.SegmentTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "segment_timeout",
			Message: "must be positive",
		})
	}
	if cfg.ProbeTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "probe_timeout",
			Message: "must be positive",
		})
	}

	if cfg.StreamsFile == "" {
		errs = append(errs, ValidationError{
			Field:   "streams_file",
			Message: "path is required",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
