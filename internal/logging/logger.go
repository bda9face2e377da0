// Package logging provides structured logging for hls-stream-ops.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// NewLogger creates the service logger with the specified format and level.
// Format should be "json" or "text"; level "debug", "info", "warn", or
// "error". Verbose forces debug level.
func NewLogger(format, level string, verbose bool) *slog.Logger {
	logLevel := parseLevel(level)
	if verbose {
		logLevel = slog.LevelDebug
	}
	// Service logs default to JSON: they are scraped, not read live.
	return slog.New(newHandler(os.Stderr, format, logLevel, "json"))
}

// NewLoggerWithWriter creates a logger that writes to a custom writer.
// Useful for testing.
func NewLoggerWithWriter(w io.Writer, format, level string) *slog.Logger {
	return slog.New(newHandler(w, format, parseLevel(level), "text"))
}

// NewDiscard returns a logger that drops everything. Used while the
// terminal dashboard owns the screen.
func NewDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newHandler builds a handler for the format, falling back to defaultFormat
// on unknown values. Source locations are attached at debug level, trimmed
// to file:line.
func newHandler(w io.Writer, format string, level slog.Level, defaultFormat string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level == slog.LevelDebug,
		ReplaceAttr: trimSource,
	}

	f := strings.ToLower(format)
	if f != "json" && f != "text" {
		f = defaultFormat
	}
	if f == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// trimSource shortens the source attr from a full struct to file:line.
func trimSource(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.SourceKey {
		if src, ok := a.Value.Any().(*slog.Source); ok {
			a.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	}
	return a
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault sets the default logger for the slog package.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
