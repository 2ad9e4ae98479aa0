// Package logging provides structured logging for go-fakecam.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// NewLoggerWithRecent creates a logger writing to w that also retains the
// most recent warn/error records. Format should be "json" or "text"; level
// should be "debug", "info", "warn", or "error", and verbose forces debug.
// Pass io.Discard as w to keep only the retained records (used while the
// dashboard owns the terminal).
func NewLoggerWithRecent(w io.Writer, format, level string, verbose bool) (*slog.Logger, *Recent) {
	recent := NewRecent()
	h := NewRecentHandler(newHandler(w, format, level, verbose), recent)
	return slog.New(h), recent
}

func newHandler(w io.Writer, format, level string, verbose bool) slog.Handler {
	// Determine log level
	logLevel := parseLevel(level)
	if verbose {
		logLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
		// Add source location for debug level
		AddSource: logLevel == slog.LevelDebug,
	}

	// Create handler based on format
	switch strings.ToLower(format) {
	case "text":
		return slog.NewTextHandler(w, opts)
	default:
		// Default to JSON for structured logging
		return slog.NewJSONHandler(w, opts)
	}
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
