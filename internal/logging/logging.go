// Package logging provides structured logging for fileup.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a new structured logger with the specified level and format.
// Supported levels: debug, info, warn, error
// Supported formats: text, json
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a new structured logger with a custom writer.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	lvl := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Common attribute keys for consistent logging across the session engine
// and its collaborators.
const (
	KeyClientID  = "client_id"
	KeyCode      = "code"
	KeyAttempt   = "attempt"
	KeyBytes     = "bytes"
	KeyError     = "error"
	KeyComponent = "component"
	KeyAddress   = "address"
	KeyDuration  = "duration"
)

// Component binds a component attribute to logger once, so call sites log
// a line at a time without repeating KeyComponent on every call. The
// session engine's states (connect, register, reconnect, send-file) all
// log through the same component name; this keeps that binding in one
// place instead of inline at every call site.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(KeyComponent, name)
}

// Progress binds the packet/total/bytes-sent attributes the SEND_FILE loop
// reports at both Debug (per chunk) and Info (periodic) level, so the two
// call sites in the session engine share one attribute shape instead of
// each building it ad hoc.
func Progress(logger *slog.Logger, packetNo, total int, bytesSent uint64) *slog.Logger {
	return logger.With(
		"packet", packetNo,
		"total", total,
		KeyBytes, bytesSent,
	)
}
