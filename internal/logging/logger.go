// Package logging holds the process logger shared by the executor and the CLI.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Logger returns the process logger, creating it on first use.
// Set XINTERP_DEBUG=1 to enable debug logging.
func Logger() *slog.Logger {
	once.Do(func() {
		logger = New(os.Stderr, os.Getenv("XINTERP_DEBUG") != "")
	})
	return logger
}

// New returns a text logger without timestamps.
func New(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Timestamps only add noise to CLI output
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})
	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Debug logs a debug message on the process logger.
func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}
