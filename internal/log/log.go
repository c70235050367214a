// Package log wires up the process-wide github.com/luxfi/log.Logger used
// by every other package, the same structured-logging library the pack's
// poll, protocol, and networking packages take as a constructor argument
// rather than calling a global.
package log

import (
	"log/slog"
	"strings"

	"github.com/luxfi/log"
)

// New returns a Logger named component at level (one of the slog level
// names: "debug", "info", "warn", "error"; case-insensitive). An empty or
// unrecognized level defaults to "info".
func New(component string, level string) log.Logger {
	logger := log.NewLogger(component)
	logger.SetLevel(parseLevel(level))
	return logger
}

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

// NoOp returns a logger that discards everything, for tests and for
// components that opt out of logging entirely.
func NoOp() log.Logger {
	return log.NewNoOpLogger()
}
