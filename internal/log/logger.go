package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger writing JSON to stderr.
// Stdout is left to the run summary so it stays machine-readable.
func Setup(level string) {
	SetupWriter(level, os.Stderr)
}

// SetupWriter is Setup with an explicit destination. Only the first call wins.
func SetupWriter(level string, w io.Writer) {
	once.Do(func() {
		opts := &slog.HandlerOptions{
			Level: ParseLevel(level),
		}
		logger = slog.New(slog.NewJSONHandler(w, opts))
		slog.SetDefault(logger)
	})
}

// ParseLevel maps a config level name to a slog level, defaulting to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithWorker returns a logger tagged with the worker index and the current pid.
func WithWorker(index int) *slog.Logger {
	return Get().With(slog.Int("worker", index), slog.Int("pid", os.Getpid()))
}

// WithRun returns a logger with the run_id field set.
func WithRun(id string) *slog.Logger {
	return Get().With(slog.String("run_id", id))
}
