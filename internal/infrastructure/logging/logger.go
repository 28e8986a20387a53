package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/simhaus/simhaus/internal/infrastructure/config"
)

// serviceName is stamped on every log line so fleet logs aggregated with
// other services stay attributable.
const serviceName = "simhaus"

// Logger is the process-wide structured logger, a thin wrapper over
// slog.Logger. Every line carries the service name and build version;
// subsystems hang their own context off it with With.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of the configuration:
// format (json or text), minimum level, and destination (stdout or
// stderr). The version string becomes a default field alongside the
// service name.
func New(cfg config.LoggingConfig, version string) *Logger {
	handler := buildHandler(cfg.Format, resolveOutput(cfg.Output), parseLevel(cfg.Level))

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// resolveOutput maps a configured destination name to its writer.
// Anything unrecognised lands on stdout.
func resolveOutput(output string) io.Writer {
	if strings.ToLower(output) == "stderr" {
		return os.Stderr
	}
	return os.Stdout
}

// buildHandler picks the slog handler for a format name. JSON is the
// default; "text" opts into the human-readable form for development.
func buildHandler(format string, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	if strings.ToLower(format) == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// parseLevel maps a configured level name to its slog.Level, defaulting
// to info for anything unrecognised. "warning" is accepted as an alias.
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

// With returns a child Logger carrying extra default attributes.
//
// Example:
//
//	engineLog := logger.With("component", "engine")
//	engineLog.Info("fleet built") // includes component=engine
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default returns a JSON/info/stdout logger for the window between
// process start and config load.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
