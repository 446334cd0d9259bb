package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"

	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
)

// ServiceName is attached to every log entry as the service attribute.
const ServiceName = "rxhome-auth"

// Logger wraps slog.Logger with auth-core defaults.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON for production, text for development)
//   - Log level filtering
//   - Default fields (service name, version)
//   - Output destination (stdout, stderr or a rotated file)
//
// If the rotated file cannot be opened the logger falls back to stderr and
// reports the problem as its first entry.
func New(cfg config.LoggingConfig, version string) *Logger {
	output, openErr := openOutput(cfg)

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	})

	logger := &Logger{Logger: slog.New(handler)}
	if openErr != nil {
		logger.Warn("file logging unavailable, using stderr", "path", cfg.File.Path, "error", openErr)
	}
	return logger
}

// openOutput resolves the configured output to a writer.
func openOutput(cfg config.LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr, nil
	case "file":
		w, err := newRotatingWriter(cfg.File)
		if err != nil {
			return os.Stderr, err
		}
		return w, nil
	default:
		return os.Stdout, nil
	}
}

// newRotatingWriter opens a time-rotated log file. Rotated files are named
// <path>.YYYYMMDDHH and <path> is kept as a symlink to the current one.
func newRotatingWriter(cfg config.FileLoggingConfig) (*rotatelogs.RotateLogs, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("logging.file.path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 7
	}
	rotation := cfg.RotationHours
	if rotation <= 0 {
		rotation = 24
	}

	w, err := rotatelogs.New(
		cfg.Path+".%Y%m%d%H",
		rotatelogs.WithLinkName(cfg.Path),
		rotatelogs.WithMaxAge(time.Duration(maxAge)*24*time.Hour),
		rotatelogs.WithRotationTime(time.Duration(rotation)*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("opening rotated log: %w", err)
	}
	return w, nil
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
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

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	storeLogger := logger.With("component", "auth.store")
//	storeLogger.Info("loaded") // Includes component=auth.store
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
