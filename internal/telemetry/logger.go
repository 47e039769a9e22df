package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// NewLogger builds the process-wide structured logger: JSON in production,
// text in development, matching the teacher's env-driven handler choice.
func NewLogger(env, level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if env == "development" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// RotateLogFile renames an existing log file aside with a timestamp suffix
// before the caller opens a fresh one, matching original_source/server/server.py's
// startup log archival so each run gets a clean file without losing history.
func RotateLogFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat log file: %w", err)
	}

	archived := fmt.Sprintf("%s.%s", path, time.Now().UTC().Format("20060102T150405Z"))
	if err := os.Rename(path, archived); err != nil {
		return fmt.Errorf("archiving previous log file: %w", err)
	}
	return nil
}

// OpenLogWriter opens (creating/appending) the configured log file, or
// returns os.Stderr if no path is configured.
func OpenLogWriter(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stderr, func() error { return nil }, nil
	}

	if err := RotateLogFile(path); err != nil {
		return nil, nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	mw := io.MultiWriter(os.Stderr, f)
	return mw, f.Close, nil
}
