// Package logging builds the process logger: text lines on stderr plus one
// file per start under Logs/.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const fileLayout = "2006-01-02_15-04-05"

// New returns a logger writing to stderr and, when logsDir is not empty, to
// a fresh timestamped file in logsDir. The closer releases that file.
func New(logsDir, level string) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if logsDir == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, nil, err
	}
	path := filepath.Join(logsDir, time.Now().Format(fileLayout)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	w := io.MultiWriter(os.Stderr, f)
	return slog.New(slog.NewTextHandler(w, opts)), f, nil
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// TaskScope runs fn between "started" and "completed"/"failed" log lines that
// carry the task name and its duration.
func TaskScope(logger *slog.Logger, task string, fn func() error) error {
	start := time.Now()
	logger.Debug("task started", "task", task)
	if err := fn(); err != nil {
		logger.Error("task failed", "task", task, "duration", time.Since(start), "error", err)
		return err
	}
	logger.Debug("task completed", "task", task, "duration", time.Since(start))
	return nil
}

// Discard is a logger for tests and one-shot helpers that should stay quiet.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
