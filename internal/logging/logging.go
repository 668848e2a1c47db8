// Package logging builds the daemon's slog.Logger and the SIGHUP-reopenable
// file writer behind it, mirroring how a long-running daemon's log file
// survives external log rotation (logrotate, journald) without a restart.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// ReopenableWriter wraps a log destination that may need to be closed and
// reopened in place, for SIGHUP-driven rotation. Writing to stderr (path
// == "") makes Reopen a no-op, since there is nothing to rotate.
type ReopenableWriter struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewReopenableWriter opens path for appending. An empty path wraps
// os.Stderr instead.
func NewReopenableWriter(path string) (*ReopenableWriter, error) {
	w := &ReopenableWriter{path: path}
	if path == "" {
		w.file = os.Stderr
		return w, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	w.file = f
	return w, nil
}

// Write implements io.Writer.
func (w *ReopenableWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Write(p)
}

// Reopen closes and reopens the underlying file at the same path, picking
// up a rename performed by an external log rotator. A no-op when writing
// to stderr.
func (w *ReopenableWriter) Reopen() error {
	if w.path == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	old := w.file
	w.file = f
	return old.Close()
}

// ParseLevel converts a config log level string to a slog.Level, defaulting
// to Info for anything unrecognized.
func ParseLevel(level string) slog.Level {
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

// New builds a text-handler slog.Logger writing to w at the given level.
func New(w *ReopenableWriter, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
