// Package log provides structured logging for the runtime host side.
// It wraps Go's log/slog with per-module child loggers so the bring-up
// sequence, the trap dispatcher and the drivers each log under their
// own tag. Nothing in this package is called from trap context: a
// handler runs to completion with interrupts masked, and allocation or
// I/O there would stretch the masked window unboundedly. Handlers
// count (metrics); the thread of control that installed them logs.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger is a thin handle over slog.Logger carrying the module context
// attached by Module and With.
type Logger struct {
	inner *slog.Logger
}

// defaultLogger backs the package-level functions until SetDefault
// replaces it.
var defaultLogger *Logger

func init() {
	defaultLogger = New(slog.LevelInfo)
}

// New returns a Logger emitting JSON lines to stderr at the given
// level.
func New(level slog.Level) *Logger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{inner: slog.New(h)}
}

// NewText creates a Logger that writes human-readable lines to w at
// the given level. The command uses this for its console output.
func NewText(w io.Writer, level slog.Level) *Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{inner: slog.New(h)}
}

// NewWithHandler wraps an arbitrary slog.Handler, which is how tests
// capture output or point it somewhere other than stderr.
func NewWithHandler(h slog.Handler) *Logger {
	return &Logger{inner: slog.New(h)}
}

// SetDefault swaps the logger the package-level functions use. A nil
// argument is ignored.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Default returns the logger the package-level functions currently
// write through.
func Default() *Logger {
	return defaultLogger
}

// Module derives a child logger tagged with a "module" attribute. Each
// subsystem (boot, trap, mtimer, image) takes one at construction so
// its lines are filterable.
func (l *Logger) Module(name string) *Logger {
	return &Logger{inner: l.inner.With("module", name)}
}

// With derives a child logger carrying extra key-value context on
// every line.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...)}
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }

// Info logs at LevelInfo.
func (l *Logger) Info(msg string, args ...any) { l.inner.Info(msg, args...) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(msg string, args ...any) { l.inner.Warn(msg, args...) }

// Error logs at LevelError.
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }

// ---------------------------------------------------------------------------
// Package-level shorthands over the default logger
// ---------------------------------------------------------------------------

// Debug logs through the default logger at LevelDebug.
func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }

// Info logs through the default logger at LevelInfo.
func Info(msg string, args ...any) { defaultLogger.Info(msg, args...) }

// Warn logs through the default logger at LevelWarn.
func Warn(msg string, args ...any) { defaultLogger.Warn(msg, args...) }

// Error logs through the default logger at LevelError.
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }
