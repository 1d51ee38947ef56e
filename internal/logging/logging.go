// Package logging holds the slog conventions shared by every component:
// snake_case operation events, error events with an "error" attribute, and
// close/rollback helpers that log instead of dropping errors.
package logging

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
)

type loggerKey struct{}

// NewLogger builds the process logger. Production gets JSON output, every other
// environment gets text output. Verbose lowers the level to debug.
func NewLogger(w io.Writer, json bool, verbose bool) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger stored by WithLogger, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return slog.Default()
}

// LogOperation records a named step at info level.
func LogOperation(logger *slog.Logger, operation string, attrs ...slog.Attr) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(context.Background(), slog.LevelInfo, operation, attrs...)
}

// LogWarning records a data-quality problem that did not stop the run.
func LogWarning(logger *slog.Logger, message string, attrs ...slog.Attr) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(context.Background(), slog.LevelWarn, message, attrs...)
}

// LogError records err at error level under message.
func LogError(logger *slog.Logger, message string, err error, attrs ...slog.Attr) {
	if logger == nil {
		logger = slog.Default()
	}
	all := make([]slog.Attr, 0, len(attrs)+1)
	if err != nil {
		all = append(all, slog.String("error", err.Error()))
	}
	all = append(all, attrs...)
	logger.LogAttrs(context.Background(), slog.LevelError, message, all...)
}

// SafeCloseWithLogging closes c and logs a failure instead of returning it.
// Meant for defer.
func SafeCloseWithLogging(c io.Closer, logger *slog.Logger, resource string) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		LogError(logger, "failed to close resource", err, slog.String("resource", resource))
	}
}

// SafeRollbackWithLogging rolls tx back, ignoring sql.ErrTxDone so that it can
// be deferred ahead of a Commit.
func SafeRollbackWithLogging(tx *sql.Tx, logger *slog.Logger, operation string) {
	if tx == nil {
		return
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		LogError(logger, "failed to roll back transaction", err, slog.String("operation", operation))
	}
}
