package branchfs

import (
	"context"
	"log/slog"
	"os"

	"github.com/branchfs/branchfs/core"
)

// Logger wraps slog.Logger with branchfs-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithPID adds a pid field to the logger (useful for tagging one
// client's operations).
func (l *Logger) WithPID(pid int64) *Logger {
	return &Logger{
		Logger: l.Logger.With("pid", pid),
	}
}

// WithBranch adds a branch field to the logger.
func (l *Logger) WithBranch(id core.BranchID) *Logger {
	return &Logger{
		Logger: l.Logger.With("branch", id.String()),
	}
}

// WithOp adds an op field to the logger.
func (l *Logger) WithOp(op string) *Logger {
	return &Logger{
		Logger: l.Logger.With("op", op),
	}
}

// LogSnapshot logs a snapshot creation.
func (l *Logger) LogSnapshot(ctx context.Context, id core.SnapshotID, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot created",
			"snapshot", id.String(),
			"name", name,
		)
	}
}

// LogBranch logs a branch fork.
func (l *Logger) LogBranch(ctx context.Context, id core.BranchID, from core.SnapshotID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "branch failed",
			"snapshot", from.String(),
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "branch created",
			"branch", id.String(),
			"snapshot", from.String(),
		)
	}
}

// LogArchive logs a snapshot export.
func (l *Logger) LogArchive(ctx context.Context, id core.SnapshotID, key string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "archive failed",
			"snapshot", id.String(),
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot archived",
			"snapshot", id.String(),
			"key", key,
		)
	}
}

// LogRestore logs a snapshot import.
func (l *Logger) LogRestore(ctx context.Context, key, dest string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "restore failed",
			"key", key,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot restored",
			"key", key,
			"dest", dest,
		)
	}
}
