package rowcache

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with rowcache-specific context.
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
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithTimestep adds the logical timestep of an operation to the logger.
func (l *Logger) WithTimestep(ts int64) *Logger {
	return &Logger{
		Logger: l.Logger.With("timestep", ts),
	}
}

// WithDim adds a row-width field to the logger.
func (l *Logger) WithDim(dim int) *Logger {
	return &Logger{
		Logger: l.Logger.With("dim", dim),
	}
}

// LogPrefetch logs one admission pass over a batch.
func (l *Logger) LogPrefetch(ctx context.Context, ts int64, batch, unique, fetched, evicted int) {
	l.DebugContext(ctx, "prefetch queued",
		"timestep", ts,
		"batch", batch,
		"unique", unique,
		"fetched", fetched,
		"evicted", evicted,
	)
}

// LogBatchIO logs the completion of a batch's background I/O.
func (l *Logger) LogBatchIO(ctx context.Context, ts int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "batch io failed",
			"timestep", ts,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "batch io completed",
			"timestep", ts,
		)
	}
}

// LogRetire logs the writeback of a retiring batch.
func (l *Logger) LogRetire(ctx context.Context, ts int64, writeback int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "retire failed",
			"timestep", ts,
			"writeback", writeback,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "batch retired",
			"timestep", ts,
			"writeback", writeback,
		)
	}
}

// LogCompact logs a store compaction.
func (l *Logger) LogCompact(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compaction failed", "error", err)
	} else {
		l.DebugContext(ctx, "compaction completed")
	}
}

// LogFlush logs a store flush.
func (l *Logger) LogFlush(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed", "error", err)
	} else {
		l.DebugContext(ctx, "flush completed")
	}
}
