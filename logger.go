package proxima

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with operation helpers so log fields stay
// consistent across the codebase.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler falls
// back to a text handler on stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that writes JSON logs to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that writes human-readable logs to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // unreachable level
	}))
}

// LogInsert logs an insert operation.
func (l *Logger) LogInsert(ctx context.Context, id VectorID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed", "id", uint64(id), "error", err)
	} else {
		l.DebugContext(ctx, "insert completed", "id", uint64(id))
	}
}

// LogBatchInsert logs a batch insert operation.
func (l *Logger) LogBatchInsert(ctx context.Context, count, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, "batch insert completed with failures",
			"total", count,
			"failed", failed,
		)
	} else {
		l.InfoContext(ctx, "batch insert completed", "count", count)
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, k, found int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed", "k", k, "error", err)
	} else {
		l.DebugContext(ctx, "search completed", "k", k, "results", found)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, id VectorID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed", "id", uint64(id), "error", err)
	} else {
		l.DebugContext(ctx, "delete completed", "id", uint64(id))
	}
}

// LogTrain logs a quantizer training run.
func (l *Logger) LogTrain(ctx context.Context, samples int, generation uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "quantizer training failed",
			"samples", samples,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "quantizer trained",
			"samples", samples,
			"generation", generation,
		)
	}
}

// LogCompact logs a compaction run.
func (l *Logger) LogCompact(ctx context.Context, purged, repaired int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compaction failed", "error", err)
	} else {
		l.InfoContext(ctx, "compaction completed",
			"purged", purged,
			"repaired", repaired,
		)
	}
}

// LogSnapshot logs a snapshot save or load.
func (l *Logger) LogSnapshot(ctx context.Context, op, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot "+op+" failed", "name", name, "error", err)
	} else {
		l.InfoContext(ctx, "snapshot "+op+" completed", "name", name)
	}
}
