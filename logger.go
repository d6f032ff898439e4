package ndstore

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/ndstore/metrics"
)

// Logger wraps slog.Logger with ndstore-specific helpers.
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
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithLibrary adds a library field to the logger.
func (l *Logger) WithLibrary(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("library", name),
	}
}

// LogStore logs a library write.
func (l *Logger) LogStore(ctx context.Context, format string, bytes int64, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "store failed",
			"format", format,
			"duration", d,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "store completed",
		"format", format,
		"bytes", bytes,
		"duration", d,
	)
}

// LogFetch logs a library read.
func (l *Logger) LogFetch(ctx context.Context, format string, d time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "fetch failed",
			"format", format,
			"duration", d,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "fetch completed",
		"format", format,
		"duration", d,
	)
}

// LogDelete logs a library delete.
func (l *Logger) LogDelete(ctx context.Context, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"duration", d,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "delete completed", "duration", d)
}

// LogScan logs a completed directory scan.
func (l *Logger) LogScan(ctx context.Context, items, warnings int, d time.Duration) {
	if warnings > 0 {
		l.WarnContext(ctx, "scan completed with warnings",
			"items", items,
			"warnings", warnings,
			"duration", d,
		)
		return
	}
	l.InfoContext(ctx, "scan completed",
		"items", items,
		"duration", d,
	)
}

// LogFlush logs a completed model flush.
func (l *Logger) LogFlush(ctx context.Context, stored, deleted, failed int, d time.Duration) {
	if failed > 0 {
		l.WarnContext(ctx, "flush completed with failures",
			"stored", stored,
			"deleted", deleted,
			"failed", failed,
			"duration", d,
		)
		return
	}
	l.InfoContext(ctx, "flush completed",
		"stored", stored,
		"deleted", deleted,
		"duration", d,
	)
}

// LogMigration logs one record migration.
func (l *Logger) LogMigration(ctx context.Context, typeName string, from, to int, err error) {
	if err != nil {
		l.WarnContext(ctx, "migration failed",
			"type", typeName,
			"from", from,
			"to", to,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "record migrated",
		"type", typeName,
		"from", from,
		"to", to,
	)
}

// LogUpgrade logs the upgrade of one library.
func (l *Logger) LogUpgrade(ctx context.Context, library string, upgraded, failed int, d time.Duration) {
	level := slog.LevelInfo
	if failed > 0 {
		level = slog.LevelWarn
	}
	l.Log(ctx, level, "upgrade completed",
		"library", library,
		"upgraded", upgraded,
		"failed", failed,
		"duration", d,
	)
}

// loggingObserver reports every observer event through a Logger before
// passing it on.
type loggingObserver struct {
	log  *Logger
	next metrics.Observer
}

var _ metrics.Observer = loggingObserver{}

func (o loggingObserver) OnFetch(d time.Duration, format string, err error) {
	o.log.LogFetch(context.Background(), format, d, err)
	o.next.OnFetch(d, format, err)
}

func (o loggingObserver) OnStore(d time.Duration, format string, bytes int64, err error) {
	o.log.LogStore(context.Background(), format, bytes, d, err)
	o.next.OnStore(d, format, bytes, err)
}

func (o loggingObserver) OnDelete(d time.Duration, err error) {
	o.log.LogDelete(context.Background(), d, err)
	o.next.OnDelete(d, err)
}

func (o loggingObserver) OnScan(d time.Duration, items, warnings int) {
	o.log.LogScan(context.Background(), items, warnings, d)
	o.next.OnScan(d, items, warnings)
}

func (o loggingObserver) OnFlush(d time.Duration, stored, deleted, failed int) {
	o.log.LogFlush(context.Background(), stored, deleted, failed, d)
	o.next.OnFlush(d, stored, deleted, failed)
}

func (o loggingObserver) OnMigration(typeName string, from, to int, err error) {
	o.log.LogMigration(context.Background(), typeName, from, to, err)
	o.next.OnMigration(typeName, from, to, err)
}

func (o loggingObserver) OnUpgrade(library string, d time.Duration, upgraded, failed int) {
	o.log.LogUpgrade(context.Background(), library, upgraded, failed, d)
	o.next.OnUpgrade(library, d, upgraded, failed)
}
