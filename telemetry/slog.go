package telemetry

import (
	"context"
	"log/slog"
)

// slogLogger adapts the standard library's structured logger to Logger.
// This is the default logger used outside of tests: it requires no external
// collector, unlike the OTEL-backed Metrics/Tracer implementations.
type slogLogger struct {
	base *slog.Logger
}

// NewSlogLogger wraps an *slog.Logger as a Logger. A nil base falls back to
// slog.Default().
func NewSlogLogger(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return slogLogger{base: base}
}

func (l slogLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	l.base.DebugContext(ctx, msg, keyvals...)
}

func (l slogLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	l.base.InfoContext(ctx, msg, keyvals...)
}

func (l slogLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	l.base.WarnContext(ctx, msg, keyvals...)
}

func (l slogLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	l.base.ErrorContext(ctx, msg, keyvals...)
}
