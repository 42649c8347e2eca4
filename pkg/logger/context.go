package logger

import (
	"context"
	"log/slog"

	"github.com/warp/bank-interest/pkg/logger/slogx"
)

type loggerKey struct{}

// FromContext returns the logger from the context, or the global logger.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return logger.With()
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return logger.With()
}

// NewContext returns a new context with logger attached.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

// WithContext returns a new context with given logger attributes.
func WithContext(ctx context.Context, args ...any) context.Context {
	return NewContext(ctx, FromContext(ctx).With(args...))
}

func DebugContext(ctx context.Context, msg string, args ...any) {
	log(ctx, FromContext(ctx), slog.LevelDebug, msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	log(ctx, FromContext(ctx), slog.LevelInfo, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	log(ctx, FromContext(ctx), slog.LevelWarn, msg, args...)
}

// ErrorContext logs at error level with err attached.
func ErrorContext(ctx context.Context, msg string, err error, args ...any) {
	log(ctx, FromContext(ctx), slog.LevelError, msg, append(args, slogx.Error(err))...)
}
