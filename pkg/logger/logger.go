// Package logger is the process-wide structured logger built on log/slog.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/warp/bank-interest/pkg/logger/slogx"
)

var (
	// minimum reporting level for the logger
	lvl = new(slog.LevelVar)

	// top-level logger
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
)

func init() {
	lvl.Set(slog.LevelInfo)
	slog.SetDefault(logger)
}

// Config is the logger configuration.
type Config struct {
	// Output is the logger output format: text (default) or json.
	Output string `mapstructure:"output"`

	// Debug enables debug level and source locations.
	Debug bool `mapstructure:"debug"`
}

// Init initializes the global logger and slog default logger.
func Init(cfg Config) error {
	options := &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: errorAttrReplacer,
	}

	lvl.Set(slog.LevelInfo)
	if cfg.Debug {
		lvl.Set(slog.LevelDebug)
		options.AddSource = true
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Output) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, options)
	case "", "text":
		handler = slog.NewTextHandler(os.Stdout, options)
	default:
		return errors.Newf("unsupported logger output %q", cfg.Output)
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
	return nil
}

// errorAttrReplacer prints wrapped cockroachdb errors with their full chain in debug mode.
func errorAttrReplacer(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) == 0 && attr.Key == slogx.ErrorKey && lvl.Level() <= slog.LevelDebug {
		if err, ok := attr.Value.Any().(error); ok && err != nil {
			return slog.String(slogx.ErrorKey, fmt.Sprintf("%+v", err))
		}
	}
	return attr
}

func With(args ...any) *slog.Logger { return logger.With(args...) }

func Debug(msg string, args ...any) { log(context.Background(), logger, slog.LevelDebug, msg, args...) }
func Info(msg string, args ...any)  { log(context.Background(), logger, slog.LevelInfo, msg, args...) }
func Warn(msg string, args ...any)  { log(context.Background(), logger, slog.LevelWarn, msg, args...) }
func Error(msg string, args ...any) { log(context.Background(), logger, slog.LevelError, msg, args...) }

// Fatal logs at error level followed by a call to os.Exit(1).
func Fatal(msg string, args ...any) {
	log(context.Background(), logger, slog.LevelError, msg, args...)
	os.Exit(1)
}

// log must always be called directly by an exported logging function,
// because it uses a fixed call depth to obtain the pc.
func log(ctx context.Context, l *slog.Logger, level slog.Level, msg string, args ...any) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	// skip [runtime.Callers, this function, this function's caller]
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.Handler().Handle(ctx, r)
}
