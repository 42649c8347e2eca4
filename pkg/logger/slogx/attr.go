// Package slogx provides typed slog attributes for the keys this service logs.
package slogx

import (
	"fmt"
	"log/slog"
	"time"
)

// ErrorKey is the attribute key used for errors.
const ErrorKey = "error"

// Error returns an slog.Attr for an error value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any(ErrorKey, err)
}

func String(key, value string) slog.Attr { return slog.String(key, value) }

// Stringer returns an slog.Attr for a fmt.Stringer value.
func Stringer(key string, value fmt.Stringer) slog.Attr {
	return slog.String(key, value.String())
}

func Int(key string, value int) slog.Attr { return slog.Int64(key, int64(value)) }

func Bool(key string, value bool) slog.Attr { return slog.Bool(key, value) }

func Time(key string, value time.Time) slog.Attr { return slog.Time(key, value) }

func Duration(key string, value time.Duration) slog.Attr { return slog.Duration(key, value) }

func Any(key string, value any) slog.Attr { return slog.Any(key, value) }

// Strings renders a slice of string-like values as a single attribute.
func Strings[T ~string](key string, values []T) slog.Attr {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return slog.Any(key, out)
}
