package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var base = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

// Init replaces the process logger. Format "json" writes structured JSON,
// anything else writes text with source locations.
func Init(level, format string) {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: !strings.EqualFold(format, "json"),
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	base = slog.New(handler)
	slog.SetDefault(base)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Info(format string, v ...interface{}) {
	base.Info(fmt.Sprintf(format, v...))
}

func Error(format string, v ...interface{}) {
	base.Error(fmt.Sprintf(format, v...))
}

func Debug(format string, v ...interface{}) {
	if base.Enabled(context.Background(), slog.LevelDebug) {
		base.Debug(fmt.Sprintf(format, v...))
	}
}

func Warn(format string, v ...interface{}) {
	base.Warn(fmt.Sprintf(format, v...))
}

// With returns a structured logger carrying the given attributes, for call
// sites that log repeatedly about the same user or scope.
func With(args ...any) *slog.Logger {
	return base.With(args...)
}
