// Package logger wraps log/slog with a process-wide logger and a level
// that can be changed while the service runs.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var log *slog.Logger

// level backs the handler; slog.LevelVar is atomic and safe to change
// from any goroutine.
var level slog.LevelVar

// Init sets up the global logger writing to stdout at the given level.
func Init(levelStr string) {
	InitWithWriter(os.Stdout, levelStr)
}

// InitWithWriter sets up the global logger against an arbitrary writer.
// Used by tests to capture output.
func InitWithWriter(w io.Writer, levelStr string) {
	level.Set(parseLevel(levelStr))
	log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}))
}

// SetLevel changes the log level at runtime. Valid values: debug, info,
// warn, error. Anything else falls back to info.
func SetLevel(levelStr string) {
	level.Set(parseLevel(levelStr))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Debug(msg string, args ...any) {
	if log != nil {
		log.Debug(msg, args...)
	}
}

func Info(msg string, args ...any) {
	if log != nil {
		log.Info(msg, args...)
	}
}

func Warn(msg string, args ...any) {
	if log != nil {
		log.Warn(msg, args...)
	}
}

func Error(msg string, args ...any) {
	if log != nil {
		log.Error(msg, args...)
	}
}
