package logger

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

// Init installs the JSON logger on stdout at the given level
// ("debug", "info", "warn", "error"; anything else means info).
func Init(level string) {
	SetOutput(os.Stdout, level)
	Info("logger initialized", map[string]any{"level": level})
}

// SetOutput redirects log lines, mostly useful in tests.
func SetOutput(w io.Writer, level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	current.Store(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})))
}

func Debug(msg string, fields map[string]any) {
	current.Load().Debug(msg, attrs(fields)...)
}

func Info(msg string, fields map[string]any) {
	current.Load().Info(msg, attrs(fields)...)
}

func Warn(msg string, fields map[string]any) {
	current.Load().Warn(msg, attrs(fields)...)
}

func Error(msg string, fields map[string]any) {
	current.Load().Error(msg, attrs(fields)...)
}

func Fatal(msg string, fields map[string]any) {
	current.Load().Error(msg, append(attrs(fields), "fatal", true)...)
	os.Exit(1)
}

func attrs(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	out := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}
