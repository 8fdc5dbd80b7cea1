package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Verbosity levels used by hosts in the configure message.
const (
	VerbosityErrors   = 0
	VerbosityWarnings = 1
	VerbosityInfos    = 5
)

// level is shared by every logger created by SetupLogger so the host can
// change verbosity at runtime.
var level = new(slog.LevelVar)

// ParseLevel maps a level name to a slog level. It accepts the slog names
// and the verbosity names errors, warnings, infos and debug. Unknown names
// give Info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning", "warnings":
		return slog.LevelWarn
	case "error", "errors":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelForVerbosity maps a numeric verbosity to a slog level.
func LevelForVerbosity(v int) slog.Level {
	switch {
	case v <= VerbosityErrors:
		return slog.LevelError
	case v < VerbosityInfos:
		return slog.LevelWarn
	case v == VerbosityInfos:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// SetLevel changes the level of every logger created by SetupLogger.
func SetLevel(l slog.Level) { level.Set(l) }

// Level returns the current level.
func Level() slog.Level { return level.Level() }

// NewLogger creates a logger writing to w. format "text" selects the text
// handler; anything else gives JSON.
func NewLogger(w io.Writer, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level.Level() == slog.LevelDebug,
	}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// SetupLogger sets the level, creates a logger on stderr and installs it as
// the default.
func SetupLogger(levelName, format string) *slog.Logger {
	SetLevel(ParseLevel(levelName))
	logger := NewLogger(os.Stderr, format)
	slog.SetDefault(logger)
	return logger
}

type ctxKey string

const ctxLogger ctxKey = "logger"

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLogger, logger)
}

// FromContext returns the logger stored in ctx, or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithDocID returns logger with the doc_id attribute.
func WithDocID(logger *slog.Logger, docID string) *slog.Logger {
	return logger.With("doc_id", docID)
}

// WithTask returns logger with the task attribute.
func WithTask(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("task", name)
}
