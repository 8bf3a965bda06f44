package gstate

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// TraceKind names the operation a TraceEvent describes.
type TraceKind string

const (
	TraceInit         TraceKind = "init"
	TraceGetDefault   TraceKind = "get-default"
	TraceSet          TraceKind = "set"
	TraceLoadStart    TraceKind = "load-start"
	TraceLoadFinish   TraceKind = "load-finish"
	TraceLoadDiscard  TraceKind = "load-discard"
	TraceEvict        TraceKind = "evict"
	TraceEvaluate     TraceKind = "evaluate"
	TraceActivityFail TraceKind = "activity-error"
)

// Environment variables consulted when no Logger is configured explicitly.
const (
	EnvDebug       = "GSTATE_DEBUG"
	EnvEnvironment = "GSTATE_ENV"
)

// TraceEvent is one entry of the debug trace. State holds the full state
// after the operation.
type TraceEvent struct {
	Kind        TraceKind
	Path        string
	OldValue    any
	NewValue    any
	State       any
	OperationID string
	Err         error
}

// Logger receives debug trace events. It is purely observational.
type Logger interface {
	LogEvent(TraceEvent)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(TraceEvent)

// LogEvent implements Logger.
func (f LoggerFunc) LogEvent(event TraceEvent) {
	if f != nil {
		f(event)
	}
}

type noopLogger struct{}

func (noopLogger) LogEvent(TraceEvent) {}

// WithLogger attaches a trace logger to the container. A nil logger disables
// tracing even when the debug environment variable is set.
func WithLogger(logger Logger) Option {
	return func(cfg *config) {
		if logger == nil {
			cfg.logger = noopLogger{}
			return
		}
		cfg.logger = logger
	}
}

// NewSlogLogger renders trace events through logger at debug level.
func NewSlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		return noopLogger{}
	}
	return slogLogger{logger: logger}
}

type slogLogger struct {
	logger *slog.Logger
}

func (l slogLogger) LogEvent(event TraceEvent) {
	attrs := []slog.Attr{
		slog.String("path", displayPath(event.Path)),
	}
	if event.OperationID != "" {
		attrs = append(attrs, slog.String("operation_id", event.OperationID))
	}
	attrs = append(attrs,
		slog.Any("old", event.OldValue),
		slog.Any("new", event.NewValue),
		slog.Any("state", event.State),
	)
	level := slog.LevelDebug
	if event.Err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", event.Err.Error()))
	}
	l.logger.LogAttrs(context.Background(), level, "gstate "+string(event.Kind), attrs...)
}

func defaultLogger() Logger {
	if !debugEnabled() {
		return noopLogger{}
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewSlogLogger(slog.New(handler))
}

func debugEnabled() bool {
	if strings.EqualFold(strings.TrimSpace(os.Getenv(EnvEnvironment)), "production") {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvDebug))) {
	case "", "0", "false", "no", "off":
		return false
	default:
		return true
	}
}

func displayPath(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}
