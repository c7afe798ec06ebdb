// Package observability provides structured logging and metrics collection.
//
// Logger wraps log/slog with pipeline-specific context fields.
// Metrics collects run counts, per-step latencies, and generation costs.
package observability

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog with a persistent component name.
type Logger struct {
	inner     *slog.Logger
	component string
}

// NewLogger creates a structured JSON logger for a component.
// Output defaults to os.Stderr if w is nil.
func NewLogger(component string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	return &Logger{
		inner:     slog.New(handler),
		component: component,
	}
}

// NewLoggerWithHandler creates a logger with a custom slog handler.
func NewLoggerWithHandler(component string, h slog.Handler) *Logger {
	return &Logger{
		inner:     slog.New(h),
		component: component,
	}
}

// With returns a new Logger with an additional persistent field.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{
		inner:     l.inner.With(slog.Any(key, value)),
		component: l.component,
	}
}

// Named returns a copy of the logger scoped to a different component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{inner: l.inner, component: component}
}

// attrs prepends the component name to the arguments.
func (l *Logger) attrs(args []any) []any {
	return append([]any{slog.String("component", l.component)}, args...)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(msg string, args ...any) {
	l.inner.Debug(msg, l.attrs(args)...)
}

// Info logs at INFO level.
func (l *Logger) Info(msg string, args ...any) {
	l.inner.Info(msg, l.attrs(args)...)
}

// Warn logs at WARN level.
func (l *Logger) Warn(msg string, args ...any) {
	l.inner.Warn(msg, l.attrs(args)...)
}

// Error logs at ERROR level.
func (l *Logger) Error(msg string, args ...any) {
	l.inner.Error(msg, l.attrs(args)...)
}

// Step logs a pipeline step event with its position in the step order.
func (l *Logger) Step(index, total int, step, msg string, args ...any) {
	allArgs := append([]any{
		slog.String("component", l.component),
		slog.String("step", step),
		slog.Int("step_index", index),
		slog.Int("total_steps", total),
	}, args...)
	l.inner.Info(msg, allArgs...)
}

// Component returns the component name associated with this logger.
func (l *Logger) Component() string {
	return l.component
}
