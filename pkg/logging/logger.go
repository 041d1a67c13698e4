package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	requestIDKey contextKey = "requestID"
	passIDKey    contextKey = "passID"
)

// LevelTrace is below debug and only used while chasing routing problems.
const LevelTrace = slog.LevelDebug - 4

var logger *slog.Logger

func init() {
	// Compact console output until Configure is called.
	logger = slog.New(NewCompactHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Configure replaces the package logger. Format is "compact" or "json".
func Configure(w io.Writer, format string, level slog.Level) error {
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(format) {
	case "", "compact", "text":
		logger = slog.New(NewCompactHandler(w, opts))
	case "json":
		logger = slog.New(slog.NewJSONHandler(w, opts))
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// LevelFromVerbosity maps the -v count to a slog level.
func LevelFromVerbosity(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelInfo
	case v == 1:
		return slog.LevelDebug
	default:
		return LevelTrace
	}
}

// New returns a logger tagged with the component name. The logger follows
// later calls to Configure and adds the request and pass ids found in the
// context of *Context calls.
func New(component string) *slog.Logger {
	return slog.New(&componentHandler{attrs: []slog.Attr{slog.String("component", component)}})
}

// componentHandler resolves the package handler on every call.
type componentHandler struct {
	attrs []slog.Attr
	group string
}

func (h *componentHandler) base() slog.Handler {
	b := logger.Handler().WithAttrs(h.attrs)
	if h.group != "" {
		b = b.WithGroup(h.group)
	}
	return b
}

func (h *componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return logger.Handler().Enabled(ctx, level)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		if id := GetRequestID(ctx); id != "" {
			r.AddAttrs(slog.String("requestID", id))
		}
		if id := GetPassID(ctx); id != "" {
			r.AddAttrs(slog.String("passID", id))
		}
	}
	return h.base().Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &componentHandler{attrs: append(slices.Clone(h.attrs), attrs...), group: h.group}
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	return &componentHandler{attrs: h.attrs, group: name}
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithPassID tags the context with the id of the execution pass.
func WithPassID(ctx context.Context, passID string) context.Context {
	return context.WithValue(ctx, passIDKey, passID)
}

// GetPassID retrieves the pass ID from context
func GetPassID(ctx context.Context) string {
	if passID, ok := ctx.Value(passIDKey).(string); ok {
		return passID
	}
	return ""
}

// contextArgs prepends the ids carried by ctx to the log attributes.
func contextArgs(ctx context.Context, args []any) []any {
	if passID := GetPassID(ctx); passID != "" {
		args = append([]any{"passID", passID}, args...)
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		args = append([]any{"requestID", requestID}, args...)
	}
	return args
}

// Trace logs at TRACE level (very verbose, debug-time only)
func Trace(msg string, args ...any) {
	logger.Log(context.Background(), LevelTrace, msg, args...)
}

// TraceContext logs at TRACE level with context
func TraceContext(ctx context.Context, msg string, args ...any) {
	logger.Log(ctx, LevelTrace, msg, contextArgs(ctx, args)...)
}

// Debug logs at DEBUG level (internal component behavior)
func Debug(msg string, args ...any) {
	logger.Debug(msg, args...)
}

// DebugContext logs at DEBUG level with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	logger.DebugContext(ctx, msg, contextArgs(ctx, args)...)
}

// Info logs at INFO level (user-facing operations)
func Info(msg string, args ...any) {
	logger.Info(msg, args...)
}

// InfoContext logs at INFO level with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	logger.InfoContext(ctx, msg, contextArgs(ctx, args)...)
}

// Warn logs at WARN level (should be monitored)
func Warn(msg string, args ...any) {
	logger.Warn(msg, args...)
}

// WarnContext logs at WARN level with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	logger.WarnContext(ctx, msg, contextArgs(ctx, args)...)
}

// Error logs at ERROR level (logical bugs that shouldn't happen)
func Error(msg string, args ...any) {
	logger.Error(msg, args...)
}

// ErrorContext logs at ERROR level with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	logger.ErrorContext(ctx, msg, contextArgs(ctx, args)...)
}

// Fatal logs at ERROR level and exits
func Fatal(msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}
