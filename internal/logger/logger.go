package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
)

type ctxKey struct{}

// Logger writes structured JSON log lines tagged with service and hostname.
type Logger struct {
	service  string
	hostname string
	handler  *slog.Logger
}

// New creates a logger writing to stdout at debug level.
func New(service string) *Logger {
	return NewWithWriter(service, os.Stdout, "debug")
}

// NewWithWriter creates a logger writing to w at the given level.
func NewWithWriter(service string, w io.Writer, level string) *Logger {
	hostname, _ := os.Hostname()

	handler := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))

	return &Logger{
		service:  service,
		hostname: hostname,
		handler:  handler,
	}
}

// Discard returns a logger that drops everything. Used in tests.
func Discard() *Logger {
	return NewWithWriter("test", io.Discard, "error")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// GenerateRequestID returns a fresh request identifier.
func GenerateRequestID() string {
	return uuid.NewString()
}

// WithRequestID stores a request id in ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestID returns the request id carried by ctx, or "".
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok {
		return id
	}
	return ""
}

func (l *Logger) Info(action, message, requestID string, fields map[string]interface{}) {
	l.log(slog.LevelInfo, action, message, requestID, nil, fields)
}

func (l *Logger) Debug(action, message, requestID string, fields map[string]interface{}) {
	l.log(slog.LevelDebug, action, message, requestID, nil, fields)
}

func (l *Logger) Warn(action, message, requestID string, fields map[string]interface{}) {
	l.log(slog.LevelWarn, action, message, requestID, nil, fields)
}

func (l *Logger) Error(action, message, requestID string, err error, fields map[string]interface{}) {
	l.log(slog.LevelError, action, message, requestID, err, fields)
}

func (l *Logger) log(level slog.Level, action, message, requestID string, err error, fields map[string]interface{}) {
	if !l.handler.Enabled(context.Background(), level) {
		return
	}

	attrs := []slog.Attr{
		slog.String("service", l.service),
		slog.String("hostname", l.hostname),
		slog.String("action", action),
		slog.String("request_id", requestID),
	}
	if len(fields) > 0 {
		details := make([]any, 0, len(fields)*2)
		for k, v := range fields {
			details = append(details, k, v)
		}
		attrs = append(attrs, slog.Group("details", details...))
	}
	if err != nil {
		attrs = append(attrs, slog.Group("error",
			slog.String("msg", err.Error()),
			slog.String("stack", string(debug.Stack())),
		))
	}

	l.handler.LogAttrs(context.Background(), level, message, attrs...)
}
