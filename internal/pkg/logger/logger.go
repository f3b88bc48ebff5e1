// Package logger is the structured logger shared by the API server, the
// render orchestrator and the terminal client.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"edcomposer/internal/pkg/errors"
)

type contextKey string

const (
	// RequestIDKey carries the HTTP request id.
	RequestIDKey contextKey = "request_id"
	// RenderIDKey carries the id of a render lifecycle.
	RenderIDKey contextKey = "render_id"
	// JobIDKey carries the backend job handle.
	JobIDKey contextKey = "job_id"
)

// contextKeys lists the values FromContext copies onto a logger, in output
// order.
var contextKeys = []contextKey{RequestIDKey, RenderIDKey, JobIDKey}

// Logger wraps slog.Logger with render-service helpers.
type Logger struct {
	*slog.Logger
}

type Config struct {
	// Level is debug, info, warn or error. Unknown values mean info.
	Level string
	// Format is json or text.
	Format string
	// Output defaults to os.Stdout.
	Output      io.Writer
	AddSource   bool
	ServiceName string
}

// DefaultConfig reads LOG_LEVEL, LOG_FORMAT, LOG_SOURCE and SERVICE_NAME.
func DefaultConfig() Config {
	return Config{
		Level:       envOr("LOG_LEVEL", "info"),
		Format:      envOr("LOG_FORMAT", "json"),
		Output:      os.Stdout,
		AddSource:   envOr("LOG_SOURCE", "false") == "true",
		ServiceName: envOr("SERVICE_NAME", "edcomposer"),
	}
}

func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(cfg.Level),
		AddSource:   cfg.AddSource,
		ReplaceAttr: utcTimestamps,
	}

	var h slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	}
	if cfg.ServiceName != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("service", cfg.ServiceName)})
	}
	return &Logger{Logger: slog.New(h)}
}

// NewDefault builds a logger from DefaultConfig.
func NewDefault() *Logger {
	return New(DefaultConfig())
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.with(string(RequestIDKey), requestID)
}

func (l *Logger) WithRenderID(renderID string) *Logger {
	return l.with(string(RenderIDKey), renderID)
}

func (l *Logger) WithJobID(jobID string) *Logger {
	return l.with(string(JobIDKey), jobID)
}

func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithError attaches err and, for coded errors, its code.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	var coded *errors.Error
	if errors.As(err, &coded) {
		return l.with("error", err.Error(), "code", string(coded.Code))
	}
	return l.with("error", err.Error())
}

func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.with(args...)
}

// FromContext returns l with the request, render and job ids found in ctx.
func (l *Logger) FromContext(ctx context.Context) *Logger {
	var args []any
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			args = append(args, string(key), v)
		}
	}
	if len(args) == 0 {
		return l
	}
	return l.with(args...)
}

// LogError logs err at error level with the caller's file and line.
func (l *Logger) LogError(ctx context.Context, msg string, err error, args ...any) {
	if err == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		args = append(args, slog.Group("source", "file", file, "line", line))
	}
	l.FromContext(ctx).WithError(err).Error(msg, args...)
}

// LogFatal logs at error level and exits with status 1.
func (l *Logger) LogFatal(msg string, err error, args ...any) {
	l.WithError(err).Error(msg, args...)
	os.Exit(1)
}

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func ContextWithRenderID(ctx context.Context, renderID string) context.Context {
	return context.WithValue(ctx, RenderIDKey, renderID)
}

func ContextWithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// ParseLevel maps a level name to a slog level; "warning" is accepted and
// anything unknown is info.
func ParseLevel(level string) slog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func utcTimestamps(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
	}
	return a
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
