// Package observability carries per-job logging context through
// context.Context and injects it into every slog record.
package observability

import (
	"context"
	"io"
	"log/slog"

	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
)

// LogContext holds structured logging context information.
type LogContext struct {
	Course   string
	JobID    string
	UpdateID int64
	Stage    string
}

type logContextKeyType string

const logContextKey logContextKeyType = "log-context"

// WithCourse adds a course key to the context.
func WithCourse(ctx context.Context, key string) context.Context {
	lc := extractLogContext(ctx)
	lc.Course = key
	return context.WithValue(ctx, logContextKey, lc)
}

// WithJobID adds a job ID to the context.
func WithJobID(ctx context.Context, id string) context.Context {
	lc := extractLogContext(ctx)
	lc.JobID = id
	return context.WithValue(ctx, logContextKey, lc)
}

// WithUpdateID adds the id of the update being processed.
func WithUpdateID(ctx context.Context, id int64) context.Context {
	lc := extractLogContext(ctx)
	lc.UpdateID = id
	return context.WithValue(ctx, logContextKey, lc)
}

// WithStage adds a stage name to the context.
func WithStage(ctx context.Context, stage string) context.Context {
	lc := extractLogContext(ctx)
	lc.Stage = stage
	return context.WithValue(ctx, logContextKey, lc)
}

func extractLogContext(ctx context.Context) LogContext {
	if ctx == nil {
		return LogContext{}
	}
	if lc, ok := ctx.Value(logContextKey).(LogContext); ok {
		return lc
	}
	return LogContext{}
}

func getLogAttrs(ctx context.Context) []slog.Attr {
	lc := extractLogContext(ctx)
	var attrs []slog.Attr
	if lc.Course != "" {
		attrs = append(attrs, logfields.Course(lc.Course))
	}
	if lc.JobID != "" {
		attrs = append(attrs, logfields.JobID(lc.JobID))
	}
	if lc.UpdateID != 0 {
		attrs = append(attrs, logfields.UpdateID(lc.UpdateID))
	}
	if lc.Stage != "" {
		attrs = append(attrs, logfields.Stage(lc.Stage))
	}
	return attrs
}

// GetContext returns the structured log context from the provided context.
func GetContext(ctx context.Context) LogContext {
	return extractLogContext(ctx)
}

// ContextHandler wraps a handler and adds the LogContext of each record's
// context as attributes.
type ContextHandler struct {
	inner slog.Handler
}

// NewContextHandler wraps inner.
func NewContextHandler(inner slog.Handler) *ContextHandler {
	return &ContextHandler{inner: inner}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := getLogAttrs(ctx); len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{inner: h.inner.WithGroup(name)}
}

// NewLogger builds the process logger: JSON or text output at level, with
// LogContext injection.
func NewLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if format == "text" {
		inner = slog.NewTextHandler(w, opts)
	} else {
		inner = slog.NewJSONHandler(w, opts)
	}
	return slog.New(NewContextHandler(inner))
}
