// Package buildlog captures the human-readable log of one course update and
// times its steps.
package buildlog

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Sink collects build-log lines in memory. The text is what gets stored on the
// update and mailed to course staff, so records are rendered as plain lines
// rather than key=value pairs.
type Sink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewSink returns an empty sink.
func NewSink() *Sink { return &Sink{} }

// Logger returns a logger writing into the sink. Records are forwarded to
// tee as well when it is non-nil.
func (s *Sink) Logger(tee *slog.Logger) *slog.Logger {
	h := &lineHandler{sink: s}
	if tee != nil {
		h.tee = tee.Handler()
	}
	return slog.New(h)
}

// String returns everything written so far.
func (s *Sink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *Sink) write(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.WriteString(line)
	s.buf.WriteByte('\n')
}

type lineHandler struct {
	sink  *Sink
	tee   slog.Handler
	attrs string
}

func (h *lineHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *lineHandler) Handle(ctx context.Context, r slog.Record) error {
	var b strings.Builder
	switch {
	case r.Level >= slog.LevelError:
		b.WriteString("ERROR: ")
	case r.Level >= slog.LevelWarn:
		b.WriteString("WARNING: ")
	}
	b.WriteString(r.Message)
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, a)
		return true
	})
	h.sink.write(b.String())

	if h.tee != nil && h.tee.Enabled(ctx, r.Level) {
		return h.tee.Handle(ctx, r)
	}
	return nil
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		writeAttr(&b, a)
	}
	next := &lineHandler{sink: h.sink, attrs: b.String()}
	if h.tee != nil {
		next.tee = h.tee.WithAttrs(attrs)
	}
	return next
}

// Groups are not rendered in the plain text log.
func (h *lineHandler) WithGroup(name string) slog.Handler {
	next := &lineHandler{sink: h.sink, attrs: h.attrs}
	if h.tee != nil {
		next.tee = h.tee.WithGroup(name)
	}
	return next
}

func writeAttr(b *strings.Builder, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	fmt.Fprintf(b, " %s=%v", a.Key, a.Value.Resolve().Any())
}
