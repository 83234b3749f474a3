// Package events publishes course update outcomes to a NATS subject so other
// services can react to finished builds.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/coursebuilder/internal/config"
	"git.home.luguber.info/inful/coursebuilder/internal/course"
	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
)

// DefaultSubject prefixes every update event subject.
const DefaultSubject = "coursebuilder.updates"

// UpdateEvent is published once an update reaches a terminal status.
type UpdateEvent struct {
	Course     string        `json:"course"`
	UpdateID   int64         `json:"update_id"`
	Status     course.Status `json:"status"`
	CommitHash string        `json:"commit_hash,omitempty"`
	RequestIP  string        `json:"request_ip"`
	Timestamp  time.Time     `json:"timestamp"`
}

// NewUpdateEvent snapshots u.
func NewUpdateEvent(u *course.Update) UpdateEvent {
	ev := UpdateEvent{
		Course:    u.CourseKey,
		UpdateID:  u.ID,
		Status:    u.Status,
		RequestIP: u.RequestIP,
		Timestamp: time.Now().UTC(),
	}
	if u.CommitHash != nil {
		ev.CommitHash = *u.CommitHash
	}
	if u.UpdatedTime != nil {
		ev.Timestamp = *u.UpdatedTime
	}
	return ev
}

// Publisher receives update outcomes. Publishing is best effort.
type Publisher interface {
	UpdateFinished(ctx context.Context, ev UpdateEvent)
	Close() error
}

// Noop discards events.
type Noop struct{}

func (Noop) UpdateFinished(context.Context, UpdateEvent) {}
func (Noop) Close() error                                { return nil }

// conn is the subset of *nats.Conn used by NATSPublisher.
type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSPublisher publishes events on "<subject>.<course key>".
type NATSPublisher struct {
	conn    conn
	subject string
	timeout time.Duration
	logger  *slog.Logger
}

// New connects to the configured NATS server. An empty URL returns Noop.
func New(cfg config.EventsConfig, logger *slog.Logger) (Publisher, error) {
	if cfg.NATSURL == "" {
		return Noop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("coursebuilder"),
		nats.Timeout(cfg.Timeout.Duration()),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	logger.Info("NATS event publisher initialized", logfields.URL(cfg.NATSURL), slog.String("subject", cfg.Subject))
	return newNATSPublisher(nc, cfg, logger), nil
}

func newNATSPublisher(c conn, cfg config.EventsConfig, logger *slog.Logger) *NATSPublisher {
	subject := cfg.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NATSPublisher{conn: c, subject: subject, timeout: timeout, logger: logger}
}

// Subject returns the subject events of key are published on.
func (p *NATSPublisher) Subject(key string) string {
	return p.subject + "." + key
}

// UpdateFinished publishes ev. Failures are logged only.
func (p *NATSPublisher) UpdateFinished(ctx context.Context, ev UpdateEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("Failed to marshal update event", logfields.Course(ev.Course), logfields.Error(err))
		return
	}
	if err := p.conn.Publish(p.Subject(ev.Course), data); err != nil {
		p.logger.Warn("Failed to publish update event", logfields.Course(ev.Course), logfields.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.conn.FlushWithContext(ctx); err != nil {
		p.logger.Warn("Failed to flush update event", logfields.Course(ev.Course), logfields.Error(err))
		return
	}
	p.logger.Debug("Published update event", logfields.Course(ev.Course), logfields.UpdateID(ev.UpdateID), logfields.Status(string(ev.Status)))
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
