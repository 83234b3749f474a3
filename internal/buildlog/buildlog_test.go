package buildlog

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"git.home.luguber.info/inful/coursebuilder/internal/metrics"
)

func TestSinkPrefixesLevels(t *testing.T) {
	s := NewSink()
	log := s.Logger(nil)
	log.Debug("debugging")
	log.Info("Cloning")
	log.Warn("Config warning")
	log.Error("Build failed", "error", errors.New("exit 1"))

	assert.Equal(t, "debugging\nCloning\nWARNING: Config warning\nERROR: Build failed error=exit 1\n", s.String())
}

func TestSinkWithAttrsAndTee(t *testing.T) {
	var tee bytes.Buffer
	s := NewSink()
	log := s.Logger(slog.New(slog.NewTextHandler(&tee, &slog.HandlerOptions{Level: slog.LevelWarn})))
	log.With("course", "c1").Info("hello")
	log.Warn("careful")

	assert.Equal(t, "hello course=c1\nWARNING: careful\n", s.String())
	assert.NotContains(t, tee.String(), "hello")
	assert.Contains(t, tee.String(), "msg=careful")
}

type stageRecorder struct {
	metrics.NoopRecorder
	stages map[string]time.Duration
}

func (r *stageRecorder) ObserveStageDuration(stage string, d time.Duration) { r.stages[stage] = d }

func TestPerfCheckpoints(t *testing.T) {
	rec := &stageRecorder{stages: map[string]time.Duration{}}
	p := NewPerf(rec)
	clock := p.start
	p.now = func() time.Time { return clock }

	clock = clock.Add(1500 * time.Millisecond)
	p.Checkpoint("Git clone/checkout")
	clock = clock.Add(250 * time.Millisecond)
	p.Checkpoint("Course build script")

	assert.Equal(t, "Git clone/checkout: 1.500\nCourse build script: 0.250", p.Formatted())
	assert.Equal(t, 1750*time.Millisecond, p.Total())
	assert.Equal(t, 1500*time.Millisecond, rec.stages["Git clone/checkout"])
}
