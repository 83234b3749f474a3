package buildlog

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/coursebuilder/internal/metrics"
)

type checkpoint struct {
	name string
	took time.Duration
}

// Perf records how long each named step of an update took.
type Perf struct {
	mu       sync.Mutex
	recorder metrics.Recorder
	now      func() time.Time
	start    time.Time
	last     time.Time
	points   []checkpoint
}

// NewPerf starts timing. Stage durations are also reported to recorder.
func NewPerf(recorder metrics.Recorder) *Perf {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	p := &Perf{recorder: recorder, now: time.Now}
	p.start = p.now()
	p.last = p.start
	return p
}

// Checkpoint closes the current step under name and starts the next.
func (p *Perf) Checkpoint(name string) {
	p.mu.Lock()
	now := p.now()
	took := now.Sub(p.last)
	p.last = now
	p.points = append(p.points, checkpoint{name: name, took: took})
	p.mu.Unlock()

	p.recorder.ObserveStageDuration(name, took)
}

// Total is the time since NewPerf.
func (p *Perf) Total() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now().Sub(p.start)
}

// Formatted renders one "name: seconds" line per checkpoint.
func (p *Perf) Formatted() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	lines := make([]string, 0, len(p.points))
	for _, c := range p.points {
		lines = append(lines, fmt.Sprintf("%s: %.3f", c.name, c.took.Seconds()))
	}
	return strings.Join(lines, "\n")
}
