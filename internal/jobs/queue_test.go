package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/coursebuilder/internal/config"
	"git.home.luguber.info/inful/coursebuilder/internal/course"
	"git.home.luguber.info/inful/coursebuilder/internal/metrics"
	"git.home.luguber.info/inful/coursebuilder/internal/pipeline"
	"git.home.luguber.info/inful/coursebuilder/internal/retry"
)

type blockingRunner struct {
	mu        sync.Mutex
	active    map[string]int
	overlap   bool
	runs      map[string]int
	release   chan struct{}
	started   chan string
	completed chan string
	// busy simulates another process holding the course lock.
	busy atomic.Bool
}

func (r *blockingRunner) LockCourse(key string) (func(), error) {
	if r.busy.Load() {
		return nil, fmt.Errorf("lock %s: %w", key, pipeline.ErrCourseBusy)
	}
	return func() {}, nil
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		active:    map[string]int{},
		runs:      map[string]int{},
		release:   make(chan struct{}),
		started:   make(chan string, 16),
		completed: make(chan string, 16),
	}
}

func (r *blockingRunner) Run(ctx context.Context, key string, _ pipeline.Options) (course.Status, error) {
	r.mu.Lock()
	r.active[key]++
	if r.active[key] > 1 {
		r.overlap = true
	}
	r.runs[key]++
	r.mu.Unlock()
	r.started <- key

	select {
	case <-r.release:
	case <-ctx.Done():
	}

	r.mu.Lock()
	r.active[key]--
	r.mu.Unlock()
	r.completed <- key
	return course.StatusSuccess, nil
}

type countingRecorder struct {
	metrics.NoopRecorder
	requeues  atomic.Int32
	exhausted atomic.Int32
}

func (r *countingRecorder) IncRequeue()          { r.requeues.Add(1) }
func (r *countingRecorder) IncRequeueExhausted() { r.exhausted.Add(1) }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fastPolicy(maxRequeues int) retry.Policy {
	return retry.NewPolicy(config.RetryBackoffFixed, 10*time.Millisecond, 10*time.Millisecond, maxRequeues)
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
		return ""
	}
}

func stop(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Stop(ctx))
}

func TestSameCourseJobsNeverOverlap(t *testing.T) {
	runner := newBlockingRunner()
	rec := &countingRecorder{}
	q := NewQueue(Config{Workers: 3, Policy: fastPolicy(0)}, runner, rec, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer stop(t, q)

	_, err := q.Enqueue("c1", pipeline.Options{})
	require.NoError(t, err)
	assert.Equal(t, "c1", waitFor(t, runner.started))

	_, err = q.Enqueue("c1", pipeline.Options{})
	require.NoError(t, err)

	// The second job keeps getting requeued while the first one runs.
	require.Eventually(t, func() bool { return rec.requeues.Load() >= 2 }, 5*time.Second, 5*time.Millisecond)

	runner.release <- struct{}{}
	waitFor(t, runner.completed)
	assert.Equal(t, "c1", waitFor(t, runner.started))
	runner.release <- struct{}{}
	waitFor(t, runner.completed)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.False(t, runner.overlap)
	assert.Equal(t, 2, runner.runs["c1"])
	assert.Zero(t, rec.exhausted.Load())
}

func TestDifferentCoursesRunInParallel(t *testing.T) {
	runner := newBlockingRunner()
	q := NewQueue(Config{Workers: 2, Policy: fastPolicy(0)}, runner, nil, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer stop(t, q)

	_, err := q.Enqueue("c1", pipeline.Options{})
	require.NoError(t, err)
	_, err = q.Enqueue("c2", pipeline.Options{})
	require.NoError(t, err)

	got := map[string]bool{waitFor(t, runner.started): true, waitFor(t, runner.started): true}
	assert.Equal(t, map[string]bool{"c1": true, "c2": true}, got)
	close(runner.release)
	waitFor(t, runner.completed)
	waitFor(t, runner.completed)
}

func TestRequeueBudget(t *testing.T) {
	runner := newBlockingRunner()
	rec := &countingRecorder{}
	q := NewQueue(Config{Workers: 2, Policy: fastPolicy(2)}, runner, rec, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer stop(t, q)

	_, err := q.Enqueue("c1", pipeline.Options{})
	require.NoError(t, err)
	waitFor(t, runner.started)

	_, err = q.Enqueue("c1", pipeline.Options{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.exhausted.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), rec.requeues.Load())

	close(runner.release)
	waitFor(t, runner.completed)
	runner.mu.Lock()
	assert.Equal(t, 1, runner.runs["c1"])
	runner.mu.Unlock()
}

func TestCourseLockedElsewhereIsRequeued(t *testing.T) {
	runner := newBlockingRunner()
	runner.busy.Store(true)
	rec := &countingRecorder{}
	q := NewQueue(Config{Workers: 1, Policy: fastPolicy(0)}, runner, rec, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer stop(t, q)

	_, err := q.Enqueue("c1", pipeline.Options{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.requeues.Load() >= 2 }, 5*time.Second, 5*time.Millisecond)
	runner.mu.Lock()
	assert.Zero(t, runner.runs["c1"])
	runner.mu.Unlock()

	runner.busy.Store(false)
	assert.Equal(t, "c1", waitFor(t, runner.started))
	close(runner.release)
	waitFor(t, runner.completed)
}

func TestEnqueueErrors(t *testing.T) {
	q := NewQueue(Config{Workers: 1, QueueSize: 1}, newBlockingRunner(), nil, quietLogger())
	id, err := q.Enqueue("c1", pipeline.Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, q.Length())

	_, err = q.Enqueue("c2", pipeline.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job queue is full")

	stop(t, q)
	_, err = q.Enqueue("c3", pipeline.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped")
}

func TestKeyLocks(t *testing.T) {
	l := NewKeyLocks()
	assert.True(t, l.TryLock(Name("c1")))
	assert.False(t, l.TryLock(Name("c1")))
	assert.True(t, l.TryLock(Name("c2")))
	assert.True(t, l.Held("build-c1"))
	l.Unlock(Name("c1"))
	assert.False(t, l.Held("build-c1"))
	assert.True(t, l.TryLock(Name("c1")))
}
