// Package jobs runs course updates on a pool of workers. Updates of one
// course never overlap: a job whose course is busy is requeued with backoff.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/coursebuilder/internal/course"
	ferrors "git.home.luguber.info/inful/coursebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
	"git.home.luguber.info/inful/coursebuilder/internal/metrics"
	"git.home.luguber.info/inful/coursebuilder/internal/observability"
	"git.home.luguber.info/inful/coursebuilder/internal/pipeline"
	"git.home.luguber.info/inful/coursebuilder/internal/retry"
)

// Runner executes the update pipeline of one course. LockCourse returns an
// error wrapping pipeline.ErrCourseBusy while another process runs the course.
type Runner interface {
	LockCourse(key string) (release func(), err error)
	Run(ctx context.Context, key string, opts pipeline.Options) (course.Status, error)
}

// Job is one request to process the pending updates of a course.
type Job struct {
	ID        string
	Name      string
	Key       string
	Options   pipeline.Options
	Requeues  int
	CreatedAt time.Time
}

// Name is the lock name of the update job of key.
func Name(key string) string { return "build-" + key }

// Config sizes the queue.
type Config struct {
	Workers   int
	QueueSize int
	Policy    retry.Policy
}

// Queue dispatches jobs to workers.
type Queue struct {
	jobs     chan *Job
	workers  int
	runner   Runner
	locks    *KeyLocks
	policy   retry.Policy
	recorder metrics.Recorder
	logger   *slog.Logger

	group    workerGroup
	stopChan chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
}

// NewQueue returns a stopped queue; call Start to run workers.
func NewQueue(cfg Config, runner Runner, recorder metrics.Recorder, logger *slog.Logger) *Queue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		jobs:     make(chan *Job, cfg.QueueSize),
		workers:  cfg.Workers,
		runner:   runner,
		locks:    NewKeyLocks(),
		policy:   cfg.Policy,
		recorder: recorder,
		logger:   logger,
		stopChan: make(chan struct{}),
		timers:   map[*time.Timer]struct{}{},
	}
}

// Locks exposes the per-course locks so other course operations can honor them.
func (q *Queue) Locks() *KeyLocks { return q.locks }

// Start launches the workers.
func (q *Queue) Start(ctx context.Context) {
	q.logger.Info("Starting job queue", slog.Int("workers", q.workers), slog.Int("max_size", cap(q.jobs)))
	for i := range q.workers {
		id := fmt.Sprintf("worker-%d", i)
		q.group.Go(func() { q.worker(ctx, id) })
	}
}

// Stop cancels delayed requeues and waits for running jobs to finish, bounded by ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.logger.Info("Stopping job queue")
	q.stopOnce.Do(func() { close(q.stopChan) })

	q.mu.Lock()
	for t := range q.timers {
		t.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	q.mu.Unlock()

	if err := q.group.StopAndWait(ctx); err != nil {
		return err
	}
	q.logger.Info("Job queue stopped")
	return nil
}

// Enqueue submits an update job for key and returns its id.
func (q *Queue) Enqueue(key string, opts pipeline.Options) (string, error) {
	job := &Job{
		ID:        uuid.NewString(),
		Name:      Name(key),
		Key:       key,
		Options:   opts,
		CreatedAt: time.Now(),
	}
	if err := q.push(job); err != nil {
		return "", err
	}
	q.logger.Info("Job enqueued", logfields.JobID(job.ID), logfields.JobName(job.Name))
	return job.ID, nil
}

// Length returns the number of jobs waiting for a worker.
func (q *Queue) Length() int { return len(q.jobs) }

func (q *Queue) push(job *Job) error {
	select {
	case <-q.stopChan:
		return ferrors.NewError(ferrors.CategoryInternal, "job queue is stopped").Build()
	default:
	}
	select {
	case q.jobs <- job:
		q.recorder.SetQueueDepth(len(q.jobs))
		return nil
	default:
		return ferrors.NewError(ferrors.CategoryInternal, "job queue is full").
			WithContext("job", job.Name).Retryable().Build()
	}
}

func (q *Queue) worker(ctx context.Context, id string) {
	q.logger.Debug("Job worker started", logfields.Worker(id))
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopChan:
			return
		case job := <-q.jobs:
			q.recorder.SetQueueDepth(len(q.jobs))
			q.process(ctx, job, id)
		}
	}
}

func (q *Queue) process(ctx context.Context, job *Job, workerID string) {
	if !q.locks.TryLock(job.Name) {
		q.requeue(job)
		return
	}
	defer q.locks.Unlock(job.Name)

	ctx = observability.WithJobID(observability.WithCourse(ctx, job.Key), job.ID)
	log := q.logger.With(logfields.Worker(workerID))

	release, err := q.runner.LockCourse(job.Key)
	if errors.Is(err, pipeline.ErrCourseBusy) {
		q.requeue(job)
		return
	}
	if err != nil {
		log.ErrorContext(ctx, "Failed to lock course", logfields.JobName(job.Name), logfields.Error(err))
		return
	}
	defer release()
	log.InfoContext(ctx, "Job started", logfields.JobName(job.Name))

	start := time.Now()
	status, err := q.runner.Run(ctx, job.Key, job.Options)
	took := logfields.DurationMS(float64(time.Since(start).Milliseconds()))
	if err != nil {
		log.ErrorContext(ctx, "Job failed", logfields.JobName(job.Name), took, logfields.Error(err))
		return
	}
	log.InfoContext(ctx, "Job completed", logfields.JobName(job.Name), logfields.Status(string(status)), took)
}

// requeue schedules job again after the backoff delay, or drops it once the
// requeue budget is spent.
func (q *Queue) requeue(job *Job) {
	if q.policy.Exhausted(job.Requeues) {
		q.recorder.IncRequeueExhausted()
		q.logger.Error("Job dropped: course stayed locked",
			logfields.JobID(job.ID), logfields.JobName(job.Name), logfields.Attempt(job.Requeues))
		return
	}
	job.Requeues++
	delay := q.policy.Delay(job.Requeues)
	q.recorder.IncRequeue()
	q.logger.Info("Course busy, requeueing job",
		logfields.JobID(job.ID), logfields.JobName(job.Name), logfields.Attempt(job.Requeues), slog.Duration("delay", delay))

	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case <-q.stopChan:
		return
	default:
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()
		if err := q.push(job); err != nil {
			q.logger.Error("Failed to requeue job", logfields.JobID(job.ID), logfields.JobName(job.Name), logfields.Error(err))
		}
	})
	q.timers[t] = struct{}{}
}
