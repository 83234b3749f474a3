// Package scheduler periodically requests updates of courses that are
// configured to update automatically.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/coursebuilder/internal/course"
	"git.home.luguber.info/inful/coursebuilder/internal/jobs"
	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
	"git.home.luguber.info/inful/coursebuilder/internal/pipeline"
)

// RequestIP is recorded on updates created by the scheduler.
const RequestIP = "scheduler"

// Scheduler wraps a gocron scheduler.
type Scheduler struct {
	scheduler gocron.Scheduler
	records   course.Store
	trigger   *jobs.Trigger
	logger    *slog.Logger
}

// New creates a stopped scheduler.
func New(records course.Store, trigger *jobs.Trigger, logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{scheduler: s, records: records, trigger: trigger, logger: logger}, nil
}

func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler")
	s.scheduler.Start()
}

func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

// ScheduleEvery runs fn every interval and returns the job id.
func (s *Scheduler) ScheduleEvery(name string, interval time.Duration, fn func()) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("interval must be > 0, got %s", interval)
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create periodic job %s: %w", name, err)
	}
	return job.ID().String(), nil
}

// SchedulePeriodicUpdates requests an update of every automatically
// updated course each interval.
func (s *Scheduler) SchedulePeriodicUpdates(ctx context.Context, interval time.Duration) (string, error) {
	return s.ScheduleEvery("periodic-updates", interval, func() { s.RequestUpdates(ctx) })
}

// RequestUpdates creates a PENDING update and enqueues a job for each course
// with automatic updates enabled. It returns how many were requested.
func (s *Scheduler) RequestUpdates(ctx context.Context) int {
	courses, err := s.records.ListCourses(ctx)
	if err != nil {
		s.logger.Error("Failed to list courses for scheduled update", logfields.Error(err))
		return 0
	}
	n := 0
	for _, c := range courses {
		if !c.UpdateAutomatically {
			continue
		}
		_, jobID, err := s.trigger.Request(ctx, c.Key, RequestIP, pipeline.Options{})
		if err != nil {
			s.logger.Error("Failed to request scheduled update", logfields.Course(c.Key), logfields.Error(err))
			continue
		}
		s.logger.Info("Scheduled update requested", logfields.Course(c.Key), logfields.JobID(jobID))
		n++
	}
	return n
}
