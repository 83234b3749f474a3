package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/coursebuilder/internal/build"
	"git.home.luguber.info/inful/coursebuilder/internal/config"
	"git.home.luguber.info/inful/coursebuilder/internal/course"
	"git.home.luguber.info/inful/coursebuilder/internal/courseconfig"
	"git.home.luguber.info/inful/coursebuilder/internal/events"
	"git.home.luguber.info/inful/coursebuilder/internal/git"
	"git.home.luguber.info/inful/coursebuilder/internal/graders"
	"git.home.luguber.info/inful/coursebuilder/internal/jobs"
	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
	"git.home.luguber.info/inful/coursebuilder/internal/metrics"
	"git.home.luguber.info/inful/coursebuilder/internal/notify"
	"git.home.luguber.info/inful/coursebuilder/internal/pipeline"
	"git.home.luguber.info/inful/coursebuilder/internal/promote"
	"git.home.luguber.info/inful/coursebuilder/internal/records"
	"git.home.luguber.info/inful/coursebuilder/internal/retry"
	"git.home.luguber.info/inful/coursebuilder/internal/scheduler"
	"git.home.luguber.info/inful/coursebuilder/internal/server/httpserver"
	"git.home.luguber.info/inful/coursebuilder/internal/watch"
)

const shutdownTimeout = 30 * time.Second

// App holds the long-lived collaborators built from one configuration.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Records  *records.SQLiteStore
	Layout   courseconfig.Layout
	Cache    *courseconfig.Cache
	Registry *prom.Registry
	Recorder metrics.Recorder
	Events   events.Publisher
	Promoter *promote.Promoter
	Runner   *pipeline.Runner
}

// NewApp prepares the stage directories and opens the record store.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	layout, err := courseconfig.NewLayout(cfg.Paths)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{layout.BuildRoot, layout.StoreRoot, layout.PublishRoot, cfg.Paths.StaticDir, filepath.Dir(cfg.Paths.Database)} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	store, err := records.NewSQLiteStore(cfg.Paths.Database)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Records:  store,
		Layout:   layout,
		Cache:    courseconfig.NewCache(),
		Recorder: metrics.NoopRecorder{},
	}
	if cfg.Metrics.Enabled {
		app.Registry = prom.NewRegistry()
		app.Recorder = metrics.NewPrometheusRecorder(app.Registry)
	}

	notifier, err := notify.New(cfg.Frontend, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if app.Events, err = events.New(cfg.Events, logger); err != nil {
		_ = store.Close()
		return nil, err
	}

	staticRoot := ""
	if cfg.Paths.StaticDir != "" {
		if staticRoot, err = filepath.Abs(cfg.Paths.StaticDir); err != nil {
			_ = app.Close()
			return nil, err
		}
	}
	app.Promoter = &promote.Promoter{
		Layout:      layout,
		Graders:     graders.NewHTTP(cfg.Graders, cfg.Frontend.Timeout.Duration()),
		Cache:       app.Cache,
		LockTimeout: cfg.Build.FileLockTimeout.Duration(),
		StaticRoot:  staticRoot,
		Logger:      logger,
	}

	var executor build.Executor = build.DockerExecutor{}
	if cfg.Build.Executor == config.ExecutorNone {
		executor = build.NoopExecutor{}
	}
	app.Runner = &pipeline.Runner{
		Records: store,
		Layout:  layout,
		Syncer:  git.NewSynchronizer(cfg.Git),
		Builder: &build.Invoker{
			Executor:      executor,
			Defaults:      build.Defaults{Image: cfg.Build.DefaultImage, Command: cfg.Build.DefaultCommand},
			Settings:      cfg.Build.ExecutorSettings,
			StaticBaseURL: cfg.Static.URL,
			StaticURLPath: cfg.Static.URLPath,
		},
		Storer:      app.Promoter,
		Notifier:    notifier,
		Events:      app.Events,
		Cache:       app.Cache,
		Recorder:    app.Recorder,
		Logger:      logger,
		HistorySize: cfg.Build.HistorySize,
	}
	return app, nil
}

// Close releases the event publisher and the record store.
func (a *App) Close() error {
	var errs []error
	if a.Events != nil {
		errs = append(errs, a.Events.Close())
	}
	errs = append(errs, a.Records.Close())
	return errors.Join(errs...)
}

// Serve runs the job queue, the optional schedulers and the HTTP server until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config
	queue := jobs.NewQueue(jobs.Config{
		Workers:   cfg.Build.Workers,
		QueueSize: cfg.Build.QueueSize,
		Policy:    retry.FromConfig(cfg.Build),
	}, a.Runner, a.Recorder, a.Logger)
	queue.Start(ctx)
	trigger := &jobs.Trigger{Records: a.Records, Queue: queue}

	a.resumePending(ctx, queue)

	var sched *scheduler.Scheduler
	if interval := cfg.Build.RebuildSchedule.Duration(); interval > 0 {
		s, err := scheduler.New(a.Records, trigger, a.Logger)
		if err != nil {
			return err
		}
		if _, err := s.SchedulePeriodicUpdates(ctx, interval); err != nil {
			return err
		}
		s.Start()
		sched = s
	}

	var watcher *watch.Watcher
	if cfg.Build.WatchLocal {
		w, err := watch.New(a.Layout.LocalSourceRoot, cfg.Build.WatchDebounce.Duration(), a.Records, trigger, a.Logger)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		watcher = w
	}

	opts := httpserver.Options{
		Addr:       cfg.HTTP.Addr,
		AdminToken: cfg.HTTP.AdminToken,
		Records:    a.Records,
		Trigger:    trigger,
		Publisher:  a.Promoter,
		Queue:      queue,
		Recorder:   a.Recorder,
		Logger:     a.Logger,
	}
	if a.Registry != nil {
		opts.Metrics = metrics.HTTPHandler(a.Registry)
		opts.MetricsPath = cfg.Metrics.Path
	}
	srv := httpserver.New(opts)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	a.Logger.Info("Coursebuilder started, waiting for shutdown signal...")
	<-ctx.Done()
	a.Logger.Info("Shutdown signal received, stopping...")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	errs = append(errs, srv.Stop(stopCtx))
	if watcher != nil {
		errs = append(errs, watcher.Stop())
	}
	if sched != nil {
		errs = append(errs, sched.Stop())
	}
	errs = append(errs, queue.Stop(stopCtx))
	return errors.Join(errs...)
}

// resumePending queues a job for every course that still has PENDING updates,
// such as those left behind by a restart.
func (a *App) resumePending(ctx context.Context, queue jobs.Enqueuer) {
	courses, err := a.Records.ListCourses(ctx)
	if err != nil {
		a.Logger.Warn("Failed to list courses for pending updates", logfields.Error(err))
		return
	}
	for _, c := range courses {
		pending, err := a.Records.ListUpdates(ctx, c.Key, course.UpdateQuery{Status: course.StatusPending, Limit: 1})
		if err != nil || len(pending) == 0 {
			continue
		}
		if _, err := queue.Enqueue(c.Key, pipeline.Options{}); err != nil {
			a.Logger.Warn("Failed to queue pending update", logfields.Course(c.Key), logfields.Error(err))
		}
	}
}
