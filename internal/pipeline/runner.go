// Package pipeline runs one course update: sync, build, validate and store,
// followed by the notification decision and cleanup.
package pipeline

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"git.home.luguber.info/inful/coursebuilder/internal/build"
	"git.home.luguber.info/inful/coursebuilder/internal/buildlog"
	"git.home.luguber.info/inful/coursebuilder/internal/containment"
	"git.home.luguber.info/inful/coursebuilder/internal/course"
	"git.home.luguber.info/inful/coursebuilder/internal/courseconfig"
	"git.home.luguber.info/inful/coursebuilder/internal/events"
	ferrors "git.home.luguber.info/inful/coursebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/coursebuilder/internal/fsutil"
	"git.home.luguber.info/inful/coursebuilder/internal/git"
	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
	"git.home.luguber.info/inful/coursebuilder/internal/metrics"
	"git.home.luguber.info/inful/coursebuilder/internal/notify"
	"git.home.luguber.info/inful/coursebuilder/internal/observability"
)

// Options are the per-trigger parameters of an update.
type Options struct {
	SkipGit      bool
	SkipBuild    bool
	SkipNotify   bool
	RebuildAll   bool
	BuildImage   *string
	BuildCommand *string
}

// Syncer updates a course working tree from its origin.
type Syncer interface {
	Sync(ctx context.Context, log *slog.Logger, req git.Request) git.Result
}

// Builder runs the course build script.
type Builder interface {
	Build(ctx context.Context, log *slog.Logger, req build.Request) bool
}

// Storer copies a validated build into STORE.
type Storer interface {
	Store(ctx context.Context, log *slog.Logger, perf *buildlog.Perf, cfg *courseconfig.CourseConfig) (bool, error)
}

const (
	defaultHistorySize = 10
	maxListedChanges   = 10
	versionIDLength    = 20
)

// ErrCourseBusy is wrapped by LockCourse when another run holds the course.
var ErrCourseBusy = errors.New("course is busy")

// Runner executes course updates. Callers hold the course lock from
// LockCourse for the duration of Run.
type Runner struct {
	Records  course.Store
	Layout   courseconfig.Layout
	Syncer   Syncer
	Builder  Builder
	Storer   Storer
	Notifier notify.Notifier
	Events   events.Publisher
	Cache    *courseconfig.Cache
	Recorder metrics.Recorder
	Logger   *slog.Logger
	// HistorySize is how many updates are kept per course.
	HistorySize int

	now func() time.Time
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

func (r *Runner) recorder() metrics.Recorder {
	if r.Recorder != nil {
		return r.Recorder
	}
	return metrics.NoopRecorder{}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Runner) notifier() notify.Notifier {
	if r.Notifier != nil {
		return r.Notifier
	}
	return notify.Disabled{}
}

func (r *Runner) events() events.Publisher {
	if r.Events != nil {
		return r.Events
	}
	return events.Noop{}
}

// LockCourse takes the exclusive lock of key without waiting. The lock file
// lives in the BUILD root, so it also excludes runs in other processes.
func (r *Runner) LockCourse(key string) (release func(), err error) {
	path := r.Layout.LockPath(key, courseconfig.StageBuild)
	l, err := fsutil.TryLock(path)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ferrors.WrapError(ErrCourseBusy, ferrors.CategoryLock, fmt.Sprintf("course %s is being updated", key)).
			WithContext("path", path).
			Retryable().
			Build()
	}
	return func() { _ = l.Unlock() }, nil
}

// Run processes the pending updates of key: all but the newest are marked
// SKIPPED and the newest is run to a terminal status, which is returned.
// With nothing pending it returns "" and no error. Stage failures end up in
// the update's log and status; errors are returned only when the records
// could not be read or written before the update started running.
func (r *Runner) Run(ctx context.Context, key string, opts Options) (course.Status, error) {
	c, err := r.Records.GetCourse(ctx, key)
	if err != nil {
		return "", err
	}

	keep := r.HistorySize
	if keep <= 0 {
		keep = defaultHistorySize
	}
	if _, err := r.Records.PruneUpdates(ctx, key, keep); err != nil {
		return "", err
	}

	pending, err := r.Records.ListUpdates(ctx, key, course.UpdateQuery{Status: course.StatusPending, Order: course.Ascending})
	if err != nil {
		return "", err
	}
	if len(pending) == 0 {
		return "", nil
	}

	for _, u := range pending[:len(pending)-1] {
		if err := u.Transition(course.StatusSkipped); err != nil {
			return "", ferrors.InternalError("failed to skip update").WithCause(err).Build()
		}
		if err := r.Records.SaveUpdate(ctx, u); err != nil {
			return "", err
		}
		r.recorder().IncBuildOutcome(string(course.StatusSkipped))
		r.events().UpdateFinished(ctx, events.NewUpdateEvent(u))
	}

	u := pending[len(pending)-1]
	if err := u.Transition(course.StatusRunning); err != nil {
		return "", ferrors.InternalError("failed to start update").WithCause(err).Build()
	}
	if err := r.Records.SaveUpdate(ctx, u); err != nil {
		return "", err
	}

	ctx = observability.WithUpdateID(observability.WithCourse(ctx, key), u.ID)
	r.logger().InfoContext(ctx, "Update started", slog.Int("superseded", len(pending)-1))

	run := &update{
		Runner: r,
		course: c,
		upd:    u,
		opts:   opts,
		sink:   buildlog.NewSink(),
		perf:   buildlog.NewPerf(r.recorder()),
	}
	run.log = run.sink.Logger(nil)
	run.execute(ctx)

	r.recorder().ObserveBuildDuration(run.perf.Total())
	r.recorder().IncBuildOutcome(string(u.Status))
	r.events().UpdateFinished(context.WithoutCancel(ctx), events.NewUpdateEvent(u))
	r.logger().InfoContext(ctx, "Update finished", logfields.Status(string(u.Status)),
		logfields.DurationMS(float64(run.perf.Total().Milliseconds())))
	return u.Status, nil
}

// update is the state of one running update.
type update struct {
	*Runner
	course *course.Course
	upd    *course.Update
	opts   Options
	sink   *buildlog.Sink
	log    *slog.Logger
	perf   *buildlog.Perf
	stage  courseconfig.Stage
	path   string
}

func (u *update) execute(ctx context.Context) {
	u.stage = courseconfig.StageBuild
	if u.course.SkipBuildFailsafes {
		u.stage = courseconfig.StagePublish
	}
	u.path = u.Layout.Dir(u.course.Key, u.stage)

	err := u.runStages(ctx)
	if err != nil {
		u.log.Error("Build failed.")
		u.log.Error(fmt.Sprintf("%+v", err))
	} else if u.upd.Status == course.StatusSuccess {
		u.notifyFrontend(ctx)
	}

	// Terminal bookkeeping must happen even when the job context is cancelled.
	ctx = context.WithoutCancel(ctx)
	failed := u.upd.Status != course.StatusSuccess
	u.upd.Finish(u.clock())
	if failed && u.course.EmailOnError {
		u.notifier().SendErrorMail(ctx, u.log, u.course, fmt.Sprintf("Course %s build failed", u.course.Key), u.sink.String())
	}
	u.persist(ctx)

	u.cleanup()
	u.log.Info("\nTime taken for each step in seconds:")
	u.log.Info(u.perf.Formatted())
	u.persist(ctx)
}

// runStages returns nil with the update still RUNNING when a stage failed in
// an expected way, and an error for unexpected failures.
func (u *update) runStages(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = ferrors.InternalError(fmt.Sprintf("panic: %v\n%s", rec, debug.Stack())).Build()
		}
	}()

	key := u.course.Key
	changed, known := []string(nil), false

	switch {
	case u.opts.SkipGit:
		u.log.Info("Skipping git update.")
	case u.course.GitOrigin != "" || u.Layout.LocalSourceRoot != "":
		req := git.Request{Dir: u.path, Origin: u.course.GitOrigin, Branch: u.course.GitBranch}
		if u.course.GitOrigin == "" {
			u.log.Debug(fmt.Sprintf("Course origin not set: copying the course sources from %s to the build directory.", u.Layout.LocalSourcePath(key)))
			req.LocalSource = u.Layout.LocalSourcePath(key)
		} else {
			req.LastCommit = u.lastCommit(ctx)
		}
		res := u.Syncer.Sync(ctx, u.log, req)
		if !res.OK {
			u.log.Info("------------\nFailed to update the course sources\n------------\n")
			u.recorder().IncStageResult("sync", metrics.ResultFailed)
			return nil
		}
		changed, known = res.Changed, res.Known
	default:
		u.log.Warn("Course origin not set: skipping git update")
	}

	if hash := git.CommitHashOrEmpty(u.path); hash != "" {
		u.upd.CommitHash = &hash
	}
	u.persist(ctx)
	u.perf.Checkpoint("Git clone/checkout")

	if u.opts.SkipBuild {
		u.log.Info("Skipping build.")
	} else {
		switch {
		case u.opts.RebuildAll:
			u.log.Info("Rebuild all specified: setting CHANGED_FILES to *\n")
			changed = []string{build.AllChanged}
		case !known:
			u.log.Info("Failed to detect changed files: setting CHANGED_FILES to *\n")
			changed = []string{build.AllChanged}
		case len(changed) > maxListedChanges:
			u.log.Info(fmt.Sprintf("Detected over %d changed files (too many to show)\n", maxListedChanges))
		default:
			u.log.Info(fmt.Sprintf("Detected changed files: %s\n", strings.Join(changed, ", ")))
		}

		ok := u.Builder.Build(ctx, u.log, build.Request{
			Course:   u.course,
			Path:     u.path,
			Override: build.Override{Image: u.opts.BuildImage, Command: u.opts.BuildCommand},
			Changed:  changed,
		})
		if !ok {
			u.recorder().IncStageResult("build", metrics.ResultFailed)
			return nil
		}
	}
	u.persist(ctx)
	u.perf.Checkpoint("Course build script")

	if ok, reason := containment.Check(u.path); !ok {
		u.log.Error(fmt.Sprintf("Course %s is not self contained: %s", key, reason))
		u.recorder().IncStageResult("containment", metrics.ResultFailed)
		return nil
	}
	u.persist(ctx)
	u.perf.Checkpoint("Symlink containment check")

	versionID, err := versionID(u.path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(u.Layout.VersionPath(key, u.stage), []byte(versionID), 0o644); err != nil {
		return ferrors.FileSystemError("failed to write version id").WithCause(err).Build()
	}

	cfg, err := courseconfig.Load(u.Layout, key, u.stage)
	if err != nil {
		var verr *courseconfig.ValidationError
		if errors.As(err, &verr) {
			u.log.Error(verr.Error())
			u.recorder().IncStageResult("config", metrics.ResultFailed)
			return nil
		}
		u.log.Warn("Failed to load config")
		return err
	}
	u.persist(ctx)
	u.perf.Checkpoint("Load config")

	if warnings := cfg.Warnings(); len(warnings) > 0 {
		u.log.Warn(strings.Join(warnings, "\n") + "\n")
	}
	u.Cache.Save(cfg, u.stage)
	u.persist(ctx)

	if !u.course.SkipBuildFailsafes {
		ok, err := u.Storer.Store(ctx, u.log, u.perf, cfg)
		if err != nil {
			return err
		}
		if !ok {
			u.log.Error("Failed to store built course")
			u.recorder().IncStageResult("store", metrics.ResultFailed)
			return nil
		}
	}
	u.persist(ctx)

	return u.upd.Transition(course.StatusSuccess)
}

func (u *update) notifyFrontend(ctx context.Context) {
	c := u.course
	switch {
	case !c.UpdateAutomatically:
		u.log.Info("Configured to not update automatically.")
		return
	case c.RemoteID == nil:
		u.log.Warn("Remote id not set. Not doing an automatic update.")
		return
	case u.opts.SkipNotify:
		u.log.Info("Skipping automatic update.")
		return
	}
	if _, disabled := u.notifier().(notify.Disabled); disabled {
		u.log.Warn("Frontend URL not set. Not doing an automatic update.")
		return
	}

	u.log.Info("Doing an automatic update...")
	ok, errs := u.notifier().NotifyUpdate(ctx, u.log, c)
	msg := strings.Join(errs, "\n")
	switch {
	case ok && msg == "":
		u.log.Info("Success.")
	case ok:
		u.log.Warn("Success with warnings:")
		u.log.Warn(msg)
	default:
		u.log.Error("Failed:")
		u.log.Error(msg)
		if c.EmailOnError {
			u.notifier().SendErrorMail(ctx, u.log, c,
				fmt.Sprintf("Failed to notify update of %s", c.Key),
				"Build succeeded but notifying the frontend of the update failed:\n"+msg)
		}
	}
	u.perf.Checkpoint("Automatic update")
}

// cleanup resets the working tree. Failures are logged only.
func (u *update) cleanup() {
	meta, err := courseconfig.LoadMeta(u.path)
	if err != nil {
		u.log.Error("Clean failed.")
		u.log.Error(err.Error())
		return
	}
	var patterns []string
	if meta != nil {
		patterns = meta.ExcludePatterns
	}
	if err := git.Clean(u.path, u.course.GitOrigin, patterns); err != nil {
		u.log.Info("------------\nFailed to clean repository\n------------\n")
		u.log.Error(err.Error())
		return
	}
	u.perf.Checkpoint("Git clean")
}

// persist stores the current log and status. Failures are reported to the
// process logger and never stop the update.
func (u *update) persist(ctx context.Context) {
	u.upd.Log = u.sink.String()
	if err := u.Records.SaveUpdate(ctx, u.upd); err != nil {
		u.logger().ErrorContext(ctx, "Failed to save update", logfields.Error(err))
	}
}

func (u *update) lastCommit(ctx context.Context) string {
	last, err := u.Records.LatestSuccessful(ctx, u.course.Key)
	if err != nil || last.CommitHash == nil {
		return ""
	}
	return *last.CommitHash
}

const versionAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// versionID is the commit hash of dir, or a random identifier when dir is
// not a repository.
func versionID(dir string) (string, error) {
	if hash := git.CommitHashOrEmpty(dir); hash != "" {
		return hash, nil
	}
	var b strings.Builder
	limit := big.NewInt(int64(len(versionAlphabet)))
	for range versionIDLength {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", ferrors.InternalError("failed to generate version id").WithCause(err).Build()
		}
		b.WriteByte(versionAlphabet[n.Int64()])
	}
	return b.String(), nil
}
