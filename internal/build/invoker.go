package build

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/shlex"

	"git.home.luguber.info/inful/coursebuilder/internal/course"
	"git.home.luguber.info/inful/coursebuilder/internal/courseconfig"
	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
)

// AllChanged is the CHANGED_FILES marker for "every file may have changed".
const AllChanged = "*"

// Invoker resolves and runs course builds.
type Invoker struct {
	Executor Executor
	Defaults Defaults
	Settings map[string]string
	// StaticBaseURL and StaticURLPath locate published static files.
	StaticBaseURL string
	StaticURLPath string
}

// Request is one build of a course directory.
type Request struct {
	Course   *course.Course
	Path     string
	Override Override
	// Changed lists changed paths; nil means unknown.
	Changed []string
}

// Env is the environment contract passed to every build.
func (i *Invoker) Env(c *course.Course, changed []string) map[string]string {
	if changed == nil {
		changed = []string{AllChanged}
	}
	return map[string]string{
		"COURSE_KEY":          c.Key,
		"COURSE_ID":           c.RemoteIDString(),
		"STATIC_URL_PATH":     courseconfig.StaticURLPath(i.StaticURLPath, c.Key),
		"STATIC_CONTENT_HOST": courseconfig.StaticURL(i.StaticBaseURL, i.StaticURLPath, c.Key),
		"CHANGED_FILES":       strings.Join(changed, "\n"),
	}
}

// Build runs the build for req and reports success. It never retries.
func (i *Invoker) Build(ctx context.Context, log *slog.Logger, req Request) bool {
	meta, err := courseconfig.LoadMeta(req.Path)
	if err != nil {
		log.Error("Failed to read course meta file", logfields.Error(err))
		return false
	}

	res := Resolve(req.Override, meta, i.Defaults)
	for _, n := range res.Notes {
		log.Info(n)
	}

	image := strings.TrimSpace(res.Image)
	if image == "" {
		log.Info("Build image is empty. Assuming no build is needed")
		return true
	}

	var cmd []string
	if res.Command != nil {
		cmd, err = shlex.Split(*res.Command)
		if err != nil {
			log.Error("Failed to parse build command", slog.String("command", *res.Command), logfields.Error(err))
			return false
		}
	}

	executor := i.Executor
	if executor == nil {
		executor = NoopExecutor{}
	}
	return executor.Execute(ctx, log, Job{
		CourseKey: req.Course.Key,
		Path:      req.Path,
		Image:     image,
		Cmd:       cmd,
		Env:       i.Env(req.Course, req.Changed),
		Settings:  i.Settings,
	})
}
