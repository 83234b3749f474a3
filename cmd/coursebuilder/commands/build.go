package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/coursebuilder/internal/course"
	"git.home.luguber.info/inful/coursebuilder/internal/pipeline"
)

// RequestIP identifies updates requested from the command line.
const RequestIP = "cli"

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Key        string `arg:"" help:"Course key"`
	SkipGit    bool   `help:"Do not update the course from git"`
	SkipBuild  bool   `help:"Do not run the build script"`
	SkipNotify bool   `help:"Do not notify the frontend"`
	RebuildAll bool   `help:"Treat every file as changed"`
	Image      string `help:"Override the build image"`
	Command    string `help:"Override the build command"`
}

func (b *BuildCmd) options() pipeline.Options {
	opts := pipeline.Options{
		SkipGit:    b.SkipGit,
		SkipBuild:  b.SkipBuild,
		SkipNotify: b.SkipNotify,
		RebuildAll: b.RebuildAll,
	}
	if b.Image != "" {
		opts.BuildImage = &b.Image
	}
	if b.Command != "" {
		opts.BuildCommand = &b.Command
	}
	return opts
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app, err := NewApp(cfg, g.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return runBuild(ctx, g, app, b.Key, b.options())
}

func runBuild(ctx context.Context, g *Global, app *App, key string, opts pipeline.Options) error {
	if _, err := app.Records.GetCourse(ctx, key); err != nil {
		return err
	}
	release, err := app.Runner.LockCourse(key)
	if err != nil {
		return err
	}
	defer release()
	if err := app.Records.CreateUpdate(ctx, course.NewUpdate(key, RequestIP)); err != nil {
		return err
	}
	status, err := app.Runner.Run(ctx, key, opts)
	if err != nil {
		return err
	}

	out := g.out()
	if u, err := app.Records.LatestUpdate(ctx, key); err == nil {
		_, _ = fmt.Fprintln(out, u.Log)
	}
	_, _ = fmt.Fprintf(out, "Update of %s finished: %s\n", key, status)
	if status != course.StatusSuccess {
		return fmt.Errorf("update of %s finished with status %s", key, status)
	}
	return nil
}
