package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"git.home.luguber.info/inful/coursebuilder/internal/course"
	"git.home.luguber.info/inful/coursebuilder/internal/logfields"
)

// CourseCmd groups the course record subcommands.
type CourseCmd struct {
	Add  CourseAddCmd  `cmd:"" help:"Create a course record"`
	List CourseListCmd `cmd:"" help:"List course records and their latest update"`
	Show CourseShowCmd `cmd:"" help:"Show a course record, including its webhook secret"`
}

// CourseAddCmd implements 'course add'.
type CourseAddCmd struct {
	Key                 string `arg:"" help:"Course key"`
	Origin              string `help:"Git origin; empty copies the course from the local source directory"`
	Branch              string `help:"Git branch" default:"master"`
	RemoteID            string `name:"remote-id" help:"Course instance id in the frontend"`
	UpdateHook          string `help:"Legacy update hook URL"`
	EmailOnError        bool   `help:"Mail the course staff when a build fails" default:"true" negatable:""`
	UpdateAutomatically bool   `help:"Notify the frontend after successful builds" default:"true" negatable:""`
	SkipBuildFailsafes  bool   `help:"Build directly into the published stage"`
}

func (c *CourseAddCmd) course() (*course.Course, error) {
	rec, err := course.New(c.Key)
	if err != nil {
		return nil, err
	}
	rec.GitOrigin = c.Origin
	rec.GitBranch = c.Branch
	rec.UpdateHook = c.UpdateHook
	rec.EmailOnError = c.EmailOnError
	rec.UpdateAutomatically = c.UpdateAutomatically
	rec.SkipBuildFailsafes = c.SkipBuildFailsafes
	if c.RemoteID != "" {
		id, err := strconv.Atoi(c.RemoteID)
		if err != nil {
			return nil, fmt.Errorf("remote id %q is not an integer", c.RemoteID)
		}
		rec.RemoteID = &id
	}
	return rec, nil
}

func (c *CourseAddCmd) Run(g *Global, root *CLI) error {
	rec, err := c.course()
	if err != nil {
		return err
	}
	return withApp(g, root, func(ctx context.Context, app *App) error {
		if err := app.Records.CreateCourse(ctx, rec); err != nil {
			return err
		}
		app.Logger.Info("Course created", logfields.Course(rec.Key))
		return printJSON(g, rec)
	})
}

// CourseListCmd implements 'course list'.
type CourseListCmd struct{}

func (c *CourseListCmd) Run(g *Global, root *CLI) error {
	return withApp(g, root, func(ctx context.Context, app *App) error {
		courses, err := app.Records.ListCourses(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(g.out(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "KEY\tORIGIN\tBRANCH\tREMOTE ID\tLATEST")
		for _, rec := range courses {
			latest := "-"
			u, err := app.Records.LatestUpdate(ctx, rec.Key)
			switch {
			case err == nil:
				latest = string(u.Status)
			case !errors.Is(err, course.ErrNotFound):
				return err
			}
			origin := rec.GitOrigin
			if origin == "" {
				origin = "(local)"
			}
			remote := rec.RemoteIDString()
			if remote == "" {
				remote = "-"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", rec.Key, origin, rec.GitBranch, remote, latest)
		}
		return w.Flush()
	})
}

// CourseShowCmd implements 'course show'.
type CourseShowCmd struct {
	Key string `arg:"" help:"Course key"`
}

func (c *CourseShowCmd) Run(g *Global, root *CLI) error {
	return withApp(g, root, func(ctx context.Context, app *App) error {
		rec, err := app.Records.GetCourse(ctx, c.Key)
		if err != nil {
			return err
		}
		return printJSON(g, rec)
	})
}

func withApp(g *Global, root *CLI, fn func(ctx context.Context, app *App) error) error {
	cfg, err := loadConfig(g, root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app, err := NewApp(cfg, g.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()
	return fn(context.Background(), app)
}

func printJSON(g *Global, v any) error {
	enc := json.NewEncoder(g.out())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
