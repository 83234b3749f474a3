package commands

import (
	"context"
	"fmt"
)

// PublishCmd implements the 'publish' command.
type PublishCmd struct {
	Key string `arg:"" help:"Course key"`
}

func (p *PublishCmd) Run(g *Global, root *CLI) error {
	return withApp(g, root, func(ctx context.Context, app *App) error {
		if _, err := app.Records.GetCourse(ctx, p.Key); err != nil {
			return err
		}
		errs, err := app.Promoter.Publish(ctx, p.Key)
		if err != nil {
			return err
		}
		out := g.out()
		for _, e := range errs {
			_, _ = fmt.Fprintln(out, e)
		}
		if len(errs) == 0 {
			_, _ = fmt.Fprintf(out, "Published %s\n", p.Key)
		}
		return nil
	})
}
