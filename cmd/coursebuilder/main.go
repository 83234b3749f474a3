package main

import (
	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/coursebuilder/cmd/coursebuilder/commands"
	"git.home.luguber.info/inful/coursebuilder/internal/version"
)

func main() {
	var cli commands.CLI
	ctx := kong.Parse(&cli,
		kong.Name("coursebuilder"),
		kong.Description("Builds course material from git and promotes it to the learning platform."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)
	err := ctx.Run(&commands.Global{}, &cli)
	ctx.FatalIfErrorf(err)
}
