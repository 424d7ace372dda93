package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/i3configger/cmd/i3configger/commands"
	ferrors "git.home.luguber.info/inful/i3configger/internal/foundation/errors"
	"git.home.luguber.info/inful/i3configger/internal/version"
)

func main() {
	cli := &commands.CLI{}
	global := &commands.Global{Out: os.Stdout}

	parser := kong.Parse(cli,
		kong.Name("i3configger"),
		kong.Description("Build the i3 configuration from a directory of fragments, once or continuously."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
		kong.Bind(global),
	)

	if err := parser.Run(global, cli); err != nil {
		logger := global.Logger
		if logger == nil {
			logger = slog.Default()
		}
		ferrors.NewCLIErrorAdapter(cli.Verbose, logger).HandleError(err)
	}
}
