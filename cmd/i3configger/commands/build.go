package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/i3configger/internal/build"
	"git.home.luguber.info/inful/i3configger/internal/daemon"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Daemon bool `short:"d" help:"Keep running and rebuild whenever a fragment changes"`
	Stdout bool `help:"Print the merged configuration instead of writing the target"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.LoadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := SetupLogging(cfg.Logging, root.Verbose, nil)
	if err != nil {
		return err
	}
	defer closeLog()
	if g != nil {
		g.Logger = logger
	}

	if b.Stdout {
		res, err := build.NewBuildService().WithLogger(logger).
			Run(context.Background(), build.BuildRequest{Config: cfg, Reason: "stdout", DryRun: true})
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(g.out(), res.Document.Content)
		return err
	}

	d, err := daemon.New(cfg, daemon.WithLogger(logger), daemon.WithReloader(root.LoadConfig))
	if err != nil {
		return err
	}

	if b.Daemon {
		logger.Info("Starting daemon")
		// The daemon installs its own signal handling.
		return d.Run(context.Background())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	res, err := d.RunOnce(ctx)
	if err != nil {
		return err
	}
	for _, issue := range res.Issues {
		_, _ = fmt.Fprintf(g.out(), "skipped unreadable fragment %s\n", issue.Path)
	}
	if res.Changed {
		_, err = fmt.Fprintf(g.out(), "wrote %s (%d fragments)\n", res.Target, len(res.Document.Fragments))
	} else {
		_, err = fmt.Fprintf(g.out(), "%s is up to date\n", res.Target)
	}
	return err
}
