package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/i3configger/internal/config"
)

// Global is shared state bound into every command.
type Global struct {
	Logger *slog.Logger
	// Out receives user-facing output; nil means stdout.
	Out io.Writer
}

func (g *Global) out() io.Writer {
	if g == nil || g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

// CLI definition and global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path (default ~/.i3/config.d/i3configger.yaml)" type:"path"`
	Source  string           `short:"s" help:"Fragment directory, overrides source.dir" type:"path"`
	Target  string           `short:"t" help:"Target file, overrides target.path" type:"path"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Build  BuildCmd  `cmd:"" default:"withargs" help:"Build the i3 configuration from its fragments (default command)"`
	Reload ReloadCmd `cmd:"" help:"Ask the running daemon to reload its configuration and rebuild"`
	Stop   StopCmd   `cmd:"" help:"Stop the running daemon"`
	Status StatusCmd `cmd:"" help:"Report whether a daemon is running"`
	Init   InitCmd   `cmd:"" help:"Write an example configuration file"`
}

// AfterApply runs after flag parsing and installs a stderr logger until the
// configuration's logging section is known.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply(g *Global) error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	if g != nil {
		g.Logger = logger
	}
	return nil
}

// ConfigPath returns the configuration path and whether it was given explicitly.
func (c *CLI) ConfigPath() (string, bool) {
	if c.Config != "" {
		return c.Config, true
	}
	return config.DefaultPath(), false
}

// LoadConfig loads the configuration file and applies command-line overrides.
func (c *CLI) LoadConfig() (*config.Config, error) {
	path, explicit := c.ConfigPath()
	cfg, err := config.Load(path, explicit)
	if err != nil {
		return nil, err
	}
	cfg.ApplyOverrides(c.Source, c.Target)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
