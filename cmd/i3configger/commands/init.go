package commands

import (
	"fmt"

	"git.home.luguber.info/inful/i3configger/internal/config"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool `help:"Overwrite an existing configuration file"`
}

func (i *InitCmd) Run(g *Global, root *CLI) error {
	path, _ := root.ConfigPath()
	path = config.ExpandPath(path)
	if err := config.Init(path, i.Force); err != nil {
		return err
	}
	_, err := fmt.Fprintf(g.out(), "wrote example configuration to %s\n", path)
	return err
}
