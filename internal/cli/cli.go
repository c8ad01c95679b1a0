// Package cli implements the yank command surface on urfave/cli: pair, join,
// unpair, status, start and config.
package cli

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/dmitrijs2005/yank/internal/app"
	"github.com/dmitrijs2005/yank/internal/common"
)

// NewApp assembles the command tree.
func NewApp() *cli.App {
	return &cli.App{
		Name:  "yank",
		Usage: "synchronize the clipboard between two paired machines",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
		},
		Commands: []*cli.Command{
			pairCommand(),
			joinCommand(),
			unpairCommand(),
			statusCommand(),
			startCommand(),
			configCommand(),
		},
	}
}

// newApp builds the process App for a command invocation.
func newApp(c *cli.Context) (*app.App, error) {
	a, err := app.New(c.Bool("verbose"))
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("yank: %v", err), common.ExitInternal)
	}
	return a, nil
}

// exitFor maps an error to the documented exit codes.
func exitFor(err error) error {
	if err == nil {
		return nil
	}
	code := common.ExitInternal
	switch {
	case errors.Is(err, common.ErrNotPaired):
		code = common.ExitNotPaired
	case errors.Is(err, common.ErrAuth), errors.Is(err, common.ErrProtocol):
		code = common.ExitPairingFailed
	case errors.Is(err, common.ErrConnectionLost):
		code = common.ExitConnectionFailed
	}
	return cli.Exit(fmt.Sprintf("yank: %v", err), code)
}
