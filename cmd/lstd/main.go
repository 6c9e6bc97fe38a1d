// Command lstd runs a liquid-staking settlement network: an engine on its home
// chain, user chains that route stake and swap requests to it, a relay that
// delivers cross-chain messages and an HTTP API for queries and submissions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "lstd:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "lstd",
		Usage:   "cross-chain liquid-staking settlement daemon",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				EnvVars: []string{"LST_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			simulateCommand(),
			custodyBalanceCommand(),
			watchCommand(),
		},
	}
}
