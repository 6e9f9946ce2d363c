package main

import (
	"context"
	"errors"
	"os"

	"github.com/desertthunder/vidpub/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	if err := shared.LoadEnv(); err != nil {
		logger.Warn("failed to load .env", "error", err)
	}

	runner := NewRunner(RunnerOpts{ConfigPath: "config.toml", Logger: logger})

	if err := newApp(runner).Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, shared.ErrNotImplemented) {
			logger.Warn("not implemented")
			os.Exit(0)
		}
		logger.Error("application error", "error", err)
		os.Exit(exitCode(err))
	}
}

func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "vidpub",
		Usage:   "Render audio and artwork to video and publish it through a pool of API credentials",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Before:   r.loadConfig,
		Commands: r.register(),
	}
}
