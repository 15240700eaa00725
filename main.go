package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"github.com/astei/chowder/config"
)

// env carries what the Before hook loaded to the command actions.
type env struct {
	cfg *config.Config
}

func main() {
	e := &env{}
	app := &cli.App{
		Name:  "chowder",
		Usage: "inspects block manifests, region files and servers",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file"},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			logger, err := cfg.Log.Logger(os.Stderr)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			e.cfg = cfg
			return nil
		},
		Commands: []*cli.Command{
			e.blocksCommand(),
			e.chunkCommand(),
			e.exportCommand(),
			inspectCommand(),
			e.statusCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("command failed", "err", err)
		stop()
		os.Exit(1)
	}
}
