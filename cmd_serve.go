package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// ServeCmd implements `rustsentry serve`.
type ServeCmd struct {
	flags *Flags

	addr     string
	workers  int
	provider string
	model    string
	inMemory bool
}

func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run the HTTP API and the analysis worker pool",
		UsageText: "rustsentry serve [--addr :8080] [--workers N] [--provider P] [--model M]",
		Description: `Starts the polling API and N workers that drive submitted sessions through
detect, remediate and verify.

Flags override the config file and RUSTSENTRY_* environment variables.

Examples:
  rustsentry serve
  rustsentry serve --addr 127.0.0.1:9000 --workers 4
  rustsentry serve --provider anthropic --model claude-haiku-4-5`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Destination: &cmd.addr,
			},
			&cli.IntFlag{
				Name:        "workers",
				Aliases:     []string{"w"},
				Usage:       "worker pool size",
				Destination: &cmd.workers,
			},
			&cli.StringFlag{
				Name:        "provider",
				Usage:       "llm provider (deepseek, openai, anthropic, gemini)",
				Destination: &cmd.provider,
			},
			&cli.StringFlag{
				Name:        "model",
				Usage:       "model api name; defaults to the provider's catalog default",
				Destination: &cmd.model,
			},
			&cli.BoolFlag{
				Name:        "in-memory-store",
				Usage:       "keep submitted code in memory only",
				Destination: &cmd.inMemory,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *ServeCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.cfg
	if cmd.addr != "" {
		cfg.Server.Addr = cmd.addr
	}
	if cmd.workers > 0 {
		cfg.Worker.PoolSize = cmd.workers
	}
	if cmd.provider != "" {
		cfg.LLM.Provider = cmd.provider
	}
	if cmd.model != "" {
		cfg.LLM.Model = cmd.model
	}
	if cmd.inMemory {
		cfg.Store.InMemory = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	app := NewApp(cfg)
	defer app.shutdown()
	if err := app.startup(ctx); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	return app.Run(ctx)
}
