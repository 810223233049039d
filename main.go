package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"rustsentry/internal/config"
	"rustsentry/internal/logging"
	"rustsentry/internal/utils"
)

var (
	// Populated at build-time via -ldflags.
	version = "dev"
	commit  = "HEAD"
)

func build() string {
	v, c := version, commit
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					c = s.Value
				}
			}
		}
	}
	if len(c) > 7 {
		c = c[:7]
	}
	return fmt.Sprintf("%s (%s)", v, c)
}

// Flags are the global options shared by every command.
type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	Server     string

	cfg config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var logCloser func()
	flags := &Flags{}

	app := &cli.Command{
		Name:      "rustsentry",
		Usage:     "Analyze unsafe Rust with an LLM security reviewer",
		UsageText: "rustsentry [global options] command [command options]",
		Description: `rustsentry extracts unsafe blocks from Rust source and runs each one through
detection, remediation and verification against an LLM.

Run 'rustsentry serve' to start the API and worker pool, then submit code with
'rustsentry submit' or 'rustsentry scan' and poll for results.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (trace, debug, info, warn, error, fatal)",
				Sources:     cli.EnvVars(config.EnvPrefix + "LOG_LEVEL"),
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "append logs to this file instead of stderr",
				Sources:     cli.EnvVars(config.EnvPrefix + "LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to a YAML config file",
				Sources:     cli.EnvVars(config.EnvPrefix + "CONFIG"),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "server",
				Usage:       "base URL of a running rustsentry server",
				Sources:     cli.EnvVars(config.EnvPrefix + "SERVER"),
				Value:       "http://localhost:8080",
				Destination: &flags.Server,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			// a missing .env is normal
			if path, err := utils.LoadEnv(flags.ConfigPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "warning: could not load %s: %v\n", path, err)
			}

			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			if flags.LogLevel != "" {
				cfg.Log.Level = flags.LogLevel
			}
			if flags.LogFile != "" {
				cfg.Log.File = flags.LogFile
			}
			flags.cfg = cfg

			logger, closer, err := logging.New(cfg.Log.Level, cfg.Log.File)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			logging.Setup(logger)
			logCloser = closer
			return logger.WithContext(ctx), nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if logCloser != nil {
				logCloser()
			}
			return nil
		},
	}

	app = NewServeCmd(flags).Register(app)
	app = NewClientCmd(flags).Register(app)
	app = NewAPIKeyCmd(flags).Register(app)

	if err := app.Run(ctx, os.Args); err != nil {
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintln(os.Stderr, "error:", err)
		if logCloser != nil {
			logCloser()
		}
		os.Exit(1)
	}
}
