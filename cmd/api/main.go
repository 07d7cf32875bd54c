package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"akademik/api/internal/commands"
	"akademik/api/internal/config"
	"akademik/api/internal/logutils"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
)

func main() {
	ctx := context.Background()

	var logCloser func()
	flags := &commands.Flags{}

	app := &cli.Command{
		Name:    "akademik",
		Usage:   "Grant form editor API",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (trace, debug, info, warn, error, fatal)",
				Sources:     cli.EnvVars("AKADEMIK_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (defaults to stdout)",
				Sources:     cli.EnvVars("AKADEMIK_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.BoolFlag{
				Name:        "log-pretty",
				Usage:       "human readable console logs",
				Sources:     cli.EnvVars("AKADEMIK_LOG_PRETTY"),
				Destination: &flags.LogPretty,
			},
			&cli.StringFlag{
				Name:        "env-file",
				Usage:       "dotenv file loaded before reading the environment",
				Sources:     cli.EnvVars("AKADEMIK_ENV_FILE"),
				Value:       ".env",
				Destination: &flags.EnvFile,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			logger, closer, err := logutils.New(flags.LogLevel, flags.LogFile, flags.LogPretty)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger
			logCloser = closer

			cfg, err := config.Load(flags.EnvFile)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			flags.Config = cfg
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if logCloser != nil {
				logCloser()
			}
			return nil
		},
	}

	app = commands.NewServeCmd(flags).Register(app)
	app = commands.NewMigrateCmd(flags).Register(app)
	app = commands.NewTemplatesCmd(flags).Register(app)

	exitCode := 0
	if err := app.Run(ctx, os.Args); err != nil {
		log.Error().Err(err).Msg("command failed")
		exitCode = 1
	}

	os.Exit(exitCode)
}
