package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"akademik/api/internal/store"
)

// MigrateCmd applies and inspects database migrations.
type MigrateCmd struct {
	flags *Flags
}

func NewMigrateCmd(flags *Flags) *MigrateCmd {
	return &MigrateCmd{flags: flags}
}

// Register adds the migrate command to the application.
func (cmd *MigrateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "migrate",
		Usage: "Apply or inspect database migrations",
		Description: `Migrations are read from AKADEMIK_MIGRATIONS_DIR and applied in
version order. Applied versions are recorded in schema_migrations.

Examples:
  akademik migrate up
  akademik migrate status`,
		Commands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply pending migrations",
				Action: cmd.runUp,
			},
			{
				Name:   "status",
				Usage:  "List migrations and whether they are applied",
				Action: cmd.runStatus,
			},
		},
	})
	return app
}

func (cmd *MigrateCmd) runUp(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return err
	}
	log.Info().Int("applied", len(applied)).Msg("migrations complete")
	return nil
}

func (cmd *MigrateCmd) runStatus(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	states, err := store.MigrationStatus(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return err
	}
	for _, st := range states {
		mark := " "
		if st.Applied {
			mark = "x"
		}
		_, _ = fmt.Fprintf(c.Root().Writer, "[%s] %s\n", mark, st.Version)
	}
	return nil
}
