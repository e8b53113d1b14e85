package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/order-consumer/internal/storage/postgres"
)

// migrationStore — операции миграций postgres.Store.
type migrationStore interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	Status(ctx context.Context) (postgres.MigrationStatus, error)
	Close() error
}

var openMigrationStore = func(ctx context.Context, dsn string) (migrationStore, error) {
	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}
	return store, nil
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back embedded PostgreSQL migrations",
	}
	cmd.PersistentFlags().IntVar(&steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")

	run := func(direction string) func(cmd *cobra.Command, _ []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			dsn, err := opts.postgresDSN()
			if err != nil {
				return err
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()

			store, err := openMigrationStore(ctx, dsn)
			if err != nil {
				return err
			}
			defer store.Close()

			return runMigrate(ctx, store, direction, steps, cmd.OutOrStdout())
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "up", Short: "Apply pending migrations", Args: cobra.NoArgs, RunE: run("up")},
		&cobra.Command{Use: "down", Short: "Roll back applied migrations", Args: cobra.NoArgs, RunE: run("down")},
		&cobra.Command{Use: "status", Short: "Show schema version", Args: cobra.NoArgs, RunE: run("status")},
	)
	return cmd
}

func runMigrate(ctx context.Context, store migrationStore, direction string, steps int, out io.Writer) error {
	switch direction {
	case "up":
		if err := store.MigrateUp(ctx, steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		if steps <= 0 {
			steps = 1
		}
		if err := store.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	case "status":
	default:
		return fmt.Errorf("unsupported direction: %s (use up|down|status)", direction)
	}

	status, err := store.Status(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, err = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d pending=%d\n",
		direction, status.Version, status.Applied, status.Pending)
	return err
}
