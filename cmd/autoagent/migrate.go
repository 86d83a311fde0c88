package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Strob0t/AutoAgent/internal/adapter/postgres"
)

func newMigrateCmd(f *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			defer closer.Close()

			if err := postgres.RunMigrations(cmd.Context(), cfg.Postgres.DSN); err != nil {
				return err
			}
			slog.Info("migrations applied")
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be >= 1")
			}
			cfg, closer, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			defer closer.Close()

			if err := postgres.RollbackMigrations(cmd.Context(), cfg.Postgres.DSN, steps); err != nil {
				return err
			}
			slog.Info("migrations rolled back", "steps", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			defer closer.Close()

			v, err := postgres.MigrationVersion(cmd.Context(), cfg.Postgres.DSN)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", v)
			return err
		},
	}

	cmd.AddCommand(up, down, status)
	return cmd
}
