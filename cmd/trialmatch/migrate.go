package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trial-matcher-server/internal/app"
	"github.com/trial-matcher-server/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runner, err := newMigrationRunner()
		if err != nil {
			return err
		}
		defer runner.Close()
		return runner.Up(cmd.Context())
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back all migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runner, err := newMigrationRunner()
		if err != nil {
			return err
		}
		defer runner.Close()
		return runner.Down(cmd.Context())
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		runner, err := newMigrationRunner()
		if err != nil {
			return err
		}
		defer runner.Close()

		version, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
		return nil
	},
}

func init() {
	migrateCmd.PersistentFlags().String("path", "", "migrations directory (default from config)")
	mustBind("database.migrations_path", migrateCmd.PersistentFlags().Lookup("path"))
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

func newMigrationRunner() (*database.MigrationRunner, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Matching.UseMemoryStore {
		return nil, errors.New("migrations need Postgres; drop --lite and matching.use_memory_store")
	}
	logger := app.NewLogger(cfg.Logging)
	return database.NewMigrationRunner(database.FromDomainConfig(cfg.Database).URL(), cfg.Database.MigrationsPath, logger)
}
