package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kirchentech/ct-salto-sync/database"
)

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending staging database migrations",
	Long: `Apply all pending migrations to bring the staging schema up to date.
The database connection parameters are read from the config file.`,
	RunE: runMigrateUp,
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	connString, err := migrateConnString(cmd)
	if err != nil {
		return err
	}

	if !migrateAutoApprove {
		if !confirm("About to apply migrations to the staging database. Continue?") {
			slog.Info("Migration cancelled by user")
			return nil
		}
	}

	slog.Info("Applying database migrations")
	if err := database.MigrateUp(connString); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := database.Version(connString)
	switch {
	case err != nil:
		slog.Warn("Unable to get migration version", "error", err)
	case dirty:
		slog.Warn("Database is in a dirty state", "version", version)
	default:
		slog.Info("Migrations applied successfully", "version", version)
	}

	return nil
}
