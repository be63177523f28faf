package app

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/spf13/cobra"

	"github.com/kirchentech/ct-salto-sync/database"
)

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back staging database migrations",
	Long: `Roll back the staging schema by reverting migrations.
WARNING: This operation can result in data loss. Use with caution.

Examples:
  # Migrate down by 1 step
  ct-salto-sync migrate down --config config.yaml --num-steps 1 --yes

  # Migrate down all the way (WARNING: destroys all data)
  ct-salto-sync migrate down --config config.yaml --yes`,
	RunE: runMigrateDown,
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	connString, err := migrateConnString(cmd)
	if err != nil {
		return err
	}

	if migrateNumSteps > math.MaxInt {
		return fmt.Errorf("number of steps exceeds maximum allowed value")
	}

	if !migrateAutoApprove {
		var prompt string
		if migrateNumSteps == 0 {
			prompt = "WARNING: This will migrate down ALL steps and may result in complete data loss. Continue?"
		} else {
			prompt = fmt.Sprintf("WARNING: This will migrate down %d step(s) and may result in data loss. Continue?", migrateNumSteps)
		}
		if !confirm(prompt) {
			slog.Info("Migration cancelled by user")
			return nil
		}
	}

	if migrateNumSteps == 0 {
		slog.Warn("Migrating down all steps, this will remove the staging schema")
	} else {
		slog.Info("Migrating down", "steps", migrateNumSteps)
	}

	if err := database.MigrateDown(connString, int(migrateNumSteps)); err != nil { // #nosec G115 -- overflow checked above
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.Version(connString)
	switch {
	case err != nil:
		slog.Warn("Unable to get migration version", "error", err)
	case dirty:
		slog.Warn("Database is in a dirty state, manual intervention may be required", "version", version)
	default:
		slog.Info("Migration completed", "version", version)
	}

	return nil
}
