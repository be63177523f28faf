package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirchentech/ct-salto-sync/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage staging database migrations",
	Long:  `Apply or roll back schema migrations on the Salto staging database.`,
}

var (
	migrateAutoApprove bool
	migrateNumSteps    uint
)

func init() {
	migrateCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, required)")
	migrateCmd.PersistentFlags().BoolVarP(&migrateAutoApprove, "yes", "y", false, "Skip confirmation prompt")
	migrateCmd.PersistentFlags().UintVarP(&migrateNumSteps, "num-steps", "n", 0,
		"Number of migration steps to run (0 means all)")

	if err := migrateCmd.MarkPersistentFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

// confirm prompts the user and returns true on a "yes" or "y" answer.
func confirm(prompt string) bool {
	fmt.Printf("%s (yes/no): ", prompt)
	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false
	}
	return response == "yes" || response == "y"
}

// migrateConnString loads the configuration named by the command's --config
// flag and returns the staging database connection string.
func migrateConnString(cmd *cobra.Command) (string, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", err
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return "", err
	}

	return cfg.Database.GetConnectionString()
}
