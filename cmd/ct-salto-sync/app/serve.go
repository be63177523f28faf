package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kirchentech/ct-salto-sync/database"
	"github.com/kirchentech/ct-salto-sync/internal/access"
	"github.com/kirchentech/ct-salto-sync/internal/churchtools"
	"github.com/kirchentech/ct-salto-sync/internal/config"
	"github.com/kirchentech/ct-salto-sync/internal/db"
	"github.com/kirchentech/ct-salto-sync/internal/salto"
	"github.com/kirchentech/ct-salto-sync/internal/staging"
	syncer "github.com/kirchentech/ct-salto-sync/internal/sync"
	"github.com/kirchentech/ct-salto-sync/internal/telemetry"
	"github.com/kirchentech/ct-salto-sync/internal/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync daemon",
	Long: `Start the sync daemon.

The daemon requires a configuration file (--config) that specifies:
- The ChurchTools instance and login token
- The Salto web service and credentials
- The staging database connection
- The room-to-zone mapping and sync timing

See examples/ directory for a sample configuration.`,
	RunE: runServe,
}

// telemetryShutdownTimeout bounds the final metrics flush on exit.
const telemetryShutdownTimeout = 5 * time.Second

func init() {
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
		os.Exit(1)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

// applyLogLevel resets the default logger when the config requests a
// different verbosity than the environment provided.
func applyLogLevel(level string) {
	if level == "" {
		return
	}

	var slogLevel slog.Level
	if err := slogLevel.UnmarshalText([]byte(level)); err != nil {
		slog.Warn("Invalid logLevel in config, keeping current level", "value", level)
		return
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})))
}

func runServe(_ *cobra.Command, _ []string) error {
	// Shutdown on SIGINT, SIGTERM or SIGHUP. Cancellation is observed
	// between sync cycles; an in-flight cycle finishes first.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	applyLogLevel(cfg.LogLevel)

	slog.Info("Starting ChurchTools to Salto sync daemon",
		"version", versions.GetVersionInfo().Version,
		"config", configPath,
		"rooms", len(cfg.Rooms),
	)

	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return err
	}
	slog.Info("Applying database migrations")
	if err := database.MigrateUp(connString); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	loginToken, err := cfg.ChurchTools.GetLoginToken()
	if err != nil {
		return err
	}
	ctClient, err := churchtools.NewClient(cfg.ChurchTools.BaseURL(), loginToken)
	if err != nil {
		return fmt.Errorf("failed to create ChurchTools client: %w", err)
	}
	resolver := churchtools.NewResolver(ctClient, churchtools.ResolverConfig{
		GroupMagicPrefix: cfg.ChurchTools.GroupMagicPrefix,
		StatusIDs:        cfg.ChurchTools.StatusIDs(),
		ResourceIDs:      cfg.ResourceIDs(),
		Lookbehind:       cfg.Sync.Posthold(),
		Lookahead:        cfg.Sync.Prehold(),
	})

	saltoPassword, err := cfg.Salto.GetPassword()
	if err != nil {
		return err
	}
	// A failed login is fatal; resilience against later Salto outages
	// comes from the per-cycle error handling.
	saltoClient, err := salto.NewClient(ctx, salto.Config{
		BaseURL:            cfg.Salto.BaseURL,
		Username:           cfg.Salto.Username,
		Password:           saltoPassword,
		InsecureSkipVerify: cfg.Salto.InsecureSkipVerify,
	})
	if err != nil {
		return fmt.Errorf("failed to log in to Salto: %w", err)
	}
	slog.Info("Logged in to Salto", "base_url", cfg.Salto.BaseURL)

	location, err := cfg.Sync.Location()
	if err != nil {
		return err
	}
	encoder := &access.Encoder{
		Rooms:         cfg.RoomZones(),
		Prehold:       cfg.Sync.Prehold(),
		Posthold:      cfg.Sync.Posthold(),
		SyncFrequency: cfg.Sync.FrequencyDuration(),
		Location:      location,
	}

	reconciler, err := staging.NewReconciler(pool)
	if err != nil {
		return err
	}

	metrics, err := telemetry.NewSyncMetrics(tel.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create sync metrics: %w", err)
	}

	pipeline := &syncer.Pipeline{
		Bookings:  resolver,
		Encoder:   encoder,
		Directory: saltoClient,
		Staging:   reconciler,
	}

	coordinator := syncer.New(pipeline, cfg.Sync.FrequencyDuration(), syncer.WithMetrics(metrics))
	return coordinator.Start(ctx)
}
