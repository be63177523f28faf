// Package sync schedules and runs the booking-to-staging reconciliation
// cycles.
package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirchentech/ct-salto-sync/internal/telemetry"
)

// Stats summarizes one completed sync cycle.
type Stats struct {
	// Bookings is the number of relevant bookings fetched.
	Bookings int

	// Grants is the number of transponders that received a zone list.
	Grants int

	// StagedEntries is the number of rows handed to the staging table.
	StagedEntries int
}

// Cycle is one full reconciliation run.
type Cycle interface {
	Run(ctx context.Context) (Stats, error)
}

// Coordinator drives a Cycle at a fixed interval until stopped.
type Coordinator struct {
	cycle    Cycle
	interval time.Duration

	// Lifecycle management
	cancelFunc context.CancelFunc
	done       chan struct{}

	metrics *telemetry.SyncMetrics
}

// Option is a function that configures the coordinator
type Option func(*Coordinator)

// WithMetrics sets the sync metrics for the coordinator
func WithMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = metrics
	}
}

// New creates a new coordinator with injected dependencies
func New(cycle Cycle, interval time.Duration, opts ...Option) *Coordinator {
	c := &Coordinator{
		cycle:    cycle,
		interval: interval,
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start runs the sync loop. The first cycle runs immediately, then one per
// interval. Blocks until the context is cancelled. A failed cycle is logged
// and skipped; the loop never stops because one cycle failed.
func (c *Coordinator) Start(ctx context.Context) error {
	slog.Info("Starting sync coordinator", "interval", c.interval)

	coordCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel
	defer func() {
		close(c.done)
		slog.Info("Sync coordinator shut down")
	}()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runCycle(coordCtx)

	for {
		select {
		case <-ticker.C:
			c.runCycle(coordCtx)
		case <-coordCtx.Done():
			slog.Info("Sync coordinator stopping")
			return nil
		}
	}
}

// Stop cancels the coordinator and waits for an in-flight cycle to finish.
func (c *Coordinator) Stop() error {
	if c.cancelFunc != nil {
		slog.Info("Stopping sync coordinator")
		c.cancelFunc()
		<-c.done
	}
	return nil
}

// runCycle executes one cycle. Cancellation is only observed between cycles,
// so the cycle itself runs with a context that survives shutdown.
func (c *Coordinator) runCycle(ctx context.Context) {
	slog.Debug("Starting sync cycle")
	startTime := time.Now()

	stats, err := c.cycle.Run(context.WithoutCancel(ctx))

	duration := time.Since(startTime)
	c.metrics.RecordCycleDuration(ctx, duration, err == nil)

	if err != nil {
		slog.Warn("Sync cycle failed, skipping until next tick",
			"error", err,
			"duration", duration,
		)
		return
	}

	c.metrics.RecordBookings(ctx, int64(stats.Bookings))
	c.metrics.RecordStagedUsers(ctx, int64(stats.StagedEntries))

	slog.Info("Sync cycle complete",
		"bookings", stats.Bookings,
		"grants", stats.Grants,
		"staged_entries", stats.StagedEntries,
		"duration", duration,
	)
}
