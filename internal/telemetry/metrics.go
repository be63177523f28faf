package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/kirchentech/ct-salto-sync/sync"
)

// SyncMetrics holds the OpenTelemetry instruments for sync cycle metrics
type SyncMetrics struct {
	cycleDuration metric.Float64Histogram
	bookingsTotal metric.Int64Gauge
	stagedTotal   metric.Int64Gauge
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	cycleDuration, err := meter.Float64Histogram(
		"ct_salto_sync_cycle_duration_seconds",
		metric.WithDescription("Duration of sync cycles in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	bookingsTotal, err := meter.Int64Gauge(
		"ct_salto_sync_bookings_total",
		metric.WithDescription("Number of relevant bookings seen in the last cycle"),
		metric.WithUnit("{booking}"),
	)
	if err != nil {
		return nil, err
	}

	stagedTotal, err := meter.Int64Gauge(
		"ct_salto_sync_staged_users_total",
		metric.WithDescription("Number of staged user rows written in the last cycle"),
		metric.WithUnit("{user}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		cycleDuration: cycleDuration,
		bookingsTotal: bookingsTotal,
		stagedTotal:   stagedTotal,
	}, nil
}

// RecordCycleDuration records the duration of a sync cycle
func (m *SyncMetrics) RecordCycleDuration(ctx context.Context, duration time.Duration, success bool) {
	if m == nil || m.cycleDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}

	m.cycleDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordBookings records the number of relevant bookings seen in a cycle
func (m *SyncMetrics) RecordBookings(ctx context.Context, count int64) {
	if m == nil || m.bookingsTotal == nil {
		return
	}

	m.bookingsTotal.Record(ctx, count)
}

// RecordStagedUsers records the number of staged user rows written in a cycle
func (m *SyncMetrics) RecordStagedUsers(ctx context.Context, count int64) {
	if m == nil || m.stagedTotal == nil {
		return
	}

	m.stagedTotal.Record(ctx, count)
}
