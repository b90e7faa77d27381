package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/tenantreaper"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Lifecycle operation metrics
	SoftDeletesTotal metric.Int64Counter
	RestoresTotal    metric.Int64Counter
	PurgesTotal      metric.Int64Counter
	PurgeFailures    metric.Int64Counter
	PurgeDuration    metric.Float64Histogram

	// Cascade metrics
	RowsTombstonedTotal metric.Int64Counter
	RowsDeletedTotal    metric.Int64Counter
	RowsNulledTotal     metric.Int64Counter

	// Sweep metrics
	SweepCandidatesTotal metric.Int64Counter
	SweepFailuresTotal   metric.Int64Counter

	// Audit metrics
	AuditWriteFailuresTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.SoftDeletesTotal, _ = meter.Int64Counter(
		"tenantreaper.soft_deletes.total",
		metric.WithDescription("Total number of committed soft delete operations"),
		metric.WithUnit("{operation}"),
	)

	m.RestoresTotal, _ = meter.Int64Counter(
		"tenantreaper.restores.total",
		metric.WithDescription("Total number of committed restore operations"),
		metric.WithUnit("{operation}"),
	)

	m.PurgesTotal, _ = meter.Int64Counter(
		"tenantreaper.purges.total",
		metric.WithDescription("Total number of committed purge operations"),
		metric.WithUnit("{operation}"),
	)

	m.PurgeFailures, _ = meter.Int64Counter(
		"tenantreaper.purges.failures.total",
		metric.WithDescription("Total number of purge operations that rolled back"),
		metric.WithUnit("{operation}"),
	)

	m.PurgeDuration, _ = meter.Float64Histogram(
		"tenantreaper.purges.duration",
		metric.WithDescription("Duration of purge transactions"),
		metric.WithUnit("ms"),
	)

	m.RowsTombstonedTotal, _ = meter.Int64Counter(
		"tenantreaper.rows.tombstoned.total",
		metric.WithDescription("Total number of rows marked soft-deleted"),
		metric.WithUnit("{row}"),
	)

	m.RowsDeletedTotal, _ = meter.Int64Counter(
		"tenantreaper.rows.deleted.total",
		metric.WithDescription("Total number of rows physically deleted by cascades"),
		metric.WithUnit("{row}"),
	)

	m.RowsNulledTotal, _ = meter.Int64Counter(
		"tenantreaper.rows.nulled.total",
		metric.WithDescription("Total number of foreign key references set to NULL"),
		metric.WithUnit("{row}"),
	)

	m.SweepCandidatesTotal, _ = meter.Int64Counter(
		"tenantreaper.sweep.candidates.total",
		metric.WithDescription("Total number of purge candidates selected by retention sweeps"),
		metric.WithUnit("{entity}"),
	)

	m.SweepFailuresTotal, _ = meter.Int64Counter(
		"tenantreaper.sweep.failures.total",
		metric.WithDescription("Total number of candidates that failed during retention sweeps"),
		metric.WithUnit("{entity}"),
	)

	m.AuditWriteFailuresTotal, _ = meter.Int64Counter(
		"tenantreaper.audit.write_failures.total",
		metric.WithDescription("Total number of audit writes that failed after a committed operation"),
		metric.WithUnit("{record}"),
	)

	return m
}
