package lifecycle

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantreaper/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Orchestrator is the façade over the lifecycle engine. It sequences
// guard checks, the transactional cascaders, and the audit recorder,
// and is the only component that mutates deleted_at. Callers (API
// layer, cron) have already authenticated and authorized the actor.
type Orchestrator struct {
	store    Store
	audit    *AuditRecorder
	guard    *ProtectionGuard
	scanner  *RetentionScanner
	now      func() time.Time
	maxTries uint
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGuard replaces the default protection guard.
func WithGuard(guard *ProtectionGuard) Option {
	return func(o *Orchestrator) {
		o.guard = guard
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
		o.scanner.now = now
	}
}

// WithMaxRetries sets how many attempts a retryable purge failure gets
// during a sweep before being reported as a candidate failure.
func WithMaxRetries(n uint) Option {
	return func(o *Orchestrator) {
		o.maxTries = n
	}
}

// NewOrchestrator wires the engine components over the given stores.
func NewOrchestrator(store Store, audit AuditStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		audit:    NewAuditRecorder(audit),
		guard:    NewProtectionGuard(),
		scanner:  NewRetentionScanner(store),
		now:      time.Now,
		maxTries: 3,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Scanner exposes the retention scanner for dry-run reporting.
func (o *Orchestrator) Scanner() *RetentionScanner {
	return o.scanner
}

// SoftDeleteResult reports a committed soft delete.
type SoftDeleteResult struct {
	EntityType EntityType
	EntityID   int64
	DeletedAt  time.Time
	Affected   map[string]int64
	Removed    map[string]int64

	AuditID uuid.UUID
	// AuditDegraded is true when the operation committed but the audit
	// record could not be written.
	AuditDegraded bool
}

// SoftDelete tombstones an entity and, for tenants, its owned subtree.
// The single timestamp captured here stamps every affected row.
func (o *Orchestrator) SoftDelete(ctx context.Context, entityType EntityType, id int64, actor ActorContext) (*SoftDeleteResult, error) {
	if err := o.guard.AssertDeletable(entityType, id); err != nil {
		return nil, err
	}

	at := o.now().UTC().Truncate(time.Microsecond)
	outcome, err := o.store.SoftDelete(ctx, entityType, id, at)
	if err != nil {
		return nil, err
	}

	m := telemetry.GetMetrics()
	m.SoftDeletesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("entity_type", string(entityType))))
	m.RowsTombstonedTotal.Add(ctx, sumCounts(outcome.Affected))

	log.Info().
		Str("entity_type", string(entityType)).
		Int64("entity_id", id).
		Time("deleted_at", outcome.DeletedAt).
		Int64("tombstoned", sumCounts(outcome.Affected)).
		Int64("removed", sumCounts(outcome.Removed)).
		Msg("Soft-deleted entity")

	result := &SoftDeleteResult{
		EntityType: entityType,
		EntityID:   id,
		DeletedAt:  outcome.DeletedAt,
		Affected:   outcome.Affected,
		Removed:    outcome.Removed,
	}

	snapshot := auditSnapshot{
		Before:   outcome.Before,
		Affected: outcome.Affected,
		Removed:  outcome.Removed,
	}
	result.AuditID, err = o.audit.Record(ctx, "soft_delete", entityType, id, snapshot, actor)
	result.AuditDegraded = err != nil

	return result, nil
}

// RestoreResult reports a committed restore.
type RestoreResult struct {
	EntityType EntityType
	EntityID   int64
	Restored   map[string]int64

	AuditID       uuid.UUID
	AuditDegraded bool
}

// Restore reverses a soft delete, clearing the tombstone on the entity
// and exactly the subtree rows stamped in the same operation. Grant
// rows hard-deleted by the soft delete are not resurrected.
func (o *Orchestrator) Restore(ctx context.Context, entityType EntityType, id int64, actor ActorContext) (*RestoreResult, error) {
	if err := o.guard.AssertDeletable(entityType, id); err != nil {
		return nil, err
	}

	outcome, err := o.store.Restore(ctx, entityType, id)
	if err != nil {
		return nil, err
	}

	telemetry.GetMetrics().RestoresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("entity_type", string(entityType))))

	log.Info().
		Str("entity_type", string(entityType)).
		Int64("entity_id", id).
		Time("cleared_tombstone", outcome.DeletedAt).
		Int64("restored", sumCounts(outcome.Restored)).
		Msg("Restored entity")

	result := &RestoreResult{
		EntityType: entityType,
		EntityID:   id,
		Restored:   outcome.Restored,
	}

	snapshot := auditSnapshot{
		Before:   outcome.Before,
		Restored: outcome.Restored,
	}
	result.AuditID, err = o.audit.Record(ctx, "restore", entityType, id, snapshot, actor)
	result.AuditDegraded = err != nil

	return result, nil
}

// PurgeResult reports a committed purge.
type PurgeResult struct {
	EntityType EntityType
	EntityID   int64
	Deleted    map[string]int64
	Nulled     map[string]int64

	AuditID       uuid.UUID
	AuditDegraded bool
}

// Purge irreversibly removes a soft-deleted entity and all dependents.
// An active entity must be soft-deleted first; that two-step gate is
// re-checked under a row lock inside the transaction.
func (o *Orchestrator) Purge(ctx context.Context, entityType EntityType, id int64, actor ActorContext) (*PurgeResult, error) {
	if err := o.guard.AssertDeletable(entityType, id); err != nil {
		return nil, err
	}

	m := telemetry.GetMetrics()
	started := o.now()

	outcome, err := o.store.Purge(ctx, entityType, id)
	if err != nil {
		m.PurgeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("entity_type", string(entityType))))
		return nil, err
	}

	m.PurgesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("entity_type", string(entityType))))
	m.RowsDeletedTotal.Add(ctx, sumCounts(outcome.Deleted))
	m.RowsNulledTotal.Add(ctx, sumCounts(outcome.Nulled))
	m.PurgeDuration.Record(ctx, float64(time.Since(started).Milliseconds()))

	log.Info().
		Str("entity_type", string(entityType)).
		Int64("entity_id", id).
		Int64("deleted", sumCounts(outcome.Deleted)).
		Int64("nulled", sumCounts(outcome.Nulled)).
		Msg("Purged entity")

	result := &PurgeResult{
		EntityType: entityType,
		EntityID:   id,
		Deleted:    outcome.Deleted,
		Nulled:     outcome.Nulled,
	}

	snapshot := auditSnapshot{
		Before:  outcome.Before,
		Deleted: outcome.Deleted,
		Nulled:  outcome.Nulled,
	}
	result.AuditID, err = o.audit.Record(ctx, "purge", entityType, id, snapshot, actor)
	result.AuditDegraded = err != nil

	return result, nil
}

// SweepFailure is one candidate that could not be purged during a
// retention sweep. Failures are collected, not thrown, so one bad row
// never halts the sweep.
type SweepFailure struct {
	EntityID int64
	Err      error
}

// SweepResult reports one retention sweep.
type SweepResult struct {
	EntityType EntityType
	Candidates int
	Purged     []*PurgeResult
	Failures   []SweepFailure
}

// Sweep finds every purge-eligible entity and purges each in its own
// transaction. Retryable failures (lock contention, connectivity) are
// retried with exponential backoff before being reported.
func (o *Orchestrator) Sweep(ctx context.Context, entityType EntityType, retention time.Duration, actor ActorContext) (*SweepResult, error) {
	candidates, err := o.scanner.FindPurgeCandidates(ctx, entityType, retention)
	if err != nil {
		return nil, err
	}

	telemetry.GetMetrics().SweepCandidatesTotal.Add(ctx, int64(len(candidates)),
		metric.WithAttributes(attribute.String("entity_type", string(entityType))))

	result := &SweepResult{
		EntityType: entityType,
		Candidates: len(candidates),
	}

	for _, c := range candidates {
		purged, err := backoff.Retry(ctx, func() (*PurgeResult, error) {
			res, err := o.Purge(ctx, entityType, c.ID, actor)
			if err != nil && !IsRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			return res, err
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(o.maxTries),
		)
		if err != nil {
			telemetry.GetMetrics().SweepFailuresTotal.Add(ctx, 1)
			log.Warn().
				Err(err).
				Str("entity_type", string(entityType)).
				Int64("entity_id", c.ID).
				Msg("Sweep candidate failed, continuing")
			result.Failures = append(result.Failures, SweepFailure{EntityID: c.ID, Err: err})
			continue
		}
		result.Purged = append(result.Purged, purged)
	}

	log.Info().
		Str("entity_type", string(entityType)).
		Int("candidates", result.Candidates).
		Int("purged", len(result.Purged)).
		Int("failures", len(result.Failures)).
		Msg("Retention sweep complete")

	return result, nil
}

func sumCounts(counts map[string]int64) int64 {
	var total int64
	for _, n := range counts {
		total += n
	}
	return total
}
