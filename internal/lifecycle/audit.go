package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantreaper/internal/models"
	"github.com/wolfeidau/tenantreaper/internal/telemetry"
)

// AuditStore persists append-only audit records.
type AuditStore interface {
	Record(ctx context.Context, rec *models.AuditRecord) error
}

// ActorContext attributes an operation to whoever initiated it. The
// engine trusts these values purely for audit; authorization happened
// upstream.
type ActorContext struct {
	ActorID   *int64
	IP        string
	UserAgent string
}

// auditSnapshot is the serialized before-snapshot and outcome counts
// stored with every audit record.
type auditSnapshot struct {
	Before   any              `json:"before"`
	Affected map[string]int64 `json:"affected,omitempty"`
	Removed  map[string]int64 `json:"removed,omitempty"`
	Deleted  map[string]int64 `json:"deleted,omitempty"`
	Nulled   map[string]int64 `json:"nulled,omitempty"`
	Restored map[string]int64 `json:"restored,omitempty"`
}

// AuditRecorder captures a structured snapshot of every committed
// lifecycle mutation. An audit write failure never rolls back or blocks
// the primary operation; it is logged at error severity and surfaced to
// the caller as a degraded confirmation.
type AuditRecorder struct {
	store AuditStore
	now   func() time.Time
}

// NewAuditRecorder creates a recorder over the given audit store.
func NewAuditRecorder(store AuditStore) *AuditRecorder {
	return &AuditRecorder{
		store: store,
		now:   time.Now,
	}
}

// Record persists one audit entry and returns its id. The returned
// error reports a degraded (unaudited) confirmation, not a failure of
// the operation itself.
func (a *AuditRecorder) Record(ctx context.Context, operation string, entityType EntityType, entityID int64, snapshot auditSnapshot, actor ActorContext) (uuid.UUID, error) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to serialize audit snapshot: %w", err)
	}

	rec := &models.AuditRecord{
		AuditID:        uuid.Must(uuid.NewV7()),
		Operation:      operation,
		EntityType:     string(entityType),
		EntityID:       entityID,
		ActorID:        actor.ActorID,
		ActorIP:        actor.IP,
		ActorUserAgent: actor.UserAgent,
		Snapshot:       payload,
		CreatedAt:      a.now(),
	}

	if err := a.store.Record(ctx, rec); err != nil {
		telemetry.GetMetrics().AuditWriteFailuresTotal.Add(ctx, 1)
		log.Error().
			Err(err).
			Str("operation", operation).
			Str("entity_type", string(entityType)).
			Int64("entity_id", entityID).
			Msg("Audit write failed after committed operation, confirmation is degraded")
		return uuid.Nil, fmt.Errorf("audit write failed: %w", err)
	}

	log.Debug().
		Str("audit_id", rec.AuditID.String()).
		Str("operation", operation).
		Str("entity_type", string(entityType)).
		Int64("entity_id", entityID).
		Msg("Recorded audit entry")

	return rec.AuditID, nil
}
