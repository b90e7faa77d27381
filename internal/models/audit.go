package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit operation types recorded for lifecycle mutations.
const (
	AuditOpSoftDelete = "soft_delete"
	AuditOpRestore    = "restore"
	AuditOpPurge      = "purge"
)

// AuditRecord is one append-only entry in the audit log. The snapshot
// holds the serialized pre-operation entity row plus per-table affected
// counts, so a committed deletion is forensically reconstructable even
// after the rows themselves are gone.
type AuditRecord struct {
	AuditID    uuid.UUID `json:"audit_id"` // UUIDv7
	Operation  string    `json:"operation"`
	EntityType string    `json:"entity_type"`
	EntityID   int64     `json:"entity_id"`

	// Actor attribution, trusted from the caller. ActorID carries no FK
	// so audit entries survive the actor's own purge.
	ActorID        *int64 `json:"actor_id,omitempty"`
	ActorIP        string `json:"actor_ip,omitempty"`
	ActorUserAgent string `json:"actor_user_agent,omitempty"`

	Snapshot  []byte    `json:"snapshot"` // JSON blob
	CreatedAt time.Time `json:"created_at"`
}
