package lifecycle

import (
	"context"
	"time"
)

// Store is the transactional persistence contract the engine drives.
// Each mutating method runs as one database transaction: it re-checks
// the entity's lifecycle state under a row lock, executes the cascade,
// and either commits everything or rolls back everything. State errors
// (NotFoundError, AlreadyDeletedError, NotEligibleError) come from the
// in-transaction recheck, never from an earlier unlocked read.
type Store interface {
	// SoftDelete tombstones the entity, and for tenants its users and
	// cascade-owned records, all with the single timestamp at. Access
	// grant rows are hard-deleted. Fails with AlreadyDeletedError if a
	// tombstone already exists.
	SoftDelete(ctx context.Context, entityType EntityType, id int64, at time.Time) (*SoftDeleteOutcome, error)

	// Restore clears the tombstone on the entity and exactly the
	// subtree rows stamped with the same timestamp. Fails with
	// NotEligibleError on an active entity.
	Restore(ctx context.Context, entityType EntityType, id int64) (*RestoreOutcome, error)

	// Purge irreversibly removes a soft-deleted entity and every
	// dependent row per the dependency spec's phased order. Fails with
	// NotEligibleError on an active entity.
	Purge(ctx context.Context, entityType EntityType, id int64) (*PurgeOutcome, error)

	// FindPurgeCandidates lists entities whose tombstone is at or
	// before cutoff, oldest first. Pure read.
	FindPurgeCandidates(ctx context.Context, entityType EntityType, cutoff time.Time) ([]Candidate, error)

	// CountDependents computes, without mutating anything, the row
	// counts a purge of the entity would touch in every dependent
	// table, grouped by behavior. Pure read.
	CountDependents(ctx context.Context, entityType EntityType, id int64) (BlastRadius, error)
}

// Candidate is one soft-deleted entity selected by a retention scan.
type Candidate struct {
	ID        int64
	DeletedAt time.Time
}

// BlastRadius maps behavior -> table (or table.column for SET NULL) ->
// row count that a purge would touch.
type BlastRadius map[Behavior]map[string]int64

// SoftDeleteOutcome reports what one committed soft delete changed.
type SoftDeleteOutcome struct {
	// Before is the pre-operation entity row (*models.Tenant or
	// *models.User), captured inside the transaction.
	Before any

	DeletedAt time.Time

	// Affected counts tombstoned rows per table, including the entity
	// row itself.
	Affected map[string]int64

	// Removed counts hard-deleted join rows (access grants) per table.
	Removed map[string]int64
}

// RestoreOutcome reports what one committed restore changed.
type RestoreOutcome struct {
	Before any

	// DeletedAt is the tombstone timestamp that was cleared.
	DeletedAt time.Time

	// Restored counts un-tombstoned rows per table.
	Restored map[string]int64
}

// PurgeOutcome reports what one committed purge removed or modified.
// Every row appears in exactly one count: rows a tenant purge deletes
// are never also reported as nulled, even when a member user's null-out
// rule matched them first.
type PurgeOutcome struct {
	Before any

	// Deleted counts physically removed rows per table, including the
	// entity row and, for tenants, recursively purged users.
	Deleted map[string]int64

	// Nulled counts cleared references per table.column on rows that
	// survive the purge.
	Nulled map[string]int64
}
