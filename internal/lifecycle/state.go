package lifecycle

import (
	"time"
)

// DefaultRetention is the grace period a soft-deleted entity remains
// recoverable before it becomes eligible for purge. Callers supply the
// retention period explicitly; this is only the default.
const DefaultRetention = 7 * 24 * time.Hour

// State is the derived lifecycle state of an entity. It is never stored;
// it falls out of the deleted_at tombstone and the retention window.
type State string

const (
	StateActive        State = "active"
	StateSoftDeleted   State = "soft_deleted"
	StatePurgeEligible State = "purge_eligible"
)

// StateOf derives the lifecycle state from a tombstone timestamp. A
// tombstone aged exactly the retention period is already eligible.
func StateOf(deletedAt *time.Time, now time.Time, retention time.Duration) State {
	if deletedAt == nil {
		return StateActive
	}
	if now.Sub(*deletedAt) >= retention {
		return StatePurgeEligible
	}
	return StateSoftDeleted
}
