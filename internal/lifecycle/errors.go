package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEntityID is returned for non-positive identifiers before
// any lookup is attempted.
var ErrInvalidEntityID = errors.New("entity id must be a positive integer")

// ProtectedEntityError rejects lifecycle operations against entities on
// the immutable protected list. Never retryable.
type ProtectedEntityError struct {
	EntityType EntityType
	ID         int64
}

func (e *ProtectedEntityError) Error() string {
	return fmt.Sprintf("%s %d is protected and can never be deleted", e.EntityType, e.ID)
}

// NotFoundError indicates the target id does not exist.
type NotFoundError struct {
	EntityType EntityType
	ID         int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.EntityType, e.ID)
}

// AlreadyDeletedError rejects a soft delete of an entity that already
// carries a tombstone. The original timestamp is preserved; a duplicate
// request never writes a second, different one.
type AlreadyDeletedError struct {
	EntityType EntityType
	ID         int64
	DeletedAt  time.Time
}

func (e *AlreadyDeletedError) Error() string {
	return fmt.Sprintf("%s %d was already soft-deleted at %s", e.EntityType, e.ID, e.DeletedAt.Format(time.RFC3339))
}

// NotEligibleError rejects a purge or restore of an entity in the wrong
// lifecycle state. An active entity must be soft-deleted before it can
// be purged; a restore requires an existing tombstone.
type NotEligibleError struct {
	EntityType EntityType
	ID         int64
	State      State
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("%s %d is %s and not eligible for this operation", e.EntityType, e.ID, e.State)
}

// TransactionError wraps a database-level failure that aborted a
// cascade. The whole operation rolled back; Retryable marks failures
// (lock contention, connectivity) worth retrying as-is.
type TransactionError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transaction failure worth
// retrying once the underlying cause clears.
func IsRetryable(err error) bool {
	var txErr *TransactionError
	return errors.As(err, &txErr) && txErr.Retryable
}
