package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfeidau/tenantreaper/internal/lifecycle"
)

// mapPostgresError maps PostgreSQL-specific errors into the engine's
// transaction error taxonomy. Serialization failures, deadlocks, and
// connectivity errors are marked retryable: the cascade rolled back
// whole and can be reattempted as-is.
func mapPostgresError(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return &lifecycle.TransactionError{Op: op, Err: err}
	}

	switch pgErr.Code {
	case pgerrcode.SerializationFailure,
		pgerrcode.DeadlockDetected,
		pgerrcode.LockNotAvailable:
		return &lifecycle.TransactionError{Op: op, Retryable: true, Err: err}

	case pgerrcode.ConnectionException,
		pgerrcode.ConnectionDoesNotExist,
		pgerrcode.ConnectionFailure,
		pgerrcode.CannotConnectNow,
		pgerrcode.SQLClientUnableToEstablishSQLConnection,
		pgerrcode.AdminShutdown,
		pgerrcode.CrashShutdown:
		return &lifecycle.TransactionError{Op: op, Retryable: true,
			Err: fmt.Errorf("database unavailable: %w", err)}

	case pgerrcode.QueryCanceled:
		// Statement timeout or context cancellation. The transaction
		// rolled back; the entity is unchanged and eligible for retry.
		return &lifecycle.TransactionError{Op: op, Retryable: true,
			Err: fmt.Errorf("query canceled: %w", err)}

	case pgerrcode.ForeignKeyViolation:
		// A dependency the spec does not know about blocked the
		// cascade. Not retryable: the spec and schema have diverged.
		return &lifecycle.TransactionError{Op: op,
			Err: fmt.Errorf("unexpected foreign key constraint %s: %s: %w", pgErr.ConstraintName, pgErr.Detail, err)}

	default:
		return &lifecycle.TransactionError{Op: op,
			Err: fmt.Errorf("postgres error [%s]: %s (detail: %s): %w", pgErr.Code, pgErr.Message, pgErr.Detail, err)}
	}
}
