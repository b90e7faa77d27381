package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantreaper/internal/lifecycle"
	"github.com/wolfeidau/tenantreaper/internal/models"
)

// LifecycleStore implements lifecycle.Store using PostgreSQL. Every
// mutating operation is one transaction: the target row is locked with
// SELECT ... FOR UPDATE and its lifecycle state re-checked before any
// cascade statement runs, so two racing operations on the same entity
// serialize and the loser fails cleanly on the state check.
//
// Table and column names in cascade statements come from the compiled
// dependency spec, which is validated against the live schema at
// startup; they are never taken from request input.
type LifecycleStore struct {
	pool *pgxpool.Pool
	spec *lifecycle.Spec
}

// NewLifecycleStore creates a PostgreSQL-backed lifecycle store over a
// shared connection pool.
func NewLifecycleStore(pool *pgxpool.Pool, spec *lifecycle.Spec) *LifecycleStore {
	return &LifecycleStore{
		pool: pool,
		spec: spec,
	}
}

// SoftDelete implements lifecycle.Store. The single timestamp at stamps
// the entity and, for tenants, every cascaded tombstone, so the whole
// subtree reports one deletion instant.
func (s *LifecycleStore) SoftDelete(ctx context.Context, entityType lifecycle.EntityType, id int64, at time.Time) (*lifecycle.SoftDeleteOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mapPostgresError("soft delete", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	outcome := &lifecycle.SoftDeleteOutcome{
		DeletedAt: at,
		Affected:  map[string]int64{},
		Removed:   map[string]int64{},
	}

	switch entityType {
	case lifecycle.EntityTenant:
		tenant, err := lockTenant(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if tenant.DeletedAt != nil {
			return nil, &lifecycle.AlreadyDeletedError{EntityType: entityType, ID: id, DeletedAt: *tenant.DeletedAt}
		}
		outcome.Before = tenant

		if _, err := tx.Exec(ctx, `UPDATE tenants SET deleted_at = $2, updated_at = $2 WHERE id = $1`, id, at); err != nil {
			return nil, mapPostgresError("soft delete", err)
		}
		outcome.Affected["tenants"] = 1

		tag, err := tx.Exec(ctx, `UPDATE users SET deleted_at = $2, updated_at = $2 WHERE tenant_id = $1 AND deleted_at IS NULL`, id, at)
		if err != nil {
			return nil, mapPostgresError("soft delete", err)
		}
		outcome.Affected["users"] = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `UPDATE projects SET deleted_at = $2, updated_at = $2 WHERE tenant_id = $1 AND deleted_at IS NULL`, id, at)
		if err != nil {
			return nil, mapPostgresError("soft delete", err)
		}
		outcome.Affected["projects"] = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `UPDATE files SET deleted_at = $2 WHERE tenant_id = $1 AND deleted_at IS NULL`, id, at)
		if err != nil {
			return nil, mapPostgresError("soft delete", err)
		}
		outcome.Affected["files"] = tag.RowsAffected()

		// Access grants are pure join rows; keeping them as tombstones
		// would misrepresent active state, so they go immediately.
		tag, err = tx.Exec(ctx, `DELETE FROM tenant_access_grants WHERE tenant_id = $1`, id)
		if err != nil {
			return nil, mapPostgresError("soft delete", err)
		}
		outcome.Removed["tenant_access_grants"] = tag.RowsAffected()

	case lifecycle.EntityUser:
		user, err := lockUser(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if user.DeletedAt != nil {
			return nil, &lifecycle.AlreadyDeletedError{EntityType: entityType, ID: id, DeletedAt: *user.DeletedAt}
		}
		outcome.Before = user

		if _, err := tx.Exec(ctx, `UPDATE users SET deleted_at = $2, updated_at = $2 WHERE id = $1`, id, at); err != nil {
			return nil, mapPostgresError("soft delete", err)
		}
		outcome.Affected["users"] = 1

	default:
		return nil, &lifecycle.NotFoundError{EntityType: entityType, ID: id}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPostgresError("soft delete", err)
	}

	return outcome, nil
}

// Restore implements lifecycle.Store. Only subtree rows stamped with
// the entity's own tombstone timestamp are cleared; rows soft-deleted
// in earlier, independent operations keep their tombstones.
func (s *LifecycleStore) Restore(ctx context.Context, entityType lifecycle.EntityType, id int64) (*lifecycle.RestoreOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mapPostgresError("restore", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	outcome := &lifecycle.RestoreOutcome{Restored: map[string]int64{}}

	switch entityType {
	case lifecycle.EntityTenant:
		tenant, err := lockTenant(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if tenant.DeletedAt == nil {
			return nil, &lifecycle.NotEligibleError{EntityType: entityType, ID: id, State: lifecycle.StateActive}
		}
		outcome.Before = tenant
		at := *tenant.DeletedAt
		outcome.DeletedAt = at

		if _, err := tx.Exec(ctx, `UPDATE tenants SET deleted_at = NULL, updated_at = NOW() WHERE id = $1`, id); err != nil {
			return nil, mapPostgresError("restore", err)
		}
		outcome.Restored["tenants"] = 1

		tag, err := tx.Exec(ctx, `UPDATE users SET deleted_at = NULL, updated_at = NOW() WHERE tenant_id = $1 AND deleted_at = $2`, id, at)
		if err != nil {
			return nil, mapPostgresError("restore", err)
		}
		outcome.Restored["users"] = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `UPDATE projects SET deleted_at = NULL, updated_at = NOW() WHERE tenant_id = $1 AND deleted_at = $2`, id, at)
		if err != nil {
			return nil, mapPostgresError("restore", err)
		}
		outcome.Restored["projects"] = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `UPDATE files SET deleted_at = NULL WHERE tenant_id = $1 AND deleted_at = $2`, id, at)
		if err != nil {
			return nil, mapPostgresError("restore", err)
		}
		outcome.Restored["files"] = tag.RowsAffected()

	case lifecycle.EntityUser:
		user, err := lockUser(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if user.DeletedAt == nil {
			return nil, &lifecycle.NotEligibleError{EntityType: entityType, ID: id, State: lifecycle.StateActive}
		}
		outcome.Before = user
		outcome.DeletedAt = *user.DeletedAt

		if _, err := tx.Exec(ctx, `UPDATE users SET deleted_at = NULL, updated_at = NOW() WHERE id = $1`, id); err != nil {
			return nil, mapPostgresError("restore", err)
		}
		outcome.Restored["users"] = 1

	default:
		return nil, &lifecycle.NotFoundError{EntityType: entityType, ID: id}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPostgresError("restore", err)
	}

	return outcome, nil
}

// Purge implements lifecycle.Store. The dependency spec's evaluation
// order collapses the phases into one ordered pass: restrict deletes
// and early attribution clears, explicit cascade deletes, remaining
// null-outs, then the entity row. Tenants recurse over their users
// first, inside the same transaction.
func (s *LifecycleStore) Purge(ctx context.Context, entityType lifecycle.EntityType, id int64) (*lifecycle.PurgeOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mapPostgresError("purge", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	outcome := &lifecycle.PurgeOutcome{
		Deleted: map[string]int64{},
		Nulled:  map[string]int64{},
	}

	switch entityType {
	case lifecycle.EntityTenant:
		tenant, err := lockTenant(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if tenant.DeletedAt == nil {
			return nil, &lifecycle.NotEligibleError{EntityType: entityType, ID: id, State: lifecycle.StateActive}
		}
		outcome.Before = tenant

		// Lock and purge every user of the tenant, each through its own
		// cascade, before the flat tenant dependency list runs.
		userIDs, err := lockTenantUsers(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		for _, uid := range userIDs {
			if err := s.purgeUserTx(ctx, tx, uid, id, outcome); err != nil {
				return nil, err
			}
		}

		for _, rec := range s.spec.ListDependents(lifecycle.EntityTenant) {
			if rec.Recursive {
				continue
			}
			if err := s.applyDependent(ctx, tx, rec, id, 0, outcome); err != nil {
				return nil, err
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id); err != nil {
			return nil, mapPostgresError("purge", err)
		}
		outcome.Deleted["tenants"]++

	case lifecycle.EntityUser:
		user, err := lockUser(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if user.DeletedAt == nil {
			return nil, &lifecycle.NotEligibleError{EntityType: entityType, ID: id, State: lifecycle.StateActive}
		}
		outcome.Before = user

		if err := s.purgeUserTx(ctx, tx, id, 0, outcome); err != nil {
			return nil, err
		}

	default:
		return nil, &lifecycle.NotFoundError{EntityType: entityType, ID: id}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPostgresError("purge", err)
	}

	log.Debug().
		Str("entity_type", string(entityType)).
		Int64("entity_id", id).
		Interface("deleted", outcome.Deleted).
		Interface("nulled", outcome.Nulled).
		Msg("Purge transaction committed")

	return outcome, nil
}

// purgeUserTx runs the ordered cascade for one user inside an open
// transaction, merging counts into outcome. When the user goes as part
// of a tenant purge, excludeTenant names that tenant; standalone user
// purges pass 0.
func (s *LifecycleStore) purgeUserTx(ctx context.Context, tx pgx.Tx, id, excludeTenant int64, outcome *lifecycle.PurgeOutcome) error {
	for _, rec := range s.spec.ListDependents(lifecycle.EntityUser) {
		if err := s.applyDependent(ctx, tx, rec, id, excludeTenant, outcome); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return mapPostgresError("purge", err)
	}
	outcome.Deleted["users"]++
	return nil
}

// applyDependent executes one dependency spec entry against an open
// transaction. During a tenant purge, null-outs skip rows belonging to
// the tenant itself: those rows are deleted by the tenant's own cascade
// later in the same transaction, and counting the intermediate update
// would report the row under both Nulled and Deleted. The schema's
// native SET NULL rule covers the skipped rows for the instant between
// the user delete and the tenant delete.
func (s *LifecycleStore) applyDependent(ctx context.Context, tx pgx.Tx, rec lifecycle.DependentRecord, id, excludeTenant int64, outcome *lifecycle.PurgeOutcome) error {
	switch rec.Behavior {
	case lifecycle.Restrict, lifecycle.Cascade:
		tag, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, rec.Table, rec.FKColumn), id)
		if err != nil {
			return mapPostgresError("purge", err)
		}
		if n := tag.RowsAffected(); n > 0 {
			outcome.Deleted[rec.Table] += n
		}

	case lifecycle.SetNull:
		query := fmt.Sprintf(`UPDATE %s SET %s = NULL WHERE %s = $1`, rec.Table, rec.FKColumn, rec.FKColumn)
		args := []any{id}
		if excludeTenant != 0 && s.spec.HasDependent(lifecycle.EntityTenant, rec.Table) {
			query += ` AND tenant_id <> $2`
			args = append(args, excludeTenant)
		}
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return mapPostgresError("purge", err)
		}
		if n := tag.RowsAffected(); n > 0 {
			outcome.Nulled[rec.Ref()] += n
		}
	}
	return nil
}

// FindPurgeCandidates implements lifecycle.Store. Pure read, oldest
// tombstones first.
func (s *LifecycleStore) FindPurgeCandidates(ctx context.Context, entityType lifecycle.EntityType, cutoff time.Time) ([]lifecycle.Candidate, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}

	query := fmt.Sprintf(`
		SELECT id, deleted_at
		FROM %s
		WHERE deleted_at IS NOT NULL AND deleted_at <= $1
		ORDER BY deleted_at ASC
	`, entityType.Table())

	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query purge candidates: %w", err)
	}
	defer rows.Close()

	var candidates []lifecycle.Candidate
	for rows.Next() {
		var c lifecycle.Candidate
		if err := rows.Scan(&c.ID, &c.DeletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan purge candidate: %w", err)
		}
		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating purge candidates: %w", err)
	}

	return candidates, nil
}

// CountDependents implements lifecycle.Store. Pure read: computes the
// exact row counts a purge would touch, grouped by behavior, without
// taking locks or mutating anything. For tenants every row is counted
// once, mirroring the purge's attribution: rows reachable through a
// member user's delete rules count under the user's entry, the tenant's
// own cascade counts only the remainder, and null-outs count only rows
// that survive the purge.
func (s *LifecycleStore) CountDependents(ctx context.Context, entityType lifecycle.EntityType, id int64) (lifecycle.BlastRadius, error) {
	radius := lifecycle.BlastRadius{}
	add := func(b lifecycle.Behavior, key string, n int64) {
		if n == 0 {
			return
		}
		if radius[b] == nil {
			radius[b] = map[string]int64{}
		}
		radius[b][key] += n
	}

	countFor := func(owner lifecycle.EntityType, ownerID int64) error {
		for _, rec := range s.spec.ListDependents(owner) {
			if rec.Recursive {
				continue
			}
			var n int64
			query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = $1`, rec.Table, rec.FKColumn)
			if err := s.pool.QueryRow(ctx, query, ownerID).Scan(&n); err != nil {
				return fmt.Errorf("failed to count %s: %w", rec.Ref(), err)
			}
			key := rec.Table
			if rec.Behavior == lifecycle.SetNull {
				key = rec.Ref()
			}
			add(rec.Behavior, key, n)
		}
		return nil
	}

	switch entityType {
	case lifecycle.EntityTenant:
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tenants WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check tenant: %w", err)
		}
		if !exists {
			return nil, &lifecycle.NotFoundError{EntityType: entityType, ID: id}
		}

		var userCount int64
		if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE tenant_id = $1`, id).Scan(&userCount); err != nil {
			return nil, fmt.Errorf("failed to count tenant users: %w", err)
		}
		add(lifecycle.Restrict, "users", userCount)

		const members = `(SELECT id FROM users WHERE tenant_id = $1)`

		for _, rec := range s.spec.ListDependents(lifecycle.EntityUser) {
			query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s IN %s`, rec.Table, rec.FKColumn, members)
			key := rec.Table
			if rec.Behavior == lifecycle.SetNull {
				key = rec.Ref()
				// Rows of this tenant get deleted by the tenant cascade;
				// only surviving rows count as nulled.
				if s.spec.HasDependent(lifecycle.EntityTenant, rec.Table) {
					query += ` AND tenant_id <> $1`
				}
			}
			var n int64
			if err := s.pool.QueryRow(ctx, query, id).Scan(&n); err != nil {
				return nil, fmt.Errorf("failed to count %s: %w", rec.Ref(), err)
			}
			add(rec.Behavior, key, n)
		}

		for _, rec := range s.spec.ListDependents(lifecycle.EntityTenant) {
			if rec.Recursive {
				continue
			}
			// Exclude rows already attributed to a member user's delete
			// rule on the same table; the user phase removes those first.
			query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = $1`, rec.Table, rec.FKColumn)
			for _, urec := range s.spec.ListDependents(lifecycle.EntityUser) {
				if urec.Table == rec.Table && urec.Behavior != lifecycle.SetNull {
					query += fmt.Sprintf(` AND %s NOT IN %s`, urec.FKColumn, members)
				}
			}
			key := rec.Table
			if rec.Behavior == lifecycle.SetNull {
				key = rec.Ref()
			}
			var n int64
			if err := s.pool.QueryRow(ctx, query, id).Scan(&n); err != nil {
				return nil, fmt.Errorf("failed to count %s: %w", rec.Ref(), err)
			}
			add(rec.Behavior, key, n)
		}

	case lifecycle.EntityUser:
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check user: %w", err)
		}
		if !exists {
			return nil, &lifecycle.NotFoundError{EntityType: entityType, ID: id}
		}
		if err := countFor(lifecycle.EntityUser, id); err != nil {
			return nil, err
		}

	default:
		return nil, &lifecycle.NotFoundError{EntityType: entityType, ID: id}
	}

	return radius, nil
}

// lockTenant locks the tenant row for the duration of the transaction
// and returns its current state.
func lockTenant(ctx context.Context, tx pgx.Tx, id int64) (*models.Tenant, error) {
	query := `
		SELECT id, name, slug, created_at, updated_at, deleted_at
		FROM tenants
		WHERE id = $1
		FOR UPDATE
	`

	var t models.Tenant
	err := tx.QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.Name,
		&t.Slug,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.DeletedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &lifecycle.NotFoundError{EntityType: lifecycle.EntityTenant, ID: id}
		}
		return nil, mapPostgresError("lock tenant", err)
	}

	return &t, nil
}

// lockUser locks the user row for the duration of the transaction and
// returns its current state.
func lockUser(ctx context.Context, tx pgx.Tx, id int64) (*models.User, error) {
	query := `
		SELECT id, tenant_id, email, name, role, created_at, updated_at, deleted_at
		FROM users
		WHERE id = $1
		FOR UPDATE
	`

	var u models.User
	err := tx.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.TenantID,
		&u.Email,
		&u.Name,
		&u.Role,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.DeletedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &lifecycle.NotFoundError{EntityType: lifecycle.EntityUser, ID: id}
		}
		return nil, mapPostgresError("lock user", err)
	}

	return &u, nil
}

// lockTenantUsers locks every user row of a tenant and returns their
// ids in a stable order.
func lockTenantUsers(ctx context.Context, tx pgx.Tx, tenantID int64) ([]int64, error) {
	rows, err := tx.Query(ctx, `SELECT id FROM users WHERE tenant_id = $1 ORDER BY id FOR UPDATE`, tenantID)
	if err != nil {
		return nil, mapPostgresError("lock users", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, mapPostgresError("lock users", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, mapPostgresError("lock users", err)
	}

	return ids, nil
}
