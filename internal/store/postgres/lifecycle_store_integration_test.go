//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wolfeidau/tenantreaper/internal/lifecycle"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	// Start postgres container
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &PoolConfig{
		ConnString:  connString,
		AutoMigrate: true,
	}
	cfg.ApplyDefaults()

	pool, err := NewPool(ctx, cfg)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return pool, cleanup
}

// seedTenant inserts a tenant with one user and a dependent row in
// every table of the dependency spec, returning the tenant and user id.
func seedTenant(t *testing.T, ctx context.Context, pool *pgxpool.Pool, slug string) (int64, int64) {
	t.Helper()

	var tenantID int64
	err := pool.QueryRow(ctx,
		`INSERT INTO tenants (name, slug) VALUES ($1, $2) RETURNING id`, slug, slug).Scan(&tenantID)
	require.NoError(t, err)

	var userID int64
	err = pool.QueryRow(ctx,
		`INSERT INTO users (tenant_id, email, name, role) VALUES ($1, $2, 'Alice', 'owner') RETURNING id`,
		tenantID, slug+"@example.test").Scan(&userID)
	require.NoError(t, err)

	var projectID int64
	err = pool.QueryRow(ctx,
		`INSERT INTO projects (tenant_id, created_by, name) VALUES ($1, $2, 'Payroll') RETURNING id`,
		tenantID, userID).Scan(&projectID)
	require.NoError(t, err)

	var folderID int64
	err = pool.QueryRow(ctx,
		`INSERT INTO folders (tenant_id, owner_id, name) VALUES ($1, $2, 'Reports') RETURNING id`,
		tenantID, userID).Scan(&folderID)
	require.NoError(t, err)

	_, err = pool.Exec(ctx,
		`INSERT INTO files (tenant_id, project_id, folder_id, uploaded_by, name) VALUES ($1, $2, $3, $4, 'q1.pdf')`,
		tenantID, projectID, folderID, userID)
	require.NoError(t, err)

	var taskID int64
	err = pool.QueryRow(ctx,
		`INSERT INTO tasks (tenant_id, project_id, created_by, assigned_to, title) VALUES ($1, $2, $3, $3, 'Close books') RETURNING id`,
		tenantID, projectID, userID).Scan(&taskID)
	require.NoError(t, err)

	_, err = pool.Exec(ctx,
		`INSERT INTO task_comments (task_id, author_id, body) VALUES ($1, $2, 'done')`, taskID, userID)
	require.NoError(t, err)

	_, err = pool.Exec(ctx,
		`INSERT INTO messages (tenant_id, sender_id, recipient_id, body) VALUES ($1, $2, $2, 'hello')`,
		tenantID, userID)
	require.NoError(t, err)

	_, err = pool.Exec(ctx,
		`INSERT INTO tenant_access_grants (tenant_id, user_id, granted_by) VALUES ($1, $2, $2)`,
		tenantID, userID)
	require.NoError(t, err)

	return tenantID, userID
}

func countWhere(t *testing.T, ctx context.Context, pool *pgxpool.Pool, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, pool.QueryRow(ctx, query, args...).Scan(&n))
	return n
}

func TestIntegration_SchemaMatchesSpec(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	require.NoError(t, ValidateSchema(ctx, pool, lifecycle.DefaultSpec()))
}

func TestIntegration_TenantLifecycle(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	store := NewLifecycleStore(pool, lifecycle.DefaultSpec())
	tenantID, _ := seedTenant(t, ctx, pool, "acme")

	at := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("soft delete stamps one timestamp", func(t *testing.T) {
		outcome, err := store.SoftDelete(ctx, lifecycle.EntityTenant, tenantID, at)
		require.NoError(t, err)
		require.Equal(t, int64(1), outcome.Affected["tenants"])
		require.Equal(t, int64(1), outcome.Affected["users"])
		require.Equal(t, int64(1), outcome.Removed["tenant_access_grants"])

		distinct := countWhere(t, ctx, pool, `
			SELECT COUNT(DISTINCT deleted_at) FROM (
				SELECT deleted_at FROM tenants WHERE id = $1
				UNION ALL SELECT deleted_at FROM users WHERE tenant_id = $1
				UNION ALL SELECT deleted_at FROM projects WHERE tenant_id = $1
				UNION ALL SELECT deleted_at FROM files WHERE tenant_id = $1
			) sub`, tenantID)
		require.Equal(t, int64(1), distinct)
	})

	t.Run("duplicate soft delete rejected", func(t *testing.T) {
		_, err := store.SoftDelete(ctx, lifecycle.EntityTenant, tenantID, at.Add(time.Hour))

		var already *lifecycle.AlreadyDeletedError
		require.ErrorAs(t, err, &already)
		require.True(t, already.DeletedAt.Equal(at))
	})

	t.Run("restore clears the subtree", func(t *testing.T) {
		outcome, err := store.Restore(ctx, lifecycle.EntityTenant, tenantID)
		require.NoError(t, err)
		require.Equal(t, int64(1), outcome.Restored["tenants"])
		require.Equal(t, int64(1), outcome.Restored["users"])

		require.Zero(t, countWhere(t, ctx, pool, `SELECT COUNT(*) FROM users WHERE tenant_id = $1 AND deleted_at IS NOT NULL`, tenantID))
	})

	t.Run("purge requires a tombstone", func(t *testing.T) {
		_, err := store.Purge(ctx, lifecycle.EntityTenant, tenantID)

		var notEligible *lifecycle.NotEligibleError
		require.ErrorAs(t, err, &notEligible)
	})

	t.Run("purge removes the whole subtree", func(t *testing.T) {
		_, err := store.SoftDelete(ctx, lifecycle.EntityTenant, tenantID, time.Now().UTC())
		require.NoError(t, err)

		radius, err := store.CountDependents(ctx, lifecycle.EntityTenant, tenantID)
		require.NoError(t, err)

		outcome, err := store.Purge(ctx, lifecycle.EntityTenant, tenantID)
		require.NoError(t, err)
		require.Equal(t, int64(1), outcome.Deleted["tenants"])
		require.Equal(t, int64(1), outcome.Deleted["users"])

		// The pre-purge count is exact: its delete behaviors sum to what
		// the purge reports deleted.
		expectedDeleted := map[string]int64{"tenants": 1}
		for _, b := range []lifecycle.Behavior{lifecycle.Restrict, lifecycle.Cascade} {
			for table, n := range radius[b] {
				expectedDeleted[table] += n
			}
		}
		require.Equal(t, expectedDeleted, outcome.Deleted)

		require.Zero(t, countWhere(t, ctx, pool, `SELECT COUNT(*) FROM tenants WHERE id = $1`, tenantID))
		for _, table := range []string{"users", "projects", "folders", "files", "tasks", "messages", "tenant_access_grants"} {
			n := countWhere(t, ctx, pool, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE tenant_id = $1`, table), tenantID)
			require.Zero(t, n, "table %s should have no rows for the purged tenant", table)
		}
	})
}

func TestIntegration_UserPurgeKeepsNulledRows(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	store := NewLifecycleStore(pool, lifecycle.DefaultSpec())
	tenantID, userID := seedTenant(t, ctx, pool, "globex")

	_, err := store.SoftDelete(ctx, lifecycle.EntityUser, userID, time.Now().UTC())
	require.NoError(t, err)

	outcome, err := store.Purge(ctx, lifecycle.EntityUser, userID)
	require.NoError(t, err)

	require.Equal(t, int64(1), outcome.Deleted["users"])
	require.Equal(t, int64(1), outcome.Deleted["folders"])
	require.Equal(t, int64(1), outcome.Deleted["task_comments"])
	require.Equal(t, int64(1), outcome.Nulled["projects.created_by"])
	require.Equal(t, int64(1), outcome.Nulled["tasks.assigned_to"])

	// Soft-referencing rows survive with the columns cleared.
	require.Equal(t, int64(1), countWhere(t, ctx, pool,
		`SELECT COUNT(*) FROM tasks WHERE tenant_id = $1 AND assigned_to IS NULL AND created_by IS NULL`, tenantID))
	require.Equal(t, int64(1), countWhere(t, ctx, pool,
		`SELECT COUNT(*) FROM projects WHERE tenant_id = $1 AND created_by IS NULL`, tenantID))
}

func TestIntegration_FindPurgeCandidates(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	store := NewLifecycleStore(pool, lifecycle.DefaultSpec())

	oldID, _ := seedTenant(t, ctx, pool, "old-corp")
	freshID, _ := seedTenant(t, ctx, pool, "fresh-corp")

	now := time.Now().UTC().Truncate(time.Microsecond)
	_, err := store.SoftDelete(ctx, lifecycle.EntityTenant, oldID, now.Add(-10*24*time.Hour))
	require.NoError(t, err)
	_, err = store.SoftDelete(ctx, lifecycle.EntityTenant, freshID, now.Add(-time.Hour))
	require.NoError(t, err)

	candidates, err := store.FindPurgeCandidates(ctx, lifecycle.EntityTenant, now.Add(-lifecycle.DefaultRetention))
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, oldID, candidates[0].ID)
}

func TestIntegration_CountDependentsIsReadOnly(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	store := NewLifecycleStore(pool, lifecycle.DefaultSpec())
	tenantID, _ := seedTenant(t, ctx, pool, "initech")

	radius, err := store.CountDependents(ctx, lifecycle.EntityTenant, tenantID)
	require.NoError(t, err)

	require.Equal(t, int64(1), radius[lifecycle.Restrict]["users"])
	require.Equal(t, int64(1), radius[lifecycle.Restrict]["folders"])
	require.Equal(t, int64(1), radius[lifecycle.Cascade]["task_comments"])

	// The seeded message matches both its sender's cascade rule and the
	// tenant cascade; one row, one count.
	require.Equal(t, int64(1), radius[lifecycle.Cascade]["messages"])
	require.Equal(t, int64(1), radius[lifecycle.Cascade]["tenant_access_grants"])

	// Every null-out target in the seed belongs to the tenant itself and
	// is deleted rather than cleared, so nothing counts as nulled.
	require.Empty(t, radius[lifecycle.SetNull])

	// Still all there.
	require.Equal(t, int64(1), countWhere(t, ctx, pool, `SELECT COUNT(*) FROM users WHERE tenant_id = $1`, tenantID))
	require.Equal(t, int64(1), countWhere(t, ctx, pool, `SELECT COUNT(*) FROM folders WHERE tenant_id = $1`, tenantID))
}
