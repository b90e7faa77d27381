package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/tenantreaper/internal/lifecycle"
	"github.com/wolfeidau/tenantreaper/internal/models"
)

func seedStore(t *testing.T) (*MemoryStore, int64, int64) {
	t.Helper()

	m := NewMemoryStore(lifecycle.DefaultSpec())
	tenantID := int64(10)
	userID := int64(100)

	m.AddTenant(&models.Tenant{ID: tenantID, Name: "Acme", Slug: "acme"})
	m.AddUser(&models.User{ID: userID, TenantID: tenantID, Email: "alice@acme.test", Name: "Alice"})
	m.AddRow("folders", map[string]int64{"owner_id": userID, "tenant_id": tenantID})
	m.AddRow("task_comments", map[string]int64{"author_id": userID})
	m.AddRow("projects", map[string]int64{"created_by": userID, "tenant_id": tenantID})

	return m, tenantID, userID
}

func TestPurgeFaultLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()

	// A fault injected before any phase must leave the dataset exactly
	// as it was, matching transactional rollback.
	for phase := 1; phase <= 4; phase++ {
		m, _, userID := seedStore(t)

		at := time.Now().UTC()
		_, err := m.SoftDelete(ctx, lifecycle.EntityUser, userID, at)
		require.NoError(t, err)

		m.FailPurgePhase = phase
		_, err = m.Purge(ctx, lifecycle.EntityUser, userID)

		var txErr *lifecycle.TransactionError
		require.ErrorAs(t, err, &txErr, "phase %d", phase)

		u := m.GetUser(userID)
		require.NotNil(t, u, "phase %d: user must survive a failed purge", phase)
		require.NotNil(t, u.DeletedAt, "phase %d: tombstone must survive", phase)
		require.Equal(t, 1, m.TableSize("folders"), "phase %d", phase)
		require.Equal(t, 1, m.TableSize("task_comments"), "phase %d", phase)
		require.Equal(t, int64(1), m.CountRows("projects", "created_by", userID), "phase %d: attribution not cleared", phase)
	}
}

func TestPurgeFaultRetryableFlag(t *testing.T) {
	ctx := context.Background()
	m, _, userID := seedStore(t)

	at := time.Now().UTC()
	_, err := m.SoftDelete(ctx, lifecycle.EntityUser, userID, at)
	require.NoError(t, err)

	m.FailPurgePhase = 2
	m.FailRetryable = true
	m.FailCount = 1

	_, err = m.Purge(ctx, lifecycle.EntityUser, userID)
	require.True(t, lifecycle.IsRetryable(err))

	// The fault budget is spent; the retry succeeds.
	_, err = m.Purge(ctx, lifecycle.EntityUser, userID)
	require.NoError(t, err)
	require.Nil(t, m.GetUser(userID))
}

func TestFindPurgeCandidatesOrderAndCutoff(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(lifecycle.DefaultSpec())

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, deletedAt := range []time.Time{
		base.Add(48 * time.Hour),
		base,
		base.Add(24 * time.Hour),
	} {
		id := int64(100 + i)
		m.AddUser(&models.User{ID: id, TenantID: 10})
		_, err := m.SoftDelete(ctx, lifecycle.EntityUser, id, deletedAt)
		require.NoError(t, err)
	}

	// Cutoff is inclusive and results are oldest first.
	candidates, err := m.FindPurgeCandidates(ctx, lifecycle.EntityUser, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, int64(101), candidates[0].ID)
	require.Equal(t, int64(102), candidates[1].ID)
}

func TestCountDependentsTenantAggregates(t *testing.T) {
	ctx := context.Background()
	m, tenantID, userID := seedStore(t)

	radius, err := m.CountDependents(ctx, lifecycle.EntityTenant, tenantID)
	require.NoError(t, err)

	// One user (restrict, recursive) plus their blocking folder. The
	// folder is attributed to the user's restrict rule, never again to
	// the tenant cascade on the same table.
	require.Equal(t, int64(1), radius[lifecycle.Restrict]["users"])
	require.Equal(t, int64(1), radius[lifecycle.Restrict]["folders"])
	require.Equal(t, int64(1), radius[lifecycle.Cascade]["task_comments"])
	require.Equal(t, int64(1), radius[lifecycle.Cascade]["projects"])

	// The project's created_by attribution is cleared only on rows that
	// survive; this project goes with the tenant, so it is not nulled.
	require.Zero(t, radius[lifecycle.SetNull]["projects.created_by"])

	_, err = m.CountDependents(ctx, lifecycle.EntityUser, userID+999)
	var notFound *lifecycle.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestCountDependentsMatchesPurgeCounts(t *testing.T) {
	ctx := context.Background()
	m, tenantID, userID := seedStore(t)

	// A message both sent by a member user and owned by the tenant must
	// count once, matching what the purge actually deletes.
	m.AddRow("messages", map[string]int64{"sender_id": userID, "tenant_id": tenantID})
	m.AddRow("tenant_access_grants", map[string]int64{"user_id": userID, "tenant_id": tenantID})

	radius, err := m.CountDependents(ctx, lifecycle.EntityTenant, tenantID)
	require.NoError(t, err)
	require.Equal(t, int64(1), radius[lifecycle.Cascade]["messages"])
	require.Equal(t, int64(1), radius[lifecycle.Cascade]["tenant_access_grants"])

	// Grants go at soft delete; recount before the purge so the preview
	// and the purge see the same rows.
	_, err = m.SoftDelete(ctx, lifecycle.EntityTenant, tenantID, time.Now().UTC())
	require.NoError(t, err)
	radius, err = m.CountDependents(ctx, lifecycle.EntityTenant, tenantID)
	require.NoError(t, err)

	result, err := m.Purge(ctx, lifecycle.EntityTenant, tenantID)
	require.NoError(t, err)

	expectedDeleted := map[string]int64{"tenants": 1}
	for _, b := range []lifecycle.Behavior{lifecycle.Restrict, lifecycle.Cascade} {
		for table, n := range radius[b] {
			expectedDeleted[table] += n
		}
	}
	require.Equal(t, expectedDeleted, result.Deleted)
	require.Equal(t, int64(1), result.Deleted["messages"])
	require.Empty(t, result.Nulled)
}
