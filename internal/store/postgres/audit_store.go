package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfeidau/tenantreaper/internal/models"
)

// AuditStore persists audit records to PostgreSQL. The audit_log table
// is append-only and carries no foreign keys, so entries outlive the
// rows they describe.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a PostgreSQL-backed audit store over a shared
// connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{
		pool: pool,
	}
}

// Record implements lifecycle.AuditStore.
func (s *AuditStore) Record(ctx context.Context, record *models.AuditRecord) error {
	query := `
		INSERT INTO audit_log (audit_id, operation, entity_type, entity_id, actor_id, actor_ip, actor_user_agent, snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	var ip any
	if record.ActorIP != "" {
		ip = record.ActorIP
	}

	_, err := s.pool.Exec(ctx, query,
		record.AuditID,
		record.Operation,
		record.EntityType,
		record.EntityID,
		record.ActorID,
		ip,
		record.ActorUserAgent,
		record.Snapshot,
		record.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}

// ListByEntity returns audit entries for one entity, newest first. Used
// by the CLI history command.
func (s *AuditStore) ListByEntity(ctx context.Context, entityType string, entityID int64, limit int) ([]*models.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT audit_id, operation, entity_type, entity_id, actor_id, COALESCE(actor_ip::text, ''), actor_user_agent, snapshot, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		err := rows.Scan(
			&r.AuditID,
			&r.Operation,
			&r.EntityType,
			&r.EntityID,
			&r.ActorID,
			&r.ActorIP,
			&r.ActorUserAgent,
			&r.Snapshot,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}

	return records, nil
}
