package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantreaper/internal/lifecycle"
)

// ValidateSchema compares the live foreign keys that reference the
// lifecycle-owned tables against the compiled dependency spec and fails
// on any divergence: a wrong delete rule, a dependent the spec does not
// know about, or a spec entry the schema no longer has. Run at startup
// so a drifted schema stops the process before any cascade runs against
// it.
func ValidateSchema(ctx context.Context, pool *pgxpool.Pool, spec *lifecycle.Spec) error {
	query := `
		SELECT tc.table_name, kcu.column_name, ccu.table_name AS foreign_table, rc.delete_rule
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.referential_constraints rc
			ON tc.constraint_name = rc.constraint_name
			AND tc.table_schema = rc.constraint_schema
		JOIN information_schema.constraint_column_usage ccu
			ON rc.unique_constraint_name = ccu.constraint_name
			AND rc.unique_constraint_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = 'public'
			AND ccu.table_name IN ('tenants', 'users')
	`

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query schema foreign keys: %w", err)
	}
	defer rows.Close()

	type liveFK struct {
		foreignTable string
		deleteRule   string
	}

	live := map[string]liveFK{}
	for rows.Next() {
		var table, column, foreignTable, rule string
		if err := rows.Scan(&table, &column, &foreignTable, &rule); err != nil {
			return fmt.Errorf("failed to scan foreign key row: %w", err)
		}
		live[table+"."+column] = liveFK{foreignTable: foreignTable, deleteRule: rule}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating foreign key rows: %w", err)
	}

	var problems []string

	expected := map[string]bool{}
	for _, rec := range spec.All() {
		expected[rec.Ref()] = true

		fk, ok := live[rec.Ref()]
		if !ok {
			problems = append(problems, fmt.Sprintf("missing foreign key %s -> %s", rec.Ref(), rec.Owner.Table()))
			continue
		}
		if fk.foreignTable != rec.Owner.Table() {
			problems = append(problems, fmt.Sprintf("%s references %s, expected %s", rec.Ref(), fk.foreignTable, rec.Owner.Table()))
		}
		if fk.deleteRule != string(rec.Behavior) {
			problems = append(problems, fmt.Sprintf("%s has ON DELETE %s, expected %s", rec.Ref(), fk.deleteRule, rec.Behavior))
		}
	}

	for ref, fk := range live {
		if !expected[ref] {
			problems = append(problems, fmt.Sprintf("unexpected foreign key %s -> %s, not in dependency table", ref, fk.foreignTable))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("schema diverges from dependency table: %s", strings.Join(problems, "; "))
	}

	log.Debug().Int("foreign_keys", len(live)).Msg("Schema matches dependency table")

	return nil
}
