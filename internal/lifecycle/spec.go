package lifecycle

import (
	"fmt"
)

// EntityType identifies which kind of entity a lifecycle operation
// targets.
type EntityType string

const (
	EntityTenant EntityType = "tenant"
	EntityUser   EntityType = "user"
)

// Valid returns true for a known entity type.
func (e EntityType) Valid() bool {
	return e == EntityTenant || e == EntityUser
}

// Table returns the database table holding rows of this entity type.
func (e EntityType) Table() string {
	switch e {
	case EntityTenant:
		return "tenants"
	case EntityUser:
		return "users"
	}
	return ""
}

// Behavior is the referential-integrity rule the schema assigns to a
// foreign key column. The engine executes every rule explicitly, even
// the ones the database would enforce natively, so each purge is fully
// counted and auditable.
type Behavior string

const (
	// Restrict rows block deletion of the referenced entity. The engine
	// deletes them ahead of everything else.
	Restrict Behavior = "RESTRICT"
	// Cascade rows are deleted together with the referenced entity.
	Cascade Behavior = "CASCADE"
	// SetNull rows survive with the referencing column nulled.
	SetNull Behavior = "SET NULL"
)

// DependentRecord describes one table/column pair holding a foreign key
// to users.id or tenants.id, and how the schema treats it on delete.
type DependentRecord struct {
	Table    string
	FKColumn string
	Owner    EntityType
	Behavior Behavior

	// Recursive marks entries resolved by purging each referencing
	// entity through its own phases first (users under a tenant).
	Recursive bool

	// ClearEarly marks nullable attribution columns (added_by style)
	// that are nulled in phase 1, before any cascade delete touches
	// the tables they live on.
	ClearEarly bool
}

// Ref returns the table.column form used in logs and nulled-count keys.
func (r DependentRecord) Ref() string {
	return r.Table + "." + r.FKColumn
}

// Spec is the compiled dependency table for the whole schema: one entry
// per foreign key to users.id or tenants.id. It is built once at process
// start, validated, and shared read-only across requests.
type Spec struct {
	records []DependentRecord
}

// NewSpec compiles and validates a dependency spec. Entries must be
// unique per table/column pair and carry a known behavior.
func NewSpec(records []DependentRecord) (*Spec, error) {
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		if r.Table == "" || r.FKColumn == "" {
			return nil, fmt.Errorf("dependency entry missing table or column: %+v", r)
		}
		if !r.Owner.Valid() {
			return nil, fmt.Errorf("dependency entry %s has unknown owner %q", r.Ref(), r.Owner)
		}
		switch r.Behavior {
		case Restrict, Cascade, SetNull:
		default:
			return nil, fmt.Errorf("dependency entry %s has unknown behavior %q", r.Ref(), r.Behavior)
		}
		if r.ClearEarly && r.Behavior != SetNull {
			return nil, fmt.Errorf("dependency entry %s: only SET NULL columns can be cleared early", r.Ref())
		}
		if r.Recursive && r.Behavior != Restrict {
			return nil, fmt.Errorf("dependency entry %s: recursive entries must be RESTRICT", r.Ref())
		}
		key := string(r.Owner) + ":" + r.Ref()
		if seen[key] {
			return nil, fmt.Errorf("duplicate dependency entry %s for owner %s", r.Ref(), r.Owner)
		}
		seen[key] = true
	}

	return &Spec{records: records}, nil
}

// MustSpec is NewSpec for compiled-in specs that are known good.
func MustSpec(records []DependentRecord) *Spec {
	spec, err := NewSpec(records)
	if err != nil {
		panic(err)
	}
	return spec
}

// ListDependents returns the dependent records for an owner type in the
// fixed evaluation order: RESTRICT entries and early-cleared attribution
// columns first, then CASCADE entries in their declared (leaf-first)
// order, then the remaining SET NULL entries.
func (s *Spec) ListDependents(owner EntityType) []DependentRecord {
	var restricts, cascades, nulls []DependentRecord
	for _, r := range s.records {
		if r.Owner != owner {
			continue
		}
		switch {
		case r.Behavior == Restrict, r.ClearEarly:
			restricts = append(restricts, r)
		case r.Behavior == Cascade:
			cascades = append(cascades, r)
		default:
			nulls = append(nulls, r)
		}
	}

	out := make([]DependentRecord, 0, len(restricts)+len(cascades)+len(nulls))
	out = append(out, restricts...)
	out = append(out, cascades...)
	return append(out, nulls...)
}

// HasDependent reports whether the spec carries an entry for table
// under the given owner.
func (s *Spec) HasDependent(owner EntityType, table string) bool {
	for _, r := range s.records {
		if r.Owner == owner && r.Table == table {
			return true
		}
	}
	return false
}

// All returns every entry in declared order, for schema cross-checks.
func (s *Spec) All() []DependentRecord {
	out := make([]DependentRecord, len(s.records))
	copy(out, s.records)
	return out
}

// DefaultSpec returns the dependency table matching the shipped schema
// migrations. Entry order within each behavior group is leaf-first so
// explicit deletes never race the database's native cascades for rows
// the engine still wants to count.
func DefaultSpec() *Spec {
	return MustSpec([]DependentRecord{
		// Foreign keys to users.id.
		{Table: "folders", FKColumn: "owner_id", Owner: EntityUser, Behavior: Restrict},
		{Table: "task_comments", FKColumn: "author_id", Owner: EntityUser, Behavior: Cascade},
		{Table: "messages", FKColumn: "sender_id", Owner: EntityUser, Behavior: Cascade},
		{Table: "tenant_access_grants", FKColumn: "user_id", Owner: EntityUser, Behavior: Cascade},
		{Table: "projects", FKColumn: "created_by", Owner: EntityUser, Behavior: SetNull, ClearEarly: true},
		{Table: "files", FKColumn: "uploaded_by", Owner: EntityUser, Behavior: SetNull, ClearEarly: true},
		{Table: "tasks", FKColumn: "created_by", Owner: EntityUser, Behavior: SetNull, ClearEarly: true},
		{Table: "tenant_access_grants", FKColumn: "granted_by", Owner: EntityUser, Behavior: SetNull, ClearEarly: true},
		{Table: "tasks", FKColumn: "assigned_to", Owner: EntityUser, Behavior: SetNull},
		{Table: "messages", FKColumn: "recipient_id", Owner: EntityUser, Behavior: SetNull},

		// Foreign keys to tenants.id. Users are purged recursively, each
		// through its own phases, before the flat tenant list runs.
		{Table: "users", FKColumn: "tenant_id", Owner: EntityTenant, Behavior: Restrict, Recursive: true},
		{Table: "files", FKColumn: "tenant_id", Owner: EntityTenant, Behavior: Cascade},
		{Table: "tasks", FKColumn: "tenant_id", Owner: EntityTenant, Behavior: Cascade},
		{Table: "messages", FKColumn: "tenant_id", Owner: EntityTenant, Behavior: Cascade},
		{Table: "folders", FKColumn: "tenant_id", Owner: EntityTenant, Behavior: Cascade},
		{Table: "tenant_access_grants", FKColumn: "tenant_id", Owner: EntityTenant, Behavior: Cascade},
		{Table: "projects", FKColumn: "tenant_id", Owner: EntityTenant, Behavior: Cascade},
	})
}

// SoftDeleteTables lists the tables carrying a deleted_at tombstone that
// a tenant soft delete cascades to, in update order. Soft delete leaves
// RESTRICT and SET NULL dependents of individual users untouched so the
// operation stays cheaply reversible.
func SoftDeleteTables() []string {
	return []string{"users", "projects", "files"}
}
