package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wolfeidau/tenantreaper/internal/lifecycle"
	"github.com/wolfeidau/tenantreaper/internal/models"
)

// Row is one dependent record in the in-memory store: an id plus its
// foreign key columns. A nil FK value models SQL NULL.
type Row struct {
	ID        int64
	FKs       map[string]*int64
	DeletedAt *time.Time
}

// memState is the whole dataset. Mutating operations work on a deep
// copy and swap it in on success, so a failed cascade leaves the store
// exactly as it was, matching the transactional rollback guarantee of
// the SQL implementation.
type memState struct {
	tenants map[int64]*models.Tenant
	users   map[int64]*models.User
	tables  map[string][]*Row
}

func (s *memState) clone() *memState {
	c := &memState{
		tenants: make(map[int64]*models.Tenant, len(s.tenants)),
		users:   make(map[int64]*models.User, len(s.users)),
		tables:  make(map[string][]*Row, len(s.tables)),
	}
	for id, t := range s.tenants {
		ct := *t
		c.tenants[id] = &ct
	}
	for id, u := range s.users {
		cu := *u
		c.users[id] = &cu
	}
	for name, rows := range s.tables {
		crows := make([]*Row, 0, len(rows))
		for _, r := range rows {
			cr := &Row{ID: r.ID, FKs: make(map[string]*int64, len(r.FKs)), DeletedAt: r.DeletedAt}
			for col, v := range r.FKs {
				if v != nil {
					val := *v
					cr.FKs[col] = &val
				} else {
					cr.FKs[col] = nil
				}
			}
			crows = append(crows, cr)
		}
		c.tables[name] = crows
	}
	return c
}

// MemoryStore implements lifecycle.Store in memory, for tests and local
// development without a database.
type MemoryStore struct {
	mu     sync.Mutex
	spec   *lifecycle.Spec
	state  *memState
	nextID int64

	// FailPurgePhase injects a fault before the given purge phase
	// (1-4). The failed purge must leave the store untouched.
	FailPurgePhase int
	// FailRetryable marks injected faults as retryable transaction
	// errors instead of permanent ones.
	FailRetryable bool
	// FailCount limits how many operations the injected fault hits;
	// negative means every one.
	FailCount int
}

// NewMemoryStore creates an empty in-memory store over the dependency
// spec.
func NewMemoryStore(spec *lifecycle.Spec) *MemoryStore {
	return &MemoryStore{
		spec: spec,
		state: &memState{
			tenants: make(map[int64]*models.Tenant),
			users:   make(map[int64]*models.User),
			tables:  make(map[string][]*Row),
		},
		nextID:    1000,
		FailCount: -1,
	}
}

// Seed helpers

// AddTenant inserts a tenant row.
func (m *MemoryStore) AddTenant(t *models.Tenant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ct := *t
	m.state.tenants[t.ID] = &ct
}

// AddUser inserts a user row.
func (m *MemoryStore) AddUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cu := *u
	m.state.users[u.ID] = &cu
}

// AddRow inserts a dependent row and returns its id. FK columns with a
// zero value are stored as NULL.
func (m *MemoryStore) AddRow(table string, fks map[string]int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	r := &Row{ID: m.nextID, FKs: make(map[string]*int64, len(fks))}
	for col, v := range fks {
		if v == 0 {
			r.FKs[col] = nil
		} else {
			val := v
			r.FKs[col] = &val
		}
	}
	m.state.tables[table] = append(m.state.tables[table], r)
	return r.ID
}

// Inspection helpers for tests.

// GetTenant returns a copy of a tenant row, or nil.
func (m *MemoryStore) GetTenant(id int64) *models.Tenant {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.state.tenants[id]
	if !ok {
		return nil
	}
	ct := *t
	return &ct
}

// GetUser returns a copy of a user row, or nil.
func (m *MemoryStore) GetUser(id int64) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.state.users[id]
	if !ok {
		return nil
	}
	cu := *u
	return &cu
}

// CountRows counts rows in table whose FK column equals id.
func (m *MemoryStore) CountRows(table, column string, id int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return countRows(m.state, table, column, id)
}

// TableSize returns the number of rows in a table.
func (m *MemoryStore) TableSize(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.tables[table])
}

// FindRow returns a copy of a row by id, or nil.
func (m *MemoryStore) FindRow(table string, id int64) *Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.state.tables[table] {
		if r.ID == id {
			cr := &Row{ID: r.ID, FKs: make(map[string]*int64, len(r.FKs)), DeletedAt: r.DeletedAt}
			for col, v := range r.FKs {
				if v != nil {
					val := *v
					cr.FKs[col] = &val
				}
			}
			return cr
		}
	}
	return nil
}

// lifecycle.Store implementation

// SoftDelete implements lifecycle.Store.
func (m *MemoryStore) SoftDelete(ctx context.Context, entityType lifecycle.EntityType, id int64, at time.Time) (*lifecycle.SoftDeleteOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state.clone()
	outcome := &lifecycle.SoftDeleteOutcome{
		DeletedAt: at,
		Affected:  map[string]int64{},
		Removed:   map[string]int64{},
	}

	switch entityType {
	case lifecycle.EntityTenant:
		t, ok := st.tenants[id]
		if !ok {
			return nil, &lifecycle.NotFoundError{EntityType: entityType, ID: id}
		}
		if t.DeletedAt != nil {
			return nil, &lifecycle.AlreadyDeletedError{EntityType: entityType, ID: id, DeletedAt: *t.DeletedAt}
		}
		before := *t
		outcome.Before = &before

		t.DeletedAt = &at
		t.UpdatedAt = at
		outcome.Affected["tenants"] = 1

		for _, u := range st.users {
			if u.TenantID == id && u.DeletedAt == nil {
				u.DeletedAt = &at
				u.UpdatedAt = at
				outcome.Affected["users"]++
			}
		}
		for _, table := range []string{"projects", "files"} {
			for _, r := range st.tables[table] {
				if fkEquals(r, "tenant_id", id) && r.DeletedAt == nil {
					r.DeletedAt = &at
					outcome.Affected[table]++
				}
			}
		}
		outcome.Removed["tenant_access_grants"] = deleteRows(st, "tenant_access_grants", "tenant_id", id)

	case lifecycle.EntityUser:
		u, ok := st.users[id]
		if !ok {
			return nil, &lifecycle.NotFoundError{EntityType: entityType, ID: id}
		}
		if u.DeletedAt != nil {
			return nil, &lifecycle.AlreadyDeletedError{EntityType: entityType, ID: id, DeletedAt: *u.DeletedAt}
		}
		before := *u
		outcome.Before = &before

		u.DeletedAt = &at
		u.UpdatedAt = at
		outcome.Affected["users"] = 1

	default:
		return nil, &lifecycle.NotFoundError{EntityType: entityType, ID: id}
	}

	m.state = st
	return outcome, nil
}

// Restore implements lifecycle.Store.
func (m *MemoryStore) Restore(ctx context.Context, entityType lifecycle.EntityType, id int64) (*lifecycle.RestoreOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state.clone()
	outcome := &lifecycle.RestoreOutcome{Restored: map[string]int64{}}

	switch entityType {
	case lifecycle.EntityTenant:
		t, ok := st.tenants[id]
		if !ok {
			return nil, &lifecycle.NotFoundError{EntityType: entityType, ID: id}
		}
		if t.DeletedAt == nil {
			return nil, &lifecycle.NotEligibleError{EntityType: entityType, ID: id, State: lifecycle.StateActive}
		}
		before := *t
		outcome.Before = &before
		at := *t.DeletedAt
		outcome.DeletedAt = at

		t.DeletedAt = nil
		outcome.Restored["tenants"] = 1

		for _, u := range st.users {
			if u.TenantID == id && u.DeletedAt != nil && u.DeletedAt.Equal(at) {
				u.DeletedAt = nil
				outcome.Restored["users"]++
			}
		}
		for _, table := range []string{"projects", "files"} {
			for _, r := range st.tables[table] {
				if fkEquals(r, "tenant_id", id) && r.DeletedAt != nil && r.DeletedAt.Equal(at) {
					r.DeletedAt = nil
					outcome.Restored[table]++
				}
			}
		}

	case lifecycle.EntityUser:
		u, ok := st.users[id]
		if !ok {
			return nil, &lifecycle.NotFoundError{EntityType: entityType, ID: id}
		}
		if u.DeletedAt == nil {
			return nil, &lifecycle.NotEligibleError{EntityType: entityType, ID: id, State: lifecycle.StateActive}
		}
		before := *u
		outcome.Before = &before
		outcome.DeletedAt = *u.DeletedAt

		u.DeletedAt = nil
		outcome.Restored["users"] = 1

	default:
		return nil, &lifecycle.NotFoundError{EntityType: entityType, ID: id}
	}

	m.state = st
	return outcome, nil
}

// Purge implements lifecycle.Store.
func (m *MemoryStore) Purge(ctx context.Context, entityType lifecycle.EntityType, id int64) (*lifecycle.PurgeOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state.clone()
	outcome := &lifecycle.PurgeOutcome{
		Deleted: map[string]int64{},
		Nulled:  map[string]int64{},
	}

	switch entityType {
	case lifecycle.EntityTenant:
		t, ok := st.tenants[id]
		if !ok {
			return nil, &lifecycle.NotFoundError{EntityType: entityType, ID: id}
		}
		if t.DeletedAt == nil {
			return nil, &lifecycle.NotEligibleError{EntityType: entityType, ID: id, State: lifecycle.StateActive}
		}
		before := *t
		outcome.Before = &before

		// Users are purged through their own phases first, then the
		// flat tenant dependency list, then the tenant row.
		var userIDs []int64
		for uid, u := range st.users {
			if u.TenantID == id {
				userIDs = append(userIDs, uid)
			}
		}
		sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })
		for _, uid := range userIDs {
			if err := m.purgeUser(st, uid, id, outcome); err != nil {
				return nil, err
			}
		}

		for phase := 1; phase <= 3; phase++ {
			if err := m.injectFault(phase); err != nil {
				return nil, err
			}
			for _, rec := range m.spec.ListDependents(lifecycle.EntityTenant) {
				if !inPhase(rec, phase) || rec.Recursive {
					continue
				}
				m.applyRecord(st, rec, id, 0, outcome)
			}
		}
		if err := m.injectFault(4); err != nil {
			return nil, err
		}
		delete(st.tenants, id)
		outcome.Deleted["tenants"]++

	case lifecycle.EntityUser:
		u, ok := st.users[id]
		if !ok {
			return nil, &lifecycle.NotFoundError{EntityType: entityType, ID: id}
		}
		if u.DeletedAt == nil {
			return nil, &lifecycle.NotEligibleError{EntityType: entityType, ID: id, State: lifecycle.StateActive}
		}
		before := *u
		outcome.Before = &before

		if err := m.purgeUser(st, id, 0, outcome); err != nil {
			return nil, err
		}

	default:
		return nil, &lifecycle.NotFoundError{EntityType: entityType, ID: id}
	}

	m.state = st
	return outcome, nil
}

// purgeUser runs the 4-phase cascade for one user against the staged
// state, merging counts into outcome. excludeTenant names the tenant
// being purged when the user goes as part of a tenant purge, 0 for a
// standalone user purge.
func (m *MemoryStore) purgeUser(st *memState, id, excludeTenant int64, outcome *lifecycle.PurgeOutcome) error {
	for phase := 1; phase <= 3; phase++ {
		if err := m.injectFault(phase); err != nil {
			return err
		}
		for _, rec := range m.spec.ListDependents(lifecycle.EntityUser) {
			if !inPhase(rec, phase) {
				continue
			}
			m.applyRecord(st, rec, id, excludeTenant, outcome)
		}
	}
	if err := m.injectFault(4); err != nil {
		return err
	}
	delete(st.users, id)
	outcome.Deleted["users"]++
	return nil
}

// FindPurgeCandidates implements lifecycle.Store.
func (m *MemoryStore) FindPurgeCandidates(ctx context.Context, entityType lifecycle.EntityType, cutoff time.Time) ([]lifecycle.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []lifecycle.Candidate
	switch entityType {
	case lifecycle.EntityTenant:
		for _, t := range m.state.tenants {
			if t.DeletedAt != nil && !t.DeletedAt.After(cutoff) {
				out = append(out, lifecycle.Candidate{ID: t.ID, DeletedAt: *t.DeletedAt})
			}
		}
	case lifecycle.EntityUser:
		for _, u := range m.state.users {
			if u.DeletedAt != nil && !u.DeletedAt.After(cutoff) {
				out = append(out, lifecycle.Candidate{ID: u.ID, DeletedAt: *u.DeletedAt})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeletedAt.Before(out[j].DeletedAt) })
	return out, nil
}

// CountDependents implements lifecycle.Store. Tenant counts attribute
// every row once, the way the purge does: rows reachable through a
// member user's delete rules count under the user's entry, the tenant's
// own cascade counts only the remainder, and null-outs count only rows
// that survive the purge.
func (m *MemoryStore) CountDependents(ctx context.Context, entityType lifecycle.EntityType, id int64) (lifecycle.BlastRadius, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

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

	countFor := func(owner lifecycle.EntityType, ownerID int64) {
		for _, rec := range m.spec.ListDependents(owner) {
			if rec.Recursive {
				continue
			}
			n := countRows(m.state, rec.Table, rec.FKColumn, ownerID)
			key := rec.Table
			if rec.Behavior == lifecycle.SetNull {
				key = rec.Ref()
			}
			add(rec.Behavior, key, n)
		}
	}

	switch entityType {
	case lifecycle.EntityTenant:
		if _, ok := m.state.tenants[id]; !ok {
			return nil, &lifecycle.NotFoundError{EntityType: entityType, ID: id}
		}
		members := map[int64]bool{}
		for uid, u := range m.state.users {
			if u.TenantID == id {
				members[uid] = true
			}
		}
		add(lifecycle.Restrict, "users", int64(len(members)))

		memberRef := func(r *Row, column string) bool {
			v := r.FKs[column]
			return v != nil && members[*v]
		}

		for _, rec := range m.spec.ListDependents(lifecycle.EntityUser) {
			var n int64
			for _, r := range m.state.tables[rec.Table] {
				if !memberRef(r, rec.FKColumn) {
					continue
				}
				if rec.Behavior == lifecycle.SetNull && m.spec.HasDependent(lifecycle.EntityTenant, rec.Table) && fkEquals(r, "tenant_id", id) {
					continue
				}
				n++
			}
			key := rec.Table
			if rec.Behavior == lifecycle.SetNull {
				key = rec.Ref()
			}
			add(rec.Behavior, key, n)
		}

		for _, rec := range m.spec.ListDependents(lifecycle.EntityTenant) {
			if rec.Recursive {
				continue
			}
			var n int64
		rows:
			for _, r := range m.state.tables[rec.Table] {
				if !fkEquals(r, rec.FKColumn, id) {
					continue
				}
				for _, urec := range m.spec.ListDependents(lifecycle.EntityUser) {
					if urec.Table == rec.Table && urec.Behavior != lifecycle.SetNull && memberRef(r, urec.FKColumn) {
						continue rows
					}
				}
				n++
			}
			key := rec.Table
			if rec.Behavior == lifecycle.SetNull {
				key = rec.Ref()
			}
			add(rec.Behavior, key, n)
		}
	case lifecycle.EntityUser:
		if _, ok := m.state.users[id]; !ok {
			return nil, &lifecycle.NotFoundError{EntityType: entityType, ID: id}
		}
		countFor(lifecycle.EntityUser, id)
	}

	return radius, nil
}

func (m *MemoryStore) injectFault(phase int) error {
	if m.FailPurgePhase != phase || m.FailCount == 0 {
		return nil
	}
	if m.FailCount > 0 {
		m.FailCount--
	}
	return &lifecycle.TransactionError{
		Op:        "purge",
		Retryable: m.FailRetryable,
		Err:       errors.New("injected fault"),
	}
}

func inPhase(rec lifecycle.DependentRecord, phase int) bool {
	switch phase {
	case 1:
		return rec.Behavior == lifecycle.Restrict || rec.ClearEarly
	case 2:
		return rec.Behavior == lifecycle.Cascade
	case 3:
		return rec.Behavior == lifecycle.SetNull && !rec.ClearEarly
	}
	return false
}

// applyRecord mirrors the SQL cascade statements. During a tenant
// purge, null-outs skip the tenant's own rows: the tenant's cascade
// deletes them later in the same purge, and counting the intermediate
// update would report the row under both Nulled and Deleted.
func (m *MemoryStore) applyRecord(st *memState, rec lifecycle.DependentRecord, id, excludeTenant int64, outcome *lifecycle.PurgeOutcome) {
	switch rec.Behavior {
	case lifecycle.Restrict, lifecycle.Cascade:
		if n := deleteRows(st, rec.Table, rec.FKColumn, id); n > 0 {
			outcome.Deleted[rec.Table] += n
		}
	case lifecycle.SetNull:
		var n int64
		for _, r := range st.tables[rec.Table] {
			if !fkEquals(r, rec.FKColumn, id) {
				continue
			}
			if excludeTenant != 0 && m.spec.HasDependent(lifecycle.EntityTenant, rec.Table) && fkEquals(r, "tenant_id", excludeTenant) {
				continue
			}
			r.FKs[rec.FKColumn] = nil
			n++
		}
		if n > 0 {
			outcome.Nulled[rec.Ref()] += n
		}
	}
}

func fkEquals(r *Row, column string, id int64) bool {
	v := r.FKs[column]
	return v != nil && *v == id
}

func countRows(st *memState, table, column string, id int64) int64 {
	var n int64
	for _, r := range st.tables[table] {
		if fkEquals(r, column, id) {
			n++
		}
	}
	return n
}

func deleteRows(st *memState, table, column string, id int64) int64 {
	rows := st.tables[table]
	kept := rows[:0]
	var n int64
	for _, r := range rows {
		if fkEquals(r, column, id) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	st.tables[table] = kept
	return n
}

// MemoryAuditStore implements lifecycle.AuditStore in memory.
type MemoryAuditStore struct {
	mu      sync.Mutex
	records []*models.AuditRecord

	// FailWrites makes every Record call fail, for degraded-audit tests.
	FailWrites bool
}

// NewMemoryAuditStore creates an empty in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

// Record implements lifecycle.AuditStore.
func (m *MemoryAuditStore) Record(ctx context.Context, rec *models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return errors.New("audit store unavailable")
	}
	m.records = append(m.records, rec)
	return nil
}

// Records returns all recorded audit entries.
func (m *MemoryAuditStore) Records() []*models.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.AuditRecord, len(m.records))
	copy(out, m.records)
	return out
}
