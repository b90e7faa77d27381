package models

import (
	"time"
)

// Tenant represents a customer tenancy. All business records in the
// system hang off a tenant, directly or via its users.
//
// SystemTenantID is the bootstrap tenant seeded by the initial
// migration. Every tenant's bootstrap data references it, so it can
// never be deleted.
const SystemTenantID int64 = 1

type Tenant struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Slug      string     `json:"slug"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"` // Soft delete tombstone
}

// IsDeleted returns true if the tenant carries a soft delete tombstone.
func (t *Tenant) IsDeleted() bool {
	return t.DeletedAt != nil
}
