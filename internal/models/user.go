package models

import (
	"time"
)

// User roles for display and audit attribution. The engine performs no
// authorization itself; the API layer has already checked privileges.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// User represents a person belonging to a tenant. Users own business
// records (folders, comments, uploads) that the lifecycle engine must
// walk when the user or the owning tenant is removed.
type User struct {
	ID        int64      `json:"id"`
	TenantID  int64      `json:"tenant_id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Role      string     `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"` // Soft delete tombstone
}

// IsDeleted returns true if the user carries a soft delete tombstone.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}
