package lifecycle

import (
	"github.com/wolfeidau/tenantreaper/internal/models"
)

// ProtectionGuard rejects lifecycle operations against designated
// protected entities and malformed identifiers. The protected set is
// fixed at construction and immutable at runtime; there is no override.
type ProtectionGuard struct {
	protected map[EntityType]map[int64]bool
}

// NewProtectionGuard builds a guard protecting the system tenant plus
// any extra tenant ids from configuration. The system tenant is always
// included; configuration can widen the set, never narrow it.
func NewProtectionGuard(extraTenantIDs ...int64) *ProtectionGuard {
	tenants := map[int64]bool{models.SystemTenantID: true}
	for _, id := range extraTenantIDs {
		tenants[id] = true
	}

	return &ProtectionGuard{
		protected: map[EntityType]map[int64]bool{
			EntityTenant: tenants,
		},
	}
}

// AssertDeletable returns nil if a lifecycle operation may proceed
// against the entity. It runs before any other step of both the soft
// delete and purge paths.
func (g *ProtectionGuard) AssertDeletable(entityType EntityType, id int64) error {
	if id <= 0 {
		return ErrInvalidEntityID
	}
	if g.protected[entityType][id] {
		return &ProtectedEntityError{EntityType: entityType, ID: id}
	}
	return nil
}
