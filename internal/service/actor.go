package service

import (
	"nexopos/internal/apperror"

	"github.com/google/uuid"
)

// Actor is the authenticated caller of a core operation. Authorization is
// decided before the call; the core only scopes data by TenantID.
type Actor struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
}

func (a Actor) userRef() *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

// checkTenant hides entities of other tenants behind ErrNotFound.
func (a Actor) checkTenant(entity string, id, tenantID uuid.UUID) error {
	if a.TenantID != tenantID {
		return apperror.NotFound(entity, id)
	}
	return nil
}
