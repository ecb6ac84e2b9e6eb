package rbac

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxRoleNameLength bounds role names.
const MaxRoleNameLength = 64

// Role is a named, tenant-scoped set of permissions.
type Role struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Permissions []Key     `json:"permissions"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PermissionSet returns the role's permissions as a set.
func (r Role) PermissionSet() PermissionSet {
	return NewPermissionSet(r.Permissions...)
}

// RoleInput describes a new custom role.
type RoleInput struct {
	Name        string
	Description string
	Permissions []Key
}

// RoleUpdate describes changes to a role. Nil fields are left untouched; a
// non-nil empty Permissions clears the set.
type RoleUpdate struct {
	Name        *string
	Description *string
	Permissions []Key
}

// Assignment grants one role to one principal within a tenant.
type Assignment struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	PrincipalID uuid.UUID `json:"principal_id"`
	RoleID      uuid.UUID `json:"role_id"`
	AssignedBy  uuid.UUID `json:"assigned_by"`
	AssignedAt  time.Time `json:"assigned_at"`
}

// PrincipalRef names one principal within one tenant.
type PrincipalRef struct {
	TenantID    uuid.UUID `json:"tenant_id"`
	PrincipalID uuid.UUID `json:"principal_id"`
}

// Departure summarises a principal leaving a tenant.
type Departure struct {
	// Left is false when the principal was no longer a member.
	Left    bool `json:"left"`
	Revoked int  `json:"revoked"`
}

// DenyReason explains a negative decision.
type DenyReason string

const (
	ReasonNone              DenyReason = ""
	ReasonUnauthorized      DenyReason = "unauthorized"
	ReasonUnknownPermission DenyReason = "unknown_permission"
	ReasonForbidden         DenyReason = "forbidden"
	ReasonUnavailable       DenyReason = "unavailable"
)

// Decision is the gate's answer for one check.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`
}

// Allow is the positive decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny builds a negative decision.
func Deny(reason DenyReason) Decision { return Decision{Reason: reason} }

// Err maps a decision onto the error taxonomy; nil when allowed. Every denial
// matches ErrForbidden except unauthorized, so callers cannot tell an unknown
// permission from a missing one by status alone.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonUnauthorized:
		return ErrUnauthorized
	case ReasonUnknownPermission:
		return fmt.Errorf("%w: %w", ErrForbidden, ErrUnknownPermission)
	default:
		return ErrForbidden
	}
}
