package rbac

import "errors"

var (
	// ErrUnauthorized indicates the caller is not a verified principal in a tenant.
	ErrUnauthorized = errors.New("rbac: unauthorized")
	// ErrForbidden indicates the principal lacks the required permission.
	ErrForbidden = errors.New("rbac: forbidden")
	// ErrUnknownPermission indicates a (feature_area, action) pair outside the catalog.
	ErrUnknownPermission = errors.New("rbac: unknown permission")
	// ErrRoleInUse indicates a role still has assignments and cannot be deleted.
	ErrRoleInUse = errors.New("rbac: role in use")
	// ErrDefaultRoleProtected indicates an attempt to delete or redefine a default role.
	ErrDefaultRoleProtected = errors.New("rbac: default role protected")
	// ErrDuplicateAssignment indicates the principal already holds the role.
	ErrDuplicateAssignment = errors.New("rbac: duplicate assignment")
	// ErrCrossTenantAssignment indicates the role or principal belongs to another tenant.
	ErrCrossTenantAssignment = errors.New("rbac: cross-tenant assignment")
	// ErrRoleNotFound indicates the role does not exist in the tenant.
	ErrRoleNotFound = errors.New("rbac: role not found")
	// ErrDuplicateRoleName indicates another role of the tenant has the same name.
	ErrDuplicateRoleName = errors.New("rbac: duplicate role name")
	// ErrInvalidRole indicates malformed role input.
	ErrInvalidRole = errors.New("rbac: invalid role")
	// ErrTenantProvisioned indicates default roles were already seeded.
	ErrTenantProvisioned = errors.New("rbac: tenant already provisioned")
	// ErrTenantNotProvisioned indicates the tenant has no authorization state yet.
	ErrTenantNotProvisioned = errors.New("rbac: tenant not provisioned")
)

// ErrUnavailable indicates a required collaborator is not configured.
var ErrUnavailable = errors.New("rbac: unavailable")
