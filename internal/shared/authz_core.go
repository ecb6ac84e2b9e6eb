package shared

// Core platform permissions.
const (
	PermRolesView   = "roles:view"
	PermRolesCreate = "roles:create"
	PermRolesUpdate = "roles:update"
	PermRolesDelete = "roles:delete"

	PermMembersView   = "members:view"
	PermMembersInvite = "members:invite"
	PermMembersAssign = "members:assign"
	PermMembersRemove = "members:remove"

	PermAuditView   = "audit:view"
	PermAuditExport = "audit:export"

	PermTenantView   = "tenant:view"
	PermTenantUpdate = "tenant:update"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermRolesView,
		PermRolesCreate,
		PermRolesUpdate,
		PermRolesDelete,
		PermMembersView,
		PermMembersInvite,
		PermMembersAssign,
		PermMembersRemove,
		PermAuditView,
		PermAuditExport,
		PermTenantView,
		PermTenantUpdate,
	}
}

// AllScopes concatenates every feature area's scopes.
func AllScopes() []string {
	var scopes []string
	scopes = append(scopes, CoreScopes()...)
	scopes = append(scopes, CRMScopes()...)
	scopes = append(scopes, FinanceScopes()...)
	scopes = append(scopes, FileScopes()...)
	return scopes
}
