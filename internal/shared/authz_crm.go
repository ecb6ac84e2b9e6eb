package shared

// Client and deal pipeline permissions.
const (
	PermClientsView   = "clients:view"
	PermClientsCreate = "clients:create"
	PermClientsUpdate = "clients:update"
	PermClientsDelete = "clients:delete"

	PermDealsView   = "deals:view"
	PermDealsCreate = "deals:create"
	PermDealsUpdate = "deals:update"
	PermDealsDelete = "deals:delete"
)

// CRMScopes returns client and deal permissions.
func CRMScopes() []string {
	return []string{
		PermClientsView,
		PermClientsCreate,
		PermClientsUpdate,
		PermClientsDelete,
		PermDealsView,
		PermDealsCreate,
		PermDealsUpdate,
		PermDealsDelete,
	}
}
