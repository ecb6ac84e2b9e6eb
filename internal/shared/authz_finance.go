package shared

// Invoicing and billing permissions.
const (
	PermInvoicesView   = "invoices:view"
	PermInvoicesCreate = "invoices:create"
	PermInvoicesUpdate = "invoices:update"
	PermInvoicesDelete = "invoices:delete"
	PermInvoicesSend   = "invoices:send"

	PermBillingView   = "billing:view"
	PermBillingManage = "billing:manage"
)

// FinanceScopes returns invoicing and billing permissions.
func FinanceScopes() []string {
	return []string{
		PermInvoicesView,
		PermInvoicesCreate,
		PermInvoicesUpdate,
		PermInvoicesDelete,
		PermInvoicesSend,
		PermBillingView,
		PermBillingManage,
	}
}
