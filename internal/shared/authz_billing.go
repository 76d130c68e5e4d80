package shared

// Billing permissions declared for RBAC.
const (
	PermBillingView     = "billing.invoices.view"
	PermBillingIssue    = "billing.invoices.issue"
	PermBillingAllocate = "billing.movements.allocate"
	PermBillingVoid     = "billing.movements.void"
	PermBillingAnnul    = "billing.invoices.annul"

	PermCollectionsView = "collections.reports.view"
)

// BillingScopes lists all permissions related to the billing module.
func BillingScopes() []string {
	return []string{
		PermBillingView,
		PermBillingIssue,
		PermBillingAllocate,
		PermBillingVoid,
		PermBillingAnnul,
		PermCollectionsView,
	}
}
