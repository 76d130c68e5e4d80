package rbac

import "github.com/vesta-hoa/vesta/internal/shared"

// Roles recognised by the billing engine. The gateway authenticates users and
// forwards the resolved role; the engine only evaluates it.
const (
	RoleAdmin      = "admin"
	RoleTreasurer  = "treasurer"
	RoleAccountant = "accountant"
	RoleConcierge  = "concierge"
)

// grants maps each role to its permissions.
var grants = map[string]map[string]bool{
	RoleAdmin: permissionSet(
		shared.PermBillingView,
		shared.PermBillingIssue,
		shared.PermBillingAllocate,
		shared.PermBillingVoid,
		shared.PermBillingAnnul,
		shared.PermCollectionsView,
	),
	RoleTreasurer: permissionSet(
		shared.PermBillingView,
		shared.PermBillingAllocate,
		shared.PermBillingVoid,
		shared.PermCollectionsView,
	),
	RoleAccountant: permissionSet(
		shared.PermBillingView,
		shared.PermBillingIssue,
		shared.PermCollectionsView,
	),
	RoleConcierge: permissionSet(
		shared.PermBillingView,
	),
}

func permissionSet(perms ...string) map[string]bool {
	set := make(map[string]bool, len(perms))
	for _, p := range perms {
		set[p] = true
	}
	return set
}

// Can reports whether the role holds the permission.
func Can(role, permission string) bool {
	return grants[role][permission]
}

// CanAllocatePayment reports whether the role may record offsetting movements.
func CanAllocatePayment(role string) bool {
	return Can(role, shared.PermBillingAllocate)
}

// CanVoidMovement reports whether the role may void movements.
func CanVoidMovement(role string) bool {
	return Can(role, shared.PermBillingVoid)
}

// Permissions returns the permissions granted to the role.
func Permissions(role string) []string {
	set := grants[role]
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}
