package rbac

// Роли участников сделки.
const (
	RoleOwner      = "owner"
	RoleAdvertiser = "advertiser"
	RoleNone       = ""
)

// Permission constants
const (
	PermAcceptDeal = "accept_deal"
	PermCancelDeal = "cancel_deal"
	PermMarkPosted = "mark_posted"
	PermViewDeal   = "view_deal"
	PermPayDeposit = "pay_deposit"
)

// RolePermissions defines what each deal-party role can do.
var RolePermissions = map[string][]string{
	RoleOwner: {
		PermAcceptDeal, PermCancelDeal, PermMarkPosted, PermViewDeal,
	},
	RoleAdvertiser: {
		PermCancelDeal, PermViewDeal, PermPayDeposit,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	for _, p := range RolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}
