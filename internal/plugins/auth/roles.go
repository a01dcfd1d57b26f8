package auth

import (
	"sort"

	"github.com/lolerskatez/landio/internal/plugins/users"
)

// Capability is a permission checked by route guards. The table below is
// the only place roles gain capabilities; nothing is stored.
type Capability string

const (
	CapViewDashboard    Capability = "dashboard.view"
	CapManageOwnAccount Capability = "account.manage_own"
	CapManageServices   Capability = "services.manage"
	CapViewActivity     Capability = "activity.view"
	CapManageUsers      Capability = "users.manage"
	CapManageSecurity   Capability = "security.manage"
)

var roleCapabilities = map[users.Role][]Capability{
	users.RoleUser: {
		CapViewDashboard,
		CapManageOwnAccount,
	},
	users.RolePowerUser: {
		CapViewDashboard,
		CapManageOwnAccount,
		CapManageServices,
	},
	users.RoleAdmin: {
		CapViewDashboard,
		CapManageOwnAccount,
		CapManageServices,
		CapViewActivity,
		CapManageUsers,
		CapManageSecurity,
	},
}

// Can reports whether role grants want.
func Can(role users.Role, want Capability) bool {
	for _, c := range roleCapabilities[role] {
		if c == want {
			return true
		}
	}
	return false
}

// CapabilitiesOf returns the capabilities of role in a stable order.
func CapabilitiesOf(role users.Role) []Capability {
	caps := append([]Capability(nil), roleCapabilities[role]...)
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}
