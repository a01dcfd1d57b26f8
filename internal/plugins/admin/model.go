package admin

import (
	"time"

	"github.com/lolerskatez/landio/internal/plugins/policy"
	"github.com/lolerskatez/landio/internal/plugins/sso"
	"github.com/lolerskatez/landio/internal/plugins/users"
)

// usersPerPage is the number of accounts per page in the user list.
const usersPerPage = 50

// maxGraceDays bounds the enforcement grace period.
const maxGraceDays = 365

// UserSummary is one account as the security page shows it: the stored
// record plus its second-factor and lockout state.
type UserSummary struct {
	*users.User
	TwoFactorEnabled     bool `json:"twofa_enabled"`
	ForceEnrollment      bool `json:"twofa_force_enrollment"`
	Locked               bool `json:"locked"`
	LockRemainingSeconds int  `json:"lock_remaining_seconds,omitempty"`
}

// UserPage is a page of account summaries.
type UserPage struct {
	Users   []UserSummary `json:"users"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
}

// SecurityOverview is the state of the system-wide security policy.
type SecurityOverview struct {
	Enforcement policy.EnforcementMode `json:"twofa_enforcement"`
	GraceDays   int                    `json:"twofa_grace_period_days"`
	EnabledAt   *time.Time             `json:"twofa_enforcement_enabled_at,omitempty"`
	UserCount   int                    `json:"user_count"`
	SSO         sso.Status             `json:"sso"`

	// Settings holds every editable system value, secrets masked.
	Settings map[string]string `json:"settings"`
}

// SettingsResult reports which keys an update changed. SSO is the bridge
// status after a reload, set only when an SSO key changed.
type SettingsResult struct {
	Changed []string    `json:"changed"`
	SSO     *sso.Status `json:"sso,omitempty"`
}

// --- Request DTOs (bound from HTTP requests) ---

// EnforcementRequest is the body of PUT /api/admin/security/enforcement.
// A nil GraceDays leaves the grace period unchanged.
type EnforcementRequest struct {
	Mode      string `json:"mode"`
	GraceDays *int   `json:"grace_days"`
}

// SettingsRequest is the body of PUT /api/admin/settings.
type SettingsRequest struct {
	Values map[string]string `json:"values"`
}

// ForceEnrollmentRequest is the body of PUT /api/admin/users/:id/force-2fa.
type ForceEnrollmentRequest struct {
	Force bool `json:"force"`
}

// RoleRequest is the body of PUT /api/admin/users/:id/role.
type RoleRequest struct {
	Role string `json:"role"`
}

// ActiveRequest is the body of PUT /api/admin/users/:id/active.
type ActiveRequest struct {
	Active bool `json:"active"`
}
