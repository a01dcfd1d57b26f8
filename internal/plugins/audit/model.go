// Package audit records security events: sign-ins, failures, lockouts,
// second-factor changes, SSO logins and policy changes. Every event is one
// row in activity_log with the acting user (when known), an action tag, a
// free-text detail and the client IP.
//
// Writes are fire-and-forget friendly: a failed audit write is logged but
// never blocks the operation that produced it.
package audit

import "time"

// --- Action Constants ---

const (
	ActionLogin       = "login"
	ActionLoginFailed = "login_failed"
	ActionLogout      = "logout"

	// ActionAccountLocked is logged when a failure pushes the counter to the
	// lockout threshold.
	ActionAccountLocked = "account_locked"

	ActionTwoFAEnabled               = "2fa_enabled"
	ActionTwoFADisabled              = "2fa_disabled"
	ActionTwoFABackupCodeUsed        = "2fa_backup_code_used"
	ActionTwoFABackupCodesRegenerate = "2fa_backup_codes_regenerated"

	ActionSSOLogin  = "sso_login"
	ActionSSOSignup = "sso_signup"

	ActionPasswordChanged = "password_changed"
	ActionTokenRefreshed  = "token_refreshed"
	ActionSetupCompleted  = "setup_completed"

	// ActionPolicyChanged covers every administrative change to security
	// policy, including account unlocks and role changes.
	ActionPolicyChanged = "policy_changed"
)

// Entry is one recorded security event.
type Entry struct {
	ID        int64     `json:"id"`
	UserID    *int64    `json:"user_id,omitempty"` // Nil when no account could be resolved.
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Username is joined from the users table for display. Not stored in
	// activity_log.
	Username string `json:"username,omitempty"`
}

// UserEntry is a convenience constructor for events tied to an account.
func UserEntry(userID int64, action, details, ip string) *Entry {
	return &Entry{UserID: &userID, Action: action, Details: details, IPAddress: ip}
}
