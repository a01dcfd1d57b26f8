// Package settings is the keyed get/set capability behind runtime policy and
// per-user second-factor state. System values live in system_settings; per-user
// values live in user_settings and win over the system value of the same key.
//
// Values are stored as strings. Typed interpretation belongs to the policy
// package.
package settings

// --- Policy keys (system scope unless noted) ---

const (
	KeyMaxLoginAttempts       = "max_login_attempts"
	KeyLockoutDurationMinutes = "lockout_duration_minutes"
	KeyLockoutEnabled         = "lockout_enabled"

	KeyPasswordMinLength     = "password_min_length"
	KeyPasswordPolicyEnabled = "password_policy_enabled"

	KeySessionTimeoutMinutes    = "session_timeout_minutes"
	KeySSOSessionTimeoutMinutes = "sso_session_timeout_minutes"

	KeyTwoFAEnforcement          = "twofa_enforcement"
	KeyTwoFAEnforcementEnabledAt = "twofa_enforcement_enabled_at"
	KeyTwoFAGracePeriodDays      = "twofa_grace_period_days"

	KeyIPAllowlistEnabled = "ip_allowlist_enabled"
	KeyIPAllowlist        = "ip_allowlist"

	KeySetupCompleted = "setup_completed"
)

// --- SSO provider keys (system scope) ---

const (
	KeySSOEnabled         = "sso_enabled"
	KeySSOIssuerURL       = "sso_issuer_url"
	KeySSOClientID        = "sso_client_id"
	KeySSOClientSecret    = "sso_client_secret"
	KeySSORedirectURL     = "sso_redirect_url"
	KeySSOUsePKCE         = "sso_use_pkce"
	KeySSOScopes          = "sso_scopes"
	KeySSOAdminGroups     = "sso_admin_groups"
	KeySSOPowerUserGroups = "sso_poweruser_groups"
)

// --- Per-user keys ---

const (
	// KeyTwoFAForceEnrollment is set by an administrator to demand enrollment
	// without a grace period.
	KeyTwoFAForceEnrollment = "twofa_force_enrollment"

	KeyTwoFAEnabled     = "twofa_enabled"
	KeyTwoFASecret      = "twofa_secret"
	KeyTwoFABackupCodes = "twofa_backup_codes"
)

// TwoFactorKeys is the unit that is written and removed together.
var TwoFactorKeys = []string{KeyTwoFAEnabled, KeyTwoFASecret, KeyTwoFABackupCodes}
