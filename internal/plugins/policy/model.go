// Package policy turns system and per-user settings into answers about a
// user: may this password be used, is this account locked out, must this
// user enroll a second factor, how long may a session last, and is this
// client address allowed.
//
// Policy is read from the settings store on every call and never cached, so
// an administrator's change applies to the next request.
package policy

import "time"

// Defaults applied when a setting is absent or unparsable.
const (
	DefaultMaxLoginAttempts         = 5
	DefaultLockoutDurationMinutes   = 15
	DefaultPasswordMinLength        = 8
	DefaultSessionTimeoutMinutes    = 60
	DefaultSSOSessionTimeoutMinutes = 1440
	DefaultTwoFAGracePeriodDays     = 7

	// MaxPasswordLength bounds the work done by the password hasher.
	MaxPasswordLength = 128
)

// EnforcementMode is the system-wide second-factor requirement.
type EnforcementMode string

const (
	EnforceNone       EnforcementMode = "none"
	EnforceAdminsOnly EnforcementMode = "admins-only"
	EnforceAllUsers   EnforcementMode = "all-users"
)

// ParseEnforcementMode validates a stored or submitted mode.
func ParseEnforcementMode(s string) (EnforcementMode, bool) {
	switch m := EnforcementMode(s); m {
	case EnforceNone, EnforceAdminsOnly, EnforceAllUsers:
		return m, true
	}
	return EnforceNone, false
}

// Flow distinguishes sessions started by password from those started by SSO.
type Flow int

const (
	FlowPassword Flow = iota
	FlowSSO
)

// LockoutState is the lockout answer for one account at one instant.
type LockoutState struct {
	Enabled   bool
	Threshold int
	Window    time.Duration

	// Locked is true when the failure count has reached Threshold and the
	// last failure is less than Window ago.
	Locked    bool
	Remaining time.Duration
}

// ReachesThreshold reports whether an account with the given failure count
// is at or past the lockout threshold.
func (s LockoutState) ReachesThreshold(failures int) bool {
	return s.Enabled && failures >= s.Threshold
}

// TwoFactorRequirement says whether a user must have a second factor.
type TwoFactorRequirement struct {
	Required bool `json:"required"`

	// Forced means enrollment cannot be deferred: the account predates the
	// enforcement, an administrator flagged it, or its grace period ended.
	Forced bool `json:"forced"`

	// GraceEndsAt is set while a deferrable requirement is running.
	GraceEndsAt *time.Time `json:"grace_ends_at,omitempty"`
}
