// Package auth is the authentication orchestrator. It ties the credential
// store, policy evaluator, second-factor manager, token issuer and SSO bridge
// into the login state machine and the per-request authorization check.
//
// A login moves from AwaitingCredentials to one of: Authenticated (session
// token), AwaitingSecondFactor (verification grant) or EnrollmentRequired
// (enrollment grant, or a session token while a grace period runs).
//
// This is a CORE plugin -- always enabled, cannot be disabled.
package auth

import (
	"time"

	"github.com/lolerskatez/landio/internal/plugins/policy"
	"github.com/lolerskatez/landio/internal/plugins/users"
	"github.com/lolerskatez/landio/internal/token"
)

// LoginStatus is the outcome of a successful credential check.
type LoginStatus string

const (
	StatusAuthenticated        LoginStatus = "authenticated"
	StatusSecondFactorRequired LoginStatus = "second_factor_required"
	StatusEnrollmentRequired   LoginStatus = "enrollment_required"
)

// LoginResult is returned by every operation that can end a login.
type LoginResult struct {
	Status LoginStatus `json:"status"`

	// Session is set when the caller may proceed. During a 2FA grace period
	// it is set together with StatusEnrollmentRequired.
	Session *token.Signed `json:"session,omitempty"`

	// Pending is the verification or enrollment grant.
	Pending *token.Signed `json:"pending,omitempty"`

	User        *users.User `json:"user,omitempty"`
	Forced      bool        `json:"forced,omitempty"`
	GraceEndsAt *time.Time  `json:"grace_ends_at,omitempty"`

	// Created is true when an SSO login created the account.
	Created bool `json:"created,omitempty"`
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID   int64
	Username string
	Email    string
	Name     string
	Role     users.Role

	// User is the freshly resolved account. Nil for enrollment grants,
	// which are accepted without a store lookup.
	User *users.User

	Claims *token.Claims
}

// IsEnrollmentGrant reports whether the principal holds an enrollment token
// rather than a session.
func (p *Principal) IsEnrollmentGrant() bool {
	return p.Claims != nil && p.Claims.Purpose == token.PurposeEnrollment
}

// --- Service Input DTOs (passed from handler to service) ---

// LoginInput is the input for a password login.
type LoginInput struct {
	Identifier string // Username or email.
	Password   string
	IP         string
}

// SetupInput creates the first administrator.
type SetupInput struct {
	Username    string
	Email       string
	DisplayName string
	Password    string
	IP          string
}

// AuthorizeInput is what the per-request check needs.
type AuthorizeInput struct {
	Token string
	IP    string

	// AllowUnenrolled skips forced-enrollment enforcement for the endpoints
	// an unenrolled user needs to enroll.
	AllowUnenrolled bool
}

// ChangePasswordInput changes or sets the caller's password. Current may be
// empty only for a federated account that has no password yet.
type ChangePasswordInput struct {
	Current string
	New     string
	IP      string
}

// TwoFactorOverview combines enrollment state with what policy demands.
type TwoFactorOverview struct {
	Enabled              bool                        `json:"enabled"`
	BackupCodesRemaining int                         `json:"backup_codes_remaining"`
	Requirement          policy.TwoFactorRequirement `json:"requirement"`
}

// CurrentUser is the identity returned to the signed-in user.
type CurrentUser struct {
	User         *users.User       `json:"user"`
	TwoFactor    TwoFactorOverview `json:"two_factor"`
	Capabilities []Capability      `json:"capabilities"`
	Method       token.Method      `json:"auth_method"`
}

// --- Request DTOs (bound from HTTP requests) ---

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// SetupRequest is the body of POST /api/auth/setup.
type SetupRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

// VerifyRequest is the body of POST /api/auth/2fa/verify.
type VerifyRequest struct {
	PendingToken string `json:"pending_token"`
	Code         string `json:"code"`
}

// CodeRequest carries a TOTP or backup code.
type CodeRequest struct {
	Code string `json:"code"`
}

// ConfirmRequest is the body of POST /api/2fa/confirm. Secret is optional;
// when given it must match the pending enrollment.
type ConfirmRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

// ChangePasswordRequest is the body of POST /api/auth/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}
