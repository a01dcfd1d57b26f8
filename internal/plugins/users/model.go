// Package users is the credential store: persistent user records for local
// and federated accounts. It owns the users table and nothing else. Policy,
// second-factor state and tokens live in their own packages.
package users

import (
	"errors"
	"strings"
	"time"
)

// Role is the fixed role enumeration. Capabilities per role are defined in
// code by the auth package, never stored.
type Role string

const (
	RoleAdmin     Role = "admin"
	RolePowerUser Role = "poweruser"
	RoleUser      Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePowerUser, RoleUser:
		return true
	}
	return false
}

// ParseRole converts a stored or submitted value into a Role. Unknown values
// fall back to RoleUser.
func ParseRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r.Valid() {
		return r
	}
	return RoleUser
}

// ExternalIdentity is the (issuer, subject) pair asserted by an OIDC provider.
// Unique together across all accounts.
type ExternalIdentity struct {
	Issuer  string `json:"issuer"`
	Subject string `json:"subject"`
}

// User is a local or federated account. The password hash and the external
// identity are both optional, but never both absent.
type User struct {
	ID                  int64      `json:"id"`
	Username            string     `json:"username"`
	Email               string     `json:"email"`
	DisplayName         string     `json:"display_name"`
	PasswordHash        *string    `json:"-"` // Never expose.
	Role                Role       `json:"role"`
	IsActive            bool       `json:"is_active"`
	FailedLoginAttempts int        `json:"-"`
	LastFailedLoginAt   *time.Time `json:"-"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	LoginCount          int        `json:"login_count"`
	SSOIssuer           *string    `json:"-"`
	SSOSubject          *string    `json:"-"`
	Groups              []string   `json:"groups,omitempty"` // Advisory only.
	CreatedAt           time.Time  `json:"created_at"`
}

// HasPassword reports whether the account can sign in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// External returns the account's external identity, if it has one.
func (u *User) External() (ExternalIdentity, bool) {
	if u.SSOIssuer == nil || u.SSOSubject == nil || *u.SSOIssuer == "" || *u.SSOSubject == "" {
		return ExternalIdentity{}, false
	}
	return ExternalIdentity{Issuer: *u.SSOIssuer, Subject: *u.SSOSubject}, true
}

// IsFederated reports whether the account is linked to an identity provider.
func (u *User) IsFederated() bool {
	_, ok := u.External()
	return ok
}

// ErrNoAuthMethod is returned by Validate for an account that has neither a
// password hash nor an external identity.
var ErrNoAuthMethod = errors.New("user must have a password or an external identity")

// Validate checks the invariants every persisted user must satisfy.
func (u *User) Validate() error {
	if u.Username == "" {
		return errors.New("username is required")
	}
	if len(u.Username) > 100 {
		return errors.New("username must be at most 100 characters")
	}
	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return errors.New("a valid email is required")
	}
	if !u.Role.Valid() {
		return errors.New("invalid role")
	}
	if !u.HasPassword() && !u.IsFederated() {
		return ErrNoAuthMethod
	}
	return nil
}

// NormalizeIdentifier lower-cases and trims a username or email. Applied on
// creation and on every lookup so both sides always agree.
func NormalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NewLocalUser builds a password account.
func NewLocalUser(username, email, displayName, passwordHash string, role Role) (*User, error) {
	u := &User{
		Username:    NormalizeIdentifier(username),
		Email:       NormalizeIdentifier(email),
		DisplayName: strings.TrimSpace(displayName),
		Role:        role,
		IsActive:    true,
		CreatedAt:   time.Now().UTC(),
	}
	if passwordHash != "" {
		u.PasswordHash = &passwordHash
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

// NewFederatedUser builds an account created by a first SSO login. It has no
// password until the user sets one.
func NewFederatedUser(username, email, displayName string, id ExternalIdentity, role Role, groups []string) (*User, error) {
	issuer, subject := id.Issuer, id.Subject
	u := &User{
		Username:    NormalizeIdentifier(username),
		Email:       NormalizeIdentifier(email),
		DisplayName: strings.TrimSpace(displayName),
		Role:        role,
		IsActive:    true,
		Groups:      groups,
		CreatedAt:   time.Now().UTC(),
	}
	if issuer != "" {
		u.SSOIssuer = &issuer
	}
	if subject != "" {
		u.SSOSubject = &subject
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

// UserUpdate is a field subset for Update. Nil fields are left unchanged.
type UserUpdate struct {
	DisplayName  *string
	Email        *string
	PasswordHash *string
	Role         *Role
	IsActive     *bool
}

// empty reports whether the update touches no columns.
func (u UserUpdate) empty() bool {
	return u.DisplayName == nil && u.Email == nil && u.PasswordHash == nil &&
		u.Role == nil && u.IsActive == nil
}

// SyncInput carries the values refreshed from the identity provider on every
// federated login.
type SyncInput struct {
	DisplayName string
	Role        Role
	Groups      []string
	At          time.Time
}
