// Package sso is the OIDC relying party: provider discovery, the
// authorization code flow with state, nonce and optional PKCE, claim
// normalization, group to role mapping and federated account resolution.
//
// Landio is never an identity provider. Pending attempt state lives in Redis
// keyed by a random attempt id, so any instance can finish a login another
// instance started.
package sso

import (
	"time"

	"github.com/lolerskatez/landio/internal/plugins/users"
)

// attemptTTL bounds how long a user may spend at the provider.
const attemptTTL = 10 * time.Minute

// State is the bridge lifecycle.
type State string

const (
	StateUnconfigured State = "unconfigured"
	StateDiscovering  State = "discovering"
	StateReady        State = "ready"
)

// ProviderConfig is the explicit, reloadable provider configuration.
type ProviderConfig struct {
	Enabled         bool     `json:"enabled"`
	IssuerURL       string   `json:"issuer_url"`
	ClientID        string   `json:"client_id"`
	ClientSecret    string   `json:"-"`
	RedirectURL     string   `json:"redirect_url"`
	Scopes          []string `json:"scopes"`
	UsePKCE         bool     `json:"use_pkce"`
	AdminGroups     []string `json:"admin_groups"`
	PowerUserGroups []string `json:"poweruser_groups"`
}

// Identity is the canonical result of a completed callback: the normalized
// claims plus the role they map to.
type Identity struct {
	Issuer            string
	Subject           string
	Email             string
	DisplayName       string
	PreferredUsername string
	Groups            []string
	Role              users.Role
}

// External returns the (issuer, subject) pair used to link the account.
func (i Identity) External() users.ExternalIdentity {
	return users.ExternalIdentity{Issuer: i.Issuer, Subject: i.Subject}
}

// attempt is the server-side record of one pending login.
type attempt struct {
	State     string    `json:"state"`
	Nonce     string    `json:"nonce"`
	Verifier  string    `json:"verifier,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// BeginResult is returned when a login is initiated. AttemptID goes in a
// cookie; AuthURL is where the browser is sent.
type BeginResult struct {
	AttemptID string `json:"-"`
	AuthURL   string `json:"auth_url"`
}

// Status describes the bridge for the admin surface.
type Status struct {
	State     State  `json:"state"`
	Enabled   bool   `json:"enabled"`
	IssuerURL string `json:"issuer_url,omitempty"`
	UsePKCE   bool   `json:"use_pkce"`
	LastError string `json:"last_error,omitempty"`
}
