package sso

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/lolerskatez/landio/internal/config"
	"github.com/lolerskatez/landio/internal/plugins/settings"
)

// SettingsReader is the slice of the settings repository used to load the
// provider configuration.
type SettingsReader interface {
	GetAllSystem(ctx context.Context) (map[string]string, error)
}

// defaultScopes are requested when none are configured.
var defaultScopes = []string{oidc.ScopeOpenID, "email", "profile", "groups"}

// LoadProviderConfig builds the provider configuration from system settings,
// falling back to the environment bootstrap values for keys that are unset.
// SSO is enabled when sso_enabled says so, or when it is unset and the
// environment supplies an issuer.
func LoadProviderConfig(ctx context.Context, store SettingsReader, env config.SSOConfig) (ProviderConfig, error) {
	values, err := store.GetAllSystem(ctx)
	if err != nil {
		return ProviderConfig{}, fmt.Errorf("loading sso settings: %w", err)
	}

	str := func(key, def string) string {
		if v, ok := values[key]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return def
	}
	list := func(key string, def []string) []string {
		if v, ok := values[key]; ok && strings.TrimSpace(v) != "" {
			return splitList(v)
		}
		return def
	}
	boolean := func(key string, def bool) bool {
		if v, ok := values[key]; ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b
			}
		}
		return def
	}

	cfg := ProviderConfig{
		IssuerURL:       str(settings.KeySSOIssuerURL, env.IssuerURL),
		ClientID:        str(settings.KeySSOClientID, env.ClientID),
		ClientSecret:    str(settings.KeySSOClientSecret, env.ClientSecret),
		RedirectURL:     str(settings.KeySSORedirectURL, env.RedirectURL),
		Scopes:          list(settings.KeySSOScopes, defaultScopes),
		UsePKCE:         boolean(settings.KeySSOUsePKCE, env.UsePKCE),
		AdminGroups:     list(settings.KeySSOAdminGroups, env.AdminGroups),
		PowerUserGroups: list(settings.KeySSOPowerUserGroups, env.PowerUserGroups),
	}
	cfg.Enabled = boolean(settings.KeySSOEnabled, cfg.IssuerURL != "")
	cfg.Scopes = ensureOpenID(cfg.Scopes)
	return cfg, nil
}

// Validate checks an enabled configuration for the fields discovery and the
// code exchange need.
func (c ProviderConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	var problems []string
	if u, err := url.Parse(c.IssuerURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, "issuer URL must be an absolute URL")
	}
	if c.ClientID == "" {
		problems = append(problems, "client id is required")
	}
	if u, err := url.Parse(c.RedirectURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, "redirect URL must be an absolute URL")
	}
	if !c.UsePKCE && c.ClientSecret == "" {
		problems = append(problems, "a client secret is required when PKCE is off")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// splitList parses a comma-separated setting, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ensureOpenID prepends the openid scope if it is missing.
func ensureOpenID(scopes []string) []string {
	for _, s := range scopes {
		if s == oidc.ScopeOpenID {
			return scopes
		}
	}
	return append([]string{oidc.ScopeOpenID}, scopes...)
}
