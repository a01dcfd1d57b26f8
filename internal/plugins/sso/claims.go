package sso

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lolerskatez/landio/internal/plugins/users"
	"github.com/lolerskatez/landio/internal/sanitize"
)

// maxUsernameSuffix bounds the numbered-suffix search before falling back to
// a random username.
const maxUsernameSuffix = 1000

// NormalizeClaims reduces a raw claim set into the canonical identity. Group
// membership is collected from a flat "groups" or "roles" claim (string or
// list), Keycloak style realm_access.roles and resource_access.<client>.roles.
// Issuer and Role are left for the caller.
func NormalizeClaims(raw map[string]any, clientID string) Identity {
	id := Identity{
		Subject:           stringClaim(raw, "sub"),
		Email:             strings.ToLower(strings.TrimSpace(stringClaim(raw, "email"))),
		PreferredUsername: strings.TrimSpace(stringClaim(raw, "preferred_username")),
	}

	var groups []string
	groups = append(groups, listClaim(raw["groups"])...)
	groups = append(groups, listClaim(raw["roles"])...)
	if realm, ok := raw["realm_access"].(map[string]any); ok {
		groups = append(groups, listClaim(realm["roles"])...)
	}
	if resources, ok := raw["resource_access"].(map[string]any); ok {
		if client, ok := resources[clientID].(map[string]any); ok {
			groups = append(groups, listClaim(client["roles"])...)
		}
	}
	id.Groups = dedupe(groups)

	id.DisplayName = displayName(raw, id.PreferredUsername, id.Email)
	return id
}

// displayName picks the best available human name.
func displayName(raw map[string]any, preferred, email string) string {
	if name := sanitize.DisplayName(stringClaim(raw, "name")); name != "" {
		return name
	}
	given := stringClaim(raw, "given_name")
	family := stringClaim(raw, "family_name")
	if full := sanitize.DisplayName(strings.TrimSpace(given + " " + family)); full != "" {
		return full
	}
	if p := sanitize.DisplayName(preferred); p != "" {
		return p
	}
	local, _, _ := strings.Cut(email, "@")
	return sanitize.DisplayName(local)
}

func stringClaim(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

// listClaim accepts a JSON string or array of strings. Path-style group
// names ("/admins") lose their leading slash.
func listClaim(v any) []string {
	var items []string
	switch t := v.(type) {
	case string:
		items = strings.Split(t, ",")
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				items = append(items, s)
			}
		}
	case []string:
		items = t
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimPrefix(strings.TrimSpace(item), "/")
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// dedupe removes repeats case-insensitively, keeping first occurrence order.
func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		k := strings.ToLower(s)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}

// --- Role mapping ---

// normalizeGroup folds case and drops separators so "Power-Users",
// "power_users" and "PowerUsers" compare equal.
func normalizeGroup(s string) string {
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(s))
}

// MapRole maps group membership onto a role. A group matches when it
// contains a configured name after normalization, so "landio-admins" matches
// "admin". Admin groups are checked first; no match yields RoleUser.
func MapRole(groups, adminGroups, powerUserGroups []string) users.Role {
	if matchesAny(groups, adminGroups) {
		return users.RoleAdmin
	}
	if matchesAny(groups, powerUserGroups) {
		return users.RolePowerUser
	}
	return users.RoleUser
}

func matchesAny(groups, configured []string) bool {
	for _, g := range groups {
		ng := normalizeGroup(g)
		if ng == "" {
			continue
		}
		for _, c := range configured {
			nc := normalizeGroup(c)
			if nc == "" {
				continue
			}
			if strings.Contains(ng, nc) {
				return true
			}
		}
	}
	return false
}

// --- Username derivation ---

// usernameExists reports whether a username is taken.
type usernameExists func(ctx context.Context, username string) (bool, error)

// DeriveUsername builds a free username from the email local part: "alice",
// then "alice1", "alice2" and so on.
func DeriveUsername(ctx context.Context, exists usernameExists, email string) (string, error) {
	local, _, _ := strings.Cut(users.NormalizeIdentifier(email), "@")
	base := usernameBase(local)

	for i := 0; i < maxUsernameSuffix; i++ {
		candidate := base
		if i > 0 {
			candidate = base + strconv.Itoa(i)
		}
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("checking username %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return base + "-" + uuid.NewString()[:8], nil
}

// usernameBase keeps letters, digits, dot, dash and underscore.
func usernameBase(local string) string {
	var b strings.Builder
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > 80 {
		s = s[:80]
	}
	if s == "" {
		s = "user"
	}
	return s
}
