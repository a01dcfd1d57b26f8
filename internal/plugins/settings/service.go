package settings

import (
	"context"
	"fmt"
	"net/netip"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/lolerskatez/landio/internal/apperror"
)

// SecretMask is returned in place of stored secrets. Submitting it back
// leaves the secret unchanged.
const SecretMask = "********"

// kind is how an editable value is validated.
type kind int

const (
	kindInt kind = iota
	kindBool
	kindText
	kindURL
	kindList
	kindAddrList
	kindSecret
)

// field describes one administrator-editable system setting.
type field struct {
	kind     kind
	min, max int
}

// editable lists the system settings an administrator may change through the
// generic settings endpoint. Enforcement mode and its timestamp are changed
// through their own operation; setup_completed is never editable.
var editable = map[string]field{
	KeyMaxLoginAttempts:       {kind: kindInt, min: 1, max: 100},
	KeyLockoutDurationMinutes: {kind: kindInt, min: 1, max: 24 * 60},
	KeyLockoutEnabled:         {kind: kindBool},

	KeyPasswordMinLength:     {kind: kindInt, min: 8, max: 128},
	KeyPasswordPolicyEnabled: {kind: kindBool},

	KeySessionTimeoutMinutes:    {kind: kindInt, min: 5, max: 30 * 24 * 60},
	KeySSOSessionTimeoutMinutes: {kind: kindInt, min: 5, max: 30 * 24 * 60},

	KeyTwoFAGracePeriodDays: {kind: kindInt, min: 0, max: 365},

	KeyIPAllowlistEnabled: {kind: kindBool},
	KeyIPAllowlist:        {kind: kindAddrList},

	KeySSOEnabled:         {kind: kindBool},
	KeySSOIssuerURL:       {kind: kindURL},
	KeySSOClientID:        {kind: kindText},
	KeySSOClientSecret:    {kind: kindSecret},
	KeySSORedirectURL:     {kind: kindURL},
	KeySSOUsePKCE:         {kind: kindBool},
	KeySSOScopes:          {kind: kindList},
	KeySSOAdminGroups:     {kind: kindList},
	KeySSOPowerUserGroups: {kind: kindList},
}

// IsSSOKey reports whether key configures the SSO provider. Changing one
// requires the federation bridge to reload.
func IsSSOKey(key string) bool {
	return strings.HasPrefix(key, "sso_") && key != KeySSOSessionTimeoutMinutes
}

// SettingsService validates and applies administrator changes to system
// settings. Reads for policy decisions go through the policy package.
type SettingsService interface {
	// Editable returns every editable system value that is set. Secrets are
	// masked.
	Editable(ctx context.Context) (map[string]string, error)

	// Update validates every value first and writes nothing if any is
	// invalid. Returns the sorted keys whose stored value changed.
	Update(ctx context.Context, values map[string]string) ([]string, error)
}

// settingsService implements SettingsService.
type settingsService struct {
	repo SettingsRepository
}

// NewSettingsService creates a new settings service.
func NewSettingsService(repo SettingsRepository) SettingsService {
	return &settingsService{repo: repo}
}

func (s *settingsService) Editable(ctx context.Context) (map[string]string, error) {
	all, err := s.repo.GetAllSystem(ctx)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("reading settings: %w", err))
	}

	out := make(map[string]string, len(editable))
	for key, f := range editable {
		v, ok := all[key]
		if !ok {
			continue
		}
		if f.kind == kindSecret && v != "" {
			v = SecretMask
		}
		out[key] = v
	}
	return out, nil
}

func (s *settingsService) Update(ctx context.Context, values map[string]string) ([]string, error) {
	if len(values) == 0 {
		return nil, apperror.NewBadRequest("no settings given")
	}

	current, err := s.repo.GetAllSystem(ctx)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("reading settings: %w", err))
	}

	// Validate everything before writing anything.
	normalized := make(map[string]string, len(values))
	var problems []string
	for key, raw := range values {
		f, ok := editable[key]
		if !ok {
			problems = append(problems, fmt.Sprintf("%s is not an editable setting", key))
			continue
		}
		if f.kind == kindSecret && raw == SecretMask {
			continue
		}
		v, err := normalize(f, raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		normalized[key] = v
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, apperror.NewValidation("Invalid settings: "+strings.Join(problems, "; ")+".").
			WithDetail("problems", problems)
	}

	var changed []string
	for key, v := range normalized {
		if old, ok := current[key]; ok && old == v {
			continue
		}
		if err := s.repo.SetSystem(ctx, key, v); err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("saving %s: %w", key, err))
		}
		changed = append(changed, key)
	}
	sort.Strings(changed)
	return changed, nil
}

// normalize validates raw against f and returns the canonical stored form.
func normalize(f field, raw string) (string, error) {
	v := strings.TrimSpace(raw)
	switch f.kind {
	case kindInt:
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", fmt.Errorf("must be a whole number")
		}
		if n < f.min || n > f.max {
			return "", fmt.Errorf("must be between %d and %d", f.min, f.max)
		}
		return strconv.Itoa(n), nil

	case kindBool:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return "", fmt.Errorf("must be true or false")
		}
		return strconv.FormatBool(b), nil

	case kindURL:
		if v == "" {
			return "", nil
		}
		u, err := url.Parse(v)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return "", fmt.Errorf("must be an absolute URL")
		}
		if u.Scheme != "https" && u.Scheme != "http" {
			return "", fmt.Errorf("must use http or https")
		}
		return strings.TrimRight(v, "/"), nil

	case kindList:
		return joinList(v), nil

	case kindAddrList:
		list := joinList(v)
		if list == "" {
			return "", nil
		}
		for _, entry := range strings.Split(list, ",") {
			if strings.Contains(entry, "/") {
				if _, err := netip.ParsePrefix(entry); err != nil {
					return "", fmt.Errorf("%q is not a valid CIDR range", entry)
				}
				continue
			}
			if _, err := netip.ParseAddr(entry); err != nil {
				return "", fmt.Errorf("%q is not a valid IP address", entry)
			}
		}
		return list, nil

	default:
		return v, nil
	}
}

// joinList trims the entries of a comma-separated list and drops empty ones.
func joinList(v string) string {
	var parts []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ",")
}
