package policy

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/lolerskatez/landio/internal/apperror"
	"github.com/lolerskatez/landio/internal/plugins/settings"
	"github.com/lolerskatez/landio/internal/plugins/users"
)

// SettingsStore is the slice of the settings repository the evaluator uses.
type SettingsStore interface {
	Get(ctx context.Context, userID int64, key string) (string, bool, error)
	SetSystem(ctx context.Context, key, value string) error
	SetUser(ctx context.Context, userID int64, key, value string) error
	DeleteUserValues(ctx context.Context, userID int64, keys ...string) error
}

// LockoutResetter clears an account's failure counter when its lockout
// window has passed.
type LockoutResetter interface {
	ResetFailedLogins(ctx context.Context, id int64) error
}

// Evaluator answers policy questions. All methods read settings live.
type Evaluator interface {
	// Typed reads with defaults. userID 0 reads the system value only.
	String(ctx context.Context, userID int64, key, def string) (string, error)
	Int(ctx context.Context, userID int64, key string, def int) (int, error)
	Bool(ctx context.Context, userID int64, key string, def bool) (bool, error)
	Minutes(ctx context.Context, userID int64, key string, def int) (time.Duration, error)

	// CheckPassword returns a validation error listing every unmet rule.
	CheckPassword(ctx context.Context, password string) error

	// Lockout reports the lockout state of user at now. When the window has
	// expired with the counter at threshold, the counter is reset and user
	// is updated in place.
	Lockout(ctx context.Context, user *users.User, now time.Time) (LockoutState, error)

	// TwoFactorRequirement reports whether user must enroll a second factor.
	TwoFactorRequirement(ctx context.Context, user *users.User, now time.Time) (TwoFactorRequirement, error)

	// Enforcement returns the current system-wide mode.
	Enforcement(ctx context.Context) (EnforcementMode, error)

	// SetEnforcement changes the mode. Moving from none to an enforcing mode
	// stamps the enabled-at time. graceDays < 0 leaves it unchanged.
	SetEnforcement(ctx context.Context, mode EnforcementMode, graceDays int, now time.Time) error

	// SetForceEnrollment flags or unflags a user for immediate enrollment.
	SetForceEnrollment(ctx context.Context, userID int64, force bool) error

	// SessionTimeout is the session token lifetime for a flow.
	SessionTimeout(ctx context.Context, flow Flow) (time.Duration, error)

	// IPAllowed reports whether ip may reach authorized endpoints.
	IPAllowed(ctx context.Context, ip string) (bool, error)
}

// evaluator implements Evaluator.
type evaluator struct {
	settings SettingsStore
	resetter LockoutResetter
}

// NewEvaluator creates a policy evaluator.
func NewEvaluator(store SettingsStore, resetter LockoutResetter) Evaluator {
	return &evaluator{settings: store, resetter: resetter}
}

// --- Typed reads ---

func (e *evaluator) String(ctx context.Context, userID int64, key, def string) (string, error) {
	v, ok, err := e.settings.Get(ctx, userID, key)
	if err != nil {
		return "", fmt.Errorf("reading setting %q: %w", key, err)
	}
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return def, nil
	}
	return v, nil
}

func (e *evaluator) Int(ctx context.Context, userID int64, key string, def int) (int, error) {
	v, err := e.String(ctx, userID, key, "")
	if err != nil || v == "" {
		return def, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring non-numeric setting", slog.String("key", key), slog.String("value", v))
		return def, nil
	}
	return n, nil
}

func (e *evaluator) Bool(ctx context.Context, userID int64, key string, def bool) (bool, error) {
	v, err := e.String(ctx, userID, key, "")
	if err != nil || v == "" {
		return def, err
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		slog.Warn("ignoring non-boolean setting", slog.String("key", key), slog.String("value", v))
		return def, nil
	}
	return b, nil
}

// Minutes reads an integer minute count. Values below 1 fall back to def.
func (e *evaluator) Minutes(ctx context.Context, userID int64, key string, def int) (time.Duration, error) {
	n, err := e.Int(ctx, userID, key, def)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		n = def
	}
	return time.Duration(n) * time.Minute, nil
}

// --- Passwords ---

func (e *evaluator) CheckPassword(ctx context.Context, password string) error {
	minLen, err := e.Int(ctx, 0, settings.KeyPasswordMinLength, DefaultPasswordMinLength)
	if err != nil {
		return err
	}
	if minLen < DefaultPasswordMinLength {
		minLen = DefaultPasswordMinLength
	}
	complexity, err := e.Bool(ctx, 0, settings.KeyPasswordPolicyEnabled, true)
	if err != nil {
		return err
	}

	var problems []string
	length := len([]rune(password))
	if length < minLen {
		problems = append(problems, fmt.Sprintf("at least %d characters", minLen))
	}
	if len(password) > MaxPasswordLength {
		problems = append(problems, fmt.Sprintf("at most %d bytes", MaxPasswordLength))
	}

	if complexity {
		var upper, lower, digit, symbol bool
		for _, r := range password {
			switch {
			case unicode.IsUpper(r):
				upper = true
			case unicode.IsLower(r):
				lower = true
			case unicode.IsDigit(r):
				digit = true
			case unicode.IsPunct(r) || unicode.IsSymbol(r):
				symbol = true
			}
		}
		if !upper {
			problems = append(problems, "an uppercase letter")
		}
		if !lower {
			problems = append(problems, "a lowercase letter")
		}
		if !digit {
			problems = append(problems, "a digit")
		}
		if !symbol {
			problems = append(problems, "a symbol")
		}
	}

	if len(problems) > 0 {
		return apperror.NewValidation("Password must contain "+strings.Join(problems, ", ")+".").
			WithDetail("unmet", problems)
	}
	return nil
}

// --- Lockout ---

func (e *evaluator) Lockout(ctx context.Context, user *users.User, now time.Time) (LockoutState, error) {
	enabled, err := e.Bool(ctx, 0, settings.KeyLockoutEnabled, true)
	if err != nil {
		return LockoutState{}, err
	}
	threshold, err := e.Int(ctx, 0, settings.KeyMaxLoginAttempts, DefaultMaxLoginAttempts)
	if err != nil {
		return LockoutState{}, err
	}
	if threshold < 1 {
		threshold = DefaultMaxLoginAttempts
	}
	window, err := e.Minutes(ctx, 0, settings.KeyLockoutDurationMinutes, DefaultLockoutDurationMinutes)
	if err != nil {
		return LockoutState{}, err
	}

	state := LockoutState{Enabled: enabled, Threshold: threshold, Window: window}
	if !enabled || user.FailedLoginAttempts < threshold || user.LastFailedLoginAt == nil {
		return state, nil
	}

	elapsed := now.Sub(*user.LastFailedLoginAt)
	if elapsed < window {
		state.Locked = true
		state.Remaining = window - elapsed
		return state, nil
	}

	// Window expired: the counter starts over.
	if err := e.resetter.ResetFailedLogins(ctx, user.ID); err != nil {
		return LockoutState{}, fmt.Errorf("resetting expired lockout: %w", err)
	}
	user.FailedLoginAttempts = 0
	user.LastFailedLoginAt = nil
	return state, nil
}

// --- Second factor ---

func (e *evaluator) Enforcement(ctx context.Context) (EnforcementMode, error) {
	raw, err := e.String(ctx, 0, settings.KeyTwoFAEnforcement, string(EnforceNone))
	if err != nil {
		return EnforceNone, err
	}
	mode, ok := ParseEnforcementMode(strings.ToLower(raw))
	if !ok {
		slog.Warn("unknown 2fa enforcement mode, treating as none", slog.String("value", raw))
	}
	return mode, nil
}

func (e *evaluator) TwoFactorRequirement(ctx context.Context, user *users.User, now time.Time) (TwoFactorRequirement, error) {
	flagged, err := e.Bool(ctx, user.ID, settings.KeyTwoFAForceEnrollment, false)
	if err != nil {
		return TwoFactorRequirement{}, err
	}
	if flagged {
		return TwoFactorRequirement{Required: true, Forced: true}, nil
	}

	mode, err := e.Enforcement(ctx)
	if err != nil {
		return TwoFactorRequirement{}, err
	}
	switch mode {
	case EnforceAllUsers:
	case EnforceAdminsOnly:
		if user.Role != users.RoleAdmin {
			return TwoFactorRequirement{}, nil
		}
	default:
		return TwoFactorRequirement{}, nil
	}

	req := TwoFactorRequirement{Required: true}

	rawEnabledAt, err := e.String(ctx, 0, settings.KeyTwoFAEnforcementEnabledAt, "")
	if err != nil {
		return TwoFactorRequirement{}, err
	}
	enabledAt, perr := time.Parse(time.RFC3339, rawEnabledAt)
	if perr != nil {
		// Without a start time no grace period can be computed.
		req.Forced = true
		return req, nil
	}
	if user.CreatedAt.Before(enabledAt) {
		req.Forced = true
		return req, nil
	}

	days, err := e.Int(ctx, 0, settings.KeyTwoFAGracePeriodDays, DefaultTwoFAGracePeriodDays)
	if err != nil {
		return TwoFactorRequirement{}, err
	}
	if days < 0 {
		days = 0
	}
	graceEnds := user.CreatedAt.Add(time.Duration(days) * 24 * time.Hour)
	if !now.Before(graceEnds) {
		req.Forced = true
		return req, nil
	}
	req.GraceEndsAt = &graceEnds
	return req, nil
}

func (e *evaluator) SetEnforcement(ctx context.Context, mode EnforcementMode, graceDays int, now time.Time) error {
	if _, ok := ParseEnforcementMode(string(mode)); !ok {
		return apperror.NewValidation("enforcement mode must be one of none, admins-only, all-users")
	}

	previous, err := e.Enforcement(ctx)
	if err != nil {
		return err
	}

	if err := e.settings.SetSystem(ctx, settings.KeyTwoFAEnforcement, string(mode)); err != nil {
		return fmt.Errorf("saving enforcement mode: %w", err)
	}
	if previous == EnforceNone && mode != EnforceNone {
		stamp := now.UTC().Format(time.RFC3339)
		if err := e.settings.SetSystem(ctx, settings.KeyTwoFAEnforcementEnabledAt, stamp); err != nil {
			return fmt.Errorf("saving enforcement timestamp: %w", err)
		}
	}
	if graceDays >= 0 {
		if err := e.settings.SetSystem(ctx, settings.KeyTwoFAGracePeriodDays, strconv.Itoa(graceDays)); err != nil {
			return fmt.Errorf("saving grace period: %w", err)
		}
	}
	return nil
}

func (e *evaluator) SetForceEnrollment(ctx context.Context, userID int64, force bool) error {
	if force {
		if err := e.settings.SetUser(ctx, userID, settings.KeyTwoFAForceEnrollment, "true"); err != nil {
			return fmt.Errorf("flagging forced enrollment: %w", err)
		}
		return nil
	}
	if err := e.settings.DeleteUserValues(ctx, userID, settings.KeyTwoFAForceEnrollment); err != nil {
		return fmt.Errorf("clearing forced enrollment: %w", err)
	}
	return nil
}

// --- Sessions ---

func (e *evaluator) SessionTimeout(ctx context.Context, flow Flow) (time.Duration, error) {
	if flow == FlowSSO {
		return e.Minutes(ctx, 0, settings.KeySSOSessionTimeoutMinutes, DefaultSSOSessionTimeoutMinutes)
	}
	return e.Minutes(ctx, 0, settings.KeySessionTimeoutMinutes, DefaultSessionTimeoutMinutes)
}

// --- IP allowlist ---

// IPAllowed checks ip against the comma-separated allowlist of addresses and
// CIDR prefixes. Loopback is always allowed. An enabled list with no usable
// entries allows everyone.
func (e *evaluator) IPAllowed(ctx context.Context, ip string) (bool, error) {
	enabled, err := e.Bool(ctx, 0, settings.KeyIPAllowlistEnabled, false)
	if err != nil || !enabled {
		return true, err
	}

	addr, perr := netip.ParseAddr(strings.TrimSpace(ip))
	if perr != nil {
		return false, nil
	}
	addr = addr.Unmap()
	if addr.IsLoopback() {
		return true, nil
	}

	raw, err := e.String(ctx, 0, settings.KeyIPAllowlist, "")
	if err != nil {
		return false, err
	}

	usable := 0
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				slog.Warn("skipping malformed allowlist entry", slog.String("entry", entry))
				continue
			}
			usable++
			if prefix.Masked().Contains(addr) {
				return true, nil
			}
			continue
		}
		allowed, err := netip.ParseAddr(entry)
		if err != nil {
			slog.Warn("skipping malformed allowlist entry", slog.String("entry", entry))
			continue
		}
		usable++
		if allowed.Unmap() == addr {
			return true, nil
		}
	}

	if usable == 0 {
		slog.Warn("ip allowlist is enabled but has no usable entries; allowing all")
		return true, nil
	}
	return false, nil
}
