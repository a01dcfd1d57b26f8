package admin

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/lolerskatez/landio/internal/apperror"
	"github.com/lolerskatez/landio/internal/plugins/audit"
	"github.com/lolerskatez/landio/internal/plugins/auth"
	"github.com/lolerskatez/landio/internal/plugins/policy"
	"github.com/lolerskatez/landio/internal/plugins/settings"
	"github.com/lolerskatez/landio/internal/plugins/sso"
	"github.com/lolerskatez/landio/internal/plugins/twofactor"
	"github.com/lolerskatez/landio/internal/plugins/users"
)

// SecurityService handles administrative changes to security policy and to
// other users' accounts. Every change is recorded as policy_changed.
type SecurityService interface {
	// Overview returns the current policy, the SSO bridge status and the
	// editable settings.
	Overview(ctx context.Context) (*SecurityOverview, error)

	// ListUsers returns a page (1-indexed) of account summaries.
	ListUsers(ctx context.Context, page int) (*UserPage, error)

	// SetEnforcement changes the system-wide second-factor mode. A nil
	// graceDays leaves the grace period unchanged.
	SetEnforcement(ctx context.Context, actor *auth.Principal, mode string, graceDays *int, ip string) error

	// SetForceEnrollment flags or unflags an account for immediate
	// enrollment.
	SetForceEnrollment(ctx context.Context, actor *auth.Principal, userID int64, force bool, ip string) error

	// UnlockUser clears an account's failed login counter.
	UnlockUser(ctx context.Context, actor *auth.Principal, userID int64, ip string) error

	// DisableTwoFactor removes another account's second factor.
	DisableTwoFactor(ctx context.Context, actor *auth.Principal, userID int64, ip string) error

	// SetUserActive activates or deactivates an account. Administrators
	// cannot deactivate themselves.
	SetUserActive(ctx context.Context, actor *auth.Principal, userID int64, active bool, ip string) error

	// SetUserRole changes an account's role. Administrators cannot change
	// their own role.
	SetUserRole(ctx context.Context, actor *auth.Principal, userID int64, role string, ip string) error

	// UpdateSettings validates and applies system settings. A change to any
	// SSO key reloads the federation bridge.
	UpdateSettings(ctx context.Context, actor *auth.Principal, values map[string]string, ip string) (*SettingsResult, error)

	// ReloadSSO re-reads the SSO configuration and runs discovery again.
	// A failed discovery is reported in the returned status.
	ReloadSSO(ctx context.Context, actor *auth.Principal, ip string) sso.Status
}

// Dependencies are the collaborators of the security service.
type Dependencies struct {
	Users    users.UserRepository
	Policy   policy.Evaluator
	Factors  twofactor.Manager
	Auth     auth.AuthService
	Bridge   sso.Bridge
	Settings settings.SettingsService
	Audit    audit.AuditService
}

// securityService implements SecurityService.
type securityService struct {
	users    users.UserRepository
	policy   policy.Evaluator
	factors  twofactor.Manager
	auth     auth.AuthService
	bridge   sso.Bridge
	settings settings.SettingsService
	audit    audit.AuditService
	now      func() time.Time
}

// NewSecurityService creates a new security service.
func NewSecurityService(d Dependencies) SecurityService {
	return &securityService{
		users:    d.Users,
		policy:   d.Policy,
		factors:  d.Factors,
		auth:     d.Auth,
		bridge:   d.Bridge,
		settings: d.Settings,
		audit:    d.Audit,
		now:      time.Now,
	}
}

// --- Overview ---

func (s *securityService) Overview(ctx context.Context) (*SecurityOverview, error) {
	mode, err := s.policy.Enforcement(ctx)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	graceDays, err := s.policy.Int(ctx, 0, settings.KeyTwoFAGracePeriodDays, policy.DefaultTwoFAGracePeriodDays)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	stamp, err := s.policy.String(ctx, 0, settings.KeyTwoFAEnforcementEnabledAt, "")
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	count, err := s.users.CountUsers(ctx)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("counting users: %w", err))
	}
	values, err := s.settings.Editable(ctx)
	if err != nil {
		return nil, err
	}

	overview := &SecurityOverview{
		Enforcement: mode,
		GraceDays:   graceDays,
		UserCount:   count,
		SSO:         s.bridge.Status(),
		Settings:    values,
	}
	if t, err := time.Parse(time.RFC3339, stamp); err == nil {
		overview.EnabledAt = &t
	}
	return overview, nil
}

func (s *securityService) ListUsers(ctx context.Context, page int) (*UserPage, error) {
	if page < 1 {
		page = 1
	}
	list, total, err := s.users.List(ctx, (page-1)*usersPerPage, usersPerPage)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing users: %w", err))
	}

	now := s.now().UTC()
	out := make([]UserSummary, 0, len(list))
	for i := range list {
		u := &list[i]
		summary := UserSummary{User: u}

		if summary.TwoFactorEnabled, err = s.factors.IsEnrolled(ctx, u.ID); err != nil {
			return nil, apperror.NewInternal(err)
		}
		if summary.ForceEnrollment, err = s.policy.Bool(ctx, u.ID, settings.KeyTwoFAForceEnrollment, false); err != nil {
			return nil, apperror.NewInternal(err)
		}
		lock, err := s.policy.Lockout(ctx, u, now)
		if err != nil {
			return nil, apperror.NewInternal(err)
		}
		if lock.Locked {
			summary.Locked = true
			summary.LockRemainingSeconds = int(math.Ceil(lock.Remaining.Seconds()))
		}
		out = append(out, summary)
	}

	return &UserPage{Users: out, Total: total, Page: page, PerPage: usersPerPage}, nil
}

// --- Policy ---

func (s *securityService) SetEnforcement(ctx context.Context, actor *auth.Principal, mode string, graceDays *int, ip string) error {
	m, ok := policy.ParseEnforcementMode(strings.TrimSpace(mode))
	if !ok {
		return apperror.NewValidation("enforcement mode must be one of none, admins-only, all-users")
	}
	days := -1
	if graceDays != nil {
		if *graceDays < 0 || *graceDays > maxGraceDays {
			return apperror.NewValidation(fmt.Sprintf("grace period must be between 0 and %d days", maxGraceDays))
		}
		days = *graceDays
	}

	if err := s.policy.SetEnforcement(ctx, m, days, s.now()); err != nil {
		if apperror.Is(err, apperror.TypeValidation) {
			return err
		}
		return apperror.NewInternal(err)
	}

	details := fmt.Sprintf("2FA enforcement set to %s", m)
	if days >= 0 {
		details += fmt.Sprintf(" with a %d day grace period", days)
	}
	s.record(ctx, actor.UserID, details, ip)
	slog.Info("2FA enforcement changed",
		slog.String("mode", string(m)),
		slog.Int64("actor_id", actor.UserID),
	)
	return nil
}

func (s *securityService) UpdateSettings(ctx context.Context, actor *auth.Principal, values map[string]string, ip string) (*SettingsResult, error) {
	changed, err := s.settings.Update(ctx, values)
	if err != nil {
		return nil, err
	}
	result := &SettingsResult{Changed: changed}
	if len(changed) == 0 {
		return result, nil
	}
	s.record(ctx, actor.UserID, "settings changed: "+strings.Join(changed, ", "), ip)

	for _, key := range changed {
		if settings.IsSSOKey(key) {
			status := s.reload(ctx)
			result.SSO = &status
			break
		}
	}
	return result, nil
}

func (s *securityService) ReloadSSO(ctx context.Context, actor *auth.Principal, ip string) sso.Status {
	status := s.reload(ctx)
	s.record(ctx, actor.UserID, fmt.Sprintf("SSO configuration reloaded (%s)", status.State), ip)
	return status
}

// reload reconfigures the bridge. A discovery failure is not an error for
// the caller: the settings were saved and the status carries the cause.
func (s *securityService) reload(ctx context.Context) sso.Status {
	if err := s.bridge.Reload(ctx); err != nil {
		slog.Warn("SSO reload failed", slog.Any("error", err))
	}
	return s.bridge.Status()
}

// --- Accounts ---

func (s *securityService) SetForceEnrollment(ctx context.Context, actor *auth.Principal, userID int64, force bool, ip string) error {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.policy.SetForceEnrollment(ctx, user.ID, force); err != nil {
		return apperror.NewInternal(err)
	}

	details := "flagged for immediate 2FA enrollment"
	if !force {
		details = "forced 2FA enrollment flag cleared"
	}
	s.record(ctx, user.ID, fmt.Sprintf("%s by administrator %s", details, actor.Username), ip)
	return nil
}

func (s *securityService) UnlockUser(ctx context.Context, actor *auth.Principal, userID int64, ip string) error {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.users.ResetFailedLogins(ctx, user.ID); err != nil {
		return apperror.NewInternal(fmt.Errorf("resetting failed logins: %w", err))
	}
	s.record(ctx, user.ID, "account unlocked by administrator "+actor.Username, ip)
	return nil
}

func (s *securityService) DisableTwoFactor(ctx context.Context, actor *auth.Principal, userID int64, ip string) error {
	return s.auth.AdminDisableTwoFactor(ctx, actor, userID, ip)
}

func (s *securityService) SetUserActive(ctx context.Context, actor *auth.Principal, userID int64, active bool, ip string) error {
	if userID == actor.UserID && !active {
		return apperror.NewBadRequest("you cannot deactivate your own account")
	}
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsActive == active {
		return nil
	}
	if err := s.users.Update(ctx, user.ID, users.UserUpdate{IsActive: &active}); err != nil {
		return apperror.NewInternal(fmt.Errorf("updating account status: %w", err))
	}

	details := "account deactivated"
	if active {
		details = "account activated"
	}
	s.record(ctx, user.ID, fmt.Sprintf("%s by administrator %s", details, actor.Username), ip)
	return nil
}

func (s *securityService) SetUserRole(ctx context.Context, actor *auth.Principal, userID int64, role string, ip string) error {
	r := users.Role(strings.ToLower(strings.TrimSpace(role)))
	if !r.Valid() {
		return apperror.NewValidation("role must be one of admin, poweruser, user")
	}
	if userID == actor.UserID {
		return apperror.NewBadRequest("you cannot change your own role")
	}
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Role == r {
		return nil
	}
	if err := s.users.Update(ctx, user.ID, users.UserUpdate{Role: &r}); err != nil {
		return apperror.NewInternal(fmt.Errorf("updating role: %w", err))
	}

	s.record(ctx, user.ID, fmt.Sprintf("role changed from %s to %s by administrator %s", user.Role, r, actor.Username), ip)
	return nil
}

// --- Helpers ---

func (s *securityService) findUser(ctx context.Context, id int64) (*users.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if apperror.Is(err, apperror.TypeNotFound) {
			return nil, apperror.NewNotFound("user not found")
		}
		return nil, apperror.NewInternal(err)
	}
	return user, nil
}

// record writes a policy_changed entry. Failures are logged by the audit
// service and never fail the change itself.
func (s *securityService) record(ctx context.Context, userID int64, details, ip string) {
	_ = s.audit.Log(ctx, audit.UserEntry(userID, audit.ActionPolicyChanged, details, ip))
}
