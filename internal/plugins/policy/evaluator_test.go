package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lolerskatez/landio/internal/apperror"
	"github.com/lolerskatez/landio/internal/plugins/settings"
	"github.com/lolerskatez/landio/internal/plugins/users"
	"github.com/lolerskatez/landio/internal/testutil"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEvaluator(system map[string]string, seed ...*users.User) (Evaluator, *testutil.SettingsStore, *testutil.UserStore) {
	store := testutil.NewSettingsStore(system)
	userStore := testutil.NewUserStore(seed...)
	return NewEvaluator(store, userStore), store, userStore
}

func localUser(t *testing.T, role users.Role, created time.Time) *users.User {
	t.Helper()
	u, err := users.NewLocalUser("alice", "alice@example.com", "Alice", "hash", role)
	require.NoError(t, err)
	u.CreatedAt = created
	return u
}

// --- Typed reads ---

func TestTypedReads_Defaults(t *testing.T) {
	e, _, _ := newTestEvaluator(map[string]string{
		"n":   "not-a-number",
		"b":   "TRUE",
		"m":   "0",
		"str": "  ",
	})
	ctx := context.Background()

	n, err := e.Int(ctx, 0, "n", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	b, err := e.Bool(ctx, 0, "b", false)
	require.NoError(t, err)
	assert.True(t, b)

	m, err := e.Minutes(ctx, 0, "m", 15)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, m)

	s, err := e.String(ctx, 0, "str", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", s)
}

// --- Passwords ---

func TestCheckPassword(t *testing.T) {
	tests := []struct {
		name     string
		system   map[string]string
		password string
		ok       bool
	}{
		{"strong", nil, "Str0ng!pass", true},
		{"too short", nil, "S0!a", false},
		{"missing symbol", nil, "Str0ngpass", false},
		{"missing upper", nil, "str0ng!pass", false},
		{"complexity off still enforces length", map[string]string{settings.KeyPasswordPolicyEnabled: "false"}, "short", false},
		{"complexity off accepts long lowercase", map[string]string{settings.KeyPasswordPolicyEnabled: "false"}, "longenough", true},
		{"min length cannot go below 8", map[string]string{settings.KeyPasswordMinLength: "4", settings.KeyPasswordPolicyEnabled: "false"}, "abcde", false},
		{"raised min length", map[string]string{settings.KeyPasswordMinLength: "12"}, "Str0ng!pass", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _ := newTestEvaluator(tt.system)
			err := e.CheckPassword(context.Background(), tt.password)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, apperror.Is(err, apperror.TypeValidation), "got %v", err)
			}
		})
	}
}

// --- Lockout ---

func TestLockout_LockedWithinWindow(t *testing.T) {
	u := localUser(t, users.RoleUser, now.Add(-time.Hour))
	last := now.Add(-5 * time.Minute)
	u.FailedLoginAttempts = 5
	u.LastFailedLoginAt = &last

	e, _, _ := newTestEvaluator(nil, u)
	state, err := e.Lockout(context.Background(), u, now)
	require.NoError(t, err)

	assert.True(t, state.Locked)
	assert.Equal(t, 10*time.Minute, state.Remaining)
}

func TestLockout_BelowThreshold(t *testing.T) {
	u := localUser(t, users.RoleUser, now)
	last := now.Add(-time.Minute)
	u.FailedLoginAttempts = 4
	u.LastFailedLoginAt = &last

	e, _, _ := newTestEvaluator(nil, u)
	state, err := e.Lockout(context.Background(), u, now)
	require.NoError(t, err)
	assert.False(t, state.Locked)
	assert.True(t, state.ReachesThreshold(5))
}

func TestLockout_ExpiryResetsCounter(t *testing.T) {
	u := localUser(t, users.RoleUser, now.Add(-time.Hour))
	last := now.Add(-16 * time.Minute)
	u.FailedLoginAttempts = 7
	u.LastFailedLoginAt = &last

	e, _, userStore := newTestEvaluator(nil, u)
	state, err := e.Lockout(context.Background(), u, now)
	require.NoError(t, err)

	assert.False(t, state.Locked)
	assert.Equal(t, 0, u.FailedLoginAttempts)
	assert.Equal(t, 0, userStore.Get(u.ID).FailedLoginAttempts)
}

func TestLockout_Disabled(t *testing.T) {
	u := localUser(t, users.RoleUser, now)
	last := now
	u.FailedLoginAttempts = 50
	u.LastFailedLoginAt = &last

	e, _, _ := newTestEvaluator(map[string]string{settings.KeyLockoutEnabled: "false"}, u)
	state, err := e.Lockout(context.Background(), u, now)
	require.NoError(t, err)
	assert.False(t, state.Locked)
	assert.False(t, state.ReachesThreshold(50))
}

func TestLockout_CustomThreshold(t *testing.T) {
	u := localUser(t, users.RoleUser, now)
	last := now.Add(-time.Minute)
	u.FailedLoginAttempts = 3
	u.LastFailedLoginAt = &last

	e, _, _ := newTestEvaluator(map[string]string{
		settings.KeyMaxLoginAttempts:       "3",
		settings.KeyLockoutDurationMinutes: "30",
	}, u)
	state, err := e.Lockout(context.Background(), u, now)
	require.NoError(t, err)
	assert.True(t, state.Locked)
	assert.Equal(t, 29*time.Minute, state.Remaining)
}

// --- Second factor ---

func TestTwoFactorRequirement(t *testing.T) {
	enabledAt := now.Add(-48 * time.Hour).Format(time.RFC3339)

	tests := []struct {
		name      string
		system    map[string]string
		role      users.Role
		created   time.Time
		flagged   bool
		required  bool
		forced    bool
		withGrace bool
	}{
		{"mode none", map[string]string{settings.KeyTwoFAEnforcement: "none"}, users.RoleAdmin, now, false, false, false, false},
		{"admins-only skips users",
			map[string]string{settings.KeyTwoFAEnforcement: "admins-only", settings.KeyTwoFAEnforcementEnabledAt: enabledAt},
			users.RoleUser, now, false, false, false, false},
		{"account predates enforcement",
			map[string]string{settings.KeyTwoFAEnforcement: "all-users", settings.KeyTwoFAEnforcementEnabledAt: enabledAt},
			users.RoleUser, now.Add(-72 * time.Hour), false, true, true, false},
		{"new account in grace",
			map[string]string{settings.KeyTwoFAEnforcement: "admins-only", settings.KeyTwoFAEnforcementEnabledAt: enabledAt},
			users.RoleAdmin, now.Add(-24 * time.Hour), false, true, false, true},
		{"grace elapsed",
			map[string]string{settings.KeyTwoFAEnforcement: "all-users", settings.KeyTwoFAEnforcementEnabledAt: enabledAt, settings.KeyTwoFAGracePeriodDays: "0"},
			users.RoleUser, now.Add(-time.Hour), false, true, true, false},
		{"flagged without enforcement", nil, users.RoleUser, now, true, true, true, false},
		{"missing timestamp is forced",
			map[string]string{settings.KeyTwoFAEnforcement: "all-users"},
			users.RoleUser, now, false, true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := localUser(t, tt.role, tt.created)
			e, store, _ := newTestEvaluator(tt.system, u)
			if tt.flagged {
				require.NoError(t, e.SetForceEnrollment(context.Background(), u.ID, true))
				v, ok := store.UserValue(u.ID, settings.KeyTwoFAForceEnrollment)
				require.True(t, ok)
				require.Equal(t, "true", v)
			}

			req, err := e.TwoFactorRequirement(context.Background(), u, now)
			require.NoError(t, err)
			assert.Equal(t, tt.required, req.Required)
			assert.Equal(t, tt.forced, req.Forced)
			assert.Equal(t, tt.withGrace, req.GraceEndsAt != nil)
		})
	}
}

func TestTwoFactorRequirement_GraceEndsAtFromCreation(t *testing.T) {
	created := now.Add(-24 * time.Hour)
	u := localUser(t, users.RoleUser, created)
	e, _, _ := newTestEvaluator(map[string]string{
		settings.KeyTwoFAEnforcement:          "all-users",
		settings.KeyTwoFAEnforcementEnabledAt: now.Add(-48 * time.Hour).Format(time.RFC3339),
		settings.KeyTwoFAGracePeriodDays:      "3",
	}, u)

	req, err := e.TwoFactorRequirement(context.Background(), u, now)
	require.NoError(t, err)
	require.NotNil(t, req.GraceEndsAt)
	assert.Equal(t, created.Add(72*time.Hour), *req.GraceEndsAt)
}

func TestSetEnforcement_StampsOnlyWhenEnabling(t *testing.T) {
	e, store, _ := newTestEvaluator(nil)
	ctx := context.Background()

	require.NoError(t, e.SetEnforcement(ctx, EnforceAdminsOnly, 3, now))
	assert.Equal(t, "admins-only", store.System[settings.KeyTwoFAEnforcement])
	assert.Equal(t, now.Format(time.RFC3339), store.System[settings.KeyTwoFAEnforcementEnabledAt])
	assert.Equal(t, "3", store.System[settings.KeyTwoFAGracePeriodDays])

	later := now.Add(time.Hour)
	require.NoError(t, e.SetEnforcement(ctx, EnforceAllUsers, -1, later))
	assert.Equal(t, now.Format(time.RFC3339), store.System[settings.KeyTwoFAEnforcementEnabledAt])
	assert.Equal(t, "3", store.System[settings.KeyTwoFAGracePeriodDays])

	require.NoError(t, e.SetEnforcement(ctx, EnforceNone, -1, later))
	require.NoError(t, e.SetEnforcement(ctx, EnforceAllUsers, -1, later))
	assert.Equal(t, later.Format(time.RFC3339), store.System[settings.KeyTwoFAEnforcementEnabledAt])
}

func TestSetEnforcement_RejectsUnknownMode(t *testing.T) {
	e, _, _ := newTestEvaluator(nil)
	err := e.SetEnforcement(context.Background(), EnforcementMode("everyone"), -1, now)
	assert.True(t, apperror.Is(err, apperror.TypeValidation))
}

// --- Sessions ---

func TestSessionTimeout(t *testing.T) {
	e, _, _ := newTestEvaluator(map[string]string{settings.KeySessionTimeoutMinutes: "30"})

	d, err := e.SessionTimeout(context.Background(), FlowPassword)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, d)

	d, err = e.SessionTimeout(context.Background(), FlowSSO)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)
}

// --- IP allowlist ---

func TestIPAllowed(t *testing.T) {
	system := map[string]string{
		settings.KeyIPAllowlistEnabled: "true",
		settings.KeyIPAllowlist:        "10.0.0.0/8, 203.0.113.7, not-an-ip, 2001:db8::/32",
	}

	tests := []struct {
		ip      string
		allowed bool
	}{
		{"10.1.2.3", true},
		{"203.0.113.7", true},
		{"203.0.113.8", false},
		{"::ffff:10.9.9.9", true},
		{"2001:db8::1", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"garbage", false},
	}
	e, _, _ := newTestEvaluator(system)
	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			ok, err := e.IPAllowed(context.Background(), tt.ip)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, ok)
		})
	}
}

func TestIPAllowed_DisabledOrEmpty(t *testing.T) {
	e, _, _ := newTestEvaluator(nil)
	ok, err := e.IPAllowed(context.Background(), "198.51.100.1")
	require.NoError(t, err)
	assert.True(t, ok)

	e, _, _ = newTestEvaluator(map[string]string{settings.KeyIPAllowlistEnabled: "true", settings.KeyIPAllowlist: " , bogus"})
	ok, err = e.IPAllowed(context.Background(), "198.51.100.1")
	require.NoError(t, err)
	assert.True(t, ok)
}
