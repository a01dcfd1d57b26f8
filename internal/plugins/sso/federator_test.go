package sso

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lolerskatez/landio/internal/apperror"
	"github.com/lolerskatez/landio/internal/plugins/users"
	"github.com/lolerskatez/landio/internal/testutil"
)

var federatedAt = time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)

func newTestFederator(store *testutil.UserStore) *federator {
	f := NewFederator(store).(*federator)
	f.now = func() time.Time { return federatedAt }
	return f
}

func carolIdentity() Identity {
	return Identity{
		Issuer:      "https://idp.example.com",
		Subject:     "sub-carol",
		Email:       "carol@example.com",
		DisplayName: "Carol",
		Groups:      []string{"staff"},
		Role:        users.RoleUser,
	}
}

func TestResolve_FirstLoginCreatesAccount(t *testing.T) {
	store := testutil.NewUserStore()
	f := newTestFederator(store)

	u, created, err := f.Resolve(context.Background(), carolIdentity())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "carol", u.Username)
	assert.False(t, u.HasPassword())
	assert.True(t, u.IsFederated())

	stored := store.Get(u.ID)
	require.NotNil(t, stored)
	assert.Equal(t, 1, stored.LoginCount)
	require.NotNil(t, stored.LastLoginAt)
	assert.True(t, stored.LastLoginAt.Equal(federatedAt))
}

func TestResolve_UsernameSuffixWhenTaken(t *testing.T) {
	hash := "hash"
	existing, err := users.NewLocalUser("carol", "carol.local@example.com", "Carol L", hash, users.RoleUser)
	require.NoError(t, err)
	store := testutil.NewUserStore(existing)

	u, created, err := newTestFederator(store).Resolve(context.Background(), carolIdentity())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "carol1", u.Username)
}

func TestResolve_ReturningUserResyncs(t *testing.T) {
	id := carolIdentity()
	seed, err := users.NewFederatedUser("carol", id.Email, "Old Name", id.External(), users.RoleUser, nil)
	require.NoError(t, err)
	seed.IsActive = false
	seed.LoginCount = 3
	store := testutil.NewUserStore(seed)

	id.DisplayName = "Carol New"
	id.Role = users.RolePowerUser
	id.Groups = []string{"power-users"}

	u, created, err := newTestFederator(store).Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Carol New", u.DisplayName)
	assert.Equal(t, users.RolePowerUser, u.Role)
	assert.Equal(t, []string{"power-users"}, u.Groups)
	assert.True(t, u.IsActive, "sso login reactivates the account")
	assert.Equal(t, 4, u.LoginCount)
}

func TestResolve_EmailOfLocalAccountConflicts(t *testing.T) {
	local, err := users.NewLocalUser("cjones", "carol@example.com", "Carol", "hash", users.RoleAdmin)
	require.NoError(t, err)
	store := testutil.NewUserStore(local)

	_, _, err = newTestFederator(store).Resolve(context.Background(), carolIdentity())
	assert.True(t, apperror.Is(err, apperror.TypeAccountConflict))
}

func TestResolve_StoreError(t *testing.T) {
	store := testutil.NewUserStore()
	store.FindErr = errors.New("connection refused")

	_, _, err := newTestFederator(store).Resolve(context.Background(), carolIdentity())
	require.Error(t, err)
	assert.False(t, apperror.Is(err, apperror.TypeAccountConflict))
}
