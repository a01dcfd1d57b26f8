package settings

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSealed(t *testing.T, raw *mockSettingsRepo, secret string) SettingsRepository {
	t.Helper()
	repo, err := NewSealedRepository(raw, secret)
	require.NoError(t, err)
	return repo
}

func TestSealedRepository_EncryptsSecretKeys(t *testing.T) {
	raw := &mockSettingsRepo{system: map[string]string{}}
	repo := newSealed(t, raw, "app-secret")
	ctx := context.Background()

	require.NoError(t, repo.SetSystem(ctx, KeySSOClientSecret, "client-s3cret"))
	require.NoError(t, repo.SetSystem(ctx, KeySSOClientID, "landio"))
	require.NoError(t, repo.SetUserValues(ctx, 7, map[string]string{
		KeyTwoFAEnabled: "true",
		KeyTwoFASecret:  "JBSWY3DPEHPK3PXP",
	}))

	assert.True(t, strings.HasPrefix(raw.system[KeySSOClientSecret], sealedPrefix))
	assert.NotContains(t, raw.system[KeySSOClientSecret], "client-s3cret")
	assert.Equal(t, "landio", raw.system[KeySSOClientID])
	assert.True(t, strings.HasPrefix(raw.user[7][KeyTwoFASecret], sealedPrefix))
	assert.Equal(t, "true", raw.user[7][KeyTwoFAEnabled])

	v, ok, err := repo.GetSystem(ctx, KeySSOClientSecret)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "client-s3cret", v)

	all, err := repo.GetAllSystem(ctx)
	require.NoError(t, err)
	assert.Equal(t, "client-s3cret", all[KeySSOClientSecret])

	vals, err := repo.GetUserValues(ctx, 7, KeyTwoFAEnabled, KeyTwoFASecret)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", vals[KeyTwoFASecret])
}

func TestSealedRepository_FreshNoncePerWrite(t *testing.T) {
	raw := &mockSettingsRepo{system: map[string]string{}}
	repo := newSealed(t, raw, "app-secret")
	ctx := context.Background()

	require.NoError(t, repo.SetSystem(ctx, KeySSOClientSecret, "same"))
	first := raw.system[KeySSOClientSecret]
	require.NoError(t, repo.SetSystem(ctx, KeySSOClientSecret, "same"))
	assert.NotEqual(t, first, raw.system[KeySSOClientSecret])
}

func TestSealedRepository_ReadsLegacyPlaintext(t *testing.T) {
	raw := &mockSettingsRepo{system: map[string]string{KeySSOClientSecret: "written-before-encryption"}}
	repo := newSealed(t, raw, "app-secret")

	v, ok, err := repo.GetSystem(context.Background(), KeySSOClientSecret)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "written-before-encryption", v)
}

func TestSealedRepository_WrongKey(t *testing.T) {
	raw := &mockSettingsRepo{system: map[string]string{}}
	ctx := context.Background()
	require.NoError(t, newSealed(t, raw, "old-key").SetSystem(ctx, KeySSOClientSecret, "s3cret"))

	_, _, err := newSealed(t, raw, "new-key").GetSystem(ctx, KeySSOClientSecret)
	assert.True(t, errors.Is(err, errSealed))
}

func TestSealedRepository_UpdateUserValue(t *testing.T) {
	raw := &mockSettingsRepo{system: map[string]string{}}
	repo := newSealed(t, raw, "app-secret")
	ctx := context.Background()
	require.NoError(t, repo.SetUser(ctx, 3, KeyTwoFASecret, "OLDSECRET"))

	err := repo.UpdateUserValue(ctx, 3, KeyTwoFASecret, func(current string, found bool) (string, error) {
		assert.True(t, found)
		assert.Equal(t, "OLDSECRET", current)
		return "NEWSECRET", nil
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw.user[3][KeyTwoFASecret], sealedPrefix))
	v, _, err := repo.Get(ctx, 3, KeyTwoFASecret)
	require.NoError(t, err)
	assert.Equal(t, "NEWSECRET", v)
}
