package users

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalUser_Normalizes(t *testing.T) {
	u, err := NewLocalUser("  Alice ", "Alice@Example.COM", "Alice A.", "hash", RoleAdmin)
	require.NoError(t, err)

	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.True(t, u.IsActive)
	assert.True(t, u.HasPassword())
	assert.False(t, u.IsFederated())
}

func TestNewFederatedUser_NoPassword(t *testing.T) {
	u, err := NewFederatedUser("bob", "bob@example.com", "Bob",
		ExternalIdentity{Issuer: "https://idp.example.com", Subject: "sub-1"}, RoleUser, []string{"staff"})
	require.NoError(t, err)

	assert.False(t, u.HasPassword())
	id, ok := u.External()
	assert.True(t, ok)
	assert.Equal(t, "sub-1", id.Subject)
}

func TestValidate_RejectsAccountWithoutAuthMethod(t *testing.T) {
	tests := []struct {
		name string
		make func() (*User, error)
	}{
		{"local without hash", func() (*User, error) {
			return NewLocalUser("carol", "carol@example.com", "Carol", "", RoleUser)
		}},
		{"federated without subject", func() (*User, error) {
			return NewFederatedUser("carol", "carol@example.com", "Carol",
				ExternalIdentity{Issuer: "https://idp.example.com"}, RoleUser, nil)
		}},
		{"federated without issuer", func() (*User, error) {
			return NewFederatedUser("carol", "carol@example.com", "Carol",
				ExternalIdentity{Subject: "sub"}, RoleUser, nil)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.make()
			assert.ErrorIs(t, err, ErrNoAuthMethod)
		})
	}
}

func TestValidate_Fields(t *testing.T) {
	_, err := NewLocalUser("", "x@example.com", "", "hash", RoleUser)
	assert.Error(t, err)

	_, err = NewLocalUser("x", "not-an-email", "", "hash", RoleUser)
	assert.Error(t, err)

	_, err = NewLocalUser("x", "x@example.com", "", "hash", Role("root"))
	assert.Error(t, err)
}

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleAdmin, ParseRole("ADMIN"))
	assert.Equal(t, RolePowerUser, ParseRole(" poweruser "))
	assert.Equal(t, RoleUser, ParseRole("superuser"))
	assert.Equal(t, RoleUser, ParseRole(""))
}
