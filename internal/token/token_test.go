package token

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lolerskatez/landio/internal/apperror"
	"github.com/lolerskatez/landio/internal/config"
	"github.com/lolerskatez/landio/internal/plugins/users"
)

var testCfg = config.AuthConfig{
	JWTSecret: "0123456789abcdef0123456789abcdef",
	JWTIssuer: "landio",
}

func testUser(t *testing.T) *users.User {
	t.Helper()
	u, err := users.NewLocalUser("alice", "alice@example.com", "Alice", "hash", users.RoleAdmin)
	require.NoError(t, err)
	u.ID = 42
	return u
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestIssueSession_RoundTrip(t *testing.T) {
	iss := NewIssuer(testCfg)
	signed, err := iss.IssueSession(testUser(t), time.Hour)
	require.NoError(t, err)

	claims, err := iss.Validate(signed.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "Alice", claims.Name)
	assert.Equal(t, "admin", claims.Role)
	assert.False(t, claims.IsPending())
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, MethodPassword, claims.Method)
}

func TestIssueSSOSession_CarriesMethod(t *testing.T) {
	iss := NewIssuer(testCfg)
	signed, err := iss.IssueSSOSession(testUser(t), time.Hour)
	require.NoError(t, err)

	claims, err := iss.Validate(signed.Token)
	require.NoError(t, err)
	assert.Equal(t, MethodSSO, claims.Method)
	assert.False(t, claims.IsPending())
}

func TestIssue_UniqueIDs(t *testing.T) {
	iss := NewIssuer(testCfg)
	a, err := iss.IssueVerification(testUser(t))
	require.NoError(t, err)
	b, err := iss.IssueVerification(testUser(t))
	require.NoError(t, err)

	ca, err := iss.Validate(a.Token)
	require.NoError(t, err)
	cb, err := iss.Validate(b.Token)
	require.NoError(t, err)
	assert.NotEqual(t, ca.ID, cb.ID)
}

func TestValidate_ExpiredVersusInvalid(t *testing.T) {
	issuedAt := time.Now().Add(-2 * time.Hour)
	iss := NewIssuer(testCfg).WithClock(fixedClock(issuedAt))
	signed, err := iss.IssueSession(testUser(t), time.Hour)
	require.NoError(t, err)

	_, err = NewIssuer(testCfg).Validate(signed.Token)
	assert.True(t, apperror.Is(err, apperror.TypeTokenExpired), "got %v", err)

	_, err = NewIssuer(testCfg).Validate("not.a.token")
	assert.True(t, apperror.Is(err, apperror.TypeTokenInvalid))
}

func TestValidate_RejectsForgeries(t *testing.T) {
	iss := NewIssuer(testCfg)
	signed, err := iss.IssueSession(testUser(t), time.Hour)
	require.NoError(t, err)

	t.Run("spliced payload", func(t *testing.T) {
		other := testUser(t)
		other.ID = 1
		otherSigned, err := iss.IssueSession(other, time.Hour)
		require.NoError(t, err)

		parts := strings.Split(signed.Token, ".")
		parts[1] = strings.Split(otherSigned.Token, ".")[1]
		_, err = iss.Validate(strings.Join(parts, "."))
		assert.True(t, apperror.Is(err, apperror.TypeTokenInvalid))
	})

	t.Run("other secret", func(t *testing.T) {
		other := NewIssuer(config.AuthConfig{JWTSecret: "another-secret-another-secret-xx", JWTIssuer: "landio"})
		_, err := other.Validate(signed.Token)
		assert.True(t, apperror.Is(err, apperror.TypeTokenInvalid))
	})

	t.Run("other issuer", func(t *testing.T) {
		other := NewIssuer(config.AuthConfig{JWTSecret: testCfg.JWTSecret, JWTIssuer: "someone-else"})
		_, err := other.Validate(signed.Token)
		assert.True(t, apperror.Is(err, apperror.TypeTokenInvalid))
	})

	t.Run("alg none", func(t *testing.T) {
		claims := &Claims{UserID: 42, RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "landio",
			ID:        "x",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = iss.Validate(unsigned)
		assert.True(t, apperror.Is(err, apperror.TypeTokenInvalid))
	})
}

func TestValidatePurpose(t *testing.T) {
	iss := NewIssuer(testCfg)
	u := testUser(t)

	enroll, err := iss.IssueEnrollment(u)
	require.NoError(t, err)
	verify, err := iss.IssueVerification(u)
	require.NoError(t, err)

	c, err := iss.ValidatePurpose(enroll.Token, PurposeEnrollment)
	require.NoError(t, err)
	assert.Equal(t, u.ID, c.UserID)
	assert.Equal(t, "alice@example.com", c.Email)
	assert.Empty(t, c.Username, "enrollment grants carry only id and email")
	assert.Empty(t, c.Name)
	assert.Empty(t, c.Role)

	_, err = iss.ValidatePurpose(verify.Token, PurposeEnrollment)
	assert.True(t, apperror.Is(err, apperror.TypeTokenInvalid))

	_, err = iss.ValidatePurpose(enroll.Token, PurposeSession)
	assert.True(t, apperror.Is(err, apperror.TypeTokenInvalid))
}

func TestPendingLifetimes(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	iss := NewIssuer(testCfg).WithClock(fixedClock(at))

	enroll, err := iss.IssueEnrollment(testUser(t))
	require.NoError(t, err)
	assert.Equal(t, at.Add(30*time.Minute), enroll.ExpiresAt)

	verify, err := iss.IssueVerification(testUser(t))
	require.NoError(t, err)
	assert.Equal(t, at.Add(5*time.Minute), verify.ExpiresAt)
}

// --- Replay guard ---

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb, mr
}

func TestReplayGuard_SecondConsumeFails(t *testing.T) {
	rdb, mr := newTestRedis(t)
	guard := NewReplayGuard(rdb)
	iss := NewIssuer(testCfg)

	signed, err := iss.IssueVerification(testUser(t))
	require.NoError(t, err)
	claims, err := iss.Validate(signed.Token)
	require.NoError(t, err)

	require.NoError(t, guard.Consume(context.Background(), claims))
	err = guard.Consume(context.Background(), claims)
	assert.True(t, apperror.Is(err, apperror.TypeTokenInvalid))

	ttl := mr.TTL(usedKeyPrefix + claims.ID)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 5*time.Minute)
}

func TestReplayGuard_UsedDoesNotConsume(t *testing.T) {
	rdb, _ := newTestRedis(t)
	guard := NewReplayGuard(rdb)
	iss := NewIssuer(testCfg)
	ctx := context.Background()

	signed, err := iss.IssueVerification(testUser(t))
	require.NoError(t, err)
	claims, err := iss.Validate(signed.Token)
	require.NoError(t, err)

	used, err := guard.Used(ctx, claims)
	require.NoError(t, err)
	assert.False(t, used)
	used, err = guard.Used(ctx, claims)
	require.NoError(t, err)
	assert.False(t, used, "checking twice leaves the token unused")

	require.NoError(t, guard.Consume(ctx, claims))
	used, err = guard.Used(ctx, claims)
	require.NoError(t, err)
	assert.True(t, used)
}

func TestReplayGuard_RejectsClaimsWithoutID(t *testing.T) {
	rdb, _ := newTestRedis(t)
	err := NewReplayGuard(rdb).Consume(context.Background(), &Claims{})
	assert.True(t, apperror.Is(err, apperror.TypeTokenInvalid))
}
