package sso

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
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

const (
	testClientID     = "landio"
	testClientSecret = "s3cret"
	testKeyID        = "test-key"
)

// --- Fake identity provider ---

// grant is what the fake provider remembers between authorize and token.
type grant struct {
	nonce     string
	challenge string
	claims    jwt.MapClaims
}

// fakeIdP serves discovery, JWKS, token and userinfo endpoints and signs
// RS256 ID tokens.
type fakeIdP struct {
	t   *testing.T
	srv *httptest.Server
	key *rsa.PrivateKey

	mu        sync.Mutex
	grants    map[string]grant
	userinfo  map[string]any
	failToken bool
	nonceOver string
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	idp := &fakeIdP{t: t, key: key, grants: make(map[string]grant)}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", idp.discovery)
	mux.HandleFunc("/keys", idp.jwks)
	mux.HandleFunc("/token", idp.token)
	mux.HandleFunc("/userinfo", idp.userInfo)
	idp.srv = httptest.NewServer(mux)
	t.Cleanup(idp.srv.Close)
	return idp
}

func (p *fakeIdP) config(pkce bool) ProviderConfig {
	return ProviderConfig{
		Enabled:         true,
		IssuerURL:       p.srv.URL,
		ClientID:        testClientID,
		ClientSecret:    testClientSecret,
		RedirectURL:     "https://dash.example.com/api/sso/callback",
		Scopes:          defaultScopes,
		UsePKCE:         pkce,
		AdminGroups:     []string{"admin"},
		PowerUserGroups: []string{"power-users"},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (p *fakeIdP) discovery(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                p.srv.URL,
		"authorization_endpoint":                p.srv.URL + "/authorize",
		"token_endpoint":                        p.srv.URL + "/token",
		"jwks_uri":                              p.srv.URL + "/keys",
		"userinfo_endpoint":                     p.srv.URL + "/userinfo",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (p *fakeIdP) jwks(w http.ResponseWriter, _ *http.Request) {
	pub := p.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": testKeyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (p *fakeIdP) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	p.mu.Lock()
	g, ok := p.grants[r.PostForm.Get("code")]
	delete(p.grants, r.PostForm.Get("code"))
	fail := p.failToken
	nonce := g.nonce
	if p.nonceOver != "" {
		nonce = p.nonceOver
	}
	p.mu.Unlock()

	if !ok || fail {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	if g.challenge != "" {
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != g.challenge {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   p.srv.URL,
		"aud":   testClientID,
		"iat":   now.Unix(),
		"exp":   now.Add(5 * time.Minute).Unix(),
		"nonce": nonce,
	}
	for k, v := range g.claims {
		claims[k] = v
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKeyID
	idToken, err := tok.SignedString(p.key)
	require.NoError(p.t, err)

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": "access-" + r.PostForm.Get("code"),
		"token_type":   "Bearer",
		"expires_in":   300,
		"id_token":     idToken,
	})
}

func (p *fakeIdP) userInfo(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	info := p.userinfo
	p.mu.Unlock()
	if info == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token"})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// set mutates the provider's behavior under its lock.
func (p *fakeIdP) set(fn func(p *fakeIdP)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// authorize plays the browser's trip to the provider: it records a grant for
// the nonce and challenge in authURL and returns the code.
func (p *fakeIdP) authorize(authURL string, claims jwt.MapClaims) (code, state string) {
	u, err := url.Parse(authURL)
	require.NoError(p.t, err)
	q := u.Query()
	code = "code-" + q.Get("state")[:8]

	p.mu.Lock()
	defer p.mu.Unlock()
	p.grants[code] = grant{nonce: q.Get("nonce"), challenge: q.Get("code_challenge"), claims: claims}
	if p.userinfo == nil {
		p.userinfo = map[string]any{"sub": claims["sub"]}
	}
	return code, q.Get("state")
}

// --- Helpers ---

type staticSettings map[string]string

func (s staticSettings) GetAllSystem(context.Context) (map[string]string, error) {
	return s, nil
}

func newTestBridge(t *testing.T) *bridge {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewBridge(NewAttemptStore(rdb), staticSettings{}, config.SSOConfig{}).(*bridge)
}

func aliceClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":                "subject-alice",
		"email":              "Alice@Example.com",
		"name":               "Alice <b>Smith</b>",
		"preferred_username": "alice",
	}
}

// --- Lifecycle ---

func TestBridge_StartsUnconfigured(t *testing.T) {
	b := newTestBridge(t)
	assert.Equal(t, StateUnconfigured, b.State())

	_, err := b.Begin(context.Background())
	assert.True(t, apperror.Is(err, apperror.TypeConfigurationError))
}

func TestConfigure_DiscoveryFailureLeavesUnconfigured(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	b := newTestBridge(t)
	cfg := ProviderConfig{
		Enabled:     true,
		IssuerURL:   dead.URL,
		ClientID:    testClientID,
		RedirectURL: "https://dash.example.com/api/sso/callback",
		UsePKCE:     true,
	}

	err := b.Configure(context.Background(), cfg)
	assert.True(t, apperror.Is(err, apperror.TypeConfigurationError))
	assert.Equal(t, StateUnconfigured, b.State())
	assert.Nil(t, b.client)
	assert.NotEmpty(t, b.Status().LastError)
}

func TestConfigure_InvalidConfig(t *testing.T) {
	b := newTestBridge(t)
	err := b.Configure(context.Background(), ProviderConfig{Enabled: true, IssuerURL: "not a url"})
	assert.True(t, apperror.Is(err, apperror.TypeConfigurationError))
	assert.Equal(t, StateUnconfigured, b.State())
}

func TestConfigure_DisabledIsUnconfigured(t *testing.T) {
	idp := newFakeIdP(t)
	b := newTestBridge(t)
	require.NoError(t, b.Configure(context.Background(), idp.config(true)))
	require.Equal(t, StateReady, b.State())

	cfg := idp.config(true)
	cfg.Enabled = false
	require.NoError(t, b.Configure(context.Background(), cfg))
	assert.Equal(t, StateUnconfigured, b.State())
}

func TestConfigure_ReconfigureSwapsClient(t *testing.T) {
	first := newFakeIdP(t)
	second := newFakeIdP(t)
	b := newTestBridge(t)

	require.NoError(t, b.Configure(context.Background(), first.config(true)))
	require.NoError(t, b.Configure(context.Background(), second.config(false)))

	assert.Equal(t, StateReady, b.State())
	assert.Equal(t, second.srv.URL, b.Status().IssuerURL)
	assert.False(t, b.Status().UsePKCE)
}

func TestReload_ReadsSettings(t *testing.T) {
	idp := newFakeIdP(t)
	b := newTestBridge(t)
	b.settings = staticSettings{
		"sso_enabled":      "true",
		"sso_issuer_url":   idp.srv.URL,
		"sso_client_id":    testClientID,
		"sso_redirect_url": "https://dash.example.com/api/sso/callback",
		"sso_use_pkce":     "true",
	}

	require.NoError(t, b.Reload(context.Background()))
	assert.Equal(t, StateReady, b.State())
}

// --- Login flow ---

func TestComplete_WithPKCE(t *testing.T) {
	idp := newFakeIdP(t)
	b := newTestBridge(t)
	require.NoError(t, b.Configure(context.Background(), idp.config(true)))

	res, err := b.Begin(context.Background())
	require.NoError(t, err)
	u, _ := url.Parse(res.AuthURL)
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))
	assert.NotEmpty(t, u.Query().Get("nonce"))

	idp.set(func(p *fakeIdP) {
		p.userinfo = map[string]any{"sub": "subject-alice", "groups": []string{"/Landio-Admins", "staff"}}
	})
	code, state := idp.authorize(res.AuthURL, aliceClaims())

	id, err := b.Complete(context.Background(), res.AttemptID, state, code)
	require.NoError(t, err)
	assert.Equal(t, idp.srv.URL, id.Issuer)
	assert.Equal(t, "subject-alice", id.Subject)
	assert.Equal(t, "alice@example.com", id.Email)
	assert.Equal(t, "Alice Smith", id.DisplayName)
	assert.Equal(t, []string{"Landio-Admins", "staff"}, id.Groups)
	assert.Equal(t, users.RoleAdmin, id.Role)
}

func TestComplete_WithoutPKCE(t *testing.T) {
	idp := newFakeIdP(t)
	b := newTestBridge(t)
	require.NoError(t, b.Configure(context.Background(), idp.config(false)))

	res, err := b.Begin(context.Background())
	require.NoError(t, err)
	u, _ := url.Parse(res.AuthURL)
	assert.Empty(t, u.Query().Get("code_challenge"))

	code, state := idp.authorize(res.AuthURL, aliceClaims())
	id, err := b.Complete(context.Background(), res.AttemptID, state, code)
	require.NoError(t, err)
	assert.Equal(t, users.RoleUser, id.Role)
}

func TestComplete_UnknownAttempt(t *testing.T) {
	idp := newFakeIdP(t)
	b := newTestBridge(t)
	require.NoError(t, b.Configure(context.Background(), idp.config(true)))

	_, err := b.Complete(context.Background(), "00000000-0000-0000-0000-000000000000", "state", "code")
	assert.True(t, apperror.Is(err, apperror.TypeUnauthorized))
}

func TestComplete_StateMismatchConsumesAttempt(t *testing.T) {
	idp := newFakeIdP(t)
	b := newTestBridge(t)
	require.NoError(t, b.Configure(context.Background(), idp.config(true)))

	res, err := b.Begin(context.Background())
	require.NoError(t, err)
	code, state := idp.authorize(res.AuthURL, aliceClaims())

	_, err = b.Complete(context.Background(), res.AttemptID, "forged", code)
	assert.True(t, apperror.Is(err, apperror.TypeUnauthorized))

	_, err = b.Complete(context.Background(), res.AttemptID, state, code)
	assert.True(t, apperror.Is(err, apperror.TypeUnauthorized), "attempt must be one-shot")
}

func TestComplete_ExchangeFailureClearsAttempt(t *testing.T) {
	idp := newFakeIdP(t)
	b := newTestBridge(t)
	require.NoError(t, b.Configure(context.Background(), idp.config(true)))

	res, err := b.Begin(context.Background())
	require.NoError(t, err)
	code, state := idp.authorize(res.AuthURL, aliceClaims())
	idp.set(func(p *fakeIdP) { p.failToken = true })

	_, err = b.Complete(context.Background(), res.AttemptID, state, code)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.TypeUnauthorized))

	taken, err := b.attempts.Take(context.Background(), res.AttemptID)
	require.NoError(t, err)
	assert.Nil(t, taken)
}

func TestComplete_NonceMismatch(t *testing.T) {
	idp := newFakeIdP(t)
	b := newTestBridge(t)
	require.NoError(t, b.Configure(context.Background(), idp.config(true)))

	res, err := b.Begin(context.Background())
	require.NoError(t, err)
	code, state := idp.authorize(res.AuthURL, aliceClaims())
	idp.set(func(p *fakeIdP) { p.nonceOver = "replayed-nonce" })

	_, err = b.Complete(context.Background(), res.AttemptID, state, code)
	assert.True(t, apperror.Is(err, apperror.TypeUnauthorized))
}

func TestComplete_UserInfoSubjectMismatch(t *testing.T) {
	idp := newFakeIdP(t)
	b := newTestBridge(t)
	require.NoError(t, b.Configure(context.Background(), idp.config(true)))

	res, err := b.Begin(context.Background())
	require.NoError(t, err)
	idp.set(func(p *fakeIdP) { p.userinfo = map[string]any{"sub": "someone-else"} })
	code, state := idp.authorize(res.AuthURL, aliceClaims())

	_, err = b.Complete(context.Background(), res.AttemptID, state, code)
	assert.True(t, apperror.Is(err, apperror.TypeUnauthorized))
}

func TestComplete_MissingEmail(t *testing.T) {
	idp := newFakeIdP(t)
	b := newTestBridge(t)
	require.NoError(t, b.Configure(context.Background(), idp.config(true)))

	res, err := b.Begin(context.Background())
	require.NoError(t, err)
	code, state := idp.authorize(res.AuthURL, jwt.MapClaims{"sub": "subject-bob"})

	_, err = b.Complete(context.Background(), res.AttemptID, state, code)
	assert.True(t, apperror.Is(err, apperror.TypeUnauthorized))
}
