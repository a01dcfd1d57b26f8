package sso

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/lolerskatez/landio/internal/apperror"
	"github.com/lolerskatez/landio/internal/config"
)

// httpTimeout bounds every request to the provider.
const httpTimeout = 10 * time.Second

// Bridge is the OIDC relying party. It moves Unconfigured -> Discovering ->
// Ready, and back to Discovering on every reconfiguration. A failed
// discovery leaves it Unconfigured, never with a partial client.
type Bridge interface {
	// Configure replaces the provider configuration and runs discovery.
	Configure(ctx context.Context, cfg ProviderConfig) error

	// Reload reads the configuration from settings and configures with it.
	Reload(ctx context.Context) error

	// State returns the current lifecycle state.
	State() State

	// Status summarizes the bridge for administrators.
	Status() Status

	// Begin starts a login attempt.
	Begin(ctx context.Context) (*BeginResult, error)

	// Complete finishes an attempt with the values the provider sent back to
	// the callback. The attempt is consumed whatever the outcome.
	Complete(ctx context.Context, attemptID, state, code string) (*Identity, error)
}

// client is everything built from one successful discovery.
type client struct {
	cfg      ProviderConfig
	provider *oidc.Provider
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// bridge implements Bridge.
type bridge struct {
	attempts AttemptStore
	settings SettingsReader
	env      config.SSOConfig
	http     *http.Client
	now      func() time.Time

	// configureMu serializes reconfiguration; mu guards the fields below.
	configureMu sync.Mutex
	mu          sync.RWMutex
	state       State
	cfg         ProviderConfig
	client      *client
	lastErr     error
}

// NewBridge creates an unconfigured bridge. Call Reload or Configure before use.
func NewBridge(attempts AttemptStore, settings SettingsReader, env config.SSOConfig) Bridge {
	return &bridge{
		attempts: attempts,
		settings: settings,
		env:      env,
		http:     &http.Client{Timeout: httpTimeout},
		now:      time.Now,
		state:    StateUnconfigured,
	}
}

// --- Configuration ---

func (b *bridge) Reload(ctx context.Context) error {
	cfg, err := LoadProviderConfig(ctx, b.settings, b.env)
	if err != nil {
		return apperror.NewInternal(err)
	}
	return b.Configure(ctx, cfg)
}

func (b *bridge) Configure(ctx context.Context, cfg ProviderConfig) error {
	b.configureMu.Lock()
	defer b.configureMu.Unlock()

	if !cfg.Enabled {
		b.set(StateUnconfigured, cfg, nil, nil)
		slog.Info("sso disabled")
		return nil
	}
	if err := cfg.Validate(); err != nil {
		b.set(StateUnconfigured, cfg, nil, err)
		return apperror.NewConfigurationError(err)
	}

	b.set(StateDiscovering, cfg, nil, nil)

	// The provider keeps this context for later key set refreshes, so it
	// must outlive the request that triggered the reload.
	pctx := oidc.ClientContext(context.WithoutCancel(ctx), b.http)
	provider, err := oidc.NewProvider(pctx, cfg.IssuerURL)
	if err != nil {
		err = fmt.Errorf("discovering %s: %w", cfg.IssuerURL, err)
		b.set(StateUnconfigured, cfg, nil, err)
		slog.Error("sso discovery failed", slog.String("issuer", cfg.IssuerURL), slog.Any("error", err))
		return apperror.NewConfigurationError(err)
	}

	c := &client{
		cfg:      cfg,
		provider: provider,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       cfg.Scopes,
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}
	b.set(StateReady, cfg, c, nil)
	slog.Info("sso provider ready",
		slog.String("issuer", cfg.IssuerURL),
		slog.Bool("pkce", cfg.UsePKCE),
	)
	return nil
}

func (b *bridge) set(state State, cfg ProviderConfig, c *client, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
	b.cfg = cfg
	b.client = c
	b.lastErr = err
}

func (b *bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *bridge) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Status{
		State:     b.state,
		Enabled:   b.cfg.Enabled,
		IssuerURL: b.cfg.IssuerURL,
		UsePKCE:   b.cfg.UsePKCE,
	}
	if b.lastErr != nil {
		s.LastError = b.lastErr.Error()
	}
	return s
}

// ready returns the live client, or a ConfigurationError.
func (b *bridge) ready() (*client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state != StateReady || b.client == nil {
		return nil, apperror.NewConfigurationError(fmt.Errorf("sso bridge is %s", b.state))
	}
	return b.client, nil
}

// --- Login flow ---

func (b *bridge) Begin(ctx context.Context) (*BeginResult, error) {
	c, err := b.ready()
	if err != nil {
		return nil, err
	}

	state, err := randomToken()
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	nonce, err := randomToken()
	if err != nil {
		return nil, apperror.NewInternal(err)
	}

	a := &attempt{State: state, Nonce: nonce, CreatedAt: b.now().UTC()}
	opts := []oauth2.AuthCodeOption{oidc.Nonce(nonce)}
	if c.cfg.UsePKCE {
		a.Verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(a.Verifier))
	}

	id, err := b.attempts.Put(ctx, a)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	return &BeginResult{AttemptID: id, AuthURL: c.oauth.AuthCodeURL(state, opts...)}, nil
}

func (b *bridge) Complete(ctx context.Context, attemptID, state, code string) (*Identity, error) {
	// Take before anything else so every failure below leaves no pending state.
	a, err := b.attempts.Take(ctx, attemptID)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	if a == nil {
		return nil, apperror.NewUnauthorized("Your sign-in attempt expired or was already used. Please try again.")
	}
	if subtle.ConstantTimeCompare([]byte(a.State), []byte(state)) != 1 {
		return nil, apperror.NewUnauthorized("Invalid sign-in state. Please try again.")
	}
	if code == "" {
		return nil, apperror.NewUnauthorized("The identity provider did not return an authorization code.")
	}

	c, err := b.ready()
	if err != nil {
		return nil, err
	}

	ctx = oidc.ClientContext(ctx, b.http)

	var opts []oauth2.AuthCodeOption
	if a.Verifier != "" {
		opts = append(opts, oauth2.VerifierOption(a.Verifier))
	}
	tok, err := c.oauth.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, failure("exchanging authorization code", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, failure("reading token response", errors.New("no id_token in token response"))
	}
	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, failure("verifying id token", err)
	}
	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(a.Nonce)) != 1 {
		return nil, failure("verifying id token", errors.New("nonce mismatch"))
	}

	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, failure("decoding id token claims", err)
	}
	if err := b.mergeUserInfo(ctx, c, tok, idToken.Subject, claims); err != nil {
		return nil, err
	}

	id := NormalizeClaims(claims, c.cfg.ClientID)
	id.Issuer = idToken.Issuer
	id.Subject = idToken.Subject
	if id.Email == "" {
		return nil, failure("reading claims", errors.New("provider supplied no email"))
	}
	id.Role = MapRole(id.Groups, c.cfg.AdminGroups, c.cfg.PowerUserGroups)
	return &id, nil
}

// mergeUserInfo fills claims missing from the ID token with the userinfo
// response. Skipped when the provider has no userinfo endpoint.
func (b *bridge) mergeUserInfo(ctx context.Context, c *client, tok *oauth2.Token, subject string, claims map[string]any) error {
	if c.provider.UserInfoEndpoint() == "" {
		return nil
	}
	info, err := c.provider.UserInfo(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return failure("fetching userinfo", err)
	}
	if info.Subject != subject {
		return failure("fetching userinfo", errors.New("userinfo subject does not match id token"))
	}
	extra := map[string]any{}
	if err := info.Claims(&extra); err != nil {
		return failure("decoding userinfo claims", err)
	}
	for k, v := range extra {
		if _, ok := claims[k]; !ok {
			claims[k] = v
		}
	}
	return nil
}

// failure logs the cause and returns the generic callback error.
func failure(step string, err error) error {
	slog.Warn("sso callback failed", slog.String("step", step), slog.Any("error", err))
	appErr := apperror.NewUnauthorized("Single sign-on failed. Please try again.")
	appErr.Internal = fmt.Errorf("%s: %w", step, err)
	return appErr
}

// randomToken returns 32 random bytes, base64url encoded.
func randomToken() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generating random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}
