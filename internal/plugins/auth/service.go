package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lolerskatez/landio/internal/apperror"
	"github.com/lolerskatez/landio/internal/plugins/audit"
	"github.com/lolerskatez/landio/internal/plugins/policy"
	"github.com/lolerskatez/landio/internal/plugins/settings"
	"github.com/lolerskatez/landio/internal/plugins/sso"
	"github.com/lolerskatez/landio/internal/plugins/twofactor"
	"github.com/lolerskatez/landio/internal/plugins/users"
	"github.com/lolerskatez/landio/internal/token"
)

// AuthService defines the business logic contract for authentication.
// Handlers call these methods -- they never touch the stores directly.
type AuthService interface {
	// SetupRequired reports whether the first administrator still has to be
	// created.
	SetupRequired(ctx context.Context) (bool, error)
	Setup(ctx context.Context, input SetupInput) (*LoginResult, error)

	Login(ctx context.Context, input LoginInput) (*LoginResult, error)
	VerifySecondFactor(ctx context.Context, pendingToken, code, ip string) (*LoginResult, error)

	BeginTwoFactorSetup(ctx context.Context, p *Principal) (*twofactor.Enrollment, error)
	ConfirmTwoFactorSetup(ctx context.Context, p *Principal, secret, code, ip string) (*LoginResult, error)
	DisableTwoFactor(ctx context.Context, p *Principal, code, ip string) error
	AdminDisableTwoFactor(ctx context.Context, actor *Principal, userID int64, ip string) error
	TwoFactorStatus(ctx context.Context, p *Principal) (*TwoFactorOverview, error)
	RegenerateBackupCodes(ctx context.Context, p *Principal, code, ip string) ([]string, error)

	SSOStatus() sso.Status
	BeginSSO(ctx context.Context) (*sso.BeginResult, error)
	CompleteSSO(ctx context.Context, attemptID, state, code, ip string) (*LoginResult, error)

	// Authorize is the per-request check: token, live account, IP allowlist
	// and forced enrollment.
	Authorize(ctx context.Context, input AuthorizeInput) (*Principal, error)

	// AuthorizeEnrollment accepts an enrollment grant without a store
	// lookup, or falls back to Authorize with AllowUnenrolled.
	AuthorizeEnrollment(ctx context.Context, tokenString, ip string) (*Principal, error)

	Refresh(ctx context.Context, p *Principal, ip string) (*token.Signed, error)
	CurrentUser(ctx context.Context, p *Principal) (*CurrentUser, error)
	ChangePassword(ctx context.Context, p *Principal, input ChangePasswordInput) error
	Logout(ctx context.Context, p *Principal, ip string) error
}

// SystemSettings is the write side of the settings store used by setup.
type SystemSettings interface {
	SetSystem(ctx context.Context, key, value string) error
}

// Dependencies wires the orchestrator to its collaborators.
type Dependencies struct {
	Users     users.UserRepository
	Policy    policy.Evaluator
	Factors   twofactor.Manager
	Tokens    *token.Issuer
	Replay    token.ReplayGuard
	Bridge    sso.Bridge
	Federator sso.Federator
	Settings  SystemSettings
	Audit     audit.AuditService
}

// authService implements AuthService.
type authService struct {
	users     users.UserRepository
	policy    policy.Evaluator
	factors   twofactor.Manager
	tokens    *token.Issuer
	replay    token.ReplayGuard
	bridge    sso.Bridge
	federator sso.Federator
	settings  SystemSettings
	audit     audit.AuditService
	now       func() time.Time
}

// NewAuthService creates the orchestrator.
func NewAuthService(d Dependencies) AuthService {
	return &authService{
		users:     d.Users,
		policy:    d.Policy,
		factors:   d.Factors,
		tokens:    d.Tokens,
		replay:    d.Replay,
		bridge:    d.Bridge,
		federator: d.Federator,
		settings:  d.Settings,
		audit:     d.Audit,
		now:       time.Now,
	}
}

// --- Initial setup ---

func (s *authService) SetupRequired(ctx context.Context) (bool, error) {
	done, err := s.policy.Bool(ctx, 0, settings.KeySetupCompleted, false)
	if err != nil {
		return false, apperror.NewInternal(err)
	}
	if done {
		return false, nil
	}
	n, err := s.users.CountUsers(ctx)
	if err != nil {
		return false, apperror.NewInternal(fmt.Errorf("counting users: %w", err))
	}
	return n == 0, nil
}

// Setup creates the first administrator and signs them in. It is refused
// once any account exists.
func (s *authService) Setup(ctx context.Context, input SetupInput) (*LoginResult, error) {
	required, err := s.SetupRequired(ctx)
	if err != nil {
		return nil, err
	}
	if !required {
		return nil, apperror.NewSetupCompleted()
	}

	if err := s.policy.CheckPassword(ctx, input.Password); err != nil {
		return nil, err
	}
	hash, err := hashPassword(input.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	user, err := users.NewLocalUser(input.Username, input.Email, input.DisplayName, hash, users.RoleAdmin)
	if err != nil {
		return nil, apperror.NewValidation(err.Error())
	}
	if strings.TrimSpace(user.DisplayName) == "" {
		user.DisplayName = user.Username
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	if err := s.settings.SetSystem(ctx, settings.KeySetupCompleted, "true"); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("marking setup complete: %w", err))
	}

	s.record(ctx, &user.ID, audit.ActionSetupCompleted, "initial administrator created", input.IP)
	slog.Info("initial setup completed",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return s.completeLogin(ctx, user, token.MethodPassword, input.IP, "setup")
}

// --- Password login ---

// Login checks a username-or-email and password. Every rejection before the
// account's own state is known looks the same to the caller.
func (s *authService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	now := s.now().UTC()
	ident := strings.TrimSpace(input.Identifier)

	if ident == "" || input.Password == "" || len(input.Password) > policy.MaxPasswordLength {
		verifyDummy(input.Password)
		return nil, apperror.NewInvalidCredentials()
	}

	user, err := s.users.FindByIdentifier(ctx, ident)
	if err != nil {
		if apperror.Is(err, apperror.TypeNotFound) {
			verifyDummy(input.Password)
			s.record(ctx, nil, audit.ActionLoginFailed, "unknown identifier: "+truncate(ident, 100), input.IP)
			return nil, apperror.NewInvalidCredentials()
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	if !user.HasPassword() {
		verifyDummy(input.Password)
		s.record(ctx, &user.ID, audit.ActionLoginFailed, "password login to an account without a password", input.IP)
		return nil, apperror.NewInvalidCredentials()
	}

	lock, err := s.policy.Lockout(ctx, user, now)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	if lock.Locked {
		s.record(ctx, &user.ID, audit.ActionLoginFailed, "account locked", input.IP)
		return nil, apperror.NewAccountLocked(lock.Remaining)
	}

	ok, needsRehash := verifyPassword(input.Password, *user.PasswordHash)
	if !ok {
		if err := s.recordFailure(ctx, user, lock, now, input.IP, "invalid password"); err != nil {
			return nil, err
		}
		return nil, apperror.NewInvalidCredentials()
	}

	if user.FailedLoginAttempts > 0 {
		if err := s.users.ResetFailedLogins(ctx, user.ID); err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("resetting failed logins: %w", err))
		}
		user.FailedLoginAttempts = 0
	}

	if !user.IsActive {
		s.record(ctx, &user.ID, audit.ActionLoginFailed, "account disabled", input.IP)
		return nil, apperror.NewAccountDisabled()
	}

	if needsRehash {
		s.upgradeHash(ctx, user, input.Password)
	}

	return s.secondFactorStep(ctx, user, input.IP, now)
}

// recordFailure counts a failed attempt and audits it, plus the lockout when
// this failure reaches the threshold.
func (s *authService) recordFailure(ctx context.Context, user *users.User, lock policy.LockoutState, now time.Time, ip, reason string) error {
	// Read-modify-write without a row lock: concurrent failures may each
	// see the old count. The counter itself is incremented in SQL.
	if err := s.users.RecordFailedLogin(ctx, user.ID, now); err != nil {
		return apperror.NewInternal(fmt.Errorf("recording failed login: %w", err))
	}
	failures := user.FailedLoginAttempts + 1
	s.record(ctx, &user.ID, audit.ActionLoginFailed, reason, ip)

	if lock.ReachesThreshold(failures) {
		s.record(ctx, &user.ID, audit.ActionAccountLocked,
			fmt.Sprintf("locked after %d failed attempts for %s", failures, lock.Window), ip)
		slog.Warn("account locked",
			slog.Int64("user_id", user.ID),
			slog.Int("failures", failures),
			slog.String("ip", ip),
		)
	}
	return nil
}

// upgradeHash replaces a legacy hash after a successful verification.
func (s *authService) upgradeHash(ctx context.Context, user *users.User, password string) {
	hash, err := hashPassword(password)
	if err != nil {
		slog.Warn("rehashing legacy password failed", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return
	}
	if err := s.users.Update(ctx, user.ID, users.UserUpdate{PasswordHash: &hash}); err != nil {
		slog.Warn("storing upgraded password hash failed", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return
	}
	user.PasswordHash = &hash
}

// secondFactorStep decides what follows a correct password.
func (s *authService) secondFactorStep(ctx context.Context, user *users.User, ip string, now time.Time) (*LoginResult, error) {
	enrolled, err := s.factors.IsEnrolled(ctx, user.ID)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	if enrolled {
		pending, err := s.tokens.IssueVerification(user)
		if err != nil {
			return nil, apperror.NewInternal(err)
		}
		return &LoginResult{Status: StatusSecondFactorRequired, Pending: &pending, User: user}, nil
	}

	req, err := s.policy.TwoFactorRequirement(ctx, user, now)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	if req.Required && req.Forced {
		pending, err := s.tokens.IssueEnrollment(user)
		if err != nil {
			return nil, apperror.NewInternal(err)
		}
		return &LoginResult{Status: StatusEnrollmentRequired, Pending: &pending, User: user, Forced: true}, nil
	}

	result, err := s.completeLogin(ctx, user, token.MethodPassword, ip, "password")
	if err != nil {
		return nil, err
	}
	if req.Required {
		result.Status = StatusEnrollmentRequired
		result.GraceEndsAt = req.GraceEndsAt
	}
	return result, nil
}

// VerifySecondFactor exchanges a verification grant and a code for a
// session. The grant is single-use once exchanged.
func (s *authService) VerifySecondFactor(ctx context.Context, pendingToken, code, ip string) (*LoginResult, error) {
	now := s.now().UTC()

	claims, err := s.tokens.ValidatePurpose(pendingToken, token.PurposeVerification)
	if err != nil {
		return nil, err
	}
	user, err := s.resolveUser(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}

	// A spent grant must not reach the code check, which burns backup codes
	// and counts failures.
	used, err := s.replay.Used(ctx, claims)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, apperror.NewTokenInvalid()
	}

	lock, err := s.policy.Lockout(ctx, user, now)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	if lock.Locked {
		return nil, apperror.NewAccountLocked(lock.Remaining)
	}

	method, err := s.factors.Verify(ctx, user.ID, code)
	if err != nil {
		if apperror.Is(err, apperror.TypeInvalidCode) {
			if ferr := s.recordFailure(ctx, user, lock, now, ip, "invalid second factor code"); ferr != nil {
				return nil, ferr
			}
		}
		return nil, err
	}

	if err := s.replay.Consume(ctx, claims); err != nil {
		return nil, err
	}
	if user.FailedLoginAttempts > 0 {
		if err := s.users.ResetFailedLogins(ctx, user.ID); err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("resetting failed logins: %w", err))
		}
		user.FailedLoginAttempts = 0
	}
	if method == twofactor.MethodBackupCode {
		s.record(ctx, &user.ID, audit.ActionTwoFABackupCodeUsed, "backup code used at login", ip)
	}

	return s.completeLogin(ctx, user, token.MethodPassword, ip, "password + "+string(method))
}

// completeLogin records the login and issues the session token.
func (s *authService) completeLogin(ctx context.Context, user *users.User, method token.Method, ip, details string) (*LoginResult, error) {
	now := s.now().UTC()
	if err := s.users.RecordLogin(ctx, user.ID, now); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("recording login: %w", err))
	}
	user.LastLoginAt = &now
	user.LoginCount++

	session, err := s.issueSession(ctx, user, method)
	if err != nil {
		return nil, err
	}

	s.record(ctx, &user.ID, audit.ActionLogin, details, ip)
	slog.Info("user logged in",
		slog.Int64("user_id", user.ID),
		slog.String("method", string(method)),
		slog.String("ip", ip),
	)
	return &LoginResult{Status: StatusAuthenticated, Session: session, User: user}, nil
}

func (s *authService) issueSession(ctx context.Context, user *users.User, method token.Method) (*token.Signed, error) {
	flow := policy.FlowPassword
	if method == token.MethodSSO {
		flow = policy.FlowSSO
	}
	ttl, err := s.policy.SessionTimeout(ctx, flow)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}

	var signed token.Signed
	if method == token.MethodSSO {
		signed, err = s.tokens.IssueSSOSession(user, ttl)
	} else {
		signed, err = s.tokens.IssueSession(user, ttl)
	}
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	return &signed, nil
}

// --- Second-factor management ---

func (s *authService) BeginTwoFactorSetup(ctx context.Context, p *Principal) (*twofactor.Enrollment, error) {
	enrolled, err := s.factors.IsEnrolled(ctx, p.UserID)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	if enrolled {
		return nil, apperror.NewConflict("Two-factor authentication is already enabled. Disable it first to enroll a new device.")
	}
	account := p.Email
	if account == "" {
		account = p.Username
	}
	return s.factors.Begin(ctx, p.UserID, account)
}

// ConfirmTwoFactorSetup activates the pending enrollment. A caller holding
// an enrollment grant receives a session; one holding a session keeps it.
func (s *authService) ConfirmTwoFactorSetup(ctx context.Context, p *Principal, secret, code, ip string) (*LoginResult, error) {
	if err := s.factors.Confirm(ctx, p.UserID, secret, code); err != nil {
		return nil, err
	}

	if err := s.policy.SetForceEnrollment(ctx, p.UserID, false); err != nil {
		slog.Warn("clearing forced enrollment flag failed", slog.Int64("user_id", p.UserID), slog.Any("error", err))
	}
	s.record(ctx, &p.UserID, audit.ActionTwoFAEnabled, "", ip)

	if !p.IsEnrollmentGrant() {
		return &LoginResult{Status: StatusAuthenticated, User: p.User}, nil
	}

	if err := s.replay.Consume(ctx, p.Claims); err != nil {
		return nil, err
	}
	user, err := s.resolveUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	return s.completeLogin(ctx, user, token.MethodPassword, ip, "password + totp enrollment")
}

// DisableTwoFactor turns off the caller's own second factor after checking a
// current code. Refused while policy requires a second factor.
func (s *authService) DisableTwoFactor(ctx context.Context, p *Principal, code, ip string) error {
	user, err := s.sessionUser(ctx, p)
	if err != nil {
		return err
	}

	req, err := s.policy.TwoFactorRequirement(ctx, user, s.now().UTC())
	if err != nil {
		return apperror.NewInternal(err)
	}
	if req.Required {
		return apperror.NewForbidden("Two-factor authentication is required for your account and cannot be disabled.")
	}

	if _, err := s.factors.Verify(ctx, user.ID, code); err != nil {
		return err
	}
	if err := s.factors.Disable(ctx, user.ID); err != nil {
		return err
	}
	s.record(ctx, &user.ID, audit.ActionTwoFADisabled, "disabled by user", ip)
	return nil
}

// AdminDisableTwoFactor removes another account's second factor, e.g. after
// a lost device.
func (s *authService) AdminDisableTwoFactor(ctx context.Context, actor *Principal, userID int64, ip string) error {
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if apperror.Is(err, apperror.TypeNotFound) {
			return apperror.NewNotFound("user not found")
		}
		return apperror.NewInternal(err)
	}
	enrolled, err := s.factors.IsEnrolled(ctx, userID)
	if err != nil {
		return apperror.NewInternal(err)
	}
	if !enrolled {
		return apperror.NewNotEnrolled()
	}
	if err := s.factors.Disable(ctx, userID); err != nil {
		return err
	}
	s.record(ctx, &userID, audit.ActionTwoFADisabled, fmt.Sprintf("disabled by administrator %s", actor.Username), ip)
	slog.Info("second factor disabled by administrator",
		slog.Int64("user_id", userID),
		slog.Int64("actor_id", actor.UserID),
	)
	return nil
}

func (s *authService) TwoFactorStatus(ctx context.Context, p *Principal) (*TwoFactorOverview, error) {
	status, err := s.factors.Status(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	overview := &TwoFactorOverview{Enabled: status.Enabled, BackupCodesRemaining: status.BackupCodesRemaining}
	if p.User != nil {
		req, err := s.policy.TwoFactorRequirement(ctx, p.User, s.now().UTC())
		if err != nil {
			return nil, apperror.NewInternal(err)
		}
		overview.Requirement = req
	}
	return overview, nil
}

// RegenerateBackupCodes replaces the caller's backup codes after checking a
// current code.
func (s *authService) RegenerateBackupCodes(ctx context.Context, p *Principal, code, ip string) ([]string, error) {
	user, err := s.sessionUser(ctx, p)
	if err != nil {
		return nil, err
	}
	if _, err := s.factors.Verify(ctx, user.ID, code); err != nil {
		return nil, err
	}
	codes, err := s.factors.RegenerateBackupCodes(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, &user.ID, audit.ActionTwoFABackupCodesRegenerate, "", ip)
	return codes, nil
}

// --- SSO ---

func (s *authService) SSOStatus() sso.Status {
	return s.bridge.Status()
}

func (s *authService) BeginSSO(ctx context.Context) (*sso.BeginResult, error) {
	return s.bridge.Begin(ctx)
}

// CompleteSSO finishes a federated login. Second-factor enforcement is left
// to the identity provider.
func (s *authService) CompleteSSO(ctx context.Context, attemptID, state, code, ip string) (*LoginResult, error) {
	id, err := s.bridge.Complete(ctx, attemptID, state, code)
	if err != nil {
		return nil, err
	}

	user, created, err := s.federator.Resolve(ctx, *id)
	if err != nil {
		if apperror.Is(err, apperror.TypeAccountConflict) {
			s.record(ctx, nil, audit.ActionLoginFailed, "sso identity conflicts with local account: "+id.Email, ip)
			return nil, err
		}
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperror.NewInternal(err)
	}
	if !user.IsActive {
		return nil, apperror.NewAccountDisabled()
	}

	session, err := s.issueSession(ctx, user, token.MethodSSO)
	if err != nil {
		return nil, err
	}

	action := audit.ActionSSOLogin
	if created {
		action = audit.ActionSSOSignup
	}
	s.record(ctx, &user.ID, action, fmt.Sprintf("issuer=%s role=%s", id.Issuer, user.Role), ip)
	slog.Info("sso login",
		slog.Int64("user_id", user.ID),
		slog.Bool("created", created),
		slog.String("role", string(user.Role)),
	)
	return &LoginResult{Status: StatusAuthenticated, Session: session, User: user, Created: created}, nil
}

// --- Per-request authorization ---

func (s *authService) Authorize(ctx context.Context, input AuthorizeInput) (*Principal, error) {
	claims, err := s.tokens.Validate(input.Token)
	if err != nil {
		return nil, err
	}
	if claims.IsPending() {
		return nil, apperror.NewTokenInvalid()
	}

	user, err := s.resolveUser(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}

	allowed, err := s.policy.IPAllowed(ctx, input.IP)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	if !allowed {
		slog.Warn("request from address outside allowlist",
			slog.Int64("user_id", user.ID),
			slog.String("ip", input.IP),
		)
		return nil, apperror.NewIPNotAllowed()
	}

	if !input.AllowUnenrolled && claims.Method != token.MethodSSO {
		if err := s.enforceEnrollment(ctx, user); err != nil {
			return nil, err
		}
	}

	return principalFor(user, claims), nil
}

// enforceEnrollment rejects a user whose enrollment is forced and missing.
// Runs on every request so an enforcement change applies immediately.
func (s *authService) enforceEnrollment(ctx context.Context, user *users.User) error {
	req, err := s.policy.TwoFactorRequirement(ctx, user, s.now().UTC())
	if err != nil {
		return apperror.NewInternal(err)
	}
	if !req.Required || !req.Forced {
		return nil
	}
	enrolled, err := s.factors.IsEnrolled(ctx, user.ID)
	if err != nil {
		return apperror.NewInternal(err)
	}
	if !enrolled {
		return apperror.NewEnrollmentRequired(true)
	}
	return nil
}

func (s *authService) AuthorizeEnrollment(ctx context.Context, tokenString, ip string) (*Principal, error) {
	claims, err := s.tokens.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Purpose == token.PurposeEnrollment {
		return &Principal{
			UserID: claims.UserID,
			Email:  claims.Email,
			Claims: claims,
		}, nil
	}
	return s.Authorize(ctx, AuthorizeInput{Token: tokenString, IP: ip, AllowUnenrolled: true})
}

// resolveUser loads a live account for a validated token.
func (s *authService) resolveUser(ctx context.Context, id int64) (*users.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if apperror.Is(err, apperror.TypeNotFound) {
			return nil, apperror.NewUserNotFound()
		}
		return nil, apperror.NewInternal(fmt.Errorf("resolving user %d: %w", id, err))
	}
	if !user.IsActive {
		return nil, apperror.NewAccountDisabled()
	}
	return user, nil
}

// sessionUser returns the account behind a session principal. Enrollment
// grants cannot manage an existing second factor.
func (s *authService) sessionUser(ctx context.Context, p *Principal) (*users.User, error) {
	if p.IsEnrollmentGrant() {
		return nil, apperror.NewForbidden("Finish two-factor enrollment first.")
	}
	if p.User != nil {
		return p.User, nil
	}
	return s.resolveUser(ctx, p.UserID)
}

func principalFor(user *users.User, claims *token.Claims) *Principal {
	return &Principal{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Name:     user.DisplayName,
		Role:     user.Role,
		User:     user,
		Claims:   claims,
	}
}

// --- Session maintenance ---

// Refresh issues a new session for an authorized caller. Each session token
// can be refreshed once.
func (s *authService) Refresh(ctx context.Context, p *Principal, ip string) (*token.Signed, error) {
	user, err := s.sessionUser(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := s.replay.Consume(ctx, p.Claims); err != nil {
		return nil, err
	}
	method := p.Claims.Method
	if method == "" {
		method = token.MethodPassword
	}
	signed, err := s.issueSession(ctx, user, method)
	if err != nil {
		return nil, err
	}
	s.record(ctx, &user.ID, audit.ActionTokenRefreshed, "", ip)
	return signed, nil
}

func (s *authService) CurrentUser(ctx context.Context, p *Principal) (*CurrentUser, error) {
	user, err := s.sessionUser(ctx, p)
	if err != nil {
		return nil, err
	}
	overview, err := s.TwoFactorStatus(ctx, &Principal{UserID: user.ID, User: user})
	if err != nil {
		return nil, err
	}
	return &CurrentUser{
		User:         user,
		TwoFactor:    *overview,
		Capabilities: CapabilitiesOf(user.Role),
		Method:       p.Claims.Method,
	}, nil
}

// ChangePassword verifies the current password and stores a new one. A
// federated account without a password may set its first one.
func (s *authService) ChangePassword(ctx context.Context, p *Principal, input ChangePasswordInput) error {
	user, err := s.sessionUser(ctx, p)
	if err != nil {
		return err
	}

	if user.HasPassword() {
		if ok, _ := verifyPassword(input.Current, *user.PasswordHash); !ok {
			s.record(ctx, &user.ID, audit.ActionLoginFailed, "wrong current password on password change", input.IP)
			return apperror.NewInvalidCredentials()
		}
	}
	if err := s.policy.CheckPassword(ctx, input.New); err != nil {
		return err
	}

	hash, err := hashPassword(input.New)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}
	if err := s.users.Update(ctx, user.ID, users.UserUpdate{PasswordHash: &hash}); err != nil {
		return apperror.NewInternal(fmt.Errorf("storing password: %w", err))
	}
	s.record(ctx, &user.ID, audit.ActionPasswordChanged, "", input.IP)
	return nil
}

// Logout records the sign-out and burns the token's refresh. Authorize does
// not consult the replay guard, so the bearer token itself stays valid until
// it expires; clients must discard it.
func (s *authService) Logout(ctx context.Context, p *Principal, ip string) error {
	if p.Claims != nil {
		if err := s.replay.Consume(ctx, p.Claims); err != nil && !apperror.Is(err, apperror.TypeTokenInvalid) {
			slog.Warn("recording logout token failed", slog.Int64("user_id", p.UserID), slog.Any("error", err))
		}
	}
	s.record(ctx, &p.UserID, audit.ActionLogout, "", ip)
	return nil
}

// --- Helpers ---

// record writes an audit entry. Failures are logged by the audit service
// and never fail the operation.
func (s *authService) record(ctx context.Context, userID *int64, action, details, ip string) {
	entry := &audit.Entry{Action: action, Details: details, IPAddress: ip}
	if userID != nil {
		id := *userID
		entry.UserID = &id
	}
	_ = s.audit.Log(ctx, entry)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
