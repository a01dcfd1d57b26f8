// Package token issues and validates the signed tokens that represent an
// authenticated session and the two short-lived pending grants used while a
// second factor is being set up or checked.
//
// Validation here is purely cryptographic. It never consults the credential
// store; callers that authorize a request must re-resolve the user.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lolerskatez/landio/internal/apperror"
	"github.com/lolerskatez/landio/internal/config"
	"github.com/lolerskatez/landio/internal/plugins/users"
)

// Purpose marks a pending grant. Session tokens carry no purpose.
type Purpose string

const (
	PurposeSession      Purpose = ""
	PurposeEnrollment   Purpose = "2fa_enrollment"
	PurposeVerification Purpose = "2fa_verification"
)

// Method records how a session was authenticated. Federated sessions leave
// second-factor enforcement to the identity provider.
type Method string

const (
	MethodPassword Method = "password"
	MethodSSO      Method = "sso"
)

// Claims is the payload of every token.
type Claims struct {
	UserID   int64   `json:"uid"`
	Username string  `json:"username,omitempty"`
	Name     string  `json:"name,omitempty"`
	Email    string  `json:"email"`
	Role     string  `json:"role,omitempty"`
	Purpose  Purpose `json:"purpose,omitempty"`
	Method   Method  `json:"amr,omitempty"`
	jwt.RegisteredClaims
}

// IsPending reports whether the claims belong to a pending grant.
func (c *Claims) IsPending() bool {
	return c.Purpose != PurposeSession
}

// Signed is an issued token with its expiry.
type Signed struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issuer signs and validates HS256 tokens.
type Issuer struct {
	secret          []byte
	issuer          string
	enrollmentTTL   time.Duration
	verificationTTL time.Duration
	now             func() time.Time
}

// NewIssuer creates an issuer from the auth configuration.
func NewIssuer(cfg config.AuthConfig) *Issuer {
	enroll := cfg.EnrollmentTokenTTL
	if enroll <= 0 {
		enroll = 30 * time.Minute
	}
	verify := cfg.VerificationTokenTTL
	if verify <= 0 {
		verify = 5 * time.Minute
	}
	return &Issuer{
		secret:          []byte(cfg.JWTSecret),
		issuer:          cfg.JWTIssuer,
		enrollmentTTL:   enroll,
		verificationTTL: verify,
		now:             time.Now,
	}
}

// WithClock returns a copy of the issuer that reads time from now.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	c := *i
	c.now = now
	return &c
}

// IssueSession signs a password session token valid for ttl.
func (i *Issuer) IssueSession(u *users.User, ttl time.Duration) (Signed, error) {
	return i.issue(u, PurposeSession, MethodPassword, ttl)
}

// IssueSSOSession signs a session token for a federated login.
func (i *Issuer) IssueSSOSession(u *users.User, ttl time.Duration) (Signed, error) {
	return i.issue(u, PurposeSession, MethodSSO, ttl)
}

// IssueEnrollment signs the grant that lets a user set up a second factor
// before holding a session. It carries only the user id and email.
func (i *Issuer) IssueEnrollment(u *users.User) (Signed, error) {
	return i.issue(&users.User{ID: u.ID, Email: u.Email}, PurposeEnrollment, MethodPassword, i.enrollmentTTL)
}

// IssueVerification signs the grant exchanged for a session once the second
// factor is presented.
func (i *Issuer) IssueVerification(u *users.User) (Signed, error) {
	return i.issue(u, PurposeVerification, MethodPassword, i.verificationTTL)
}

func (i *Issuer) issue(u *users.User, purpose Purpose, method Method, ttl time.Duration) (Signed, error) {
	now := i.now()
	exp := now.Add(ttl)

	claims := &Claims{
		UserID:   u.ID,
		Username: u.Username,
		Name:     u.DisplayName,
		Email:    u.Email,
		Role:     string(u.Role),
		Purpose:  purpose,
		Method:   method,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   fmt.Sprintf("%d", u.ID),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Signed{}, fmt.Errorf("signing token: %w", err)
	}
	return Signed{Token: signed, ExpiresAt: exp.Truncate(time.Second)}, nil
}

// Validate checks signature, algorithm, issuer and expiry. Expired tokens
// yield TokenExpired; everything else yields TokenInvalid.
func (i *Issuer) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.NewTokenExpired()
		}
		return nil, apperror.NewTokenInvalid()
	}
	if !token.Valid || claims.UserID <= 0 || claims.ID == "" {
		return nil, apperror.NewTokenInvalid()
	}
	return claims, nil
}

// ValidatePurpose validates the token and requires the given purpose.
func (i *Issuer) ValidatePurpose(tokenString string, purpose Purpose) (*Claims, error) {
	claims, err := i.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Purpose != purpose {
		return nil, apperror.NewTokenInvalid()
	}
	return claims, nil
}
