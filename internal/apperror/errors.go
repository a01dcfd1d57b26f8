// Package apperror provides domain-specific error types for Landio.
// These errors carry an HTTP status code and a user-safe message. The Echo
// error handler maps them to appropriate HTTP responses automatically.
//
// NEVER return raw database or infrastructure errors to the client. Always
// wrap them in an apperror type or return a generic internal error.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Machine-readable error types. The authentication kinds are part of the
// API contract: clients branch on them to decide the next step.
const (
	TypeNotFound              = "not_found"
	TypeBadRequest            = "bad_request"
	TypeUnauthorized          = "unauthorized"
	TypeForbidden             = "forbidden"
	TypeConflict              = "conflict"
	TypeValidation            = "validation_error"
	TypeInternal              = "internal_error"
	TypeInvalidCredentials    = "invalid_credentials"
	TypeAccountLocked         = "account_locked"
	TypeAccountDisabled       = "account_disabled"
	TypeEnrollmentRequired    = "enrollment_required"
	TypeSecondFactorRequired  = "second_factor_required"
	TypeInvalidCode           = "invalid_code"
	TypeNotEnrolled           = "two_factor_not_enrolled"
	TypeTokenExpired          = "token_expired"
	TypeTokenInvalid          = "token_invalid"
	TypeUserNotFound          = "user_not_found"
	TypeIPNotAllowed          = "ip_not_allowed"
	TypeConfigurationError    = "configuration_error"
	TypeAccountConflict       = "account_conflict"
	TypeSetupAlreadyCompleted = "setup_completed"
)

// AppError is the base error type for all domain errors. It carries an
// HTTP status code, a machine-readable error type, and a human-readable
// message safe to show to the client.
type AppError struct {
	// Code is the HTTP status code (e.g., 404, 400, 500).
	Code int `json:"-"`

	// Type is a machine-readable error classifier (e.g., "not_found").
	Type string `json:"type"`

	// Message is a human-readable description safe for the client.
	Message string `json:"message"`

	// Details holds structured, client-safe extras such as the remaining
	// lockout time. Nil for most errors.
	Details map[string]any `json:"details,omitempty"`

	// Internal holds the underlying error for logging. Never exposed to client.
	Internal error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %s (internal: %v)", e.Type, e.Message, e.Internal)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Internal
}

// WithDetail attaches a client-safe detail value and returns the error.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Is reports whether err is (or wraps) an AppError of the given type.
func Is(err error, errType string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// --- Constructors for common error types ---

// NewNotFound creates a 404 Not Found error.
func NewNotFound(message string) *AppError {
	return &AppError{
		Code:    http.StatusNotFound,
		Type:    TypeNotFound,
		Message: message,
	}
}

// NewBadRequest creates a 400 Bad Request error.
func NewBadRequest(message string) *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Type:    TypeBadRequest,
		Message: message,
	}
}

// NewUnauthorized creates a 401 Unauthorized error.
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeUnauthorized,
		Message: message,
	}
}

// NewForbidden creates a 403 Forbidden error.
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    TypeForbidden,
		Message: message,
	}
}

// NewConflict creates a 409 Conflict error.
func NewConflict(message string) *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Type:    TypeConflict,
		Message: message,
	}
}

// NewInternal creates a 500 Internal Server Error. The real error is stored
// in Internal for logging but the client only sees a generic message.
func NewInternal(err error) *AppError {
	return &AppError{
		Code:     http.StatusInternalServerError,
		Type:     TypeInternal,
		Message:  "An unexpected error occurred. Please try again.",
		Internal: err,
	}
}

// NewValidation creates a 422 Unprocessable Entity error for validation failures.
func NewValidation(message string) *AppError {
	return &AppError{
		Code:    http.StatusUnprocessableEntity,
		Type:    TypeValidation,
		Message: message,
	}
}

// --- Authentication kinds ---

// NewInvalidCredentials is the single generic login failure. It never says
// whether the identifier or the password was wrong.
func NewInvalidCredentials() *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeInvalidCredentials,
		Message: "Invalid username or password.",
	}
}

// NewAccountLocked reports a lockout together with the time left before the
// next attempt is allowed.
func NewAccountLocked(remaining time.Duration) *AppError {
	seconds := int64(remaining.Round(time.Second) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	minutes := (seconds + 59) / 60
	return (&AppError{
		Code:    http.StatusTooManyRequests,
		Type:    TypeAccountLocked,
		Message: fmt.Sprintf("Too many failed attempts. Try again in %d minute(s).", minutes),
	}).WithDetail("retry_after_seconds", seconds)
}

// NewAccountDisabled creates a 403 for inactive accounts.
func NewAccountDisabled() *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    TypeAccountDisabled,
		Message: "This account is disabled. Contact an administrator.",
	}
}

// NewEnrollmentRequired tells the caller to set up two-factor authentication
// before continuing. forced is false while a grace period is running.
func NewEnrollmentRequired(forced bool) *AppError {
	return (&AppError{
		Code:    http.StatusForbidden,
		Type:    TypeEnrollmentRequired,
		Message: "Two-factor authentication must be set up before continuing.",
	}).WithDetail("forced", forced)
}

// NewSecondFactorRequired tells the caller that a verification code is needed.
func NewSecondFactorRequired() *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeSecondFactorRequired,
		Message: "Enter the code from your authenticator app.",
	}
}

// NewInvalidCode is returned for any failed TOTP or backup code check.
func NewInvalidCode() *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeInvalidCode,
		Message: "The verification code is invalid or expired.",
	}
}

// NewNotEnrolled is returned when a second-factor operation targets an
// account without an active second factor.
func NewNotEnrolled() *AppError {
	return &AppError{
		Code:    http.StatusBadRequest,
		Type:    TypeNotEnrolled,
		Message: "Two-factor authentication is not enabled for this account.",
	}
}

// NewTokenExpired creates a 401 for tokens past their expiry.
func NewTokenExpired() *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeTokenExpired,
		Message: "Your session has expired. Please sign in again.",
	}
}

// NewTokenInvalid creates a 401 for malformed, forged, or already used tokens.
func NewTokenInvalid() *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeTokenInvalid,
		Message: "Invalid authentication token. Please sign in again.",
	}
}

// NewUserNotFound is returned when a valid token refers to a deleted account.
func NewUserNotFound() *AppError {
	return &AppError{
		Code:    http.StatusUnauthorized,
		Type:    TypeUserNotFound,
		Message: "This account no longer exists. Please sign in again.",
	}
}

// NewIPNotAllowed creates a 403 for requests outside the IP allowlist.
func NewIPNotAllowed() *AppError {
	return &AppError{
		Code:    http.StatusForbidden,
		Type:    TypeIPNotAllowed,
		Message: "Access from your network is not allowed. Contact an administrator.",
	}
}

// NewConfigurationError reports a misconfigured or unreachable SSO provider.
// The cause is kept internal.
func NewConfigurationError(err error) *AppError {
	return &AppError{
		Code:     http.StatusServiceUnavailable,
		Type:     TypeConfigurationError,
		Message:  "Single sign-on is not available right now. Contact an administrator.",
		Internal: err,
	}
}

// NewAccountConflict reports a uniqueness violation on account creation.
func NewAccountConflict(message string) *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Type:    TypeAccountConflict,
		Message: message,
	}
}

// NewSetupCompleted is returned when initial setup is attempted twice.
func NewSetupCompleted() *AppError {
	return &AppError{
		Code:    http.StatusConflict,
		Type:    TypeSetupAlreadyCompleted,
		Message: "Initial setup has already been completed.",
	}
}

// SafeMessage returns the client-safe error message from an error. If the
// error is an AppError, returns its Message field (which is safe to expose).
// For any other error type, returns a generic message to prevent leaking
// internal details like table names, query structure, or stack traces.
func SafeMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "an unexpected error occurred"
}

// SafeCode returns the HTTP status code from an AppError, or 500 for
// any other error type.
func SafeCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}
