package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesWrappedType(t *testing.T) {
	err := fmt.Errorf("login: %w", NewInvalidCredentials())

	assert.True(t, Is(err, TypeInvalidCredentials))
	assert.False(t, Is(err, TypeAccountLocked))
	assert.False(t, Is(errors.New("plain"), TypeInvalidCredentials))
}

func TestNewAccountLocked_CarriesRetryAfter(t *testing.T) {
	err := NewAccountLocked(90 * time.Second)

	assert.Equal(t, http.StatusTooManyRequests, err.Code)
	assert.Equal(t, int64(90), err.Details["retry_after_seconds"])
	assert.Contains(t, err.Message, "2 minute")
}

func TestNewAccountLocked_NeverZero(t *testing.T) {
	err := NewAccountLocked(0)
	assert.Equal(t, int64(1), err.Details["retry_after_seconds"])
}

func TestNewInternal_HidesCause(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.5:3306: connection refused")
	err := NewInternal(cause)

	assert.NotContains(t, SafeMessage(err), "10.0.0.5")
	assert.Equal(t, http.StatusInternalServerError, SafeCode(err))
	assert.ErrorIs(t, err, cause)
}

func TestNewConfigurationError_HidesCause(t *testing.T) {
	err := NewConfigurationError(errors.New("issuer https://idp.internal unreachable"))

	assert.NotContains(t, err.Message, "idp.internal")
	assert.Equal(t, http.StatusServiceUnavailable, err.Code)
}

func TestSafeMessage_NonAppError(t *testing.T) {
	assert.Equal(t, "an unexpected error occurred", SafeMessage(errors.New("boom")))
}

func TestNewEnrollmentRequired_Forced(t *testing.T) {
	assert.Equal(t, true, NewEnrollmentRequired(true).Details["forced"])
	assert.Equal(t, false, NewEnrollmentRequired(false).Details["forced"])
}
