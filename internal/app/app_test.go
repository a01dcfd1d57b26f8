package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lolerskatez/landio/internal/apperror"
	"github.com/lolerskatez/landio/internal/config"
)

func newTestApp(t *testing.T, route echo.HandlerFunc) *App {
	t.Helper()
	a := New(&config.Config{Env: "development", BaseURL: "http://localhost:8080"}, nil, nil)
	a.Echo.GET("/api/test", route)
	return a
}

func serve(a *App, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestErrorHandler_AppError(t *testing.T) {
	a := newTestApp(t, func(echo.Context) error {
		return apperror.NewAccountLocked(90 * time.Second)
	})

	rec := serve(a, "/api/test")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "90", rec.Header().Get("Retry-After"))

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, apperror.TypeAccountLocked, body.Type)
	assert.EqualValues(t, 90, body.Details["retry_after_seconds"])
}

func TestErrorHandler_HidesInternalCause(t *testing.T) {
	a := newTestApp(t, func(echo.Context) error {
		return apperror.NewInternal(errors.New("dial tcp 10.0.0.5:3306: connection refused"))
	})

	rec := serve(a, "/api/test")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestErrorHandler_PlainError(t *testing.T) {
	a := newTestApp(t, func(echo.Context) error {
		return errors.New("boom")
	})

	rec := serve(a, "/api/test")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestErrorHandler_NotFound(t *testing.T) {
	a := newTestApp(t, func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := serve(a, "/api/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusText(http.StatusNotFound), body.Error)
}
