package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func doRequest(e *echo.Echo, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = ip + ":40000"
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func newLimitedEcho(max int, window time.Duration) *echo.Echo {
	e := echo.New()
	e.POST("/login", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, rateLimit(newLimiterSet(max, window)))
	return e
}

func TestRateLimit_BlocksAfterBurst(t *testing.T) {
	e := newLimitedEcho(2, time.Minute)

	assert.Equal(t, http.StatusNoContent, doRequest(e, "10.0.0.1").Code)
	assert.Equal(t, http.StatusNoContent, doRequest(e, "10.0.0.1").Code)

	rec := doRequest(e, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limited")
}

func TestRateLimit_PerIP(t *testing.T) {
	e := newLimitedEcho(1, time.Minute)

	assert.Equal(t, http.StatusNoContent, doRequest(e, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(e, "10.0.0.1").Code)
	assert.Equal(t, http.StatusNoContent, doRequest(e, "10.0.0.2").Code)
}

func TestLimiterSet_SweepDropsIdle(t *testing.T) {
	set := newLimiterSet(5, time.Minute)
	start := time.Now()
	set.get("10.0.0.1", start)
	set.get("10.0.0.2", start.Add(90*time.Second))

	set.sweep(start.Add(150 * time.Second))

	assert.NotContains(t, set.entries, "10.0.0.1")
	assert.Contains(t, set.entries, "10.0.0.2")
}
