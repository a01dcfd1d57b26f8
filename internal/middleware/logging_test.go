package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestRedactQuery(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "page=2", "page=2"},
		{"oidc callback", "code=abc123&state=xyz", "code=REDACTED&state=REDACTED"},
		{"mixed", "page=2&token=eyJ", "page=2&token=REDACTED"},
		{"unparsable", "a=%zz", "[unparsable]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, redactQuery(tt.raw))
		})
	}
}

func TestRequestLogger_RedactsCallbackCode(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	e := echo.New()
	e.Use(RequestLogger())
	e.GET("/api/sso/callback", func(c echo.Context) error {
		return c.NoContent(http.StatusFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/sso/callback?code=secret-auth-code&state=s1", nil)
	e.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, "/api/sso/callback")
	assert.Contains(t, out, "code=REDACTED")
	assert.NotContains(t, out, "secret-auth-code")
}
