package middleware

import (
	"github.com/labstack/echo/v4"
)

// SecurityHeaders returns middleware that sets security-related HTTP headers
// on every response. TLS is usually terminated by a reverse proxy in front
// of Landio; these headers still apply at the application layer.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			// The dashboard frontend is same-origin; the QR code is a data URL.
			h.Set("Content-Security-Policy",
				"default-src 'self'; "+
					"img-src 'self' data:; "+
					"connect-src 'self'; "+
					"frame-ancestors 'none'; "+
					"base-uri 'self'; "+
					"form-action 'self'",
			)

			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), payment=()")

			// Token responses must never be cached by intermediaries.
			if len(c.Request().URL.Path) >= 4 && c.Request().URL.Path[:4] == "/api" {
				h.Set("Cache-Control", "no-store")
			}

			return next(c)
		}
	}
}
