package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lolerskatez/landio/internal/middleware"
)

// RegisterRoutes sets up the auth, second-factor and SSO routes.
//
// Credential endpoints are rate-limited per IP to slow brute-force and
// credential stuffing: 10 per minute for login and code verification, 5 for
// setup. Account lockout applies on top of this.
func RegisterRoutes(e *echo.Echo, h *Handler, service AuthService) {
	requireAuth := RequireAuth(service)
	allowUnenrolled := RequireAuthAllowUnenrolled(service)
	enrollment := RequireEnrollmentGrant(service)

	a := e.Group("/api/auth")
	a.GET("/setup", h.SetupStatus)
	a.POST("/setup", h.Setup, middleware.RateLimit(5, time.Minute))
	a.POST("/login", h.Login, middleware.RateLimit(10, time.Minute))
	a.POST("/2fa/verify", h.VerifySecondFactor, middleware.RateLimit(10, time.Minute))
	a.POST("/refresh", h.Refresh, requireAuth)
	a.POST("/logout", h.Logout, allowUnenrolled)
	a.GET("/me", h.Me, allowUnenrolled)
	a.POST("/password", h.ChangePassword, requireAuth, middleware.RateLimit(10, time.Minute))

	// Setup and confirm accept an enrollment grant so a user forced to enroll
	// can do so before holding a session.
	tf := e.Group("/api/2fa")
	tf.GET("/status", h.TwoFactorStatus, enrollment)
	tf.POST("/setup", h.BeginTwoFactorSetup, enrollment)
	tf.POST("/confirm", h.ConfirmTwoFactorSetup, enrollment, middleware.RateLimit(10, time.Minute))
	tf.POST("/disable", h.DisableTwoFactor, requireAuth, middleware.RateLimit(10, time.Minute))
	tf.POST("/backup-codes", h.RegenerateBackupCodes, requireAuth, middleware.RateLimit(10, time.Minute))

	s := e.Group("/api/sso")
	s.GET("/status", h.SSOStatus)
	s.GET("/login", h.SSOLogin, middleware.RateLimit(20, time.Minute))
	s.GET("/callback", h.SSOCallback, middleware.RateLimit(20, time.Minute))
}
