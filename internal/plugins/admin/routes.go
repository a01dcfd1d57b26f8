package admin

import (
	"github.com/labstack/echo/v4"

	"github.com/lolerskatez/landio/internal/plugins/audit"
	"github.com/lolerskatez/landio/internal/plugins/auth"
)

// RegisterRoutes sets up all admin routes on the given Echo instance.
// Creates an /api/admin group behind auth, then guards each route with the
// capability it needs. The activity log is mounted here because the audit
// plugin cannot import auth.
func RegisterRoutes(e *echo.Echo, h *Handler, auditHandler *audit.Handler, authService auth.AuthService) *echo.Group {
	admin := e.Group("/api/admin", auth.RequireAuth(authService))

	security := auth.RequireCapability(auth.CapManageSecurity)
	admin.GET("/security", h.Overview, security)
	admin.PUT("/security/enforcement", h.SetEnforcement, security)
	admin.PUT("/settings", h.UpdateSettings, security)
	admin.POST("/sso/reload", h.ReloadSSO, security)

	manageUsers := auth.RequireCapability(auth.CapManageUsers)
	admin.GET("/users", h.Users, manageUsers)
	admin.PUT("/users/:id/role", h.SetRole, manageUsers)
	admin.PUT("/users/:id/active", h.SetActive, manageUsers)
	admin.POST("/users/:id/unlock", h.Unlock, manageUsers)
	admin.PUT("/users/:id/force-2fa", h.SetForceEnrollment, security)
	admin.DELETE("/users/:id/2fa", h.DisableTwoFactor, security)

	if auditHandler != nil {
		audit.RegisterRoutes(admin, auditHandler, auth.RequireCapability(auth.CapViewActivity))
	}

	return admin
}
