package audit

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes mounts the activity endpoints on an authenticated group.
// The auth plugin writes to this package, so the caller supplies the
// permission guard to avoid an import cycle.
func RegisterRoutes(admin *echo.Group, h *Handler, guard ...echo.MiddlewareFunc) {
	admin.GET("/activity", h.Activity, guard...)
	admin.GET("/users/:id/activity", h.UserActivity, guard...)
}
