// Package admin is the administrative surface of the security core. It lets
// administrators set the second-factor enforcement mode, edit system
// settings, reload the SSO configuration and manage other accounts: unlock,
// activate, change role, flag for enrollment, remove a lost second factor.
package admin

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lolerskatez/landio/internal/apperror"
	"github.com/lolerskatez/landio/internal/plugins/auth"
)

// Handler handles admin HTTP requests. Depends on other plugins' services
// via interfaces -- no direct repo access.
type Handler struct {
	service SecurityService
}

// NewHandler creates a new admin handler.
func NewHandler(service SecurityService) *Handler {
	return &Handler{service: service}
}

// --- Security policy ---

// Overview returns the security policy state (GET /api/admin/security).
func (h *Handler) Overview(c echo.Context) error {
	overview, err := h.service.Overview(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, overview)
}

// SetEnforcement changes the 2FA enforcement mode
// (PUT /api/admin/security/enforcement).
func (h *Handler) SetEnforcement(c echo.Context) error {
	var req EnforcementRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	ctx := c.Request().Context()
	if err := h.service.SetEnforcement(ctx, auth.GetPrincipal(c), req.Mode, req.GraceDays, c.RealIP()); err != nil {
		return err
	}
	overview, err := h.service.Overview(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, overview)
}

// UpdateSettings applies system settings (PUT /api/admin/settings).
func (h *Handler) UpdateSettings(c echo.Context) error {
	var req SettingsRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	result, err := h.service.UpdateSettings(c.Request().Context(), auth.GetPrincipal(c), req.Values, c.RealIP())
	if err != nil {
		return err
	}
	if result.Changed == nil {
		result.Changed = []string{}
	}
	return c.JSON(http.StatusOK, result)
}

// ReloadSSO re-runs provider discovery (POST /api/admin/sso/reload).
func (h *Handler) ReloadSSO(c echo.Context) error {
	status := h.service.ReloadSSO(c.Request().Context(), auth.GetPrincipal(c), c.RealIP())
	return c.JSON(http.StatusOK, status)
}

// --- Users ---

// Users returns a page of account summaries (GET /api/admin/users?page=N).
func (h *Handler) Users(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))

	result, err := h.service.ListUsers(c.Request().Context(), page)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// SetRole changes an account's role (PUT /api/admin/users/:id/role).
func (h *Handler) SetRole(c echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return err
	}
	var req RoleRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if err := h.service.SetUserRole(c.Request().Context(), auth.GetPrincipal(c), userID, req.Role, c.RealIP()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// SetActive activates or deactivates an account
// (PUT /api/admin/users/:id/active).
func (h *Handler) SetActive(c echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return err
	}
	var req ActiveRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if err := h.service.SetUserActive(c.Request().Context(), auth.GetPrincipal(c), userID, req.Active, c.RealIP()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Unlock clears a lockout (POST /api/admin/users/:id/unlock).
func (h *Handler) Unlock(c echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return err
	}
	if err := h.service.UnlockUser(c.Request().Context(), auth.GetPrincipal(c), userID, c.RealIP()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// SetForceEnrollment flags an account for immediate 2FA enrollment
// (PUT /api/admin/users/:id/force-2fa).
func (h *Handler) SetForceEnrollment(c echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return err
	}
	var req ForceEnrollmentRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if err := h.service.SetForceEnrollment(c.Request().Context(), auth.GetPrincipal(c), userID, req.Force, c.RealIP()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// DisableTwoFactor removes an account's second factor
// (DELETE /api/admin/users/:id/2fa).
func (h *Handler) DisableTwoFactor(c echo.Context) error {
	userID, err := userIDParam(c)
	if err != nil {
		return err
	}
	if err := h.service.DisableTwoFactor(c.Request().Context(), auth.GetPrincipal(c), userID, c.RealIP()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func userIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.NewBadRequest("invalid user ID")
	}
	return id, nil
}
