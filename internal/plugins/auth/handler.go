package auth

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lolerskatez/landio/internal/apperror"
)

const (
	// sessionCookieName is the HTTP cookie used to carry the session token
	// for browser clients. API clients send a Bearer header instead.
	sessionCookieName = "landio_token"

	// ssoAttemptCookieName binds an SSO callback to the browser that began it.
	ssoAttemptCookieName = "landio_sso_attempt"
)

// Handler handles HTTP requests for authentication, second-factor management
// and SSO. Handlers are thin: they bind the request, call the service, and
// render the response. No business logic lives here.
type Handler struct {
	service AuthService
}

// NewHandler creates a new auth handler with the given service.
func NewHandler(service AuthService) *Handler {
	return &Handler{service: service}
}

// --- Setup ---

// SetupStatus reports whether initial setup is pending (GET /api/auth/setup).
func (h *Handler) SetupStatus(c echo.Context) error {
	required, err := h.service.SetupRequired(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"setup_required": required})
}

// Setup creates the first administrator (POST /api/auth/setup).
func (h *Handler) Setup(c echo.Context) error {
	var req SetupRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	result, err := h.service.Setup(c.Request().Context(), SetupInput{
		Username:    req.Username,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		IP:          c.RealIP(),
	})
	if err != nil {
		return err
	}
	return h.renderLogin(c, http.StatusCreated, result)
}

// --- Login ---

// Login checks credentials (POST /api/auth/login). The response says whether
// the caller is signed in or must complete a second-factor step.
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	result, err := h.service.Login(c.Request().Context(), LoginInput{
		Identifier: req.Username,
		Password:   req.Password,
		IP:         c.RealIP(),
	})
	if err != nil {
		return err
	}
	return h.renderLogin(c, http.StatusOK, result)
}

// VerifySecondFactor completes a login with a TOTP or backup code
// (POST /api/auth/2fa/verify).
func (h *Handler) VerifySecondFactor(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if req.PendingToken == "" {
		return apperror.NewTokenInvalid()
	}

	result, err := h.service.VerifySecondFactor(c.Request().Context(), req.PendingToken, req.Code, c.RealIP())
	if err != nil {
		return err
	}
	return h.renderLogin(c, http.StatusOK, result)
}

// Refresh issues a fresh session token (POST /api/auth/refresh).
func (h *Handler) Refresh(c echo.Context) error {
	signed, err := h.service.Refresh(c.Request().Context(), GetPrincipal(c), c.RealIP())
	if err != nil {
		return err
	}
	setSessionCookie(c, signed.Token, signed.ExpiresAt)
	return c.JSON(http.StatusOK, signed)
}

// Logout clears the session cookie (POST /api/auth/logout).
func (h *Handler) Logout(c echo.Context) error {
	// Clear the cookie regardless of what the service reports.
	clearSessionCookie(c)
	if err := h.service.Logout(c.Request().Context(), GetPrincipal(c), c.RealIP()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Me returns the signed-in user (GET /api/auth/me).
func (h *Handler) Me(c echo.Context) error {
	cu, err := h.service.CurrentUser(c.Request().Context(), GetPrincipal(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cu)
}

// ChangePassword changes or sets the caller's password
// (POST /api/auth/password).
func (h *Handler) ChangePassword(c echo.Context) error {
	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	err := h.service.ChangePassword(c.Request().Context(), GetPrincipal(c), ChangePasswordInput{
		Current: req.CurrentPassword,
		New:     req.NewPassword,
		IP:      c.RealIP(),
	})
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// --- Second factor ---

// TwoFactorStatus reports the caller's enrollment (GET /api/2fa/status).
func (h *Handler) TwoFactorStatus(c echo.Context) error {
	overview, err := h.service.TwoFactorStatus(c.Request().Context(), GetPrincipal(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, overview)
}

// BeginTwoFactorSetup returns a new secret, QR code and backup codes
// (POST /api/2fa/setup).
func (h *Handler) BeginTwoFactorSetup(c echo.Context) error {
	enrollment, err := h.service.BeginTwoFactorSetup(c.Request().Context(), GetPrincipal(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, enrollment)
}

// ConfirmTwoFactorSetup activates the pending enrollment
// (POST /api/2fa/confirm). Callers holding an enrollment grant are signed
// in by the response.
func (h *Handler) ConfirmTwoFactorSetup(c echo.Context) error {
	var req ConfirmRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	result, err := h.service.ConfirmTwoFactorSetup(c.Request().Context(), GetPrincipal(c), req.Secret, req.Code, c.RealIP())
	if err != nil {
		return err
	}
	return h.renderLogin(c, http.StatusOK, result)
}

// DisableTwoFactor turns off the caller's second factor (POST /api/2fa/disable).
func (h *Handler) DisableTwoFactor(c echo.Context) error {
	var req CodeRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if err := h.service.DisableTwoFactor(c.Request().Context(), GetPrincipal(c), req.Code, c.RealIP()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// RegenerateBackupCodes replaces the caller's backup codes
// (POST /api/2fa/backup-codes).
func (h *Handler) RegenerateBackupCodes(c echo.Context) error {
	var req CodeRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	codes, err := h.service.RegenerateBackupCodes(c.Request().Context(), GetPrincipal(c), req.Code, c.RealIP())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string][]string{"backup_codes": codes})
}

// --- SSO ---

// SSOStatus reports whether single sign-on is available (GET /api/sso/status).
func (h *Handler) SSOStatus(c echo.Context) error {
	st := h.service.SSOStatus()
	// The last discovery error is for administrators only.
	st.LastError = ""
	return c.JSON(http.StatusOK, st)
}

// SSOLogin starts an authorization-code flow and redirects to the identity
// provider (GET /api/sso/login).
func (h *Handler) SSOLogin(c echo.Context) error {
	begin, err := h.service.BeginSSO(c.Request().Context())
	if err != nil {
		return err
	}

	req := c.Request()
	c.SetCookie(&http.Cookie{
		Name:     ssoAttemptCookieName,
		Value:    begin.AttemptID,
		Path:     "/api/sso",
		HttpOnly: true,
		Secure:   isSecure(req),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int((10 * time.Minute).Seconds()),
	})
	return c.Redirect(http.StatusFound, begin.AuthURL)
}

// SSOCallback completes the flow (GET /api/sso/callback). Browsers land
// here from the provider, so both outcomes are redirects.
func (h *Handler) SSOCallback(c echo.Context) error {
	attemptID := ""
	if cookie, err := c.Cookie(ssoAttemptCookieName); err == nil {
		attemptID = cookie.Value
	}
	c.SetCookie(&http.Cookie{
		Name:     ssoAttemptCookieName,
		Value:    "",
		Path:     "/api/sso",
		HttpOnly: true,
		MaxAge:   -1,
	})

	if c.QueryParam("error") != "" {
		return c.Redirect(http.StatusSeeOther, loginErrorURL("sso_denied"))
	}

	result, err := h.service.CompleteSSO(c.Request().Context(), attemptID, c.QueryParam("state"), c.QueryParam("code"), c.RealIP())
	if err != nil {
		kind := "sso_failed"
		var appErr *apperror.AppError
		if errors.As(err, &appErr) && appErr.Type != apperror.TypeInternal {
			kind = appErr.Type
		}
		return c.Redirect(http.StatusSeeOther, loginErrorURL(kind))
	}

	setSessionCookie(c, result.Session.Token, result.Session.ExpiresAt)
	return c.Redirect(http.StatusSeeOther, "/")
}

// --- Helpers ---

// renderLogin writes a login result and sets the session cookie when the
// caller is signed in.
func (h *Handler) renderLogin(c echo.Context, status int, result *LoginResult) error {
	if result.Session != nil {
		setSessionCookie(c, result.Session.Token, result.Session.ExpiresAt)
	}
	return c.JSON(status, result)
}

func loginErrorURL(kind string) string {
	return "/login?" + url.Values{"error": {kind}}.Encode()
}

// --- Cookie helpers ---

// getSessionToken reads the session token from the cookie.
func getSessionToken(c echo.Context) string {
	cookie, err := c.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return cookie.Value
}

// setSessionCookie sets the session cookie on the response. The cookie is
// HttpOnly (JS can't read it), Secure if behind TLS, SameSite=Lax, and
// expires with the token.
func setSessionCookie(c echo.Context, token string, expiresAt time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   isSecure(c.Request()),
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

// clearSessionCookie removes the session cookie by setting MaxAge to -1.
func clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func isSecure(req *http.Request) bool {
	return req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https"
}
