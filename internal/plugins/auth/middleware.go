package auth

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lolerskatez/landio/internal/apperror"
)

// Context key for the authenticated principal. Other plugins read it through
// GetPrincipal.
const contextKeyPrincipal = "auth_principal"

// RequireAuth returns middleware that authorizes the request's token and
// injects the principal into the context. A user who must enroll a second
// factor and has not is rejected with enrollment_required.
func RequireAuth(service AuthService) echo.MiddlewareFunc {
	return requireAuth(service, false)
}

// RequireAuthAllowUnenrolled is RequireAuth without forced-enrollment
// enforcement. Used by the endpoints an unenrolled user needs to see their
// status and sign out.
func RequireAuthAllowUnenrolled(service AuthService) echo.MiddlewareFunc {
	return requireAuth(service, true)
}

func requireAuth(service AuthService, allowUnenrolled bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := requestToken(c)
			if token == "" {
				return apperror.NewUnauthorized("authentication required")
			}

			p, err := service.Authorize(c.Request().Context(), AuthorizeInput{
				Token:           token,
				IP:              c.RealIP(),
				AllowUnenrolled: allowUnenrolled,
			})
			if err != nil {
				if apperror.Is(err, apperror.TypeTokenExpired) || apperror.Is(err, apperror.TypeTokenInvalid) {
					clearSessionCookie(c)
				}
				return err
			}

			c.Set(contextKeyPrincipal, p)
			return next(c)
		}
	}
}

// RequireEnrollmentGrant accepts either an enrollment token or a session.
// Guards the second-factor setup endpoints.
func RequireEnrollmentGrant(service AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := requestToken(c)
			if token == "" {
				return apperror.NewUnauthorized("authentication required")
			}

			p, err := service.AuthorizeEnrollment(c.Request().Context(), token, c.RealIP())
			if err != nil {
				return err
			}

			c.Set(contextKeyPrincipal, p)
			return next(c)
		}
	}
}

// RequireCapability returns middleware that checks the principal's role
// grants want. Must run after RequireAuth.
func RequireCapability(want Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := GetPrincipal(c)
			if p == nil {
				return apperror.NewUnauthorized("authentication required")
			}
			if !Can(p.Role, want) {
				return apperror.NewForbidden("you do not have permission to do that")
			}
			return next(c)
		}
	}
}

// --- Exported getters for other plugins ---

// GetPrincipal retrieves the authenticated caller from the Echo context.
// Returns nil if no auth middleware ran.
func GetPrincipal(c echo.Context) *Principal {
	p, ok := c.Get(contextKeyPrincipal).(*Principal)
	if !ok {
		return nil
	}
	return p
}

// --- Helpers ---

// requestToken reads a Bearer token from the Authorization header, falling
// back to the session cookie.
func requestToken(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
	}
	return getSessionToken(c)
}
