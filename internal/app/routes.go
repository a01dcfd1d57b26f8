package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lolerskatez/landio/internal/plugins/admin"
	"github.com/lolerskatez/landio/internal/plugins/audit"
	"github.com/lolerskatez/landio/internal/plugins/auth"
	"github.com/lolerskatez/landio/internal/plugins/policy"
	"github.com/lolerskatez/landio/internal/plugins/settings"
	"github.com/lolerskatez/landio/internal/plugins/sso"
	"github.com/lolerskatez/landio/internal/plugins/twofactor"
	"github.com/lolerskatez/landio/internal/plugins/users"
	"github.com/lolerskatez/landio/internal/token"
)

// totpIssuer is the label authenticator apps show next to the account.
const totpIssuer = "Landio"

// RegisterRoutes wires every plugin and registers its routes. This is the
// single place where all routes are aggregated. The SSO bridge is
// configured from stored settings before it returns; a provider that cannot
// be reached leaves SSO unavailable without stopping startup.
func (a *App) RegisterRoutes(ctx context.Context) error {
	e := a.Echo

	// --- Public Routes (no auth required) ---

	// Health check for container orchestrators. Checks both stores.
	e.GET("/healthz", a.healthz)

	// --- Stores ---
	userRepo := users.NewUserRepository(a.DB)
	settingsRepo, err := settings.NewSealedRepository(settings.NewSettingsRepository(a.DB), a.Config.Auth.SecretKey)
	if err != nil {
		return fmt.Errorf("creating settings store: %w", err)
	}
	auditRepo := audit.NewAuditRepository(a.DB)

	// --- Services ---
	auditService := audit.NewAuditService(auditRepo)
	evaluator := policy.NewEvaluator(settingsRepo, userRepo)
	factors := twofactor.NewManager(settingsRepo, twofactor.NewPendingStore(a.Redis), totpIssuer)
	bridge := sso.NewBridge(sso.NewAttemptStore(a.Redis), settingsRepo, a.Config.SSO)

	authService := auth.NewAuthService(auth.Dependencies{
		Users:     userRepo,
		Policy:    evaluator,
		Factors:   factors,
		Tokens:    token.NewIssuer(a.Config.Auth),
		Replay:    token.NewReplayGuard(a.Redis),
		Bridge:    bridge,
		Federator: sso.NewFederator(userRepo),
		Settings:  settingsRepo,
		Audit:     auditService,
	})

	securityService := admin.NewSecurityService(admin.Dependencies{
		Users:    userRepo,
		Policy:   evaluator,
		Factors:  factors,
		Auth:     authService,
		Bridge:   bridge,
		Settings: settings.NewSettingsService(settingsRepo),
		Audit:    auditService,
	})

	// --- Plugin Routes ---
	auth.RegisterRoutes(e, auth.NewHandler(authService), authService)
	admin.RegisterRoutes(e, admin.NewHandler(securityService), audit.NewHandler(auditService), authService)

	// --- SSO ---
	reloadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := bridge.Reload(reloadCtx); err != nil {
		slog.Warn("SSO unavailable at startup", slog.Any("error", err))
	} else {
		slog.Info("SSO bridge configured", slog.String("state", string(bridge.State())))
	}
	return nil
}

// healthz reports whether MariaDB and Redis are reachable.
func (a *App) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok", "database": "ok", "redis": "ok"}
	code := http.StatusOK
	if err := a.DB.PingContext(ctx); err != nil {
		status["database"] = "unavailable"
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		status["redis"] = "unavailable"
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
