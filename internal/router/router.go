package router // package router defines how HTTP routes are registered for the API

import (
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/authguard/internal/config"
	"github.com/iliyamo/authguard/internal/handler"
	"github.com/iliyamo/authguard/internal/middleware"
	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/service"
)

// Deps carries everything the routes need.
type Deps struct {
	DB        *sql.DB
	Auth      *handler.AuthHandler
	Tokens    *handler.TokenHandler
	Devices   *handler.DeviceHandler
	Security  *handler.SecurityHandler
	Admin     *handler.AdminHandler
	Guard     *middleware.Security
	Limiter   *service.RateLimiter
	Audit     *service.AuditService
	RateLimit config.RateLimitConfig
	Log       zerolog.Logger
}

// Register wires every route. Tiers are attached per route so a route
// guarded by High or Critical authenticates exactly once.
func Register(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health(d.DB))

	limit := func(endpoint string, p config.RateLimitPolicy, key middleware.KeyFunc) echo.MiddlewareFunc {
		if !d.RateLimit.Enabled {
			return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
		}
		return middleware.RateLimit(d.Limiter, d.Audit, endpoint, p, key, d.Log)
	}
	rl := d.RateLimit
	api := limit(handler.EndpointAPI, rl.API, middleware.KeyByUserOrIP)
	g := d.Guard

	// Unauthenticated operations.
	a := e.Group("/v1/auth")
	a.POST("/register", d.Auth.Register, limit(handler.EndpointRegister, rl.Register, middleware.KeyByIP))
	a.POST("/login", d.Auth.Login, limit(handler.EndpointLogin, rl.Login, middleware.KeyByIP))
	a.POST("/logout", d.Auth.Logout)
	a.POST("/password/forgot", d.Auth.ForgotPassword, limit(handler.EndpointPasswordReset, rl.PasswordReset, middleware.KeyByIP))
	a.POST("/password/reset", d.Auth.ResetPassword, limit(handler.EndpointPasswordReset, rl.PasswordReset, middleware.KeyByIP))
	a.POST("/verify-email", d.Auth.VerifyEmail, limit(handler.EndpointEmailVerify, rl.EmailVerify, middleware.KeyByIP))

	// Standard tier.
	v1 := e.Group("/v1")
	std := g.Standard()
	high := g.High()
	v1.GET("/me", d.Auth.Me, std, api, g.RequireScope(model.ScopeProfileRead))

	v1.GET("/tokens", d.Tokens.List, std, api, g.RequireScope(model.ScopeTokensRead))
	v1.POST("/tokens", d.Tokens.Create, high, api, g.RequireScope(model.ScopeTokensWrite))
	v1.DELETE("/tokens/:id", d.Tokens.Revoke, std, api, g.RequireScope(model.ScopeTokensWrite))

	v1.GET("/devices", d.Devices.List, std, api, g.RequireScope(model.ScopeDevicesRead))
	v1.POST("/devices/:id/trust", d.Devices.Trust, high, api, g.RequireScope(model.ScopeDevicesWrite))
	v1.DELETE("/devices/:id/trust", d.Devices.RevokeTrust, std, api, g.RequireScope(model.ScopeDevicesWrite))
	v1.DELETE("/devices/:id", d.Devices.Remove, std, api, g.RequireScope(model.ScopeDevicesWrite))

	v1.GET("/security/activity", d.Security.Activity, std, api, g.RequireScope(model.ScopeSecurityRead))
	v1.GET("/security/audit", d.Security.AuditLog, std, api, g.RequireScope(model.ScopeSecurityRead))

	// Critical tier.
	adm := e.Group("/v1/admin")
	adm.GET("/audit", d.Admin.AuditLog,
		g.Critical(service.PermAuditRead), api, g.RequireScope(model.ScopeAdminAudit))
	adm.PUT("/users/:id/permissions/:name", d.Admin.SetPermission,
		g.Critical(service.PermPermissionsManage), api, g.RequireScope(model.ScopeAdminPermsMgr))
	adm.DELETE("/users/:id/permissions/:name", d.Admin.ClearPermission,
		g.Critical(service.PermPermissionsManage), api, g.RequireScope(model.ScopeAdminPermsMgr))
	adm.POST("/users/oauth", d.Admin.ProvisionOAuthUser,
		g.Critical(service.PermUsersManage), api, g.RequireScope(model.ScopeAdmin))
	adm.DELETE("/users/:id", d.Admin.DeleteUser,
		g.Critical(service.PermUsersManage), api, g.RequireScope(model.ScopeAdmin))
}
