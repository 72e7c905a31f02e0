package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/authguard/internal/config"
	"github.com/iliyamo/authguard/internal/middleware"
	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/service"
	"github.com/iliyamo/authguard/internal/utils"
)

// Rate-limit endpoint names shared by the router and handlers.
const (
	EndpointLogin         = "login"
	EndpointRegister      = "register"
	EndpointPasswordReset = "password_reset"
	EndpointEmailVerify   = "email_verify"
	EndpointAPI           = "api"
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Cfg      config.Config
	Users    *service.UserService
	Sessions *service.SessionService
	JWT      *utils.JWTEngine
	Devices  *service.DeviceService
	Audit    *service.AuditService
	Perms    *service.PermissionService
	Limiter  *service.RateLimiter
	Log      zerolog.Logger
}

// ----- DTOs -----

type loginReq struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	TrustDevice bool   `json:"trustDevice"`
	DeviceName  string `json:"deviceName"`
}
type emailReq struct {
	Email string `json:"email"`
}
type resetReq struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}
type tokenReq struct {
	Token string `json:"token"`
}

type loginResp struct {
	User   userPart   `json:"user"`
	Access tokenPart  `json:"access"`
	Device devicePart `json:"device"`
}

func (h *AuthHandler) ctx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), 5*time.Second)
}

// Register creates a password account and issues an email verification
// token. Outside production the token is echoed back for testing.
func (h *AuthHandler) Register(c echo.Context) error {
	var req service.RegisterInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	u, err := h.Users.Register(ctx, req, service.MetaFromRequest(c.Request()))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	raw, err := h.Users.IssueEmailVerification(ctx, u.ID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	resp := echo.Map{"user": toUserPart(u)}
	if !h.Cfg.IsProd() {
		resp["verificationToken"] = raw
	}
	return c.JSON(http.StatusCreated, resp)
}

// Login verifies email and password, tracks the device, opens a session
// cookie and returns a short-lived JWT. Both outcomes are audited.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return badRequest(c, "email/password required")
	}
	ctx, cancel := h.ctx(c)
	defer cancel()
	meta := service.MetaFromRequest(c.Request())

	u, err := h.Users.Authenticate(ctx, req.Email, req.Password)
	if errors.Is(err, service.ErrInvalidCredential) {
		var uid *uint64
		if u.ID != 0 {
			uid = &u.ID
		}
		if _, aerr := h.Audit.Log(ctx, service.Event{
			UserID: uid, Action: model.ActionLogin, Resource: "session",
			Details: model.Details{"reason": "invalid_credentials"}, Meta: meta, Success: false,
		}); aerr != nil {
			return writeError(c, h.Log, aerr)
		}
		return middleware.ErrorJSON(c, http.StatusUnauthorized, middleware.CodeUnauthorized, "invalid credentials")
	}
	if err != nil {
		return writeError(c, h.Log, err)
	}

	if err := h.Users.RecordLogin(ctx, u.ID); err != nil {
		return writeError(c, h.Log, err)
	}
	device, err := h.Devices.Track(ctx, u.ID, meta, service.TrackOptions{Trust: req.TrustDevice, DeviceName: req.DeviceName})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	raw, sess, err := h.Sessions.Create(ctx, u.ID, meta)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	access, payload, err := h.JWT.IssueAccessToken(u.ID, []string{model.ScopeAll}, h.Cfg.AccessTTL())
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if _, err := h.Audit.Log(ctx, service.Event{
		UserID: &u.ID, Action: model.ActionLogin, Resource: "session",
		Details: model.Details{"deviceId": strconv.FormatUint(device.ID, 10)}, Meta: meta, Success: true,
	}); err != nil {
		return writeError(c, h.Log, err)
	}
	if err := h.Limiter.Reset(ctx, middleware.KeyByIP(c), EndpointLogin); err != nil {
		h.Log.Warn().Err(err).Msg("login rate limit reset failed")
	}

	c.SetCookie(&http.Cookie{
		Name:     h.Cfg.SessionCookieName,
		Value:    raw,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.Cfg.SessionCookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	var exp *time.Time
	if payload.Exp != 0 {
		t := time.Unix(payload.Exp, 0).UTC()
		exp = &t
	}
	return c.JSON(http.StatusOK, loginResp{
		User:   toUserPart(u),
		Access: tokenPart{Token: access, Expires: exp},
		Device: toDevicePart(device),
	})
}

// Logout ends the cookie session, if any, and clears the cookie.
func (h *AuthHandler) Logout(c echo.Context) error {
	ck, err := c.Cookie(h.Cfg.SessionCookieName)
	if err != nil || ck.Value == "" {
		return c.NoContent(http.StatusNoContent)
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	u, err := h.Sessions.Verify(ctx, ck.Value)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if err := h.Sessions.Revoke(ctx, ck.Value); err != nil {
		return writeError(c, h.Log, err)
	}
	if u != nil {
		if _, err := h.Audit.Log(ctx, service.Event{
			UserID: &u.ID, Action: model.ActionLogout, Resource: "session",
			Meta: service.MetaFromRequest(c.Request()), Success: true,
		}); err != nil {
			return writeError(c, h.Log, err)
		}
	}
	c.SetCookie(&http.Cookie{
		Name:     h.Cfg.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.Cfg.SessionCookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return c.NoContent(http.StatusNoContent)
}

// ForgotPassword always answers 202 so it cannot be used to check for
// accounts.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req emailReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		return badRequest(c, "email required")
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	raw, err := h.Users.RequestPasswordReset(ctx, req.Email, service.MetaFromRequest(c.Request()))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	resp := echo.Map{"message": "if the account exists, a reset link has been sent"}
	if raw != "" && !h.Cfg.IsProd() {
		resp["resetToken"] = raw
	}
	return c.JSON(http.StatusAccepted, resp)
}

// ResetPassword consumes a reset token.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetReq
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return badRequest(c, "token and password required")
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	err := h.Users.ResetPassword(ctx, req.Token, req.Password, service.MetaFromRequest(c.Request()))
	if errors.Is(err, service.ErrInvalidCredential) {
		return badRequest(c, "invalid or expired token")
	}
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// VerifyEmail consumes an email verification token.
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req tokenReq
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return badRequest(c, "token required")
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	u, err := h.Users.VerifyEmail(ctx, req.Token, service.MetaFromRequest(c.Request()))
	if errors.Is(err, service.ErrInvalidCredential) {
		return badRequest(c, "invalid or expired token")
	}
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": toUserPart(u)})
}

// Me returns the authenticated user, how it authenticated and what it may do.
func (h *AuthHandler) Me(c echo.Context) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return middleware.ErrorJSON(c, http.StatusUnauthorized, middleware.CodeUnauthorized, "not authenticated")
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	perms, err := h.Perms.EffectivePermissions(ctx, id.UserID())
	if err != nil {
		return writeError(c, h.Log, err)
	}
	providers, err := h.Users.LinkedProviders(ctx, id.UserID())
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user":        toUserPart(id.User),
		"method":      id.Method,
		"scopes":      id.Scopes,
		"permissions": perms,
		"oauth":       providers,
	})
}
