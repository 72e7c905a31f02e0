package middleware

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/repository"
	"github.com/iliyamo/authguard/internal/service"
	"github.com/iliyamo/authguard/internal/utils"
)

// Security tiers.
const (
	TierStandard = "standard"
	TierHigh     = "high"
	TierCritical = "critical"
)

// Denial reasons recorded in access_denied events.
const (
	ReasonMissingCredential      = "missing_credential"
	ReasonInvalidCredential      = "invalid_credential"
	ReasonMissingSecondFactor    = "missing_second_factor"
	ReasonInvalidSecondFactor    = "invalid_second_factor"
	ReasonInsufficientPermission = "insufficient_permission"
	ReasonInsufficientScope      = "insufficient_scope"
)

// BasicHeader carries the HTTP Basic second factor when Authorization is
// already taken by a bearer token.
const BasicHeader = "X-Basic-Authorization"

// Security builds the tier middlewares. Every denial appends exactly one
// access_denied event before the response is written; high and critical
// successes append one access_granted event.
type Security struct {
	Sessions   *service.SessionService
	Tokens     *service.APITokenService
	JWT        *utils.JWTEngine
	Users      *service.UserService
	Perms      *service.PermissionService
	Audit      *service.AuditService
	CookieName string
	Log        zerolog.Logger
}

// errStore marks a store fault during authentication; it maps to 500.
var errStore = errors.New("store failure")

// Standard requires a valid session cookie, bearer JWT or bearer API token.
func (s *Security) Standard() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := s.identify(c, TierStandard); !ok {
				return nil
			}
			return next(c)
		}
	}
}

// High requires Standard plus an HTTP Basic check of the caller's own email
// and password in the same request.
func (s *Security) High() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := s.identify(c, TierHigh)
			if !ok {
				return nil
			}
			if !s.secondFactor(c, TierHigh, id) {
				return nil
			}
			if !s.grant(c, TierHigh, nil) {
				return nil
			}
			return next(c)
		}
	}
}

// Critical requires High plus every listed permission.
func (s *Security) Critical(permissions ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := s.identify(c, TierCritical)
			if !ok {
				return nil
			}
			if !s.secondFactor(c, TierCritical, id) {
				return nil
			}
			ctx := c.Request().Context()
			for _, p := range permissions {
				d, err := s.Perms.Authorize(ctx, id.UserID(), p)
				if err != nil {
					s.Log.Error().Err(err).Str("permission", p).Msg("authorize failed")
					return ErrorJSON(c, http.StatusInternalServerError, CodeInternal, "authorization unavailable")
				}
				if !d.Allowed {
					return s.deny(c, TierCritical, ReasonInsufficientPermission, http.StatusForbidden,
						model.Details{"permission": p, "rule": d.Rule})
				}
			}
			if !s.grant(c, TierCritical, model.Details{"permissions": strings.Join(permissions, ",")}) {
				return nil
			}
			return next(c)
		}
	}
}

// RequireScope rejects credentials that do not carry scope. It must run
// after a tier middleware.
func (s *Security) RequireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFrom(c)
			if !ok {
				return s.deny(c, "scope", ReasonMissingCredential, http.StatusUnauthorized, nil)
			}
			if !id.HasScope(scope) {
				return s.DenyScope(c, scope)
			}
			return next(c)
		}
	}
}

// DenyScope refuses a request whose credential lacks scope: one
// access_denied event, then 403 insufficient_scope. Handlers that check
// scopes from the request body use it so their refusals are audited too.
func (s *Security) DenyScope(c echo.Context, scope string) error {
	return s.deny(c, "scope", ReasonInsufficientScope, http.StatusForbidden, model.Details{"scope": scope})
}

// identify resolves the caller and stores it on the context. On failure it
// has already written the response and ok is false.
func (s *Security) identify(c echo.Context, tier string) (*Identity, bool) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, reason, err := s.authenticate(ctx, c)
	if err != nil {
		s.Log.Error().Err(err).Str("tier", tier).Msg("authentication store failure")
		_ = ErrorJSON(c, http.StatusInternalServerError, CodeInternal, "authentication unavailable")
		return nil, false
	}
	if id == nil {
		_ = s.deny(c, tier, reason, http.StatusUnauthorized, nil)
		return nil, false
	}
	setIdentity(c, id)
	return id, true
}

// authenticate returns the identity, or a nil identity with the reason.
// A bearer Authorization header wins over the session cookie.
func (s *Security) authenticate(ctx context.Context, c echo.Context) (*Identity, string, error) {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if raw == "" {
			return nil, ReasonMissingCredential, nil
		}
		if utils.LooksLikeJWT(raw) {
			return s.fromJWT(ctx, raw)
		}
		vt, err := s.Tokens.Verify(ctx, raw)
		if err != nil {
			return nil, "", errors.Join(errStore, err)
		}
		if vt == nil {
			return nil, ReasonInvalidCredential, nil
		}
		return &Identity{User: vt.User, Method: MethodAPIToken, Scopes: vt.Scopes, TokenID: strconv.FormatUint(vt.TokenID, 10)}, "", nil
	}

	ck, err := c.Cookie(s.CookieName)
	if err != nil || ck.Value == "" {
		return nil, ReasonMissingCredential, nil
	}
	u, err := s.Sessions.Verify(ctx, ck.Value)
	if err != nil {
		return nil, "", errors.Join(errStore, err)
	}
	if u == nil {
		return nil, ReasonInvalidCredential, nil
	}
	return &Identity{User: *u, Method: MethodSession, Scopes: []string{model.ScopeAll}}, "", nil
}

func (s *Security) fromJWT(ctx context.Context, raw string) (*Identity, string, error) {
	p, ok := s.JWT.Verify(raw)
	if !ok {
		return nil, ReasonInvalidCredential, nil
	}
	u, err := s.Users.Get(ctx, p.Sub)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ReasonInvalidCredential, nil
	}
	if err != nil {
		return nil, "", errors.Join(errStore, err)
	}
	return &Identity{User: u, Method: MethodJWT, Scopes: p.Scopes, TokenID: p.TokenID}, "", nil
}

// secondFactor verifies HTTP Basic credentials against the identity's own
// email and password. Session callers send them in Authorization; bearer
// callers in X-Basic-Authorization.
func (s *Security) secondFactor(c echo.Context, tier string, id *Identity) bool {
	header := c.Request().Header.Get(BasicHeader)
	if id.Method == MethodSession {
		header = c.Request().Header.Get(echo.HeaderAuthorization)
	}
	email, password, ok := parseBasic(header)
	if !ok {
		_ = s.deny(c, tier, ReasonMissingSecondFactor, http.StatusUnauthorized, nil)
		return false
	}
	u := id.User
	if !u.HasPassword() {
		utils.BurnPasswordCheck(password)
		_ = s.deny(c, tier, ReasonInvalidSecondFactor, http.StatusUnauthorized, nil)
		return false
	}
	emailOK := utils.ConstantTimeEqual(repository.NormalizeEmail(email), u.Email)
	passOK := utils.VerifyPassword(*u.PasswordHash, password)
	if !emailOK || !passOK {
		_ = s.deny(c, tier, ReasonInvalidSecondFactor, http.StatusUnauthorized, nil)
		return false
	}
	return true
}

// parseBasic decodes "Basic base64(user:pass)".
func parseBasic(header string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	user, pass, ok = strings.Cut(string(raw), ":")
	if !ok || user == "" {
		return "", "", false
	}
	return user, pass, true
}

// deny appends one access_denied event and writes the error response.
func (s *Security) deny(c echo.Context, tier, reason string, status int, extra model.Details) error {
	details := model.Details{"tier": tier, "reason": reason, "method": c.Request().Method}
	for k, v := range extra {
		details[k] = v
	}
	if _, err := s.Audit.Log(c.Request().Context(), service.Event{
		UserID:   userRef(c),
		Action:   model.ActionAccessDenied,
		Resource: requestResource(c),
		Details:  details,
		Meta:     service.MetaFromRequest(c.Request()),
		Success:  false,
	}); err != nil {
		return ErrorJSON(c, http.StatusInternalServerError, CodeInternal, "audit unavailable")
	}
	s.Log.Warn().Str("tier", tier).Str("reason", reason).Str("path", c.Request().URL.Path).Msg("access denied")

	code := CodeUnauthorized
	switch status {
	case http.StatusForbidden:
		code = CodeForbidden
		if reason == ReasonInsufficientScope {
			code = CodeInsufficientScope
		}
	}
	return ErrorJSON(c, status, code, strings.ReplaceAll(reason, "_", " "))
}

// grant appends one access_granted event for an elevated tier. When the
// append fails it writes a 500 and returns false.
func (s *Security) grant(c echo.Context, tier string, extra model.Details) bool {
	details := model.Details{"tier": tier, "method": c.Request().Method}
	for k, v := range extra {
		details[k] = v
	}
	if _, err := s.Audit.Log(c.Request().Context(), service.Event{
		UserID:   userRef(c),
		Action:   model.ActionAccessGranted,
		Resource: requestResource(c),
		Details:  details,
		Meta:     service.MetaFromRequest(c.Request()),
		Success:  true,
	}); err != nil {
		_ = ErrorJSON(c, http.StatusInternalServerError, CodeInternal, "audit unavailable")
		return false
	}
	return true
}

// requestResource names the route for audit events: the registered path
// when known, the raw URL path otherwise.
func requestResource(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return c.Request().URL.Path
}
