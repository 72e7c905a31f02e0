package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/authguard/internal/middleware"
	"github.com/iliyamo/authguard/internal/service"
)

// TokenHandler serves the caller's API tokens.
type TokenHandler struct {
	Tokens *service.APITokenService
	Guard  *middleware.Security
	Log    zerolog.Logger
}

// List returns the caller's tokens without secrets.
func (h *TokenHandler) List(c echo.Context) error {
	id, _ := middleware.IdentityFrom(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	tokens, err := h.Tokens.List(ctx, id.UserID())
	if err != nil {
		return writeError(c, h.Log, err)
	}
	out := make([]apiTokenPart, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, toAPITokenPart(t))
	}
	return c.JSON(http.StatusOK, echo.Map{"tokens": out})
}

// Create issues a token. A credential can only hand out scopes it holds
// itself, so an API token cannot mint a broader one.
func (h *TokenHandler) Create(c echo.Context) error {
	id, _ := middleware.IdentityFrom(c)
	var req service.CreateTokenInput
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	for _, s := range req.Scopes {
		if !id.HasScope(s) {
			return h.Guard.DenyScope(c, s)
		}
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	issued, err := h.Tokens.Create(ctx, id.UserID(), req, service.MetaFromRequest(c.Request()))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, issued)
}

// Revoke deletes one of the caller's tokens.
func (h *TokenHandler) Revoke(c echo.Context) error {
	id, _ := middleware.IdentityFrom(c)
	tokenID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid token id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	revoked, err := h.Tokens.Revoke(ctx, id.UserID(), tokenID, service.MetaFromRequest(c.Request()))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if !revoked {
		return notFound(c, "token not found")
	}
	return c.NoContent(http.StatusNoContent)
}
