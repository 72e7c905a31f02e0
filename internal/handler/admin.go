package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/authguard/internal/middleware"
	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/service"
)

// AdminHandler serves the critical-tier administration endpoints.
type AdminHandler struct {
	Users *service.UserService
	Audit *service.AuditService
	Perms *service.PermissionService
	Log   zerolog.Logger
}

type overrideReq struct {
	Granted *bool `json:"granted"`
}

type provisionReq struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"providerAccountId"`
}

// AuditLog lists the newest events across all users, optionally filtered
// with ?action=.
func (h *AdminHandler) AuditLog(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	events, err := h.Audit.ListRecent(ctx, c.QueryParam("action"), queryLimit(c, 100))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"events": toAuditParts(events)})
}

// SetPermission stores a per-user override for :name.
func (h *AdminHandler) SetPermission(c echo.Context) error {
	actor, _ := middleware.IdentityFrom(c)
	userID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid user id")
	}
	var req overrideReq
	if err := c.Bind(&req); err != nil || req.Granted == nil {
		return badRequest(c, "granted required")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err := h.Perms.SetUserOverride(ctx, actor.UserID(), userID, c.Param("name"), *req.Granted,
		service.MetaFromRequest(c.Request()))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"userId": userID, "permission": c.Param("name"), "granted": *req.Granted})
}

// ClearPermission removes the override for :name.
func (h *AdminHandler) ClearPermission(c echo.Context) error {
	actor, _ := middleware.IdentityFrom(c)
	userID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid user id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	removed, err := h.Perms.ClearUserOverride(ctx, actor.UserID(), userID, c.Param("name"),
		service.MetaFromRequest(c.Request()))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if !removed {
		return notFound(c, "override not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// ProvisionOAuthUser creates a password-less account bound to an external
// identity. The account signs in through its provider only.
func (h *AdminHandler) ProvisionOAuthUser(c echo.Context) error {
	actor, _ := middleware.IdentityFrom(c)
	var req provisionReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.CreateOAuthUser(ctx, req.Email, req.Name, req.Provider, req.ProviderAccountID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if _, err := h.Audit.Log(ctx, service.Event{
		UserID: service.UserRef(actor.UserID()), Action: model.ActionUserCreated, Resource: "user",
		Details: model.Details{"userId": strconv.FormatUint(u.ID, 10), "provider": req.Provider},
		Meta:    service.MetaFromRequest(c.Request()), Success: true,
	}); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"user": toUserPart(u), "oauth": []string{req.Provider}})
}

// DeleteUser removes an account and everything it owns except its audit
// events. Admins cannot delete themselves.
func (h *AdminHandler) DeleteUser(c echo.Context) error {
	actor, _ := middleware.IdentityFrom(c)
	userID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid user id")
	}
	if userID == actor.UserID() {
		return badRequest(c, "cannot delete the calling account")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Users.Delete(ctx, userID); err != nil {
		return writeError(c, h.Log, err)
	}
	if _, err := h.Audit.Log(ctx, service.Event{
		UserID: service.UserRef(actor.UserID()), Action: model.ActionUserDeleted, Resource: "user",
		Details: model.Details{"userId": strconv.FormatUint(userID, 10)},
		Meta:    service.MetaFromRequest(c.Request()), Success: true,
	}); err != nil {
		return writeError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}
