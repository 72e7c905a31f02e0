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

// SecurityHandler exposes the caller's own audit trail and the suspicious
// activity report.
type SecurityHandler struct {
	Audit *service.AuditService
	Log   zerolog.Logger
}

// Activity runs the suspicious activity heuristics for the caller.
func (h *SecurityHandler) Activity(c echo.Context) error {
	id, _ := middleware.IdentityFrom(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	report, err := h.Audit.DetectSuspiciousActivity(ctx, id.UserID())
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, report)
}

// AuditLog lists the caller's newest audit events.
func (h *SecurityHandler) AuditLog(c echo.Context) error {
	id, _ := middleware.IdentityFrom(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	events, err := h.Audit.ListForUser(ctx, id.UserID(), queryLimit(c, 50))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"events": toAuditParts(events)})
}
