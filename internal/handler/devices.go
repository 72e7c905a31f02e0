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

// DeviceHandler serves the caller's devices.
type DeviceHandler struct {
	Devices *service.DeviceService
	Log     zerolog.Logger
}

func (h *DeviceHandler) List(c echo.Context) error {
	id, _ := middleware.IdentityFrom(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	devices, err := h.Devices.List(ctx, id.UserID())
	if err != nil {
		return writeError(c, h.Log, err)
	}
	out := make([]devicePart, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDevicePart(d))
	}
	return c.JSON(http.StatusOK, echo.Map{"devices": out})
}

func (h *DeviceHandler) Trust(c echo.Context) error {
	return h.mutate(c, h.Devices.Trust)
}

func (h *DeviceHandler) RevokeTrust(c echo.Context) error {
	return h.mutate(c, h.Devices.RevokeTrust)
}

func (h *DeviceHandler) Remove(c echo.Context) error {
	return h.mutate(c, h.Devices.Remove)
}

type deviceOp func(ctx context.Context, userID, deviceID uint64, meta service.RequestMeta) (bool, error)

func (h *DeviceHandler) mutate(c echo.Context, op deviceOp) error {
	id, _ := middleware.IdentityFrom(c)
	deviceID, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid device id")
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	done, err := op(ctx, id.UserID(), deviceID, service.MetaFromRequest(c.Request()))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	if !done {
		return notFound(c, "device not found")
	}
	return c.NoContent(http.StatusNoContent)
}
