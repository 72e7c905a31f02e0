package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/authguard/internal/middleware"
	"github.com/iliyamo/authguard/internal/repository"
	"github.com/iliyamo/authguard/internal/service"
)

// writeError maps a service error to its HTTP status and uniform body.
// Unrecognized errors are store faults: logged and answered with 500.
func writeError(c echo.Context, log zerolog.Logger, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrPasswordRequired),
		errors.Is(err, service.ErrInvalidScope):
		return middleware.ErrorJSON(c, http.StatusBadRequest, middleware.CodeBadRequest, err.Error())
	case errors.Is(err, service.ErrEmailExists), errors.Is(err, repository.ErrConflict):
		return middleware.ErrorJSON(c, http.StatusConflict, middleware.CodeConflict, err.Error())
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, service.ErrUnknownPermission):
		return middleware.ErrorJSON(c, http.StatusNotFound, middleware.CodeNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidCredential):
		return middleware.ErrorJSON(c, http.StatusUnauthorized, middleware.CodeUnauthorized, err.Error())
	}
	log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
	return middleware.ErrorJSON(c, http.StatusInternalServerError, middleware.CodeInternal, "internal error")
}

func badRequest(c echo.Context, msg string) error {
	return middleware.ErrorJSON(c, http.StatusBadRequest, middleware.CodeBadRequest, msg)
}

func notFound(c echo.Context, msg string) error {
	return middleware.ErrorJSON(c, http.StatusNotFound, middleware.CodeNotFound, msg)
}
