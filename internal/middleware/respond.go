package middleware

import (
	"github.com/labstack/echo/v4"
)

// Error codes carried in the "error" field of JSON error bodies.
const (
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeTooManyRequests   = "too_many_requests"
	CodeInternal          = "internal_error"
	CodeBadRequest        = "bad_request"
	CodeNotFound          = "not_found"
	CodeConflict          = "conflict"
	CodeInsufficientScope = "insufficient_scope"
)

// ErrorJSON writes the uniform error body {"error": code, "message": msg}.
func ErrorJSON(c echo.Context, status int, code, message string) error {
	return c.JSON(status, echo.Map{"error": code, "message": message})
}
