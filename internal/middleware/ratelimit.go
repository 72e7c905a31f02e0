package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/authguard/internal/model"
	"github.com/iliyamo/authguard/internal/service"
	"github.com/iliyamo/authguard/internal/utils"
)

// KeyFunc derives the rate-limit identifier of a request.
type KeyFunc func(c echo.Context) string

// KeyByIP keys on the resolved client IP.
func KeyByIP(c echo.Context) string {
	ip := utils.ClientIP(c.Request())
	if ip == "" {
		return "unknown"
	}
	return ip
}

// KeyByUserOrIP keys authenticated callers by user and everyone else by IP.
func KeyByUserOrIP(c echo.Context) string {
	if _, ok := IdentityFrom(c); ok {
		return "user:" + userKey(c)
	}
	return "ip:" + KeyByIP(c)
}

// RateLimit enforces policy for endpoint. It sets X-RateLimit-* headers on
// every response, and on rejection Retry-After plus one rate_limited audit
// event. A store fault is answered with 500, never as a rejection.
func RateLimit(limiter *service.RateLimiter, audit *service.AuditService, endpoint string, policy service.Policy, key KeyFunc, log zerolog.Logger) echo.MiddlewareFunc {
	if key == nil {
		key = KeyByIP
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			identifier := key(c)
			res, err := limiter.Check(ctx, identifier, endpoint, policy)
			if err != nil {
				return ErrorJSON(c, http.StatusInternalServerError, CodeInternal, "rate limiter unavailable")
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if res.Allowed {
				return next(c)
			}

			secs := int(math.Ceil(res.RetryAfter.Seconds()))
			if secs < 1 {
				secs = 1
			}
			h.Set("Retry-After", strconv.Itoa(secs))
			if _, err := audit.Log(ctx, service.Event{
				UserID:   userRef(c),
				Action:   model.ActionRateLimited,
				Resource: requestResource(c),
				Details:  model.Details{"endpoint": endpoint, "identifier": identifier},
				Meta:     service.MetaFromRequest(c.Request()),
				Success:  false,
			}); err != nil {
				return ErrorJSON(c, http.StatusInternalServerError, CodeInternal, "audit unavailable")
			}
			log.Warn().Str("endpoint", endpoint).Int("retry_after", secs).Msg("rate limit exceeded")
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":       CodeTooManyRequests,
				"message":     "rate limit exceeded",
				"retry_after": secs,
			})
		}
	}
}
