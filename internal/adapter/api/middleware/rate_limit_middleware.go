package middleware

import (
	"fmt"
	"math"

	"github.com/labstack/echo/v4"

	"topicmeet/internal/infrastructure/ratelimit"
	"topicmeet/pkg/errors"
	"topicmeet/pkg/logger"
	"topicmeet/pkg/response"
)

// RateLimit applies the HTTP bucket of limiter per caller. Authenticated
// requests are keyed by user id, anonymous ones by client IP.
func RateLimit(limiter *ratelimit.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := UserID(c)
			if key == "" {
				key = "ip:" + c.RealIP()
			}

			ok, retryAfter := limiter.Allow(key, ratelimit.ActionHTTP)
			if !ok {
				seconds := int(math.Ceil(retryAfter.Seconds()))
				logger.Warn("RATE LIMIT: %s on %s %s", key, c.Request().Method, c.Path())
				c.Response().Header().Set("Retry-After", fmt.Sprint(seconds))
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded"))
			}
			return next(c)
		}
	}
}
