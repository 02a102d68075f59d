package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"topicmeet/internal/infrastructure/metrics"
)

// Metrics records request count and latency by route template.
func Metrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		status := c.Response().Status
		if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
		}
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTP(c.Request().Method, route, status, time.Since(start))
		return err
	}
}
