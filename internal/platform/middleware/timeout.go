package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeoutConfig configures RequestTimeoutWithConfig.
type RequestTimeoutConfig struct {
	Timeout time.Duration
	// KeepStatus selects requests whose deadline errors are returned as is,
	// so the error handler answers them like any other internal error.
	KeepStatus func(c echo.Context) bool
}

// RequestTimeout sets a context deadline on each request. Handlers and the
// archive client observe the deadline through the request context; if the
// handler returns a deadline error the response becomes 504.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return RequestTimeoutWithConfig(RequestTimeoutConfig{Timeout: timeout})
}

// RequestTimeoutWithConfig is RequestTimeout with per-request control over the
// 504 mapping.
func RequestTimeoutWithConfig(cfg RequestTimeoutConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Timeout <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), cfg.Timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				if cfg.KeepStatus != nil && cfg.KeepStatus(c) {
					return err
				}
				return echo.NewHTTPError(http.StatusGatewayTimeout,
					"request processing exceeded the allowed time limit").SetInternal(err)
			}
			return err
		}
	}
}

// PathPrefix matches requests whose URL path starts with prefix.
func PathPrefix(prefix string) func(c echo.Context) bool {
	return func(c echo.Context) bool {
		return strings.HasPrefix(c.Request().URL.Path, prefix)
	}
}
