package archive

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthHandler returns a handler for GET /health/archive.
func (c *Client) HealthHandler() echo.HandlerFunc {
	return func(ec echo.Context) error {
		ctx, cancel := context.WithTimeout(ec.Request().Context(), 5*time.Second)
		defer cancel()

		info, err := c.System(ctx)
		if err != nil {
			return ec.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return ec.JSON(http.StatusOK, map[string]interface{}{
			"status":      "healthy",
			"name":        info.Name,
			"version":     info.Version,
			"api_version": info.APIVersion,
		})
	}
}
