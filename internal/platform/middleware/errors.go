package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// InternalErrorMessage is the only detail ever returned for a 500.
const InternalErrorMessage = "Internal server error"

// ErrorResponse is the JSON body for every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ErrorHandler renders errors as {"error": "..."}. *echo.HTTPError keeps its
// code and message; anything else collapses to a 500 without detail and is
// logged.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := InternalErrorMessage

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if code >= 500 {
				msg = InternalErrorMessage
			} else {
				msg = messageOf(he)
			}
			if he.Internal != nil {
				err = he.Internal
			}
		}

		if code >= 500 {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Str("path", c.Request().URL.Path).Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, ErrorResponse{Error: msg})
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}

func messageOf(he *echo.HTTPError) string {
	switch m := he.Message.(type) {
	case string:
		return m
	case error:
		return m.Error()
	case nil:
		return http.StatusText(he.Code)
	default:
		return fmt.Sprintf("%v", m)
	}
}
