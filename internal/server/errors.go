package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// NotFoundJSON returns an error handler that renders every error, 404s
// included, as an ErrorResponse. Unexpected errors are logged and hidden.
func NotFoundJSON(logger *logrus.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			msg := http.StatusText(he.Code)
			if s, ok := he.Message.(string); ok && s != "" {
				msg = s
			}
			_ = c.JSON(he.Code, ErrorResponse{Error: msg, Code: he.Code})
			return
		}

		if logger != nil {
			logger.WithError(err).WithField("uri", c.Request().RequestURI).Error("unhandled status api error")
		}
		_ = c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal server error",
			Code:  http.StatusInternalServerError,
		})
	}
}

// describe turns an error into a details payload for dev mode
func describe(err error) any {
	if err == nil {
		return nil
	}
	return map[string]string{"cause": fmt.Sprint(err)}
}
