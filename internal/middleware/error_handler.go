package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"tinko_recovery/internal/logger"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CustomErrorHandler writes errors as JSON.
func CustomErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	errorMessage := ""

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if msg, ok := he.Message.(string); ok && msg != "" {
			errorMessage = msg
		}
	}

	if errorMessage == "" {
		switch code {
		case http.StatusNotFound:
			errorMessage = "Not found"
		case http.StatusUnauthorized:
			errorMessage = "Unauthorized"
		case http.StatusForbidden:
			errorMessage = "Forbidden"
		case http.StatusBadRequest:
			errorMessage = "Bad request"
		default:
			errorMessage = "Something went wrong. Please try again later."
		}
	}

	log := logger.FromContext(c)
	if code >= http.StatusInternalServerError {
		log.Error("Request failed", zap.Int("status", code), zap.Error(err))
	} else {
		log.Debug("Request rejected", zap.Int("status", code), zap.Error(err))
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(code)
	} else {
		writeErr = c.JSON(code, ErrorResponse{Error: errorMessage})
	}
	if writeErr != nil {
		log.Error("Failed to write error response", zap.Error(writeErr))
	}
}
