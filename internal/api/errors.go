package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/logger"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// badRequest answers 400 with message.
func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: message})
}

// internalError logs err under a fresh correlation ID and answers 500 with
// message. The cause is never sent to the client.
func (s *Server) internalError(c echo.Context, err error, message string) error {
	id := uuid.NewString()
	s.log.WithContext(c.Request().Context()).Error("request failed",
		logger.String("correlation_id", id),
		logger.String("path", c.Path()),
		logger.String("category", string(errors.GetCategory(err))),
		logger.Error(err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: message, CorrelationID: id})
}

// httpErrorHandler renders errors returned by handlers and middleware in the
// ErrorResponse shape.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok && m != "" {
			msg = m
		}
		if he.Code >= http.StatusInternalServerError {
			_ = s.internalError(c, err, msg)
			return
		}
		if writeErr := c.JSON(he.Code, ErrorResponse{Error: msg}); writeErr != nil {
			s.log.Warn("failed to write error response", logger.Error(writeErr))
		}
		return
	}

	_ = s.internalError(c, err, http.StatusText(http.StatusInternalServerError))
}
