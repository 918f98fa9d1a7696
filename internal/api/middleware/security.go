package middleware

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/forestwatch/internal/logger"
)

// NewRecover turns handler panics into errors for the HTTP error handler and
// logs the stack through log.
func NewRecover(log logger.Logger) echo.MiddlewareFunc {
	return middleware.RecoverWithConfig(middleware.RecoverConfig{
		DisablePrintStack: true,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			if log != nil {
				log.WithContext(c.Request().Context()).Error("handler panicked",
					logger.String("path", c.Path()),
					logger.Error(err),
					logger.String("stack", string(stack)))
			}
			return fmt.Errorf("recovered panic: %w", err)
		},
	})
}

// NewRequestID assigns a UUID request ID, echoes it in X-Request-ID and
// attaches it to the request context as the log trace id.
func NewRequestID() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithTraceID(req.Context(), id)))
		},
	})
}

// NewBodyLimit creates a middleware that limits the request body size.
func NewBodyLimit(limit string) echo.MiddlewareFunc {
	return middleware.BodyLimit(limit)
}

// NewSecureHeaders sets the standard security headers.
func NewSecureHeaders() echo.MiddlewareFunc {
	return middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	})
}
