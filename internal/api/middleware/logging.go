// Package middleware provides HTTP middleware components for the ForestWatch server.
package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/forestwatch/internal/logger"
	"github.com/tphakala/forestwatch/internal/observability/metrics"
)

// unmatchedRoute labels requests that did not match any route, keeping
// metric cardinality bounded.
const unmatchedRoute = "unmatched"

// NewRequestLogger logs every request and, when httpMetrics is non-nil,
// records the request counter and latency histogram.
func NewRequestLogger(log logger.Logger, httpMetrics *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return NewRequestLoggerWithSkipper(log, httpMetrics, nil)
}

// NewRequestLoggerWithSkipper creates the request logger with a custom skipper.
func NewRequestLoggerWithSkipper(log logger.Logger, httpMetrics *metrics.HTTPMetrics, skipper middleware.Skipper) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper:      skipper,
		HandleError:  true,
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogError:     true,
		LogRoutePath: true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			route := v.RoutePath
			if route == "" {
				route = unmatchedRoute
			}
			if httpMetrics != nil {
				httpMetrics.RecordHTTPRequest(v.Method, route, v.Status, v.Latency)
			}
			if log == nil {
				return nil
			}

			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency.Round(time.Microsecond)),
			}
			if v.RequestID != "" {
				fields = append(fields, logger.String("request_id", v.RequestID))
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}

			log.WithContext(c.Request().Context()).Info("request", fields...)
			return nil
		},
	})
}
