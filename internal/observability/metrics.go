// Package observability wires the Prometheus registry and exposes the metrics endpoint.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/forestwatch/internal/logger"
	"github.com/tphakala/forestwatch/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry   *prometheus.Registry
	Prediction *metrics.PredictionMetrics
	HTTP       *metrics.HTTPMetrics
}

// NewMetrics creates a private registry with the application collectors plus
// the Go runtime and process collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	predictionMetrics, err := metrics.NewPredictionMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create prediction metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	return &Metrics{
		registry:   registry,
		Prediction: predictionMetrics,
		HTTP:       httpMetrics,
	}, nil
}

// Registry returns the application registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{},
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// promLogger routes promhttp errors to the module logger.
type promLogger struct{}

func (promLogger) Println(v ...any) {
	GetLogger().Error("metrics handler error", logger.String("detail", fmt.Sprint(v...)))
}
