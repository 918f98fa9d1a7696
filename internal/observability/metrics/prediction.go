package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/logger"
)

// PredictionMetrics contains the Prometheus metrics of the prediction pipeline.
type PredictionMetrics struct {
	registry *prometheus.Registry

	// Generic Recorder metrics
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec

	// Pipeline metrics
	PredictionTotal    *prometheus.CounterVec
	PredictionDuration *prometheus.HistogramVec
	ImageFetchTotal    *prometheus.CounterVec
	ImageCacheLookups  *prometheus.CounterVec
	ModelLoadTotal     *prometheus.CounterVec
	ModelLoadedGauge   prometheus.Gauge

	// Training metrics
	TrainingEpochs   prometheus.Counter
	TrainingLoss     *prometheus.GaugeVec
	TrainingAccuracy *prometheus.GaugeVec
}

// NewPredictionMetrics creates the metrics and registers them with registry.
func NewPredictionMetrics(registry *prometheus.Registry) (*PredictionMetrics, error) {
	m := &PredictionMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register prediction metrics: %w", err)
	}
	return m, nil
}

func (m *PredictionMetrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of pipeline operations",
		},
		[]string{"operation", "status"},
	)
	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time taken by pipeline operations",
			Buckets:   prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~4s
		},
		[]string{"operation"},
	)
	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of pipeline errors by category",
		},
		[]string{"operation", "error_type"},
	)

	m.PredictionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Total number of coordinate predictions",
		},
		[]string{"model", "status"},
	)
	m.PredictionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Time taken to answer a coordinate prediction",
			Buckets:   prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"model"},
	)
	m.ImageFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_fetch_total",
			Help:      "Total number of image fetches by source",
		},
		[]string{"source", "status"},
	)
	m.ImageCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_cache_lookups_total",
			Help:      "Total number of image cache lookups",
		},
		[]string{"source", "result"},
	)
	m.ModelLoadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_load_total",
			Help:      "Total number of model load attempts",
		},
		[]string{"model", "status"},
	)
	m.ModelLoadedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_loaded",
			Help:      "Whether the classifier is ready (1) or not (0)",
		},
	)

	m.TrainingEpochs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_epochs_total",
			Help:      "Total number of completed training epochs",
		},
	)
	m.TrainingLoss = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_loss",
			Help:      "Cross-entropy loss of the most recent epoch",
		},
		[]string{"set"}, // train, validation
	)
	m.TrainingAccuracy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "training_accuracy",
			Help:      "Accuracy of the most recent epoch",
		},
		[]string{"set"},
	)
}

// RecordOperation implements Recorder.
func (m *PredictionMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder.
func (m *PredictionMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder.
func (m *PredictionMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordPrediction implements PredictionRecorder.
func (m *PredictionMetrics) RecordPrediction(model string, seconds float64, err error) {
	if err != nil {
		m.PredictionTotal.WithLabelValues(model, StatusError).Inc()
		return
	}
	m.PredictionTotal.WithLabelValues(model, StatusSuccess).Inc()
	m.PredictionDuration.WithLabelValues(model).Observe(seconds)
}

// RecordImageFetch counts an image fetch for source.
func (m *PredictionMetrics) RecordImageFetch(source string, err error) {
	m.ImageFetchTotal.WithLabelValues(source, status(err)).Inc()
}

// RecordCacheLookup counts an image cache hit or miss.
func (m *PredictionMetrics) RecordCacheLookup(source string, hit bool) {
	result := CacheMiss
	if hit {
		result = CacheHit
	}
	m.ImageCacheLookups.WithLabelValues(source, result).Inc()
}

// RecordModelLoad records a model load attempt and updates the loaded gauge.
func (m *PredictionMetrics) RecordModelLoad(model string, err error) {
	m.ModelLoadTotal.WithLabelValues(model, status(err)).Inc()
	if err != nil {
		m.errorsTotal.WithLabelValues(OpModelLoad, categorizeError(err)).Inc()
		m.ModelLoadedGauge.Set(0)
		return
	}
	m.ModelLoadedGauge.Set(1)
}

// RecordEpoch records the statistics of a finished training epoch.
func (m *PredictionMetrics) RecordEpoch(loss, accuracy float64, hasValidation bool, valLoss, valAccuracy float64) {
	m.TrainingEpochs.Inc()
	m.TrainingLoss.WithLabelValues("train").Set(loss)
	m.TrainingAccuracy.WithLabelValues("train").Set(accuracy)
	if hasValidation {
		m.TrainingLoss.WithLabelValues("validation").Set(valLoss)
		m.TrainingAccuracy.WithLabelValues("validation").Set(valAccuracy)
	}
}

// ModelLoaded returns the current value of the model_loaded gauge.
func (m *PredictionMetrics) ModelLoaded() float64 {
	metric := &dto.Metric{}
	if err := m.ModelLoadedGauge.Write(metric); err != nil {
		log.Warn("Failed to write model loaded metric", logger.Error(err))
		return 0
	}
	if metric.Gauge != nil && metric.Gauge.Value != nil {
		return *metric.Gauge.Value
	}
	return 0
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// categorizeError returns the error category used as the error_type label.
func categorizeError(err error) string {
	if err == nil {
		return "none"
	}
	return string(errors.GetCategory(err))
}

// CategorizeError exposes the error label used by these metrics.
func CategorizeError(err error) string { return categorizeError(err) }

// Describe implements the prometheus.Collector interface.
func (m *PredictionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operationsTotal.Describe(ch)
	m.operationDuration.Describe(ch)
	m.errorsTotal.Describe(ch)

	m.PredictionTotal.Describe(ch)
	m.PredictionDuration.Describe(ch)
	m.ImageFetchTotal.Describe(ch)
	m.ImageCacheLookups.Describe(ch)
	m.ModelLoadTotal.Describe(ch)
	ch <- m.ModelLoadedGauge.Desc()

	ch <- m.TrainingEpochs.Desc()
	m.TrainingLoss.Describe(ch)
	m.TrainingAccuracy.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *PredictionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operationsTotal.Collect(ch)
	m.operationDuration.Collect(ch)
	m.errorsTotal.Collect(ch)

	m.PredictionTotal.Collect(ch)
	m.PredictionDuration.Collect(ch)
	m.ImageFetchTotal.Collect(ch)
	m.ImageCacheLookups.Collect(ch)
	m.ModelLoadTotal.Collect(ch)
	ch <- m.ModelLoadedGauge

	ch <- m.TrainingEpochs
	m.TrainingLoss.Collect(ch)
	m.TrainingAccuracy.Collect(ch)
}
