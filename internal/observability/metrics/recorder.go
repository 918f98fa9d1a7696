// Package metrics provides custom Prometheus metrics for ForestWatch.
package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on it rather than on concrete collectors.
type Recorder interface {
	// RecordOperation records an operation with its status ("success", "error").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence. errorType is usually an
	// error category such as "image-fetch" or "inference".
	RecordError(operation, errorType string)
}

// PredictionRecorder is implemented by recorders that also track
// predictions per model kind.
type PredictionRecorder interface {
	RecordPrediction(model string, seconds float64, err error)
}

// ImageFetchRecorder is implemented by recorders that track fetches per source.
type ImageFetchRecorder interface {
	RecordImageFetch(source string, err error)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordOperation(string, string) {}
func (NopRecorder) RecordDuration(string, float64) {}
func (NopRecorder) RecordError(string, string)     {}
