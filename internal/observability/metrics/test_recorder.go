package metrics

import (
	"maps"
	"slices"
	"sync"
)

// TestRecorder captures recorded metrics for verification in tests.
type TestRecorder struct {
	mu          sync.RWMutex
	operations  map[string]map[string]int // operation -> status -> count
	durations   map[string][]float64      // operation -> durations
	errors      map[string]map[string]int // operation -> errorType -> count
	predictions map[string]map[string]int // model -> status -> count
}

// NewTestRecorder creates an empty TestRecorder.
func NewTestRecorder() *TestRecorder {
	r := &TestRecorder{}
	r.Reset()
	return r
}

func increment(m map[string]map[string]int, outer, inner string) {
	if m[outer] == nil {
		m[outer] = make(map[string]int)
	}
	m[outer][inner]++
}

// RecordOperation implements Recorder.
func (r *TestRecorder) RecordOperation(operation, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	increment(r.operations, operation, status)
}

// RecordDuration implements Recorder.
func (r *TestRecorder) RecordDuration(operation string, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[operation] = append(r.durations[operation], seconds)
}

// RecordError implements Recorder.
func (r *TestRecorder) RecordError(operation, errorType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	increment(r.errors, operation, errorType)
}

// RecordPrediction implements PredictionRecorder.
func (r *TestRecorder) RecordPrediction(model string, _ float64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	increment(r.predictions, model, status(err))
}

// GetOperationCount returns the count of an operation with the given status.
func (r *TestRecorder) GetOperationCount(operation, status string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.operations[operation][status]
}

// GetDurations returns a copy of the durations recorded for operation.
func (r *TestRecorder) GetDurations(operation string) []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.durations[operation])
}

// GetErrorCount returns the count of errorType for operation.
func (r *TestRecorder) GetErrorCount(operation, errorType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errors[operation][errorType]
}

// GetPredictionCount returns the count of predictions for model with status.
func (r *TestRecorder) GetPredictionCount(model, status string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.predictions[model][status]
}

// GetAllErrors returns a deep copy of all recorded errors.
func (r *TestRecorder) GetAllErrors() map[string]map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[string]int, len(r.errors))
	for op, counts := range r.errors {
		out[op] = maps.Clone(counts)
	}
	return out
}

// Reset clears all recorded metrics.
func (r *TestRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations = make(map[string]map[string]int)
	r.durations = make(map[string][]float64)
	r.errors = make(map[string]map[string]int)
	r.predictions = make(map[string]map[string]int)
}
