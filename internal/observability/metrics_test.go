package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

// TestNewMetricsConcurrency verifies each NewMetrics call gets its own registry.
func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()
	const numGoroutines = 20

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if err != nil {
				t.Errorf("NewMetrics failed: %v", err)
				return
			}
			if m.Registry() == nil || m.Prediction == nil || m.HTTP == nil {
				t.Error("NewMetrics returned partially initialised metrics")
			}
		})
	}
	wg.Wait()
}

func TestRegistryGather(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)

	m.Prediction.RecordPrediction("cnn", 0.01, nil)
	m.HTTP.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	predictions := findFamily(families, "forestwatch_predictions_total")
	require.NotNil(t, predictions)
	require.Len(t, predictions.GetMetric(), 1)
	assert.InDelta(t, 1, predictions.GetMetric()[0].GetCounter().GetValue(), 0)

	labels := map[string]string{}
	for _, lp := range predictions.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	assert.Equal(t, map[string]string{"model": "cnn", "status": "success"}, labels)

	assert.NotNil(t, findFamily(families, "forestwatch_http_requests_total"))
	assert.NotNil(t, findFamily(families, "go_goroutines"), "runtime collector should be registered")
}

func TestHandlerServesExposition(t *testing.T) {
	t.Parallel()
	m, err := NewMetrics()
	require.NoError(t, err)
	m.Prediction.RecordModelLoad("cnn", nil)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "forestwatch_model_loaded 1"))
}
