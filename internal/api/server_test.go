package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/forestwatch/internal/buildinfo"
	"github.com/tphakala/forestwatch/internal/classifier"
	"github.com/tphakala/forestwatch/internal/conf"
	"github.com/tphakala/forestwatch/internal/datastore"
	"github.com/tphakala/forestwatch/internal/logger"
	"github.com/tphakala/forestwatch/internal/observability"
	"github.com/tphakala/forestwatch/internal/prediction"
	"github.com/tphakala/forestwatch/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakePredictor answers with a fixed response or error.
type fakePredictor struct {
	mu     sync.Mutex
	err    error
	panics bool
	ready  bool
	calls  [][2]float64
}

func (f *fakePredictor) PredictForCoordinate(_ context.Context, lat, lon float64) (*prediction.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, [2]float64{lat, lon})
	f.mu.Unlock()

	if f.panics {
		panic("predictor exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &prediction.Response{
		Status:      classifier.Preserved.String(),
		Confidence:  0.91,
		Coordinates: [2]float64{lat, lon},
		TimeSeries:  f.TimeSeries(),
	}, nil
}

func (f *fakePredictor) TimeSeries() prediction.TimeSeries {
	values := make([]int, 12)
	for i := range values {
		values[i] = i * 5
	}
	return prediction.TimeSeries{
		Labels:        []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"},
		Deforestation: values,
		Risk:          values,
		Vegetation:    values,
	}
}

func (f *fakePredictor) ModelKind() string { return string(classifier.KindCNN) }
func (f *fakePredictor) ModelReady() bool  { return f.ready }

func (f *fakePredictor) lastCall() [2]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return [2]float64{}
	}
	return f.calls[len(f.calls)-1]
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func newTestServer(t *testing.T, p Predictor, opts ...ServerOption) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MapboxToken = "pk.test-token"
	opts = append([]ServerOption{WithLogger(quietLogger()), WithBuildInfo(buildinfo.NewContext("1.2.3", "2024-05-01"))}, opts...)
	s, err := New(cfg, p, opts...)
	require.NoError(t, err)
	return s
}

func doRequest(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestPredictRequestParsing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCoord  [2]float64
	}{
		{"numbers", `{"lat": -3.4653, "lon": -62.2159}`, http.StatusOK, [2]float64{-3.4653, -62.2159}},
		{"numeric strings", `{"lat": "-3.465300", "lon": " -62.215900 "}`, http.StatusOK, [2]float64{-3.4653, -62.2159}},
		{"integers", `{"lat": 0, "lon": 10}`, http.StatusOK, [2]float64{0, 10}},
		{"missing lon", `{"lat": 1.5}`, http.StatusBadRequest, [2]float64{}},
		{"null lat", `{"lat": null, "lon": 1}`, http.StatusBadRequest, [2]float64{}},
		{"non-numeric", `{"lat": "north", "lon": 1}`, http.StatusBadRequest, [2]float64{}},
		{"not finite", `{"lat": "NaN", "lon": 1}`, http.StatusBadRequest, [2]float64{}},
		{"boolean", `{"lat": true, "lon": 1}`, http.StatusBadRequest, [2]float64{}},
		{"malformed json", `{"lat": 1,`, http.StatusBadRequest, [2]float64{}},
		{"not an object", `[1, 2]`, http.StatusBadRequest, [2]float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &fakePredictor{ready: true}
			s := newTestServer(t, p)

			rec := doRequest(t, s, http.MethodPost, "/predict", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			body := decodeBody(t, rec)
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, msgInvalidBody, body["error"])
				assert.Empty(t, p.calls, "predictor must not be called for invalid input")
				return
			}
			got := p.lastCall()
			assert.InDelta(t, tt.wantCoord[0], got[0], 1e-9)
			assert.InDelta(t, tt.wantCoord[1], got[1], 1e-9)
			assert.Equal(t, "Preserved", body["status"])
			assert.InDelta(t, 0.91, body["confidence"], 1e-9)
			assert.Len(t, body["coordinates"], 2)
			series, ok := body["time_series"].(map[string]any)
			require.True(t, ok)
			assert.Len(t, series["labels"], 12)
			assert.Len(t, series["vegetation"], 12)
		})
	}
}

func TestPredictErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		predictor       *fakePredictor
		wantStatus      int
		wantMessage     string
		wantCorrelation bool
	}{
		{
			name:        "image unavailable",
			predictor:   &fakePredictor{err: fmt.Errorf("%w: no tile", prediction.ErrClientInput)},
			wantStatus:  http.StatusBadRequest,
			wantMessage: msgImageUnavailable,
		},
		{
			name:            "model not ready",
			predictor:       &fakePredictor{err: fmt.Errorf("%w: %w", prediction.ErrInternal, classifier.ErrModelNotReady)},
			wantStatus:      http.StatusInternalServerError,
			wantMessage:     msgModelNotReady,
			wantCorrelation: true,
		},
		{
			name:            "inference failure",
			predictor:       &fakePredictor{err: fmt.Errorf("%w: shape mismatch", prediction.ErrInternal)},
			wantStatus:      http.StatusInternalServerError,
			wantMessage:     msgPredictionFailed,
			wantCorrelation: true,
		},
		{
			name:            "handler panic",
			predictor:       &fakePredictor{panics: true},
			wantStatus:      http.StatusInternalServerError,
			wantMessage:     http.StatusText(http.StatusInternalServerError),
			wantCorrelation: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t, tt.predictor)

			rec := doRequest(t, s, http.MethodPost, "/predict", `{"lat": 1, "lon": 2}`)
			require.Equal(t, tt.wantStatus, rec.Code)

			body := decodeBody(t, rec)
			assert.Equal(t, tt.wantMessage, body["error"])
			assert.NotContains(t, body, "status")
			if tt.wantCorrelation {
				assert.NotEmpty(t, body["correlation_id"])
			} else {
				assert.NotContains(t, body, "correlation_id")
			}
		})
	}
}

func TestPredictBodyLimit(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.BodyLimit = "1K"
	s, err := New(cfg, &fakePredictor{ready: true}, WithLogger(quietLogger()))
	require.NoError(t, err)

	body := `{"lat": 1, "lon": 2, "pad": "` + strings.Repeat("x", 2048) + `"}`
	rec := doRequest(t, s, http.MethodPost, "/predict", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakePredictor{ready: true})

	rec := doRequest(t, s, http.MethodGet, "/health", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestHealth(t *testing.T) {
	t.Parallel()

	for _, ready := range []bool{true, false} {
		t.Run(fmt.Sprintf("ready=%v", ready), func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t, &fakePredictor{ready: ready})

			rec := doRequest(t, s, http.MethodGet, "/health", "")
			require.Equal(t, http.StatusOK, rec.Code)

			var health HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
			assert.Equal(t, ready, health.ModelReady)
			assert.Equal(t, "cnn", health.ModelKind)
			assert.Equal(t, "1.2.3", health.Version)
			assert.False(t, health.HistoryEnabled)
			assert.WithinDuration(t, time.Now(), health.Timestamp, time.Minute)
			if ready {
				assert.Equal(t, "healthy", health.Status)
			} else {
				assert.Equal(t, "degraded", health.Status)
			}
		})
	}
}

func TestIndexInjectsMapboxToken(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakePredictor{})

	rec := doRequest(t, s, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `data-mapbox-token="pk.test-token"`)
	assert.Contains(t, rec.Body.String(), "(not loaded)")

	rec = doRequest(t, s, http.MethodGet, "/static/app.js", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/predict")
}

func TestChart(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakePredictor{ready: true})

	rec := doRequest(t, s, http.MethodGet, "/chart?lat=-3.4&lon=-62.2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	html := rec.Body.String()
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "Deforestation")
	assert.Contains(t, html, "lat=-3.400000 lon=-62.200000")

	rec = doRequest(t, s, http.MethodGet, "/chart?lat=abc&lon=1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "lat must be a number", decodeBody(t, rec)["error"])

	rec = doRequest(t, s, http.MethodGet, "/chart?lat=1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func openHistory(t *testing.T) datastore.Interface {
	t.Helper()
	settings := &conf.Settings{
		History: conf.HistorySettings{
			Enabled: true,
			Type:    conf.HistorySQLite,
			SQLite:  conf.SQLiteSettings{Path: filepath.Join(t.TempDir(), "history.db")},
		},
	}
	store := datastore.New(settings)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestHistory(t *testing.T) {
	t.Parallel()

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, &fakePredictor{})
		rec := doRequest(t, s, http.MethodGet, "/api/v1/predictions", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		t.Parallel()
		store := openHistory(t)
		ctx := context.Background()
		base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		for i := range 3 {
			require.NoError(t, store.SavePrediction(ctx, &datastore.PredictionRecord{
				CreatedAt:  base.Add(time.Duration(i) * time.Hour),
				Latitude:   float64(i),
				Status:     "Preserved",
				Confidence: 0.5,
				ModelKind:  "cnn",
			}))
		}
		s := newTestServer(t, &fakePredictor{}, WithHistory(store))

		rec := doRequest(t, s, http.MethodGet, "/api/v1/predictions?limit=2", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp HistoryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(3), resp.Total)
		require.Len(t, resp.Predictions, 2)
		assert.InDelta(t, 2.0, resp.Predictions[0].Latitude, 1e-9, "newest first")

		for _, bad := range []string{"0", "-1", "abc", "501"} {
			rec = doRequest(t, s, http.MethodGet, "/api/v1/predictions?limit="+bad, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", bad)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	s := newTestServer(t, &fakePredictor{ready: true}, WithMetrics(m))

	require.Equal(t, http.StatusOK, doRequest(t, s, http.MethodPost, "/predict", `{"lat": 1, "lon": 2}`).Code)
	require.Equal(t, http.StatusNotFound, doRequest(t, s, http.MethodGet, "/nowhere", "").Code)

	rec := doRequest(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, `forestwatch_http_requests_total{method="POST",path="/predict",status_code="200"} 1`)
	assert.Contains(t, out, `path="unmatched"`)
}

func TestMetricsRouteAbsentWithoutMetrics(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakePredictor{})
	assert.Equal(t, http.StatusNotFound, doRequest(t, s, http.MethodGet, "/metrics", "").Code)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := newTestServer(t, &fakePredictor{ready: true}, WithListener(ln))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	client := testutil.NewHTTPClient()
	url := "http://" + ln.Addr().String() + "/health"
	testutil.WaitForHTTP(t, client, url, http.StatusOK, testutil.DefaultTestTimeout)

	cancel()
	assert.NoError(t, testutil.WaitForError(t, done, testutil.LongTestTimeout, "server did not shut down"))
}

func TestNewRequiresPredictor(t *testing.T) {
	t.Parallel()
	_, err := New(DefaultConfig(), nil)
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.Port = 70000
	_, err = New(cfg, &fakePredictor{})
	require.Error(t, err)
}
