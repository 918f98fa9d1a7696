package analysis

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/forestwatch/internal/api"
	"github.com/tphakala/forestwatch/internal/buildinfo"
	"github.com/tphakala/forestwatch/internal/classifier"
	"github.com/tphakala/forestwatch/internal/conf"
	"github.com/tphakala/forestwatch/internal/testutil"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	return &conf.Settings{
		Model: conf.ModelSettings{
			Kind:         conf.ModelKindCNN,
			Path:         filepath.Join(dir, "models", "cnn.gob"),
			NumClasses:   3,
			Epochs:       1,
			BatchSize:    4,
			LearningRate: 0.001,
			Seed:         7,
		},
		Imagery: conf.ImagerySettings{
			Provider:   conf.ImageryProviderSynthetic,
			BufferSize: conf.DefaultBufferSize,
			Seed:       3,
		},
		Training: conf.TrainingSettings{
			Samples:         12,
			ValidationSplit: 0.75,
			Seed:            5,
		},
		History: conf.HistorySettings{
			Enabled: true,
			Type:    conf.HistorySQLite,
			SQLite:  conf.SQLiteSettings{Path: filepath.Join(dir, "history.db")},
		},
		Telemetry: conf.TelemetrySettings{Metrics: true},
	}
}

func TestTrainThenPredictOnce(t *testing.T) {
	settings := testSettings(t)
	textfile := filepath.Join(t.TempDir(), "train.prom")

	history, err := Train(context.Background(), settings, TrainOptions{MetricsTextfile: textfile})
	require.NoError(t, err)
	require.Len(t, history.Epochs, 1)
	assert.FileExists(t, settings.Model.Path)

	prom, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "forestwatch_training_epochs_total 1")

	resp, err := PredictOnce(context.Background(), settings, -3.46, -62.21)
	require.NoError(t, err)
	assert.Contains(t, []string{"Preserved", "AtRisk", "Deforested"}, resp.Status)
	assert.Equal(t, [2]float64{-3.46, -62.21}, resp.Coordinates)
	assert.Len(t, resp.TimeSeries.Labels, 12)
}

func TestPredictOnceFailsWithoutModel(t *testing.T) {
	settings := testSettings(t)

	_, err := PredictOnce(context.Background(), settings, 0, 0)
	require.Error(t, err)
}

func TestLoadTrainingDataRejectsTooManyClasses(t *testing.T) {
	settings := testSettings(t)
	settings.Training.DataDir = t.TempDir()
	settings.Model.NumClasses = len(classifier.DatasetDirs()) + 1

	_, err := loadTrainingData(settings)
	require.Error(t, err)
}

func TestNewSourceRejectsUnknownProvider(t *testing.T) {
	settings := testSettings(t)
	settings.Imagery.Provider = "carrier-pigeon"

	_, err := newSource(settings, nil)
	require.Error(t, err)
}

func TestServeWithoutModelStartsDegraded(t *testing.T) {
	settings := testSettings(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, settings, buildinfo.NewContext("test", ""), api.WithListener(ln))
	}()

	client := testutil.NewHTTPClient()
	base := "http://" + ln.Addr().String()
	testutil.WaitForHTTP(t, client, base+"/health", http.StatusOK, testutil.DefaultTestTimeout)

	resp, err := client.Get(base + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = client.Get(base + "/api/v1/predictions")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	assert.NoError(t, testutil.WaitForError(t, done, testutil.LongTestTimeout, "serve did not return after cancel"))
}
