package prediction

import (
	"context"
	"io"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/forestwatch/internal/classifier"
	"github.com/tphakala/forestwatch/internal/datastore"
	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/imagery"
	"github.com/tphakala/forestwatch/internal/logger"
	"github.com/tphakala/forestwatch/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockModel struct {
	mock.Mock
}

func (m *mockModel) Kind() classifier.Kind { return classifier.KindCNN }

func (m *mockModel) Ready() bool { return m.Called().Bool(0) }

func (m *mockModel) Train(ctx context.Context, train, val *imagery.Dataset) (*classifier.History, error) {
	args := m.Called(ctx, train, val)
	history, _ := args.Get(0).(*classifier.History)
	return history, args.Error(1)
}

func (m *mockModel) Predict(input classifier.Input) (classifier.Result, error) {
	args := m.Called(input)
	return args.Get(0).(classifier.Result), args.Error(1)
}

func (m *mockModel) Load(path string) error { return m.Called(path).Error(0) }
func (m *mockModel) Save(path string) error { return m.Called(path).Error(0) }
func (m *mockModel) Close() error           { return nil }

type mockStore struct {
	mock.Mock
}

func (s *mockStore) SavePrediction(ctx context.Context, record *datastore.PredictionRecord) error {
	return s.Called(ctx, record).Error(0)
}

type stubSource struct {
	err   error
	panic bool
}

func (s stubSource) Name() string { return "stub" }

func (s stubSource) Fetch(ctx context.Context, _ imagery.Coordinate, _ int) (*imagery.Image, error) {
	if s.panic {
		panic("tile decoder exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img := imagery.NewImage(imagery.Height, imagery.Width, imagery.Channels)
	img.Set(0, 0, 0, 0.25)
	img.Set(1, 1, 1, 0.5)
	return img, nil
}

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func newTestService(t *testing.T, source imagery.Source, model classifier.Model, store HistoryStore, recorder metrics.Recorder) *Service {
	t.Helper()
	svc, err := New(Config{
		Source:   source,
		Model:    model,
		Store:    store,
		Recorder: recorder,
		Logger:   quietLogger(),
		Rand:     rand.New(rand.NewPCG(1, 2)),
	})
	require.NoError(t, err)
	return svc
}

func isNormalized(input classifier.Input) bool {
	img, ok := input.(*imagery.Image)
	return ok && img.Max() == 1
}

func TestPredictForCoordinateSuccess(t *testing.T) {
	t.Parallel()

	model := &mockModel{}
	model.On("Predict", mock.MatchedBy(isNormalized)).
		Return(classifier.Result{Label: classifier.AtRisk, Confidence: 0.8}, nil).Once()

	store := &mockStore{}
	store.On("SavePrediction", mock.Anything, mock.MatchedBy(func(r *datastore.PredictionRecord) bool {
		return r.Status == "AtRisk" && r.ModelKind == "cnn" && r.Latitude == -3.4 && r.Longitude == -62.2
	})).Return(nil).Once()

	recorder := metrics.NewTestRecorder()
	svc := newTestService(t, stubSource{}, model, store, recorder)

	resp, err := svc.PredictForCoordinate(context.Background(), -3.4, -62.2)
	require.NoError(t, err)

	want := &Response{
		Status:      "AtRisk",
		Confidence:  0.8,
		Coordinates: [2]float64{-3.4, -62.2},
	}
	if diff := cmp.Diff(want, resp, cmpopts.IgnoreFields(Response{}, "TimeSeries")); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}

	ts := resp.TimeSeries
	assert.Equal(t, []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}, ts.Labels)
	for _, series := range [][]int{ts.Deforestation, ts.Risk, ts.Vegetation} {
		require.Len(t, series, 12)
		for _, v := range series {
			assert.GreaterOrEqual(t, v, 0)
			assert.LessOrEqual(t, v, 100)
		}
	}

	model.AssertExpectations(t)
	store.AssertExpectations(t)
	assert.Equal(t, 1, recorder.GetOperationCount(metrics.OpPrediction, metrics.StatusSuccess))
	assert.Equal(t, 1, recorder.GetOperationCount(metrics.OpImageFetch, metrics.StatusSuccess))
	assert.Equal(t, 1, recorder.GetOperationCount(metrics.OpInference, metrics.StatusSuccess))
	assert.Equal(t, 1, recorder.GetOperationCount(metrics.OpHistorySave, metrics.StatusSuccess))
	assert.Equal(t, 1, recorder.GetPredictionCount("cnn", metrics.StatusSuccess))
	assert.Len(t, recorder.GetDurations(metrics.OpPrediction), 1)
}

func TestPredictForCoordinateFailures(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		source       imagery.Source
		predictErr   error
		predictPanic bool
		wantClient   bool
		wantIs       error
		wantErrType  string
	}{
		{
			name:        "image unavailable",
			source:      imagery.NewSyntheticSource(1),
			wantClient:  true,
			wantIs:      imagery.ErrImageUnavailable,
			wantErrType: string(errors.CategoryImageFetch),
		},
		{
			name:        "source error is converted to unavailable",
			source:      stubSource{err: errors.NewStd("tile server on fire")},
			wantClient:  true,
			wantIs:      imagery.ErrImageUnavailable,
			wantErrType: string(errors.CategoryImageFetch),
		},
		{
			name:        "source panic is converted to unavailable",
			source:      stubSource{panic: true},
			wantClient:  true,
			wantIs:      imagery.ErrImageUnavailable,
			wantErrType: string(errors.CategoryImageFetch),
		},
		{
			name:   "model not ready",
			source: stubSource{},
			predictErr: errors.New(classifier.ErrModelNotReady).
				Category(errors.CategoryState).
				Build(),
			wantIs:      classifier.ErrModelNotReady,
			wantErrType: string(errors.CategoryState),
		},
		{
			name:         "model panic",
			source:       stubSource{},
			predictPanic: true,
			wantIs:       ErrInternal,
			wantErrType:  string(errors.CategoryProcessing),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			model := &mockModel{}
			call := model.On("Predict", mock.Anything)
			switch {
			case tc.predictPanic:
				call.Run(func(mock.Arguments) { panic("tensor shape exploded") })
			default:
				call.Return(classifier.Result{}, tc.predictErr)
			}

			recorder := metrics.NewTestRecorder()
			svc := newTestService(t, tc.source, model, nil, recorder)

			// New replaces non-positive sizes with the default
			if _, ok := tc.source.(*imagery.SyntheticSource); ok {
				svc.bufferSize = -1
			}

			var (
				resp *Response
				err  error
			)
			require.NotPanics(t, func() {
				resp, err = svc.PredictForCoordinate(context.Background(), 10, 20)
			})
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Equal(t, tc.wantClient, IsClientError(err))
			assert.Equal(t, !tc.wantClient, errors.Is(err, ErrInternal))
			assert.ErrorIs(t, err, tc.wantIs)

			if tc.wantClient {
				model.AssertNotCalled(t, "Predict", mock.Anything)
			}
			assert.Equal(t, 1, recorder.GetOperationCount(metrics.OpPrediction, metrics.StatusError))
			assert.Equal(t, 1, recorder.GetErrorCount(metrics.OpPrediction, tc.wantErrType))
			assert.Equal(t, 1, recorder.GetPredictionCount("cnn", metrics.StatusError))
		})
	}
}

func TestHistoryFailureDoesNotFailRequest(t *testing.T) {
	t.Parallel()

	model := &mockModel{}
	model.On("Predict", mock.Anything).
		Return(classifier.Result{Label: classifier.Preserved, Confidence: 0.9}, nil)

	store := &mockStore{}
	store.On("SavePrediction", mock.Anything, mock.Anything).
		Return(errors.Newf("disk full").Category(errors.CategoryDatabase).Build())

	recorder := metrics.NewTestRecorder()
	svc := newTestService(t, stubSource{}, model, store, recorder)

	resp, err := svc.PredictForCoordinate(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "Preserved", resp.Status)
	assert.Equal(t, 1, recorder.GetOperationCount(metrics.OpHistorySave, metrics.StatusError))
	assert.Equal(t, 1, recorder.GetErrorCount(metrics.OpHistorySave, string(errors.CategoryDatabase)))
	assert.Equal(t, 1, recorder.GetOperationCount(metrics.OpPrediction, metrics.StatusSuccess))
}

func TestCancelledContextIsInternal(t *testing.T) {
	t.Parallel()

	model := &mockModel{}
	svc := newTestService(t, imagery.NewSyntheticSource(3), model, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.PredictForCoordinate(ctx, 0, 0)
	require.Error(t, err)
	assert.False(t, IsClientError(err))
	assert.ErrorIs(t, err, context.Canceled)
	model.AssertNotCalled(t, "Predict", mock.Anything)
}

func TestTimeSeriesIsDeterministicWithSeed(t *testing.T) {
	t.Parallel()

	a := GenerateTimeSeries(rand.New(rand.NewPCG(42, 7)))
	b := GenerateTimeSeries(rand.New(rand.NewPCG(42, 7)))
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("time series differ for equal seeds (-a +b):\n%s", diff)
	}

	// labels must not alias between results
	a.Labels[0] = "changed"
	assert.Equal(t, "Jan", GenerateTimeSeries(rand.New(rand.NewPCG(1, 1))).Labels[0])
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Model: &mockModel{}})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = New(Config{Source: stubSource{}})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	svc, err := New(Config{Source: stubSource{}, Model: &mockModel{}})
	require.NoError(t, err)
	assert.Equal(t, imagery.DefaultBufferSize, svc.bufferSize)
	assert.Equal(t, "cnn", svc.ModelKind())
}

func TestConcurrentPredictions(t *testing.T) {
	t.Parallel()

	model := &mockModel{}
	model.On("Predict", mock.Anything).
		Return(classifier.Result{Label: classifier.Deforested, Confidence: 0.6}, nil)

	recorder := metrics.NewTestRecorder()
	svc := newTestService(t, imagery.NewSyntheticSource(9), model, nil, recorder)

	const workers = 16
	var wg sync.WaitGroup
	for i := range workers {
		wg.Go(func() {
			resp, err := svc.PredictForCoordinate(context.Background(), float64(i), float64(-i))
			if assert.NoError(t, err) {
				assert.Equal(t, "Deforested", resp.Status)
				assert.InDelta(t, float64(i), resp.Coordinates[0], 0)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, workers, recorder.GetOperationCount(metrics.OpPrediction, metrics.StatusSuccess))
}
