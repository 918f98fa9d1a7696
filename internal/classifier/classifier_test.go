package classifier

import (
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/go-tflite"
	"gorgonia.org/tensor"

	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/imagery"
)

func TestLabelForIndex(t *testing.T) {
	t.Parallel()

	tests := []struct {
		index int
		want  Label
		name  string
	}{
		{0, Preserved, "Preserved"},
		{1, AtRisk, "AtRisk"},
		{2, Deforested, "Deforested"},
		{3, Unknown, "Unknown"},
		{-1, Unknown, "Unknown"},
		{99, Unknown, "Unknown"},
	}
	for _, tt := range tests {
		got := LabelForIndex(tt.index)
		assert.Equal(t, tt.want, got, "index %d", tt.index)
		assert.Equal(t, tt.name, got.String())
	}
	assert.Len(t, Labels(), 3)
	assert.Len(t, DatasetDirs(), len(Labels()))
}

func TestKindsRegisteredAtInit(t *testing.T) {
	t.Parallel()
	assert.ElementsMatch(t, []Kind{KindCNN, KindTFLite, KindONNX}, Kinds())
}

func TestNewUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := New("svm", Config{})
	require.ErrorIs(t, err, ErrUnsupportedModelKind)
	assert.Contains(t, Kinds(), KindCNN)
	assert.Contains(t, Kinds(), KindTFLite)
	assert.Contains(t, Kinds(), KindONNX)
}

func TestNewRejectsClassCount(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 4} {
		_, err := New(KindCNN, Config{NumClasses: n})
		require.Error(t, err, "num classes %d", n)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	}
}

func TestFeatureSize(t *testing.T) {
	t.Parallel()

	fh, fw, err := featureSize(64, 64)
	require.NoError(t, err)
	assert.Equal(t, 6, fh)
	assert.Equal(t, 6, fw)

	_, _, err = featureSize(8, 8)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestNHWCToNCHW(t *testing.T) {
	t.Parallel()

	// one 1x2 image with 2 channels: pixel0=(a0,a1) pixel1=(b0,b1)
	src := []float32{1, 2, 3, 4}
	assert.Equal(t, []float32{1, 3, 2, 4}, nhwcToNCHW(src, 1, 1, 2, 2))
}

func TestBatchShape(t *testing.T) {
	t.Parallel()
	want := []int{imagery.Height, imagery.Width, imagery.Channels}

	single, err := batchShape(imagery.NewImage(imagery.Height, imagery.Width, imagery.Channels), want)
	require.NoError(t, err)
	assert.Equal(t, []int{1, imagery.Height, imagery.Width, imagery.Channels}, []int(single.Shape()))

	_, err = batchShape(imagery.NewImage(32, 32, 3), want)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	mixed := imagery.Batch{imagery.NewImage(imagery.Height, imagery.Width, imagery.Channels), imagery.NewImage(32, 32, 3)}
	_, err = batchShape(mixed, want)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Contains(t, err.Error(), "batch image 1")

	flat := tensorInput{tensor.New(tensor.WithShape(4, 4), tensor.WithBacking(make([]float32, 16)))}
	_, err = batchShape(flat, want)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

type tensorInput struct{ t *tensor.Dense }

func (i tensorInput) Tensor() *tensor.Dense { return i.t }

func TestEmptyModelLifecycle(t *testing.T) {
	t.Parallel()

	for _, kind := range []Kind{KindCNN, KindTFLite, KindONNX} {
		t.Run(string(kind), func(t *testing.T) {
			t.Parallel()
			m, err := New(kind, Config{})
			require.NoError(t, err)
			defer m.Close()

			assert.Equal(t, kind, m.Kind())
			assert.False(t, m.Ready())
			_, err = m.Predict(imagery.NewImage(imagery.Height, imagery.Width, imagery.Channels))
			assert.ErrorIs(t, err, ErrModelNotReady)
		})
	}
}

func TestInferenceOnlyKinds(t *testing.T) {
	t.Parallel()

	for _, kind := range []Kind{KindTFLite, KindONNX} {
		m, err := New(kind, Config{})
		require.NoError(t, err)

		_, err = m.Train(context.Background(), &imagery.Dataset{}, nil)
		assert.ErrorIs(t, err, ErrUnsupportedOperation, string(kind))
		assert.ErrorIs(t, m.Save(filepath.Join(t.TempDir(), "m")), ErrUnsupportedOperation, string(kind))
	}
}

func TestTFLiteLoadMissingFile(t *testing.T) {
	t.Parallel()

	m := NewTFLite(Config{})
	err := m.Load(filepath.Join(t.TempDir(), "missing.tflite"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))
	assert.False(t, m.Ready())
}

func TestCheckTFLiteOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		typ        tflite.TensorType
		numClasses int
		wantErr    bool
	}{
		{"float32 scores", tflite.Float32, 3, false},
		{"quantized output", tflite.UInt8, 3, true},
		{"int8 output", tflite.Int8, 3, true},
		{"zero classes", tflite.Float32, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := checkTFLiteOutput("model.tflite", tt.typ, tt.numClasses)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryModelInit))
		})
	}
}

func TestCNNSaveBeforeTrain(t *testing.T) {
	t.Parallel()

	err := NewCNN(Config{}).Save(filepath.Join(t.TempDir(), "model.gob"))
	assert.ErrorIs(t, err, ErrModelNotReady)
}

func smallDataset(t *testing.T, n int, seed uint64) *imagery.Dataset {
	t.Helper()
	ds, err := imagery.SyntheticDataset(n, 3, seed)
	require.NoError(t, err)
	return ds
}

func TestCNNTrainPredictSaveLoad(t *testing.T) {
	t.Parallel()

	var seen []int
	m := NewCNN(Config{
		NumClasses: 3,
		Epochs:     2,
		BatchSize:  4,
		Seed:       1,
		OnEpoch:    func(s EpochStats) { seen = append(seen, s.Epoch) },
	})
	train, val := imagery.Split(smallDataset(t, 10, 2), 0.8)

	history, err := m.Train(context.Background(), train, val)
	require.NoError(t, err)
	require.Len(t, history.Epochs, 2)
	assert.Equal(t, []int{1, 2}, seen)
	for _, e := range history.Epochs {
		assert.True(t, e.HasValidation)
		assert.GreaterOrEqual(t, e.Accuracy, 0.0)
		assert.LessOrEqual(t, e.Accuracy, 1.0)
		assert.GreaterOrEqual(t, e.ValAccuracy, 0.0)
		assert.LessOrEqual(t, e.ValAccuracy, 1.0)
	}
	require.True(t, m.Ready())

	img := val.Images[0]
	single, err := m.Predict(img)
	require.NoError(t, err)
	batched, err := m.Predict(imagery.Batch{img})
	require.NoError(t, err)

	assert.Equal(t, single, batched, "single image and batch of one must agree")

	for _, mixed := range []imagery.Batch{
		{img, imagery.NewImage(32, 32, imagery.Channels)},
		{imagery.NewImage(32, 32, imagery.Channels), img},
	} {
		require.NotPanics(t, func() {
			_, err = m.Predict(mixed)
		})
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation), "mixed batch: %v", err)
	}
	assert.Contains(t, Labels(), single.Label)
	assert.GreaterOrEqual(t, single.Confidence, 0.0)
	assert.LessOrEqual(t, single.Confidence, 1.0)
	assert.Len(t, single.Probabilities, 3)

	path := filepath.Join(t.TempDir(), "models", "cnn.gob")
	require.NoError(t, m.Save(path))

	loaded, err := New(KindCNN, Config{})
	require.NoError(t, err)
	require.NoError(t, loaded.Load(path))
	again, err := loaded.Predict(img)
	require.NoError(t, err)
	assert.Equal(t, single, again)
}

func TestCNNTrainValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("label outside class range", func(t *testing.T) {
		t.Parallel()
		ds := smallDataset(t, 4, 3)
		ds.Labels[0] = 2
		_, err := NewCNN(Config{NumClasses: 2, Epochs: 1}).Train(ctx, ds, nil)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	})

	t.Run("empty dataset", func(t *testing.T) {
		t.Parallel()
		_, err := NewCNN(Config{Epochs: 1}).Train(ctx, &imagery.Dataset{}, nil)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	})

	t.Run("image too small", func(t *testing.T) {
		t.Parallel()
		ds := &imagery.Dataset{
			Images: []*imagery.Image{imagery.NewImage(8, 8, 3)},
			Labels: []int{0},
		}
		_, err := NewCNN(Config{Epochs: 1}).Train(ctx, ds, nil)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		m := NewCNN(Config{Epochs: 1, BatchSize: 2})
		_, err := m.Train(cctx, smallDataset(t, 4, 4), nil)
		assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
		assert.False(t, m.Ready())
	})
}

func TestCNNLoadRejectsOtherKind(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "other.gob")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, gob.NewEncoder(f).Encode(&modelEnvelope{Kind: KindTFLite, Version: cnnFormatVersion}))
	require.NoError(t, f.Close())

	err = NewCNN(Config{}).Load(path)
	assert.ErrorIs(t, err, ErrUnsupportedModelKind)
}

func TestCNNLoadRejectsCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "corrupt.gob")
	require.NoError(t, os.WriteFile(path, []byte("not a model"), 0o600))

	err := NewCNN(Config{}).Load(path)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelLoad))
}
