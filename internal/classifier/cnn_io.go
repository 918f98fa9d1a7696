package classifier

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"gorgonia.org/tensor"

	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/logger"
)

const cnnFormatVersion = 1

// modelEnvelope is the on-disk form of a trained CNN.
type modelEnvelope struct {
	Kind       Kind
	Version    int
	InputShape []int
	NumClasses int
	Weights    map[string]*tensor.Dense
}

// Save implements Model. The file is written to a temporary name first and
// renamed into place.
func (m *CNN) Save(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.weights == nil {
		return notReady(KindCNN, "save")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fileError(err, "create_model_dir", path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*.tmp")
	if err != nil {
		return fileError(err, "create_temp_model", path)
	}
	defer os.Remove(tmp.Name())

	env := modelEnvelope{
		Kind:       KindCNN,
		Version:    cnnFormatVersion,
		InputShape: m.inputShape,
		NumClasses: m.numClasses,
		Weights:    m.weights,
	}
	if err := gob.NewEncoder(tmp).Encode(&env); err != nil {
		tmp.Close()
		return fileError(err, "encode_model", path)
	}
	if err := tmp.Close(); err != nil {
		return fileError(err, "close_temp_model", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fileError(err, "rename_model", path)
	}

	GetLogger().Info("model saved",
		logger.String("path", path),
		logger.Int("classes", m.numClasses))
	return nil
}

// Load implements Model. It replaces any weights already held.
func (m *CNN) Load(path string) error {
	f, err := os.Open(path) //nolint:gosec // G304: model path comes from configuration
	if err != nil {
		return errors.New(err).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			ModelContext(string(KindCNN), path).
			Build()
	}
	defer f.Close()

	var env modelEnvelope
	if err := gob.NewDecoder(f).Decode(&env); err != nil {
		return errors.New(fmt.Errorf("decode model file: %w", err)).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			ModelContext(string(KindCNN), path).
			Build()
	}

	if env.Kind != KindCNN {
		return errors.New(fmt.Errorf("%w: file holds %q, expected %q", ErrUnsupportedModelKind, env.Kind, KindCNN)).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			ModelContext(string(KindCNN), path).
			Build()
	}
	if env.Version != cnnFormatVersion {
		return loadError(path, fmt.Sprintf("unsupported format version %d", env.Version))
	}
	if env.NumClasses < 2 || env.NumClasses > len(Labels()) {
		return loadError(path, fmt.Sprintf("invalid number of classes %d", env.NumClasses))
	}

	shapes, err := paramShapes(env.InputShape, env.NumClasses)
	if err != nil {
		return err
	}
	for _, name := range paramNames {
		w, ok := env.Weights[name]
		if !ok || w == nil {
			return loadError(path, "missing parameter "+name)
		}
		if !w.Shape().Eq(shapes[name]) {
			return loadError(path, fmt.Sprintf("parameter %s has shape %v, want %v", name, w.Shape(), shapes[name]))
		}
		if w.Dtype() != tensor.Float32 {
			return loadError(path, fmt.Sprintf("parameter %s has dtype %v", name, w.Dtype()))
		}
	}

	m.mu.Lock()
	m.weights = env.Weights
	m.inputShape = env.InputShape
	m.numClasses = env.NumClasses
	m.mu.Unlock()

	GetLogger().Info("model loaded",
		logger.String("path", path),
		logger.Any("input_shape", env.InputShape),
		logger.Int("classes", env.NumClasses))
	return nil
}

func loadError(path, msg string) error {
	return errors.Newf("invalid model file: %s", msg).
		Component("classifier").
		Category(errors.CategoryModelLoad).
		ModelContext(string(KindCNN), path).
		Build()
}

func fileError(err error, op, path string) error {
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryFileIO).
		ModelContext(string(KindCNN), path).
		Context("operation", op).
		Build()
}
