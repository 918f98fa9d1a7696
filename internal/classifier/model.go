// Package classifier provides the land-cover classification models.
//
// A Model starts empty and becomes ready after Train or Load. Kinds register
// a factory with the package registry and are created through New.
package classifier

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gorgonia.org/tensor"

	"github.com/tphakala/forestwatch/internal/conf"
	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/imagery"
)

// Kind tags a model implementation.
type Kind string

const (
	KindCNN    Kind = conf.ModelKindCNN
	KindTFLite Kind = conf.ModelKindTFLite
	KindONNX   Kind = conf.ModelKindONNX
)

var (
	// ErrModelNotReady is returned by Predict and Save before Train or Load.
	ErrModelNotReady = errors.NewStd("model has not been trained or loaded")
	// ErrUnsupportedModelKind is returned for kinds without a registered factory.
	ErrUnsupportedModelKind = errors.NewStd("unsupported model kind")
	// ErrUnsupportedOperation is returned by inference-only kinds for Train and Save.
	ErrUnsupportedOperation = errors.NewStd("operation not supported by model kind")
)

// Input is a single image (3 dimensions, HWC) or a batch (4 dimensions, NHWC).
// *imagery.Image and imagery.Batch implement it.
type Input interface {
	Tensor() *tensor.Dense
}

// Result is the prediction for one image.
type Result struct {
	Label         Label
	Confidence    float64
	Probabilities []float64
}

// EpochStats summarizes one training epoch. Validation fields are only set
// when HasValidation is true.
type EpochStats struct {
	Epoch         int
	Loss          float64
	Accuracy      float64
	HasValidation bool
	ValLoss       float64
	ValAccuracy   float64
}

// History is the per-epoch training record.
type History struct {
	Epochs []EpochStats
}

// Final returns the stats of the last epoch.
func (h *History) Final() (EpochStats, bool) {
	if h == nil || len(h.Epochs) == 0 {
		return EpochStats{}, false
	}
	return h.Epochs[len(h.Epochs)-1], true
}

// Config carries the options shared by all model kinds.
type Config struct {
	NumClasses   int
	Epochs       int
	BatchSize    int
	LearningRate float64
	Seed         uint64
	Threads      int
	ONNXLibrary  string
	// OnEpoch is called after every training epoch.
	OnEpoch func(EpochStats)
}

// Default training parameters.
const (
	DefaultNumClasses   = 3
	DefaultEpochs       = 10
	DefaultBatchSize    = 32
	DefaultLearningRate = 0.001
)

// ConfigFromSettings maps model settings onto a Config.
func ConfigFromSettings(s *conf.ModelSettings) Config {
	return Config{
		NumClasses:   s.NumClasses,
		Epochs:       s.Epochs,
		BatchSize:    s.BatchSize,
		LearningRate: s.LearningRate,
		Seed:         s.Seed,
		Threads:      s.Threads,
		ONNXLibrary:  s.ONNXLibrary,
	}
}

func (c Config) withDefaults() Config {
	if c.NumClasses == 0 {
		c.NumClasses = DefaultNumClasses
	}
	if c.Epochs <= 0 {
		c.Epochs = DefaultEpochs
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.LearningRate <= 0 {
		c.LearningRate = DefaultLearningRate
	}
	return c
}

func (c Config) validate() error {
	if c.NumClasses < 2 || c.NumClasses > len(Labels()) {
		return errors.Newf("invalid number of classes %d, must be between 2 and %d", c.NumClasses, len(Labels())).
			Component("classifier").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}

// Model is a land-cover classifier.
type Model interface {
	Kind() Kind
	Ready() bool
	Train(ctx context.Context, train, val *imagery.Dataset) (*History, error)
	Predict(input Input) (Result, error)
	Load(path string) error
	Save(path string) error
	Close() error
}

// Factory creates an empty model of one kind.
type Factory func(cfg Config) (Model, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[Kind]Factory)
)

// Register installs the factory for kind, replacing any existing one.
func Register(kind Kind, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

// Kinds returns the registered kinds in sorted order.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// New creates an empty model of the given kind.
func New(kind Kind, cfg Config) (Model, error) {
	registryMu.RLock()
	factory, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.New(fmt.Errorf("%w: %q", ErrUnsupportedModelKind, kind)).
			Component("classifier").
			Category(errors.CategoryModelInit).
			Context("model_kind", string(kind)).
			Build()
	}

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return factory(cfg)
}

// batchShape promotes a 3-dimensional input to a batch of one and checks the
// image geometry against want (H, W, C).
func batchShape(input Input, want []int) (*tensor.Dense, error) {
	if input == nil {
		return nil, invalidInput("empty input")
	}
	if v, ok := input.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, invalidInput(err.Error())
		}
	}
	t := input.Tensor()
	if t == nil {
		return nil, invalidInput("empty input")
	}

	shape := t.Shape().Clone()
	switch len(shape) {
	case 3:
		shape = append(tensor.Shape{1}, shape...)
	case 4:
	default:
		return nil, invalidInput(fmt.Sprintf("input must have 3 or 4 dimensions, got %d", len(shape)))
	}
	if shape[0] == 0 {
		return nil, invalidInput("empty batch")
	}
	if want != nil && !slices.Equal([]int(shape[1:]), want) {
		return nil, invalidInput(fmt.Sprintf("input shape %v does not match model input %v", []int(shape[1:]), want))
	}

	data, ok := t.Data().([]float32)
	if !ok {
		return nil, invalidInput(fmt.Sprintf("input must be float32, got %v", t.Dtype()))
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)), nil
}

func invalidInput(msg string) error {
	return errors.Newf("invalid model input: %s", msg).
		Component("classifier").
		Category(errors.CategoryValidation).
		Build()
}

// resultFromProbabilities picks the arg-max class of one probability row.
func resultFromProbabilities(row []float32) Result {
	probs := make([]float64, len(row))
	for i, p := range row {
		probs[i] = float64(p)
	}
	idx := floats.MaxIdx(probs)
	return Result{
		Label:         LabelForIndex(idx),
		Confidence:    min(max(probs[idx], 0), 1),
		Probabilities: probs,
	}
}

func notReady(kind Kind, op string) error {
	return errors.New(ErrModelNotReady).
		Component("classifier").
		Category(errors.CategoryState).
		Context("model_kind", string(kind)).
		Context("operation", op).
		Build()
}

func unsupported(kind Kind, op string) error {
	return errors.New(fmt.Errorf("%w: %s on %s", ErrUnsupportedOperation, op, kind)).
		Component("classifier").
		Category(errors.CategoryState).
		Context("model_kind", string(kind)).
		Build()
}
