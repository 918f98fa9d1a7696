package classifier

import (
	"context"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/imagery"
	"github.com/tphakala/forestwatch/internal/logger"
)

// Tensor names expected in exported ONNX models.
const (
	onnxInputName  = "input"
	onnxOutputName = "output"
)

var onnxEnvMu sync.Mutex

func init() {
	Register(KindONNX, func(cfg Config) (Model, error) { return NewONNX(cfg), nil })
}

// ONNX runs an exported ONNX model through onnxruntime. It supports
// inference only and expects a (1, 64, 64, 3) input named "input" and a
// (1, classes) output named "output".
type ONNX struct {
	cfg Config

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNX returns an empty ONNX model.
func NewONNX(cfg Config) *ONNX {
	return &ONNX{cfg: cfg.withDefaults()}
}

// Kind implements Model.
func (m *ONNX) Kind() Kind { return KindONNX }

// Ready implements Model.
func (m *ONNX) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Train implements Model.
func (m *ONNX) Train(context.Context, *imagery.Dataset, *imagery.Dataset) (*History, error) {
	return nil, unsupported(KindONNX, "train")
}

// Save implements Model.
func (m *ONNX) Save(string) error {
	return unsupported(KindONNX, "save")
}

func (m *ONNX) initEnvironment() error {
	onnxEnvMu.Lock()
	defer onnxEnvMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if m.cfg.ONNXLibrary != "" {
		ort.SetSharedLibraryPath(m.cfg.ONNXLibrary)
	}
	return ort.InitializeEnvironment()
}

func onnxError(err error, category errors.ErrorCategory, path string) error {
	return errors.New(err).
		Component("classifier").
		Category(category).
		ModelContext(string(KindONNX), path).
		Build()
}

// Load implements Model.
func (m *ONNX) Load(path string) error {
	if err := m.initEnvironment(); err != nil {
		return onnxError(err, errors.CategoryModelInit, path)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, imagery.Height, imagery.Width, imagery.Channels))
	if err != nil {
		return onnxError(err, errors.CategoryModelInit, path)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(m.cfg.NumClasses)))
	if err != nil {
		input.Destroy()
		return onnxError(err, errors.CategoryModelInit, path)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return onnxError(err, errors.CategoryModelInit, path)
	}
	defer opts.Destroy()
	if m.cfg.Threads > 0 {
		if err := opts.SetIntraOpNumThreads(m.cfg.Threads); err != nil {
			input.Destroy()
			output.Destroy()
			return onnxError(err, errors.CategoryModelInit, path)
		}
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{onnxInputName}, []string{onnxOutputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		opts)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return onnxError(err, errors.CategoryModelLoad, path)
	}

	m.mu.Lock()
	m.releaseLocked()
	m.session, m.input, m.output = session, input, output
	m.mu.Unlock()

	GetLogger().Info("ONNX model loaded",
		logger.String("path", path),
		logger.Int("classes", m.cfg.NumClasses))
	return nil
}

// Predict implements Model. Only the first image of a batch is evaluated.
func (m *ONNX) Predict(in Input) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return Result{}, notReady(KindONNX, "predict")
	}
	batch, err := batchShape(in, []int{imagery.Height, imagery.Width, imagery.Channels})
	if err != nil {
		return Result{}, err
	}

	dst := m.input.GetData()
	copy(dst, batch.Data().([]float32)[:len(dst)])
	if err := m.session.Run(); err != nil {
		return Result{}, errors.New(err).
			Component("classifier").
			Category(errors.CategoryInference).
			Context("model_kind", string(KindONNX)).
			Build()
	}

	probs := make([]float32, m.cfg.NumClasses)
	copy(probs, m.output.GetData())
	return resultFromProbabilities(probs), nil
}

// Close implements Model. The shared onnxruntime environment stays
// initialized for other models.
func (m *ONNX) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked()
}

func (m *ONNX) releaseLocked() error {
	var errs []error
	if m.session != nil {
		errs = append(errs, m.session.Destroy())
		m.session = nil
	}
	if m.input != nil {
		errs = append(errs, m.input.Destroy())
		m.input = nil
	}
	if m.output != nil {
		errs = append(errs, m.output.Destroy())
		m.output = nil
	}
	return errors.Join(errs...)
}
