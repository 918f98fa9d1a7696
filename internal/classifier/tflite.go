package classifier

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/tphakala/go-tflite"

	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/imagery"
	"github.com/tphakala/forestwatch/internal/logger"
)

func init() {
	Register(KindTFLite, func(cfg Config) (Model, error) { return NewTFLite(cfg), nil })
}

// TFLite runs an exported TensorFlow Lite model. It supports inference only.
type TFLite struct {
	cfg Config

	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	inputShape  []int // H, W, C
	numClasses  int
}

// NewTFLite returns an empty TFLite model.
func NewTFLite(cfg Config) *TFLite {
	return &TFLite{cfg: cfg.withDefaults()}
}

// Kind implements Model.
func (m *TFLite) Kind() Kind { return KindTFLite }

// Ready implements Model.
func (m *TFLite) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interpreter != nil
}

// Train implements Model.
func (m *TFLite) Train(context.Context, *imagery.Dataset, *imagery.Dataset) (*History, error) {
	return nil, unsupported(KindTFLite, "train")
}

// Save implements Model.
func (m *TFLite) Save(string) error {
	return unsupported(KindTFLite, "save")
}

func (m *TFLite) threads() int {
	if m.cfg.Threads > 0 {
		return m.cfg.Threads
	}
	return max(1, runtime.NumCPU()/2)
}

// Load implements Model. The model must take one NHWC float32 input and
// produce one (1, classes) float32 output.
func (m *TFLite) Load(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: model path comes from configuration
	if err != nil {
		return errors.New(err).
			Component("classifier").
			Category(errors.CategoryModelLoad).
			ModelContext(string(KindTFLite), path).
			Build()
	}

	model := tflite.NewModel(data)
	if model == nil {
		return errors.Newf("cannot load TensorFlow Lite model").
			Component("classifier").
			Category(errors.CategoryModelInit).
			ModelContext(string(KindTFLite), path).
			Context("model_size_kb", len(data)/1024).
			Build()
	}

	options := tflite.NewInterpreterOptions()
	options.SetNumThread(m.threads())
	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return tfliteInitError(path, "cannot create interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return tfliteInitError(path, "tensor allocation failed")
	}

	input := interpreter.GetInputTensor(0)
	output := interpreter.GetOutputTensor(0)
	if input == nil || output == nil || input.NumDims() != 4 {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return tfliteInitError(path, "model must have a 4-dimensional input tensor and an output tensor")
	}
	inputShape := []int{input.Dim(1), input.Dim(2), input.Dim(3)}
	numClasses := 0
	if output.NumDims() > 0 {
		numClasses = output.Dim(output.NumDims() - 1)
	}
	if err := checkTFLiteOutput(path, output.Type(), numClasses); err != nil {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return err
	}

	m.mu.Lock()
	m.releaseLocked()
	m.model, m.options, m.interpreter = model, options, interpreter
	m.inputShape, m.numClasses = inputShape, numClasses
	m.mu.Unlock()

	GetLogger().Info("TFLite model loaded",
		logger.String("path", path),
		logger.Any("input_shape", inputShape),
		logger.Int("classes", numClasses),
		logger.Int("threads", m.threads()))
	return nil
}

// checkTFLiteOutput requires a float32 output holding at least one class score.
func checkTFLiteOutput(path string, typ tflite.TensorType, numClasses int) error {
	if typ != tflite.Float32 {
		return tfliteInitError(path, fmt.Sprintf("output tensor must be float32, got %v", typ))
	}
	if numClasses <= 0 {
		return tfliteInitError(path, "output tensor has no classes")
	}
	return nil
}

func tfliteInitError(path, msg string) error {
	return errors.New(errors.NewStd(msg)).
		Component("classifier").
		Category(errors.CategoryModelInit).
		ModelContext(string(KindTFLite), path).
		Build()
}

// Predict implements Model. The interpreter has a fixed batch of one, so
// only the first image of a batch is evaluated.
func (m *TFLite) Predict(input Input) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interpreter == nil {
		return Result{}, notReady(KindTFLite, "predict")
	}
	batch, err := batchShape(input, m.inputShape)
	if err != nil {
		return Result{}, err
	}

	in := m.interpreter.GetInputTensor(0)
	if in == nil {
		return Result{}, tfliteInvokeError(errors.NewStd("cannot get input tensor"))
	}
	size := m.inputShape[0] * m.inputShape[1] * m.inputShape[2]
	copy(in.Float32s(), batch.Data().([]float32)[:size])

	if status := m.interpreter.Invoke(); status != tflite.OK {
		return Result{}, tfliteInvokeError(fmt.Errorf("tensor invoke failed: %v", status))
	}

	out := m.interpreter.GetOutputTensor(0)
	probs := make([]float32, m.numClasses)
	copy(probs, out.Float32s())
	return resultFromProbabilities(probs), nil
}

func tfliteInvokeError(err error) error {
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryInference).
		Context("model_kind", string(KindTFLite)).
		Build()
}

// Close implements Model and releases the interpreter.
func (m *TFLite) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
	return nil
}

func (m *TFLite) releaseLocked() {
	if m.interpreter != nil {
		m.interpreter.Delete()
		m.interpreter = nil
	}
	if m.options != nil {
		m.options.Delete()
		m.options = nil
	}
	if m.model != nil {
		m.model.Delete()
		m.model = nil
	}
}
