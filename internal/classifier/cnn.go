package classifier

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/imagery"
	"github.com/tphakala/forestwatch/internal/logger"
)

// Network geometry. Convolutions use valid padding with stride 1, pools use
// a 2x2 window with stride 2.
const (
	convKernel  = 3
	poolKernel  = 2
	hiddenUnits = 128
	logEpsilon  = 1e-7
)

var convFilters = []int{32, 64, 128}

// Parameter names, in the order they are created and updated.
var paramNames = []string{"conv0_w", "conv1_w", "conv2_w", "fc0_w", "fc0_b", "fc1_w", "fc1_b"}

func init() {
	Register(KindCNN, func(cfg Config) (Model, error) { return NewCNN(cfg), nil })
}

// CNN is the convolutional classifier. It supports the full lifecycle.
type CNN struct {
	cfg Config

	// mu guards the fields below and serializes inference.
	mu         sync.Mutex
	inputShape []int // H, W, C
	numClasses int
	weights    map[string]*tensor.Dense
}

// NewCNN returns an empty CNN.
func NewCNN(cfg Config) *CNN {
	return &CNN{cfg: cfg.withDefaults()}
}

// Kind implements Model.
func (m *CNN) Kind() Kind { return KindCNN }

// Ready implements Model.
func (m *CNN) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.weights != nil
}

// Close implements Model.
func (m *CNN) Close() error { return nil }

// featureSize returns the spatial size left after the conv/pool stages.
func featureSize(h, w int) (fh, fw int, err error) {
	fh, fw = h, w
	for stage := range convFilters {
		fh, fw = fh-(convKernel-1), fw-(convKernel-1)
		if fh < poolKernel || fw < poolKernel {
			return 0, 0, errors.Newf("input %dx%d is too small for convolution stage %d", h, w, stage+1).
				Component("classifier").
				Category(errors.CategoryValidation).
				Build()
		}
		fh, fw = (fh-poolKernel)/poolKernel+1, (fw-poolKernel)/poolKernel+1
	}
	return fh, fw, nil
}

// paramShapes returns the expected shape of every parameter.
func paramShapes(inputShape []int, numClasses int) (map[string]tensor.Shape, error) {
	if len(inputShape) != 3 {
		return nil, invalidInput(fmt.Sprintf("input shape must be (H, W, C), got %v", inputShape))
	}
	fh, fw, err := featureSize(inputShape[0], inputShape[1])
	if err != nil {
		return nil, err
	}
	last := convFilters[len(convFilters)-1]
	return map[string]tensor.Shape{
		"conv0_w": {convFilters[0], inputShape[2], convKernel, convKernel},
		"conv1_w": {convFilters[1], convFilters[0], convKernel, convKernel},
		"conv2_w": {convFilters[2], convFilters[1], convKernel, convKernel},
		"fc0_w":   {last * fh * fw, hiddenUnits},
		"fc0_b":   {1, hiddenUnits},
		"fc1_w":   {hiddenUnits, numClasses},
		"fc1_b":   {1, numClasses},
	}, nil
}

// initWeights draws Glorot-normal weights and zero biases.
func initWeights(shapes map[string]tensor.Shape, rng *rand.Rand) map[string]*tensor.Dense {
	weights := make(map[string]*tensor.Dense, len(shapes))
	for name, shape := range shapes {
		data := make([]float32, shape.TotalSize())
		if shape[0] != 1 {
			var fanIn, fanOut int
			if len(shape) == 4 {
				receptive := shape[2] * shape[3]
				fanIn, fanOut = shape[1]*receptive, shape[0]*receptive
			} else {
				fanIn, fanOut = shape[0], shape[1]
			}
			std := math.Sqrt(2 / float64(fanIn+fanOut))
			for i := range data {
				data[i] = float32(rng.NormFloat64() * std)
			}
		}
		weights[name] = tensor.New(tensor.WithShape(shape.Clone()...), tensor.WithBacking(data))
	}
	return weights
}

func cloneWeights(src map[string]*tensor.Dense) map[string]*tensor.Dense {
	out := make(map[string]*tensor.Dense, len(src))
	for name, w := range src {
		out[name] = w.Clone().(*tensor.Dense)
	}
	return out
}

// network is one compiled expression graph for a fixed batch size.
type network struct {
	g          *G.ExprGraph
	x          *G.Node
	params     G.Nodes
	probs      *G.Node
	probsValue G.Value
}

// weights returns the current parameter values keyed by name.
func (n *network) weights() map[string]*tensor.Dense {
	out := make(map[string]*tensor.Dense, len(n.params))
	for _, p := range n.params {
		if d, ok := p.Value().(*tensor.Dense); ok {
			out[p.Name()] = d
		}
	}
	return out
}

func graphError(layer string, err error) error {
	return errors.New(fmt.Errorf("build %s: %w", layer, err)).
		Component("classifier").
		Category(errors.CategoryModelInit).
		Build()
}

// buildNetwork creates the forward graph over weights. The weight tensors are
// bound directly as node values, so a solver stepping the graph updates them.
func buildNetwork(batch int, inputShape []int, numClasses int, weights map[string]*tensor.Dense) (*network, error) {
	g := G.NewGraph()
	h, w, c := inputShape[0], inputShape[1], inputShape[2]
	x := G.NewTensor(g, tensor.Float32, 4, G.WithShape(batch, c, h, w), G.WithName("x"))

	nodes := make(map[string]*G.Node, len(paramNames))
	params := make(G.Nodes, 0, len(paramNames))
	for _, name := range paramNames {
		wt := weights[name]
		n := G.NewTensor(g, tensor.Float32, wt.Dims(), G.WithShape(wt.Shape().Clone()...), G.WithName(name), G.WithValue(wt))
		nodes[name] = n
		params = append(params, n)
	}

	cur := x
	var err error
	for stage := range convFilters {
		name := fmt.Sprintf("conv%d", stage)
		if cur, err = G.Conv2d(cur, nodes[name+"_w"], tensor.Shape{convKernel, convKernel}, []int{0, 0}, []int{1, 1}, []int{1, 1}); err != nil {
			return nil, graphError(name, err)
		}
		if cur, err = G.Rectify(cur); err != nil {
			return nil, graphError(name+" relu", err)
		}
		if cur, err = G.MaxPool2D(cur, tensor.Shape{poolKernel, poolKernel}, []int{0, 0}, []int{poolKernel, poolKernel}); err != nil {
			return nil, graphError(name+" pool", err)
		}
	}

	flat := nodes["fc0_w"].Shape()[0]
	if cur, err = G.Reshape(cur, tensor.Shape{batch, flat}); err != nil {
		return nil, graphError("flatten", err)
	}
	if cur, err = dense(cur, nodes["fc0_w"], nodes["fc0_b"]); err != nil {
		return nil, graphError("fc0", err)
	}
	if cur, err = G.Rectify(cur); err != nil {
		return nil, graphError("fc0 relu", err)
	}
	if cur, err = dense(cur, nodes["fc1_w"], nodes["fc1_b"]); err != nil {
		return nil, graphError("fc1", err)
	}
	probs, err := G.SoftMax(cur)
	if err != nil {
		return nil, graphError("softmax", err)
	}
	if probs.Shape()[1] != numClasses {
		return nil, graphError("output", fmt.Errorf("output width %d, want %d", probs.Shape()[1], numClasses))
	}

	net := &network{g: g, x: x, params: params, probs: probs}
	G.Read(probs, &net.probsValue)
	return net, nil
}

func dense(x, w, b *G.Node) (*G.Node, error) {
	out, err := G.Mul(x, w)
	if err != nil {
		return nil, err
	}
	return G.BroadcastAdd(out, b, nil, []byte{0})
}

// crossEntropy adds -mean(sum(onehot * log(p))) over the batch to the graph.
func (n *network) crossEntropy(batch, numClasses int) (y, cost *G.Node, err error) {
	y = G.NewMatrix(n.g, tensor.Float32, G.WithShape(batch, numClasses), G.WithName("y"))
	p, err := G.Add(n.probs, G.NewConstant(float32(logEpsilon)))
	if err != nil {
		return nil, nil, err
	}
	if p, err = G.Log(p); err != nil {
		return nil, nil, err
	}
	if p, err = G.HadamardProd(p, y); err != nil {
		return nil, nil, err
	}
	if p, err = G.Sum(p, 1); err != nil {
		return nil, nil, err
	}
	if p, err = G.Mean(p); err != nil {
		return nil, nil, err
	}
	cost, err = G.Neg(p)
	return y, cost, err
}

// nhwcToNCHW reorders a flat NHWC buffer into NCHW.
func nhwcToNCHW(src []float32, n, h, w, c int) []float32 {
	out := make([]float32, len(src))
	plane := h * w
	for i := range n {
		base := i * h * w * c
		for y := range h {
			for x := range w {
				for ch := range c {
					out[base+ch*plane+y*w+x] = src[base+(y*w+x)*c+ch]
				}
			}
		}
	}
	return out
}

// forward runs inference over an NHWC batch and returns the flat (N, classes)
// probabilities.
func forward(weights map[string]*tensor.Dense, inputShape []int, numClasses int, batch *tensor.Dense) ([]float32, error) {
	n := batch.Shape()[0]
	h, w, c := inputShape[0], inputShape[1], inputShape[2]

	net, err := buildNetwork(n, inputShape, numClasses, weights)
	if err != nil {
		return nil, err
	}
	src := batch.Data().([]float32)
	x := tensor.New(tensor.WithShape(n, c, h, w), tensor.WithBacking(nhwcToNCHW(src, n, h, w, c)))
	if err := G.Let(net.x, x); err != nil {
		return nil, inferenceError(err)
	}

	vm := G.NewTapeMachine(net.g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, inferenceError(err)
	}
	probs, ok := net.probsValue.Data().([]float32)
	if !ok {
		return nil, inferenceError(fmt.Errorf("unexpected output type %T", net.probsValue.Data()))
	}
	out := make([]float32, len(probs))
	copy(out, probs)
	return out, nil
}

func inferenceError(err error) error {
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryInference).
		Context("model_kind", string(KindCNN)).
		Build()
}

// Predict implements Model. The result describes the first image of the batch.
func (m *CNN) Predict(input Input) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.weights == nil {
		return Result{}, notReady(KindCNN, "predict")
	}
	batch, err := batchShape(input, m.inputShape)
	if err != nil {
		return Result{}, err
	}
	probs, err := forward(m.weights, m.inputShape, m.numClasses, batch)
	if err != nil {
		return Result{}, err
	}
	return resultFromProbabilities(probs[:m.numClasses]), nil
}

func validateDataset(ds *imagery.Dataset, numClasses int, name string) ([]int, error) {
	if ds.Len() == 0 {
		return nil, datasetError(name, "dataset is empty")
	}
	if len(ds.Labels) != len(ds.Images) {
		return nil, datasetError(name, fmt.Sprintf("%d images but %d labels", len(ds.Images), len(ds.Labels)))
	}
	shape := ds.Images[0].Shape()
	for i, img := range ds.Images {
		s := img.Shape()
		if s[0] != shape[0] || s[1] != shape[1] || s[2] != shape[2] {
			return nil, datasetError(name, fmt.Sprintf("image %d has shape %v, want %v", i, s, shape))
		}
	}
	for i, label := range ds.Labels {
		if label < 0 || label >= numClasses {
			return nil, datasetError(name, fmt.Sprintf("label %d at index %d is outside [0, %d)", label, i, numClasses))
		}
	}
	return shape, nil
}

func datasetError(name, msg string) error {
	return errors.Newf("invalid %s dataset: %s", name, msg).
		Component("classifier").
		Category(errors.CategoryValidation).
		Build()
}

// gatherBatch returns the NCHW input and one-hot targets for the given samples.
func gatherBatch(ds *imagery.Dataset, idx []int, shape []int, numClasses int) (x, y *tensor.Dense) {
	h, w, c := shape[0], shape[1], shape[2]
	size := h * w * c
	pix := make([]float32, 0, len(idx)*size)
	onehot := make([]float32, len(idx)*numClasses)
	for i, j := range idx {
		pix = append(pix, ds.Images[j].Pix...)
		onehot[i*numClasses+ds.Labels[j]] = 1
	}
	x = tensor.New(tensor.WithShape(len(idx), c, h, w), tensor.WithBacking(nhwcToNCHW(pix, len(idx), h, w, c)))
	y = tensor.New(tensor.WithShape(len(idx), numClasses), tensor.WithBacking(onehot))
	return x, y
}

// batchAccuracy counts rows whose arg-max matches the one-hot target.
func batchAccuracy(probs, onehot []float32, numClasses int) int {
	correct := 0
	row := make([]float64, numClasses)
	for i := 0; i+numClasses <= len(probs); i += numClasses {
		for k := range numClasses {
			row[k] = float64(probs[i+k])
		}
		if onehot[i+floats.MaxIdx(row)] == 1 {
			correct++
		}
	}
	return correct
}

// Train implements Model. The number of classes comes from the configuration,
// never from the labels present in the data.
func (m *CNN) Train(ctx context.Context, train, val *imagery.Dataset) (*History, error) {
	start := time.Now()
	cfg := m.cfg
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	shape, err := validateDataset(train, cfg.NumClasses, "training")
	if err != nil {
		return nil, err
	}
	hasVal := val.Len() > 0
	if hasVal {
		valShape, err := validateDataset(val, cfg.NumClasses, "validation")
		if err != nil {
			return nil, err
		}
		if valShape[0] != shape[0] || valShape[1] != shape[1] || valShape[2] != shape[2] {
			return nil, datasetError("validation", fmt.Sprintf("image shape %v does not match training shape %v", valShape, shape))
		}
	}

	shapes, err := paramShapes(shape, cfg.NumClasses)
	if err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano()) //nolint:gosec // G115: any bit pattern is a valid seed
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d)) //nolint:gosec // G404: not used for security
	weights := initWeights(shapes, rng)

	batchSize := min(cfg.BatchSize, train.Len())
	net, err := buildNetwork(batchSize, shape, cfg.NumClasses, weights)
	if err != nil {
		return nil, err
	}
	y, cost, err := net.crossEntropy(batchSize, cfg.NumClasses)
	if err != nil {
		return nil, graphError("loss", err)
	}
	var costValue G.Value
	G.Read(cost, &costValue)
	if _, err := G.Grad(cost, net.params...); err != nil {
		return nil, graphError("gradients", err)
	}

	vm := G.NewTapeMachine(net.g, G.BindDualValues(net.params...))
	defer vm.Close()
	solver := G.NewAdamSolver(G.WithLearnRate(cfg.LearningRate))

	log := GetLogger().With(
		logger.Int("samples", train.Len()),
		logger.Int("batch_size", batchSize),
		logger.Int("classes", cfg.NumClasses))
	log.Info("training started", logger.Int("epochs", cfg.Epochs))

	batches := train.Len() / batchSize
	order := make([]int, train.Len())
	for i := range order {
		order[i] = i
	}

	history := &History{}
	for epoch := range cfg.Epochs {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var lossSum float64
		correct := 0
		for b := range batches {
			if err := ctx.Err(); err != nil {
				return history, errors.New(err).
					Component("classifier").
					Category(errors.CategoryCancellation).
					Context("epoch", epoch+1).
					Build()
			}

			xT, yT := gatherBatch(train, order[b*batchSize:(b+1)*batchSize], shape, cfg.NumClasses)
			if err := G.Let(net.x, xT); err != nil {
				return history, trainError(err, epoch)
			}
			if err := G.Let(y, yT); err != nil {
				return history, trainError(err, epoch)
			}
			if err := vm.RunAll(); err != nil {
				return history, trainError(err, epoch)
			}
			if err := solver.Step(G.NodesToValueGrads(net.params)); err != nil {
				return history, trainError(err, epoch)
			}

			lossSum += scalarValue(costValue)
			correct += batchAccuracy(net.probsValue.Data().([]float32), yT.Data().([]float32), cfg.NumClasses)
			vm.Reset()
		}

		stats := EpochStats{
			Epoch:    epoch + 1,
			Loss:     lossSum / float64(batches),
			Accuracy: float64(correct) / float64(batches*batchSize),
		}
		if hasVal {
			stats.HasValidation = true
			stats.ValLoss, stats.ValAccuracy, err = evaluate(net.weights(), shape, cfg.NumClasses, cfg.BatchSize, val)
			if err != nil {
				return history, err
			}
		}
		history.Epochs = append(history.Epochs, stats)

		log.Info("epoch complete",
			logger.Int("epoch", stats.Epoch),
			logger.Float64("loss", stats.Loss),
			logger.Float64("accuracy", stats.Accuracy),
			logger.Float64("val_loss", stats.ValLoss),
			logger.Float64("val_accuracy", stats.ValAccuracy))
		if cfg.OnEpoch != nil {
			cfg.OnEpoch(stats)
		}
	}

	m.mu.Lock()
	m.weights = cloneWeights(net.weights())
	m.inputShape = shape
	m.numClasses = cfg.NumClasses
	m.mu.Unlock()

	log.Info("training finished", logger.Duration("duration", time.Since(start)))
	return history, nil
}

func trainError(err error, epoch int) error {
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryModelTrain).
		Context("epoch", epoch+1).
		Build()
}

func scalarValue(v G.Value) float64 {
	if v == nil {
		return math.NaN()
	}
	switch d := v.Data().(type) {
	case float32:
		return float64(d)
	case float64:
		return d
	case []float32:
		if len(d) > 0 {
			return float64(d[0])
		}
	}
	return math.NaN()
}

// evaluate returns the mean cross-entropy and accuracy of ds in chunks of
// chunk samples.
func evaluate(weights map[string]*tensor.Dense, shape []int, numClasses, chunk int, ds *imagery.Dataset) (loss, accuracy float64, err error) {
	var lossSum float64
	correct := 0
	for start := 0; start < ds.Len(); start += chunk {
		part := ds.Slice(start, min(start+chunk, ds.Len()))
		probs, err := forward(weights, shape, numClasses, imagery.Batch(part.Images).Tensor())
		if err != nil {
			return 0, 0, err
		}
		for i, label := range part.Labels {
			row := probs[i*numClasses : (i+1)*numClasses]
			lossSum -= math.Log(float64(row[label]) + logEpsilon)
			if resultFromProbabilities(row).Label == LabelForIndex(label) {
				correct++
			}
		}
	}
	n := float64(ds.Len())
	return lossSum / n, float64(correct) / n, nil
}
