// Package onnx - ONNX Runtime backed FOMO network.
package onnx

import (
	"context"
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"gorgonia.org/tensor"
)

// Config describes an exported FOMO model.
type Config struct {
	// ModelPath is the path to the .onnx file.
	ModelPath string `json:"model_path" yaml:"model_path" koanf:"model_path"`
	// LibraryPath overrides the onnxruntime shared library location.
	LibraryPath string `json:"library_path" yaml:"library_path" koanf:"library_path"`
	// InputName is the image input node.
	InputName string `json:"input_name" yaml:"input_name" koanf:"input_name"`
	// OutputNames are the logit nodes, one per scale.
	OutputNames []string `json:"output_names" yaml:"output_names" koanf:"output_names"`
	// Width and Height are the network input size in pixels.
	Width  int `json:"width" yaml:"width" koanf:"width"`
	Height int `json:"height" yaml:"height" koanf:"height"`
	// Strides are the input-pixels-per-cell of each output scale.
	Strides []int `json:"strides" yaml:"strides" koanf:"strides"`
	// Attributes is the channel count of every output (classes + background).
	Attributes int `json:"attributes" yaml:"attributes" koanf:"attributes"`
	// Threads sets intra-op parallelism; 0 lets the runtime decide.
	Threads int `json:"threads" yaml:"threads" koanf:"threads"`
}

// DefaultConfig returns the settings of a 96x96 single-scale FOMO export.
func DefaultConfig(attributes int) Config {
	return Config{
		InputName:   "images",
		OutputNames: []string{"output0"},
		Width:       96,
		Height:      96,
		Strides:     []int{8},
		Attributes:  attributes,
	}
}

// Validate checks that the configuration describes a loadable model.
func (c Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if c.InputName == "" || len(c.OutputNames) == 0 {
		return errors.New("input and output node names are required")
	}
	if len(c.Strides) != len(c.OutputNames) {
		return errors.Errorf("%d strides for %d outputs", len(c.Strides), len(c.OutputNames))
	}
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Errorf("invalid input size %dx%d", c.Width, c.Height)
	}
	for i, s := range c.Strides {
		if s <= 0 || c.Width%s != 0 || c.Height%s != 0 {
			return errors.Errorf("stride %d of output %d does not divide %dx%d", s, i, c.Width, c.Height)
		}
	}
	if c.Attributes < 2 {
		return errors.Errorf("need at least 2 attributes, got %d", c.Attributes)
	}
	return nil
}

// GridSize returns the (rows, cols) of output scale i.
func (c Config) GridSize(i int) (int, int) {
	return c.Height / c.Strides[i], c.Width / c.Strides[i]
}

// Network runs a FOMO model with ONNX Runtime. Input and output tensors are
// preallocated and bound to the session, so Forward calls are serialised.
type Network struct {
	cfg     Config
	log     *zap.Logger
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
}

// NewNetwork loads the model and binds its tensors.
//
// Order of operations:
//  1. Library path check and environment setup (once per process).
//  2. Tensor allocation: one (1, 3, H, W) input and one (1, C, h, w) output per scale.
//  3. Session options and session creation.
//
// Arguments:
//   - cfg: The model description.
//   - log: Logger for load diagnostics; nil disables logging.
//
// Returns:
//   - *Network: A network ready for Forward. Call Close to release native memory.
//   - error: An error if the library, the model or the session cannot be set up.
func NewNetwork(cfg Config, log *zap.Logger) (*Network, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid onnx config")
	}
	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	n := &Network{cfg: cfg, log: log}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(cfg.Height), int64(cfg.Width)))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	n.input = input

	for i := range cfg.OutputNames {
		rows, cols := cfg.GridSize(i)
		output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Attributes), int64(rows), int64(cols)))
		if err != nil {
			n.Close()
			return nil, errors.Wrapf(err, "error creating output tensor %d", i)
		}
		n.outputs = append(n.outputs, output)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		n.Close()
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(cfg.Threads); err != nil {
		n.Close()
		return nil, errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		n.Close()
		return nil, errors.Wrap(err, "error setting graph optimization level")
	}

	inputs := []ort.ArbitraryTensor{n.input}
	outputs := make([]ort.ArbitraryTensor, len(n.outputs))
	for i, o := range n.outputs {
		outputs[i] = o
	}
	session, err := ort.NewAdvancedSession(cfg.ModelPath, []string{cfg.InputName}, cfg.OutputNames, inputs, outputs, options)
	if err != nil {
		n.Close()
		return nil, errors.Wrap(err, "error creating ORT session")
	}
	n.session = session

	log.Info("onnx network loaded",
		zap.String("model", cfg.ModelPath),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Ints("strides", cfg.Strides),
		zap.Int("attributes", cfg.Attributes),
	)
	return n, nil
}

// Forward runs the model once per image of the (B, 3, H, W) tensor in
// features[0] and returns one (B, C, h, w) logit map per output scale.
func (n *Network) Forward(ctx context.Context, features []*tensor.Dense) ([]*tensor.Dense, error) {
	if len(features) == 0 || features[0] == nil {
		return nil, errors.New("missing image tensor")
	}
	img := features[0]
	shape := img.Shape()
	if len(shape) != 4 || shape[1] != 3 || shape[2] != n.cfg.Height || shape[3] != n.cfg.Width {
		return nil, errors.Errorf("want (B, 3, %d, %d) input, got %v", n.cfg.Height, n.cfg.Width, shape)
	}
	pixels, ok := img.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("want float32 input, got %v", img.Dtype())
	}

	batch := shape[0]
	imageSize := 3 * n.cfg.Height * n.cfg.Width
	results := make([][]float32, len(n.outputs))
	for i, o := range n.outputs {
		results[i] = make([]float32, 0, batch*len(o.GetData()))
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return nil, errors.New("network is closed")
	}

	for b := 0; b < batch; b++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		copy(n.input.GetData(), pixels[b*imageSize:(b+1)*imageSize])
		if err := n.session.Run(); err != nil {
			return nil, errors.Wrapf(err, "running image %d", b)
		}
		for i, o := range n.outputs {
			results[i] = append(results[i], o.GetData()...)
		}
	}

	maps := make([]*tensor.Dense, len(n.outputs))
	for i := range n.outputs {
		rows, cols := n.cfg.GridSize(i)
		maps[i] = tensor.New(tensor.WithShape(batch, n.cfg.Attributes, rows, cols), tensor.WithBacking(results[i]))
	}
	return maps, nil
}

// Close releases the session and its tensors.
func (n *Network) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.input != nil {
		n.input.Destroy()
		n.input = nil
	}
	for _, o := range n.outputs {
		o.Destroy()
	}
	n.outputs = nil

	if n.session != nil {
		err := n.session.Destroy()
		n.session = nil
		if err != nil {
			return errors.Wrap(err, "error destroying ORT session")
		}
	}
	return nil
}

var envOnce struct {
	sync.Mutex
	done bool
}

// initEnvironment points ONNX Runtime at its shared library and initialises it once per process.
func initEnvironment(libPath string) error {
	envOnce.Lock()
	defer envOnce.Unlock()
	if envOnce.done || ort.IsInitialized() {
		envOnce.done = true
		return nil
	}

	if libPath == "" {
		libPath = SharedLibPath()
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	envOnce.done = true
	return nil
}

// SharedLibPath returns the default onnxruntime library for the current
// platform. ONNXRUNTIME_LIB overrides it.
func SharedLibPath() string {
	if p := os.Getenv("ONNXRUNTIME_LIB"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	}
	if runtime.GOARCH == "arm64" {
		return "./third_party/onnxruntime_arm64.so"
	}
	return "./third_party/onnxruntime.so"
}
