package fomo

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-fomo/models/postprocess"
)

// Network is the feature bridge and prediction convolution stack in front of
// the head. It maps one feature tensor per scale to one (B, C, H, W) logit map
// per scale.
type Network interface {
	Forward(ctx context.Context, features []*tensor.Dense) ([]*tensor.Dense, error)
}

// NetworkFunc adapts a function to the Network interface.
type NetworkFunc func(ctx context.Context, features []*tensor.Dense) ([]*tensor.Dense, error)

// Forward calls f.
func (f NetworkFunc) Forward(ctx context.Context, features []*tensor.Dense) ([]*tensor.Dense, error) {
	return f(ctx, features)
}

// Instance is the inference result of one image.
type Instance struct {
	// Image is the index of the image in the batch.
	Image int
	// Pred is the (H, W, C) logit map of the image.
	Pred *tensor.Dense
	// Labels is the (H, W, C) one-hot target grid of the image.
	Labels *tensor.Dense
	// Detections are the decoded object cells.
	Detections []postprocess.Result
}

// Option configures a Head.
type Option func(*Head)

// WithLogger sets the logger used by the head.
func WithLogger(log *zap.Logger) Option {
	return func(h *Head) {
		if log != nil {
			h.log = log
		}
	}
}

// WithDecodeOptions sets how Predict turns prediction maps into detections.
func WithDecodeOptions(opts DecodeOptions) Option {
	return func(h *Head) {
		h.decode = opts
	}
}

// Head ties a Network to the target builder, the weighted loss and the
// tolerant metrics. It holds no per-call state and is safe for concurrent use
// when its Network is.
type Head struct {
	cfg    Config
	net    Network
	log    *zap.Logger
	decode DecodeOptions
}

// NewHead validates cfg and creates a head around net.
//
// Arguments:
//   - cfg: The head configuration.
//   - net: The network producing per-scale logits.
//   - opts: Optional logger and decode settings.
//
// Returns:
//   - *Head: The head.
//   - error: ErrInvalidConfig if cfg does not validate, or if net is nil.
func NewHead(cfg Config, net Network, opts ...Option) (*Head, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if net == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "network is nil")
	}
	h := &Head{
		cfg:    cfg,
		net:    net,
		log:    zap.NewNop(),
		decode: DecodeOptions{ScoreThreshold: 0.5, CellWidth: 8, CellHeight: 8},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Config returns the validated configuration of the head.
func (h *Head) Config() Config {
	return h.cfg
}

// Forward runs the network and returns one (B, H, W, C) prediction map per scale.
//
// Arguments:
//   - ctx: Context passed to the network.
//   - features: One feature tensor per configured input scale.
//
// Returns:
//   - []*tensor.Dense: Channels-last prediction maps, one per scale.
//   - error: ErrScaleMismatch before the network runs if the scale count is wrong,
//     ErrShapeMismatch if the network output disagrees with the config.
func (h *Head) Forward(ctx context.Context, features []*tensor.Dense) ([]*tensor.Dense, error) {
	if len(features) != len(h.cfg.InputChannels) {
		return nil, errors.Wrapf(ErrScaleMismatch, "got %d feature scales, configured %d",
			len(features), len(h.cfg.InputChannels))
	}

	outputs, err := h.net.Forward(ctx, features)
	if err != nil {
		return nil, errors.Wrap(err, "network forward")
	}
	if len(outputs) != len(h.cfg.OutputChannels) {
		return nil, errors.Wrapf(ErrScaleMismatch, "network returned %d scales, configured %d",
			len(outputs), len(h.cfg.OutputChannels))
	}

	maps := make([]*tensor.Dense, len(outputs))
	for i, out := range outputs {
		if out == nil || out.Dims() != 4 {
			return nil, errors.Wrapf(ErrShapeMismatch, "scale %d: want (B, C, H, W) output", i)
		}
		if got := out.Shape()[1]; got != h.cfg.OutputChannels[i] {
			return nil, errors.Wrapf(ErrShapeMismatch, "scale %d: %d channels, configured %d",
				i, got, h.cfg.OutputChannels[i])
		}
		permuted, err := tensor.Transpose(out, 0, 2, 3, 1)
		if err != nil {
			return nil, errors.Wrapf(err, "scale %d: permuting to channels-last", i)
		}
		dense, ok := permuted.(*tensor.Dense)
		if !ok {
			return nil, errors.Wrapf(ErrShapeMismatch, "scale %d: unexpected tensor %T", i, permuted)
		}
		maps[i] = dense
	}

	return maps, nil
}

// Loss runs the network and computes the loss of the first scale. Other
// scales are computed by the network but not scored.
//
// Arguments:
//   - ctx: Context passed to the network.
//   - features: One feature tensor per configured input scale.
//   - annotations: Ground truth for the batch.
//
// Returns:
//   - *LossResult: Loss, per-element terms, gradient and metrics.
//   - error: Any error from Forward or ComputeLoss.
func (h *Head) Loss(ctx context.Context, features []*tensor.Dense, annotations []Annotation) (*LossResult, error) {
	maps, err := h.Forward(ctx, features)
	if err != nil {
		return nil, err
	}
	res, err := ComputeLoss(maps[0], annotations, h.cfg)
	if err != nil {
		return nil, err
	}

	h.log.Debug("fomo loss",
		zap.Any("shape", maps[0].Shape()),
		zap.Int("annotations", len(annotations)),
		zap.Float32("loss", res.Total),
		zap.Float32("precision", res.Metrics.Precision),
		zap.Float32("recall", res.Metrics.Recall),
		zap.Float32("f1", res.Metrics.F1),
	)
	return res, nil
}

// Predict runs the network and returns one instance per image of the first
// scale, pairing its logits with the target grid of its annotations and the
// decoded detections. Annotations may be empty.
//
// Arguments:
//   - ctx: Context passed to the network.
//   - features: One feature tensor per configured input scale.
//   - annotations: Ground truth for the batch, if known.
//
// Returns:
//   - []Instance: One instance per image in batch order.
//   - error: Any error from Forward, BuildTarget or Decode.
func (h *Head) Predict(ctx context.Context, features []*tensor.Dense, annotations []Annotation) ([]Instance, error) {
	maps, err := h.Forward(ctx, features)
	if err != nil {
		return nil, err
	}
	pred := maps[0]

	target, err := BuildTarget(pred.Shape(), annotations, h.cfg.CoordinatePolicy)
	if err != nil {
		return nil, err
	}
	predData, err := float32s(pred)
	if err != nil {
		return nil, err
	}
	targetData := target.Data().([]float32)

	b, hh, w, c, _ := dims4(pred.Shape())
	size := hh * w * c
	instances := make([]Instance, b)
	for i := 0; i < b; i++ {
		inst := Instance{
			Image:  i,
			Pred:   sliceImage(predData, i, size, hh, w, c),
			Labels: sliceImage(targetData, i, size, hh, w, c),
		}
		inst.Detections, err = Decode(inst.Pred, h.decode)
		if err != nil {
			return nil, err
		}
		instances[i] = inst
	}

	h.log.Debug("fomo predict",
		zap.Any("shape", pred.Shape()),
		zap.Int("images", b),
	)
	return instances, nil
}

func sliceImage(data []float32, i, size, h, w, c int) *tensor.Dense {
	out := make([]float32, size)
	copy(out, data[i*size:(i+1)*size])
	return tensor.New(tensor.WithShape(h, w, c), tensor.WithBacking(out))
}
