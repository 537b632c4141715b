// Package models - registry for models.
package models

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-fomo/images"
	"github.com/nvr-ai/go-fomo/models/fomo"
	"github.com/nvr-ai/go-fomo/models/model"
	"github.com/nvr-ai/go-fomo/onnx"
)

// ErrUnsupportedModel is returned by NewModel for an unknown model name.
var ErrUnsupportedModel = errors.New("unsupported model name")

// NewModel creates a new detection model instance based on the specified model type.
//
// This factory function routes requests to the network each model needs and
// wraps it in a FOMO head configured from args.
//
// Arguments:
//   - args: Configuration parameters specifying the model type, head and network.
//
// Returns:
//   - model.Model: A fully configured model. Call Close when done.
//   - error: An error if model creation fails or the model type is unsupported.
//
// Example:
//
//	args := model.NewModelArgs{
//	    Name:    model.ModelNameFOMO,
//	    Head:    fomo.DefaultConfig(2),
//	    Network: onnx.Config{ModelPath: "/models/fomo.onnx", ...},
//	}
//
//	m, err := NewModel(args)
//	if err != nil {
//	    log.Fatalf("Failed to create detection model: %v", err)
//	}
//	defer m.Close()
func NewModel(args model.NewModelArgs) (model.Model, error) {
	if args.Logger == nil {
		args.Logger = zap.NewNop()
	}
	args.Family = model.ModelFamilyFOMO

	var (
		net    fomo.Network
		closer func() error
	)
	switch args.Name {
	case model.ModelNameFOMO:
		n, err := onnx.NewNetwork(args.Network, args.Logger)
		if err != nil {
			return nil, err
		}
		net, closer = n, n.Close
	case model.ModelNameFOMOLogits:
		net = fomo.NetworkFunc(passthrough)
	default:
		return nil, errors.Wrapf(ErrUnsupportedModel, "%q", args.Name)
	}

	fail := func(err error) (model.Model, error) {
		if closer != nil {
			_ = closer()
		}
		return nil, err
	}

	head, err := fomo.NewHead(args.Head, net, fomo.WithLogger(args.Logger), fomo.WithDecodeOptions(args.Decode))
	if err != nil {
		return fail(err)
	}
	classes, err := classSetFor(args.ClassNames, args.Head.NumClasses)
	if err != nil {
		return fail(err)
	}
	return &_model{options: args, head: head, classes: classes, closer: closer}, nil
}

// passthrough treats its input as the network output.
func passthrough(_ context.Context, features []*tensor.Dense) ([]*tensor.Dense, error) {
	return features, nil
}

type _model struct {
	options model.NewModelArgs
	head    *fomo.Head
	classes *ClassSet
	closer  func() error
}

func (m *_model) Options() model.NewModelArgs {
	return m.options
}

func (m *_model) Head() *fomo.Head {
	return m.head
}

func (m *_model) ClassName(class int) string {
	return m.classes.Name(class)
}

func (m *_model) PreProcess(input []image.Image) ([]*tensor.Dense, error) {
	if m.options.Name != model.ModelNameFOMO {
		return nil, errors.Errorf("model %q takes precomputed logits", m.options.Name)
	}
	if len(input) == 0 {
		return nil, errors.New("no images to preprocess")
	}
	return []*tensor.Dense{images.BatchCHW(input, m.options.Network.Width, m.options.Network.Height)}, nil
}

func (m *_model) Predict(ctx context.Context, features []*tensor.Dense, annotations []fomo.Annotation) ([]fomo.Instance, error) {
	instances, err := m.head.Predict(ctx, features, annotations)
	if err != nil {
		return nil, err
	}
	for i := range instances {
		for j := range instances[i].Detections {
			d := &instances[i].Detections[j]
			d.Label = m.classes.Name(d.Class)
		}
	}
	return instances, nil
}

func (m *_model) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer()
}
