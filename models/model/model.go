// Package model - Definitions shared by FOMO model implementations.
package model

import (
	"context"
	"image"

	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-fomo/models/fomo"
	"github.com/nvr-ai/go-fomo/onnx"
)

// Family is the family of models.
type Family string

const (
	// ModelFamilyFOMO is the grid-cell centroid detector family.
	ModelFamilyFOMO Family = "fomo"
)

// Name is the unique identifier of a model.
type Name string

const (
	// ModelNameFOMO runs an exported FOMO network with ONNX Runtime.
	ModelNameFOMO Name = "fomo"
	// ModelNameFOMOLogits scores precomputed (B, C, H, W) logits without a network.
	ModelNameFOMOLogits Name = "fomo-logits"
)

// Model is a FOMO detector: a network in front of the head.
type Model interface {
	Options() NewModelArgs
	Head() *fomo.Head
	ClassName(class int) string
	PreProcess(input []image.Image) ([]*tensor.Dense, error)
	Predict(ctx context.Context, features []*tensor.Dense, annotations []fomo.Annotation) ([]fomo.Instance, error)
	Close() error
}

// NewModelArgs is the arguments for creating a new model.
type NewModelArgs struct {
	Name    Name               `json:"name" yaml:"name"`
	Family  Family             `json:"family" yaml:"family"`
	Head    fomo.Config        `json:"head" yaml:"head"`
	Network onnx.Config        `json:"network" yaml:"network"`
	Decode  fomo.DecodeOptions `json:"decode" yaml:"decode"`
	Logger  *zap.Logger        `json:"-" yaml:"-"`

	// ClassNames labels head channels 1..NumClasses; empty uses numbered names.
	ClassNames []string `json:"class_names" yaml:"class_names"`
}
