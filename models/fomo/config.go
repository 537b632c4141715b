// Package fomo - FOMO grid-cell detection head: target assignment, weighted loss and
// tolerance-based evaluation.
package fomo

import (
	"github.com/pkg/errors"
)

// Activation names the activation used by the feature bridge of the network.
type Activation string

const (
	// ActivationReLU is the plain rectifier.
	ActivationReLU Activation = "ReLU"
	// ActivationReLU6 is the rectifier clipped at 6 (default for the head).
	ActivationReLU6 Activation = "ReLU6"
	// ActivationLeakyReLU is the leaky rectifier.
	ActivationLeakyReLU Activation = "LeakyReLU"
	// ActivationSiLU is the sigmoid-weighted linear unit.
	ActivationSiLU Activation = "SiLU"
)

// CoordinatePolicy decides what happens to annotation centres outside [0, 1).
type CoordinatePolicy string

const (
	// CoordinateClamp clamps the computed cell to the grid.
	CoordinateClamp CoordinatePolicy = "clamp"
	// CoordinateReject fails the call with ErrInvalidAnnotation.
	CoordinateReject CoordinatePolicy = "reject"
)

// MatchMode selects the neighbour matching pass used by the metrics.
type MatchMode string

const (
	// MatchReference relabels near hits in place, in row-major order of the true cells.
	MatchReference MatchMode = "reference"
	// MatchSnap moves a near-hit prediction onto the true cell it belongs to.
	MatchSnap MatchMode = "snap"
)

var (
	// ErrInvalidConfig is returned when a head configuration fails validation.
	ErrInvalidConfig = errors.New("invalid fomo head config")
	// ErrInvalidAnnotation is returned when an annotation cannot be placed on the grid.
	ErrInvalidAnnotation = errors.New("invalid annotation")
	// ErrScaleMismatch is returned when the number of feature scales disagrees with the config.
	ErrScaleMismatch = errors.New("feature scale count mismatch")
	// ErrShapeMismatch is returned when a tensor does not have the expected shape.
	ErrShapeMismatch = errors.New("tensor shape mismatch")
)

// Config enumerates every recognised option of the head at construction time.
type Config struct {
	// InputChannels is the channel count of each feature scale fed to the head.
	InputChannels []int `json:"input_channels" yaml:"input_channels" koanf:"input_channels"`
	// MiddleChannels is carried for compatibility with exported configs; the head does not read it.
	MiddleChannels []int `json:"middle_channels" yaml:"middle_channels" koanf:"middle_channels"`
	// OutputChannels is the attribute count of each scale; each must equal NumClasses+1.
	OutputChannels []int `json:"output_channels" yaml:"output_channels" koanf:"output_channels"`
	// NumClasses is the number of object classes, background excluded.
	NumClasses int `json:"num_classes" yaml:"num_classes" koanf:"num_classes"`
	// ClsWeight is the positive-class weight of the foreground cross-entropy.
	ClsWeight float32 `json:"cls_weight" yaml:"cls_weight" koanf:"cls_weight"`
	// LossWeight optionally scales the foreground loss per class (index 0 is class 1).
	LossWeight []float32 `json:"loss_weight" yaml:"loss_weight" koanf:"loss_weight"`
	// Activation of the feature bridge.
	Activation Activation `json:"activation" yaml:"activation" koanf:"activation"`
	// CoordinatePolicy for annotation centres outside the image.
	CoordinatePolicy CoordinatePolicy `json:"coordinate_policy" yaml:"coordinate_policy" koanf:"coordinate_policy"`
	// Matching selects the neighbour matching pass of the metrics.
	Matching MatchMode `json:"matching" yaml:"matching" koanf:"matching"`
}

// DefaultConfig returns the configuration of the reference single-scale head.
//
// Arguments:
//   - numClasses: The number of object classes, background excluded.
//
// Returns:
//   - Config: A configuration with one 16-channel input scale.
func DefaultConfig(numClasses int) Config {
	return Config{
		InputChannels:    []int{16},
		MiddleChannels:   []int{96, 32},
		OutputChannels:   []int{numClasses + 1},
		NumClasses:       numClasses,
		ClsWeight:        1,
		Activation:       ActivationReLU6,
		CoordinatePolicy: CoordinateClamp,
		Matching:         MatchReference,
	}
}

// NumAttrib is the number of channels per cell, background included.
func (c Config) NumAttrib() int {
	return c.NumClasses + 1
}

// Validate checks the configuration and fills in zero-valued enum options.
//
// Returns:
//   - error: An error wrapping ErrInvalidConfig describing the first problem found.
func (c *Config) Validate() error {
	if c.NumClasses < 1 {
		return errors.Wrapf(ErrInvalidConfig, "num_classes must be >= 1, got %d", c.NumClasses)
	}
	if len(c.InputChannels) == 0 {
		return errors.Wrap(ErrInvalidConfig, "input_channels must name at least one scale")
	}
	if len(c.InputChannels) != len(c.OutputChannels) {
		return errors.Wrapf(ErrInvalidConfig, "input_channels has %d scales, output_channels has %d",
			len(c.InputChannels), len(c.OutputChannels))
	}
	for i, ch := range c.InputChannels {
		if ch <= 0 {
			return errors.Wrapf(ErrInvalidConfig, "input_channels[%d] must be positive, got %d", i, ch)
		}
	}
	for i, ch := range c.OutputChannels {
		if ch != c.NumAttrib() {
			return errors.Wrapf(ErrInvalidConfig, "output_channels[%d] = %d, want num_classes+1 = %d",
				i, ch, c.NumAttrib())
		}
	}
	if c.ClsWeight <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "cls_weight must be positive, got %v", c.ClsWeight)
	}
	if len(c.LossWeight) != 0 && len(c.LossWeight) != c.NumClasses {
		return errors.Wrapf(ErrInvalidConfig, "loss_weight has %d entries, want %d",
			len(c.LossWeight), c.NumClasses)
	}
	for i, w := range c.LossWeight {
		if w < 0 {
			return errors.Wrapf(ErrInvalidConfig, "loss_weight[%d] must not be negative, got %v", i, w)
		}
	}

	switch c.Activation {
	case "":
		c.Activation = ActivationReLU6
	case ActivationReLU, ActivationReLU6, ActivationLeakyReLU, ActivationSiLU:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unsupported activation %q", c.Activation)
	}

	switch c.CoordinatePolicy {
	case "":
		c.CoordinatePolicy = CoordinateClamp
	case CoordinateClamp, CoordinateReject:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unsupported coordinate policy %q", c.CoordinatePolicy)
	}

	switch c.Matching {
	case "":
		c.Matching = MatchReference
	case MatchReference, MatchSnap:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unsupported matching mode %q", c.Matching)
	}

	return nil
}

// classWeight returns the foreground loss multiplier of a channel.
func (c Config) classWeight(channel int) float32 {
	if channel == 0 || len(c.LossWeight) == 0 {
		return 1
	}
	return c.LossWeight[channel-1]
}
