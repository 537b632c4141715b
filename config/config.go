// Package config - koanf backed application configuration.
package config

import (
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-fomo/models/fomo"
	"github.com/nvr-ai/go-fomo/onnx"
)

// EnvPrefix prefixes environment overrides. Nested keys are separated by a
// double underscore, e.g. FOMO_HEAD__NUM_CLASSES=3.
const EnvPrefix = "FOMO_"

// EvalConfig defines dataset evaluation settings
type EvalConfig struct {
	Workers        int                `koanf:"workers"`
	ClassOffset    int                `koanf:"class_offset"`
	Decode         fomo.DecodeOptions `koanf:"decode"`
	OverlayOpacity float64            `koanf:"overlay_opacity"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Debug bool `koanf:"debug"`
}

// AppConfig is the application configuration.
type AppConfig struct {
	Head  fomo.Config `koanf:"head"`
	Model onnx.Config `koanf:"model"`
	Eval  EvalConfig  `koanf:"eval"`
	Log   LogConfig   `koanf:"log"`

	// ClassNames labels the object classes in channel order.
	ClassNames []string `koanf:"class_names"`
}

var defaults = map[string]any{
	"head.num_classes":       1,
	"head.input_channels":    []int{16},
	"head.middle_channels":   []int{96, 32},
	"head.cls_weight":        1.0,
	"head.activation":        string(fomo.ActivationReLU6),
	"head.coordinate_policy": string(fomo.CoordinateClamp),
	"head.matching":          string(fomo.MatchReference),

	"model.input_name":   "images",
	"model.output_names": []string{"output0"},
	"model.width":        96,
	"model.height":       96,
	"model.strides":      []int{8},

	"eval.class_offset":           1,
	"eval.overlay_opacity":        0.5,
	"eval.decode.score_threshold": 0.5,
	"eval.decode.cell_width":      8,
	"eval.decode.cell_height":     8,
}

// Load reads the configuration: built-in defaults, then the YAML file at
// filePath (skipped when empty), then FOMO_ environment variables.
func Load(filePath string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, errors.Wrap(err, "loading defaults")
	}

	if filePath != "" {
		if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "loading %s", filePath)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return nil, errors.Wrap(err, "loading environment")
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate derives dependent settings and checks the configuration.
// OutputChannels and the model attribute count default to NumClasses+1.
func Validate(cfg *AppConfig) error {
	if len(cfg.Head.OutputChannels) == 0 {
		for range cfg.Head.InputChannels {
			cfg.Head.OutputChannels = append(cfg.Head.OutputChannels, cfg.Head.NumAttrib())
		}
	}
	if err := cfg.Head.Validate(); err != nil {
		return err
	}

	if cfg.Model.Attributes == 0 {
		cfg.Model.Attributes = cfg.Head.NumAttrib()
	}
	if cfg.Model.Attributes != cfg.Head.NumAttrib() {
		return errors.Wrapf(fomo.ErrInvalidConfig, "model has %d attributes, head expects %d",
			cfg.Model.Attributes, cfg.Head.NumAttrib())
	}
	if len(cfg.Model.OutputNames) != len(cfg.Head.OutputChannels) {
		return errors.Wrapf(fomo.ErrInvalidConfig, "model has %d outputs, head has %d scales",
			len(cfg.Model.OutputNames), len(cfg.Head.OutputChannels))
	}

	if len(cfg.ClassNames) > 0 && len(cfg.ClassNames) != cfg.Head.NumClasses {
		return errors.Wrapf(fomo.ErrInvalidConfig, "%d class names for %d classes",
			len(cfg.ClassNames), cfg.Head.NumClasses)
	}

	if cfg.Eval.Workers < 0 {
		return errors.Wrapf(fomo.ErrInvalidConfig, "eval workers must not be negative, got %d", cfg.Eval.Workers)
	}
	if cfg.Eval.OverlayOpacity < 0 || cfg.Eval.OverlayOpacity > 1 {
		return errors.Wrapf(fomo.ErrInvalidConfig, "overlay opacity %v outside [0, 1]", cfg.Eval.OverlayOpacity)
	}
	return nil
}
