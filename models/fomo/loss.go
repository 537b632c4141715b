package fomo

import (
	"github.com/chewxy/math32"
	"gorgonia.org/tensor"
)

// LossResult bundles the training outputs of one prediction map.
type LossResult struct {
	// Total is the mean over every element of Foreground + Background.
	Total float32
	// Foreground is the per-element weighted loss of the object channels (zero on channel 0).
	Foreground *tensor.Dense
	// Background is the per-element loss of the background channel (zero elsewhere).
	Background *tensor.Dense
	// Gradient is dTotal/dlogits, same shape as the prediction map.
	Gradient *tensor.Dense
	// Target is the one-hot grid the loss was computed against.
	Target *tensor.Dense
	// Metrics are the tolerant precision, recall and F1 of the prediction map.
	Metrics Metrics
}

// Map returns the result keyed the way training loops report it.
func (r *LossResult) Map() map[string]interface{} {
	return map[string]interface{}{
		"loss": r.Total,
		"fgnd": r.Foreground,
		"bgnd": r.Background,
		"P":    r.Metrics.Precision,
		"R":    r.Metrics.Recall,
		"F1":   r.Metrics.F1,
	}
}

// ComputeLoss computes the background/foreground weighted logit cross-entropy
// of a prediction map against the target built from annotations, and the
// tolerant metrics against the same target.
//
// Background cells vastly outnumber object cells, so the background channel
// and the object channels are weighted separately: the object channels use
// cfg.ClsWeight as positive-class weight and cfg.LossWeight per class.
//
// Arguments:
//   - pred: The (B, H, W, C) prediction map in logit space.
//   - annotations: Ground truth for the batch; may be empty.
//   - cfg: A validated head configuration.
//
// Returns:
//   - *LossResult: The scalar loss, per-element terms, gradient, target and metrics.
//   - error: ErrShapeMismatch or ErrInvalidAnnotation.
func ComputeLoss(pred *tensor.Dense, annotations []Annotation, cfg Config) (*LossResult, error) {
	x, err := float32s(pred)
	if err != nil {
		return nil, err
	}
	target, err := BuildTarget(pred.Shape(), annotations, cfg.CoordinatePolicy)
	if err != nil {
		return nil, err
	}
	y := target.Data().([]float32)

	_, h, w, c, _ := dims4(pred.Shape())
	mask := WeightMask(h, w, c).Data().([]float32)
	n := len(x)
	inv := 1 / float32(n)

	fg := make([]float32, n)
	bg := make([]float32, n)
	grad := make([]float32, n)
	var sum float64

	for i := 0; i < n; i++ {
		m := mask[i%len(mask)]
		xi, yi := x[i], y[i]
		sig := sigmoid(xi)
		pos := softplus(-xi)
		neg := softplus(xi)

		if m != 0 {
			bg[i] = m * (yi*pos + (1-yi)*neg)
			grad[i] = m * (sig - yi)
		}
		if m != 1 {
			cw := cfg.classWeight(i % c)
			pw := cfg.ClsWeight
			fg[i] = (1 - m) * cw * (pw*yi*pos + (1-yi)*neg)
			grad[i] += (1 - m) * cw * (pw*yi*(sig-1) + (1-yi)*sig)
		}
		grad[i] *= inv
		sum += float64(fg[i]) + float64(bg[i])
	}

	metrics, err := PrecisionRecallF1(pred, target, cfg.Matching)
	if err != nil {
		return nil, err
	}

	shape := pred.Shape().Clone()
	return &LossResult{
		Total:      float32(sum / float64(n)),
		Foreground: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(fg)),
		Background: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(bg)),
		Gradient:   tensor.New(tensor.WithShape(shape...), tensor.WithBacking(grad)),
		Target:     target,
		Metrics:    metrics,
	}, nil
}

// softplus is log(1 + e^x) without overflow.
func softplus(x float32) float32 {
	return math32.Max(x, 0) + math32.Log1p(math32.Exp(-math32.Abs(x)))
}

func sigmoid(x float32) float32 {
	if x >= 0 {
		return 1 / (1 + math32.Exp(-x))
	}
	e := math32.Exp(x)
	return e / (1 + e)
}
