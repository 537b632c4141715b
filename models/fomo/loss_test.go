package fomo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

var centreAnnotation = []Annotation{{Image: 0, Class: 1, X: 0.5, Y: 0.5}}

// scaledTarget returns logits of scale*(2y-1), which tend to the one-hot target as scale grows.
func scaledTarget(t *testing.T, target *tensor.Dense, scale float32) *tensor.Dense {
	t.Helper()
	y := target.Data().([]float32)
	x := make([]float32, len(y))
	for i, v := range y {
		x[i] = scale * (2*v - 1)
	}
	return tensor.New(tensor.WithShape(target.Shape().Clone()...), tensor.WithBacking(x))
}

// TestComputeLoss_EndToEnd runs the 12x12, two class grid with one annotation at the centre.
func TestComputeLoss_EndToEnd(t *testing.T) {
	cfg := DefaultConfig(2)
	require.NoError(t, cfg.Validate())

	zeros := tensor.New(tensor.WithShape(1, 12, 12, 3), tensor.WithBacking(make([]float32, 12*12*3)))
	res, err := ComputeLoss(zeros, centreAnnotation, cfg)
	require.NoError(t, err)

	assert.False(t, math.IsNaN(float64(res.Total)) || math.IsInf(float64(res.Total), 0), "loss must be finite")
	assert.Greater(t, res.Total, float32(0), "a non-matching prediction must cost something")
	assert.Equal(t, []float32{0, 1, 0}, []float32{
		at(t, res.Target, 0, 6, 6, 0), at(t, res.Target, 0, 6, 6, 1), at(t, res.Target, 0, 6, 6, 2),
	})

	previous := res.Total
	for _, scale := range []float32{1, 4, 10, 20} {
		step, err := ComputeLoss(scaledTarget(t, res.Target, scale), centreAnnotation, cfg)
		require.NoError(t, err)
		assert.Less(t, step.Total, previous, "loss must fall as logits approach the target (scale %v)", scale)
		previous = step.Total
	}
	assert.Less(t, previous, float32(1e-6), "loss must approach zero")
}

func TestComputeLoss_Terms(t *testing.T) {
	cfg := DefaultConfig(2)
	require.NoError(t, cfg.Validate())

	pred := logitsFor(1, 4, 4, 3, 2, cellClass{0, 1, 1, 2})
	res, err := ComputeLoss(pred, []Annotation{{Class: 1, X: 0.3, Y: 0.3}}, cfg)
	require.NoError(t, err)

	fg := res.Foreground.Data().([]float32)
	bg := res.Background.Data().([]float32)
	var sum float64
	for i := range fg {
		if i%3 == 0 {
			assert.Zero(t, fg[i], "foreground term must be zero on the background channel")
		} else {
			assert.Zero(t, bg[i], "background term must be zero on object channels")
		}
		assert.GreaterOrEqual(t, fg[i]+bg[i], float32(0))
		sum += float64(fg[i] + bg[i])
	}
	assert.InDelta(t, sum/float64(len(fg)), res.Total, 1e-5, "total is the mean of both terms")

	assert.Equal(t, 0, res.Metrics.TP, "prediction is class 2, target is class 1")
	assert.Equal(t, 1, res.Metrics.FP, "a wrong class above the diagonal is a false positive")
	assert.Equal(t, 0, res.Metrics.FN)

	values := res.Map()
	assert.Equal(t, res.Total, values["loss"])
	assert.Equal(t, res.Metrics.F1, values["F1"])
	assert.Contains(t, values, "fgnd")
	assert.Contains(t, values, "bgnd")
}

// TestComputeLoss_Gradient compares the analytic gradient with central differences.
func TestComputeLoss_Gradient(t *testing.T) {
	cfg := DefaultConfig(2)
	cfg.ClsWeight = 3
	cfg.LossWeight = []float32{0.5, 2}
	require.NoError(t, cfg.Validate())

	logits := []float32{
		0.3, -1.2, 0.8, 1.5, 0.1, -0.4,
		-0.7, 2.0, 0.2, 0.0, -1.1, 0.9,
	}
	annotations := []Annotation{{Class: 1, X: 0.75, Y: 0.25}, {Class: 2, X: 0.25, Y: 0.75}}
	newPred := func(data []float32) *tensor.Dense {
		return tensor.New(tensor.WithShape(1, 2, 2, 3), tensor.WithBacking(data))
	}

	res, err := ComputeLoss(newPred(append([]float32(nil), logits...)), annotations, cfg)
	require.NoError(t, err)
	grad := res.Gradient.Data().([]float32)

	const eps = 1e-2
	for i := range logits {
		plus := append([]float32(nil), logits...)
		minus := append([]float32(nil), logits...)
		plus[i] += eps
		minus[i] -= eps

		lp, err := ComputeLoss(newPred(plus), annotations, cfg)
		require.NoError(t, err)
		lm, err := ComputeLoss(newPred(minus), annotations, cfg)
		require.NoError(t, err)

		numeric := (lp.Total - lm.Total) / (2 * eps)
		assert.InDelta(t, numeric, grad[i], 2e-3, "gradient of element %d", i)
	}
}

func TestComputeLoss_ClassWeights(t *testing.T) {
	pred := tensor.New(tensor.WithShape(1, 3, 3, 3), tensor.WithBacking(make([]float32, 27)))
	annotations := []Annotation{{Class: 1, X: 0.5, Y: 0.5}}

	base := DefaultConfig(2)
	require.NoError(t, base.Validate())
	baseRes, err := ComputeLoss(pred, annotations, base)
	require.NoError(t, err)

	muted := DefaultConfig(2)
	muted.LossWeight = []float32{0, 1}
	require.NoError(t, muted.Validate())
	mutedRes, err := ComputeLoss(pred, annotations, muted)
	require.NoError(t, err)

	fg := mutedRes.Foreground.Data().([]float32)
	for i := 1; i < len(fg); i += 3 {
		assert.Zero(t, fg[i], "class 1 foreground must vanish with a zero loss weight")
	}
	assert.Less(t, mutedRes.Total, baseRes.Total)

	heavy := DefaultConfig(2)
	heavy.ClsWeight = 10
	require.NoError(t, heavy.Validate())
	heavyRes, err := ComputeLoss(pred, annotations, heavy)
	require.NoError(t, err)
	assert.Greater(t, heavyRes.Total, baseRes.Total, "positive weight must increase the cost of a missed object")
	assert.Equal(t, baseRes.Background.Data(), heavyRes.Background.Data(), "positive weight must not touch the background term")
}

func TestComputeLoss_NoAnnotations(t *testing.T) {
	cfg := DefaultConfig(3)
	require.NoError(t, cfg.Validate())

	res, err := ComputeLoss(logitsFor(2, 5, 5, 4, 12), nil, cfg)
	require.NoError(t, err)
	assert.Less(t, res.Total, float32(1e-4))
	assert.Equal(t, float32(0), res.Metrics.Precision)
	assert.Equal(t, float32(0), res.Metrics.Recall)
	assert.Equal(t, float32(0), res.Metrics.F1)
}

func TestComputeLoss_Errors(t *testing.T) {
	cfg := DefaultConfig(2)
	require.NoError(t, cfg.Validate())

	_, err := ComputeLoss(logitsFor(1, 4, 4, 3, 1), []Annotation{{Class: 5}}, cfg)
	assert.ErrorIs(t, err, ErrInvalidAnnotation)

	ints := tensor.New(tensor.WithShape(1, 2, 2, 3), tensor.WithBacking(make([]int, 12)))
	_, err = ComputeLoss(ints, nil, cfg)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = ComputeLoss(nil, []Annotation{{Class: 1}}, cfg)
	assert.ErrorIs(t, err, ErrShapeMismatch, "a missing prediction map is an error, not a panic")
}

func TestSoftplus_Stable(t *testing.T) {
	assert.InDelta(t, math.Log(2), softplus(0), 1e-6)
	assert.Equal(t, float32(1000), softplus(1000))
	assert.Zero(t, softplus(-1000))
	assert.InDelta(t, 0.5, sigmoid(0), 1e-7)
	assert.Equal(t, float32(1), sigmoid(200))
	assert.Zero(t, sigmoid(-200))
}
