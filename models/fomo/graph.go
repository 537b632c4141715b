package fomo

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LossNodes are the outputs of LossGraph.
type LossNodes struct {
	// Total is the scalar mean loss; pass it to gorgonia.Grad.
	Total *gorgonia.Node
	// Foreground is the per-element weighted object-channel loss.
	Foreground *gorgonia.Node
	// Background is the per-element background-channel loss.
	Background *gorgonia.Node
}

// LossGraph adds the weighted logit cross-entropy of ComputeLoss to an
// expression graph so a gorgonia network can be trained through it.
//
// The target and the channel weights are folded into four constant
// coefficient tensors, leaving
//
//	l = a·softplus(−x) + b·softplus(x)
//
// per element, with softplus(z) = log1p(exp(z)).
//
// Arguments:
//   - g: The graph that owns logits.
//   - logits: A (B, H, W, C) float32 node in logit space.
//   - target: The one-hot target from BuildTarget, same shape as logits.
//   - cfg: A validated head configuration.
//
// Returns:
//   - *LossNodes: The scalar loss and the per-element terms.
//   - error: ErrShapeMismatch or a graph construction error.
func LossGraph(g *gorgonia.ExprGraph, logits *gorgonia.Node, target *tensor.Dense, cfg Config) (*LossNodes, error) {
	if logits == nil || target == nil {
		return nil, errors.Wrap(ErrShapeMismatch, "nil logits or target")
	}
	shape := logits.Shape()
	_, h, w, c, err := dims4(shape)
	if err != nil {
		return nil, err
	}
	if !shape.Eq(target.Shape()) {
		return nil, errors.Wrapf(ErrShapeMismatch, "logits %v vs target %v", shape, target.Shape())
	}
	y, err := float32s(target)
	if err != nil {
		return nil, err
	}

	mask := WeightMask(h, w, c).Data().([]float32)
	n := len(y)
	bgPos, bgNeg := make([]float32, n), make([]float32, n)
	fgPos, fgNeg := make([]float32, n), make([]float32, n)
	for i := 0; i < n; i++ {
		m := mask[i%len(mask)]
		cw := cfg.classWeight(i % c)
		bgPos[i] = m * y[i]
		bgNeg[i] = m * (1 - y[i])
		fgPos[i] = (1 - m) * cw * cfg.ClsWeight * y[i]
		fgNeg[i] = (1 - m) * cw * (1 - y[i])
	}

	constant := func(name string, data []float32) *gorgonia.Node {
		return gorgonia.NewTensor(g, tensor.Float32, 4,
			gorgonia.WithShape(shape...),
			gorgonia.WithName(fmt.Sprintf("%s_%s", logits.Name(), name)),
			gorgonia.WithValue(tensor.New(tensor.WithShape(shape.Clone()...), tensor.WithBacking(data))),
		)
	}

	negLogits, err := gorgonia.Neg(logits)
	if err != nil {
		return nil, errors.Wrap(err, "negating logits")
	}
	spPos, err := softplusNode(negLogits)
	if err != nil {
		return nil, err
	}
	spNeg, err := softplusNode(logits)
	if err != nil {
		return nil, err
	}

	bg, err := weightedPair(constant("bg_pos", bgPos), spPos, constant("bg_neg", bgNeg), spNeg)
	if err != nil {
		return nil, errors.Wrap(err, "background term")
	}
	fg, err := weightedPair(constant("fg_pos", fgPos), spPos, constant("fg_neg", fgNeg), spNeg)
	if err != nil {
		return nil, errors.Wrap(err, "foreground term")
	}

	sum, err := gorgonia.Add(fg, bg)
	if err != nil {
		return nil, errors.Wrap(err, "summing terms")
	}
	total, err := gorgonia.Mean(sum)
	if err != nil {
		return nil, errors.Wrap(err, "mean loss")
	}

	return &LossNodes{Total: total, Foreground: fg, Background: bg}, nil
}

func softplusNode(x *gorgonia.Node) (*gorgonia.Node, error) {
	e, err := gorgonia.Exp(x)
	if err != nil {
		return nil, errors.Wrap(err, "softplus exp")
	}
	sp, err := gorgonia.Log1p(e)
	if err != nil {
		return nil, errors.Wrap(err, "softplus log1p")
	}
	return sp, nil
}

// weightedPair returns a⊙x + b⊙y.
func weightedPair(a, x, b, y *gorgonia.Node) (*gorgonia.Node, error) {
	ax, err := gorgonia.HadamardProd(a, x)
	if err != nil {
		return nil, err
	}
	by, err := gorgonia.HadamardProd(b, y)
	if err != nil {
		return nil, err
	}
	return gorgonia.Add(ax, by)
}
