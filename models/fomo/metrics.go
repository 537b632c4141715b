package fomo

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Metrics holds cell-level detection quality of one prediction map or, after
// Add, of a whole dataset.
type Metrics struct {
	Precision float32 `json:"precision"`
	Recall    float32 `json:"recall"`
	F1        float32 `json:"f1"`
	TP        int     `json:"tp"`
	FP        int     `json:"fp"`
	FN        int     `json:"fn"`
	TN        int     `json:"tn"`
}

// Add accumulates the counts of other and recomputes the ratios.
func (m *Metrics) Add(other Metrics) {
	m.TP += other.TP
	m.FP += other.FP
	m.FN += other.FN
	m.TN += other.TN
	m.Finalize()
}

// Finalize recomputes precision, recall and F1 from the counts. Zero
// denominators give zero scores.
func (m *Metrics) Finalize() {
	m.Precision, m.Recall, m.F1 = 0, 0, 0
	if m.TP+m.FP == 0 || m.TP+m.FN == 0 {
		return
	}
	p := float32(m.TP) / float32(m.TP+m.FP)
	r := float32(m.TP) / float32(m.TP+m.FN)
	m.Precision, m.Recall = p, r
	if p+r != 0 {
		m.F1 = 2 * p * r / (p + r)
	}
}

// PrecisionRecallF1 scores a prediction map against a target grid, counting a
// prediction in the 8-neighbourhood of a true cell of the same class as a hit.
//
// The matching pass mutates the class grids while it walks the true cells in
// row-major (batch, row, col) order, so earlier true cells can relabel cells
// that later ones look at. It must run sequentially.
//
// Arguments:
//   - pred: The (B, H, W, C) prediction map in logit space.
//   - target: The (B, H, W, C) one-hot target grid.
//   - mode: The matching pass to apply.
//
// Returns:
//   - Metrics: Precision, recall, F1 in [0, 1] plus the confusion counts.
//   - error: ErrShapeMismatch if the tensors disagree.
func PrecisionRecallF1(pred, target *tensor.Dense, mode MatchMode) (Metrics, error) {
	predData, err := float32s(pred)
	if err != nil {
		return Metrics{}, err
	}
	targetData, err := float32s(target)
	if err != nil {
		return Metrics{}, err
	}
	b, h, w, c, err := dims4(pred.Shape())
	if err != nil {
		return Metrics{}, err
	}
	if !pred.Shape().Eq(target.Shape()) {
		return Metrics{}, errors.Wrapf(ErrShapeMismatch, "prediction %v vs target %v", pred.Shape(), target.Shape())
	}

	predGrid := argmaxCells(softmaxCells(predData, c), c)
	targetGrid := argmaxCells(targetData, c)

	switch mode {
	case MatchSnap:
		matchSnap(predGrid, targetGrid, b, h, w)
	default:
		matchReference(predGrid, targetGrid, b, h, w)
	}

	confusion := ConfusionMatrix(targetGrid, predGrid, c)
	return metricsFromConfusion(confusion), nil
}

// ConfusionMatrix counts (target, predicted) class pairs; rows are target classes.
func ConfusionMatrix(target, pred []int, classes int) *mat.Dense {
	m := mat.NewDense(classes, classes, nil)
	for i := range target {
		m.Set(target[i], pred[i], m.At(target[i], pred[i])+1)
	}
	return m
}

func metricsFromConfusion(m *mat.Dense) Metrics {
	r, _ := m.Dims()
	var lower, upper float64
	for i := 0; i < r; i++ {
		for j := 0; j < r; j++ {
			switch {
			case i > j:
				lower += m.At(i, j)
			case i < j:
				upper += m.At(i, j)
			}
		}
	}
	tn := m.At(0, 0)
	out := Metrics{
		TN: int(tn),
		TP: int(mat.Trace(m) - tn),
		FN: int(lower),
		FP: int(upper),
	}
	out.Finalize()
	return out
}

// matchReference relabels near hits in place: for every true cell T and
// offset O, when T+O is in bounds, was predicted as an object, and its current
// predicted class equals T's current target class, both grids take T's class
// at T+O.
func matchReference(pred, target []int, b, h, w int) {
	predicted := make([]bool, len(pred))
	var truth []int
	for i := range pred {
		predicted[i] = pred[i] > 0
		if target[i] > 0 {
			truth = append(truth, i)
		}
	}

	for _, ti := range truth {
		tb, tr, tc := unflatten(ti, h, w)
		for _, o := range neighborOffsets {
			sb, sr, sc := tb+o[0], tr+o[1], tc+o[2]
			if sb < 0 || sb >= b || sr < 0 || sr >= h || sc < 0 || sc >= w {
				continue
			}
			site := (sb*h+sr)*w + sc
			if predicted[site] && pred[site] == target[ti] {
				cls := target[ti]
				pred[site] = cls
				target[site] = cls
			}
		}
	}
}

// matchSnap moves one near-hit prediction onto each missed true cell. The
// first offset in matching order whose site predicts the true class, and is
// not itself a true cell of that class, is consumed and cleared.
func matchSnap(pred, target []int, b, h, w int) {
	var truth []int
	for i := range target {
		if target[i] > 0 {
			truth = append(truth, i)
		}
	}

	for _, ti := range truth {
		cls := target[ti]
		if pred[ti] == cls {
			continue
		}
		tb, tr, tc := unflatten(ti, h, w)
		for _, o := range neighborOffsets {
			sb, sr, sc := tb+o[0], tr+o[1], tc+o[2]
			if sb < 0 || sb >= b || sr < 0 || sr >= h || sc < 0 || sc >= w {
				continue
			}
			site := (sb*h+sr)*w + sc
			if site == ti || pred[site] != cls || target[site] == cls {
				continue
			}
			pred[ti] = cls
			pred[site] = 0
			break
		}
	}
}

func unflatten(i, h, w int) (int, int, int) {
	return i / (h * w), (i / w) % h, i % w
}

// ClassGrid returns the per-cell arg-max class of a (B, H, W, C) map as a (B, H, W) int tensor.
func ClassGrid(t *tensor.Dense) (*tensor.Dense, error) {
	data, err := float32s(t)
	if err != nil {
		return nil, err
	}
	b, h, w, c, err := dims4(t.Shape())
	if err != nil {
		return nil, err
	}
	return tensor.New(tensor.WithShape(b, h, w), tensor.WithBacking(argmaxCells(data, c))), nil
}

// softmaxCells normalises every run of c logits into probabilities.
func softmaxCells(data []float32, c int) []float32 {
	out := make([]float32, len(data))
	for off := 0; off < len(data); off += c {
		cell := data[off : off+c]
		maxv := cell[0]
		for _, v := range cell[1:] {
			if v > maxv {
				maxv = v
			}
		}
		var sum float32
		for k, v := range cell {
			e := math32.Exp(v - maxv)
			out[off+k] = e
			sum += e
		}
		for k := range cell {
			out[off+k] /= sum
		}
	}
	return out
}

// argmaxCells returns the index of the first maximum of every run of c values.
func argmaxCells(data []float32, c int) []int {
	out := make([]int, len(data)/c)
	for i := range out {
		cell := data[i*c : (i+1)*c]
		best := 0
		for k := 1; k < c; k++ {
			if cell[k] > cell[best] {
				best = k
			}
		}
		out[i] = best
	}
	return out
}
