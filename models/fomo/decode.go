package fomo

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-fomo/images"
	"github.com/nvr-ai/go-fomo/models/postprocess"
)

// DecodeOptions controls how one image's prediction map becomes detections.
type DecodeOptions struct {
	// ScoreThreshold is the minimum softmax probability of the winning object class.
	ScoreThreshold float32 `json:"score_threshold" yaml:"score_threshold" koanf:"score_threshold"`
	// CellWidth is the width of one grid cell in input pixels.
	CellWidth int `json:"cell_width" yaml:"cell_width" koanf:"cell_width"`
	// CellHeight is the height of one grid cell in input pixels.
	CellHeight int `json:"cell_height" yaml:"cell_height" koanf:"cell_height"`
	// NMS, when set, is applied to the merged detections.
	NMS *postprocess.NMSConfig `json:"nms" yaml:"nms" koanf:"nms"`
}

// Decode turns an (H, W, C) prediction map into detections. Cells whose
// arg-max class is an object with probability at least ScoreThreshold are
// grouped with their 8-connected neighbours of the same class; each group
// becomes one result whose box covers the group and whose score is the best
// cell probability.
//
// Arguments:
//   - pred: The (H, W, C) logits of one image.
//   - opts: Threshold, cell size and optional NMS.
//
// Returns:
//   - []postprocess.Result: Detections sorted by descending score.
//   - error: ErrShapeMismatch if pred is not 3-D.
func Decode(pred *tensor.Dense, opts DecodeOptions) ([]postprocess.Result, error) {
	if pred == nil {
		return nil, errors.Wrap(ErrShapeMismatch, "nil tensor")
	}
	shape := pred.Shape()
	if len(shape) != 3 {
		return nil, errors.Wrapf(ErrShapeMismatch, "want (H, W, C), got %v", shape)
	}
	h, w, c := shape[0], shape[1], shape[2]
	cellW, cellH := max(opts.CellWidth, 1), max(opts.CellHeight, 1)

	logits, err := float32s(pred)
	if err != nil {
		return nil, err
	}
	probs := softmaxCells(logits, c)
	classes := argmaxCells(probs, c)

	active := make([]bool, h*w)
	for i, cls := range classes {
		active[i] = cls > 0 && probs[i*c+cls] >= opts.ScoreThreshold
	}

	var results []postprocess.Result
	seen := make([]bool, h*w)
	var stack []int
	for start := range classes {
		if !active[start] || seen[start] {
			continue
		}
		cls := classes[start]
		r := postprocess.Result{Class: cls, Score: math32.Inf(-1)}
		first := true

		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			row, col := i/w, i%w

			box := images.CellRect(row, col, cellW, cellH)
			if first {
				r.Box, first = box, false
			} else {
				r.Box = r.Box.Union(box)
			}
			r.Score = math32.Max(r.Score, probs[i*c+cls])
			r.Cells++

			for _, o := range neighborOffsets {
				nr, nc := row+o[1], col+o[2]
				if nr < 0 || nr >= h || nc < 0 || nc >= w {
					continue
				}
				j := nr*w + nc
				if active[j] && !seen[j] && classes[j] == cls {
					seen[j] = true
					stack = append(stack, j)
				}
			}
		}
		results = append(results, r)
	}

	postprocess.SortByScore(results)
	if opts.NMS != nil {
		results = postprocess.ApplyGreedyNMS(results, opts.NMS)
	}
	return results, nil
}
