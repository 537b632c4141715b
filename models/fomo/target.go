package fomo

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// BuildTarget converts sparse annotations into a dense one-hot grid with the
// same (B, H, W, C) shape as a prediction map.
//
// Every cell starts as background (channel 0). Annotations are applied in
// input order; a later annotation landing on an already labelled cell
// replaces it, so each cell always has exactly one channel set.
//
// Arguments:
//   - shape: The (B, H, W, C) shape of the prediction map.
//   - annotations: Ground truth annotations for the batch.
//   - policy: How centres outside [0, 1) are handled.
//
// Returns:
//   - *tensor.Dense: A float32 target grid.
//   - error: ErrShapeMismatch for a bad shape, ErrInvalidAnnotation for a bad annotation.
func BuildTarget(shape tensor.Shape, annotations []Annotation, policy CoordinatePolicy) (*tensor.Dense, error) {
	b, h, w, c, err := dims4(shape)
	if err != nil {
		return nil, err
	}
	if c < 2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "need at least 2 attributes, got %d", c)
	}

	data := make([]float32, b*h*w*c)
	for i := 0; i < len(data); i += c {
		data[i] = 1
	}

	for i, a := range annotations {
		if a.Image < 0 || a.Image >= b {
			return nil, errors.Wrapf(ErrInvalidAnnotation, "annotation %d: image %d outside batch of %d", i, a.Image, b)
		}
		if a.Class < 1 || a.Class >= c {
			return nil, errors.Wrapf(ErrInvalidAnnotation, "annotation %d: class %d outside [1, %d]", i, a.Class, c-1)
		}
		row, col, err := a.cell(h, w, policy)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidAnnotation, "annotation %d: %v", i, err)
		}

		off := ((a.Image*h+row)*w + col) * c
		cell := data[off : off+c]
		for k := range cell {
			cell[k] = 0
		}
		cell[a.Class] = 1
	}

	return tensor.New(tensor.WithShape(b, h, w, c), tensor.WithBacking(data)), nil
}

// WeightMask returns the (H, W, C) background mask: 1 on channel 0, 0 elsewhere.
// The foreground term uses its complement.
func WeightMask(h, w, c int) *tensor.Dense {
	data := make([]float32, h*w*c)
	for i := 0; i < len(data); i += c {
		data[i] = 1
	}
	return tensor.New(tensor.WithShape(h, w, c), tensor.WithBacking(data))
}

// dims4 unpacks a (B, H, W, C) shape.
func dims4(shape tensor.Shape) (b, h, w, c int, err error) {
	if len(shape) != 4 {
		return 0, 0, 0, 0, errors.Wrapf(ErrShapeMismatch, "want (B, H, W, C), got %v", shape)
	}
	for _, d := range shape {
		if d <= 0 {
			return 0, 0, 0, 0, errors.Wrapf(ErrShapeMismatch, "non-positive dimension in %v", shape)
		}
	}
	return shape[0], shape[1], shape[2], shape[3], nil
}

// float32s returns the row-major backing data of a float32 tensor.
func float32s(t *tensor.Dense) ([]float32, error) {
	if t == nil {
		return nil, errors.Wrap(ErrShapeMismatch, "nil tensor")
	}
	if t.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(ErrShapeMismatch, "want float32 tensor, got %v", t.Dtype())
	}
	if !t.IsMaterializable() {
		data, ok := t.Data().([]float32)
		if !ok {
			return nil, errors.Wrapf(ErrShapeMismatch, "unexpected backing %T", t.Data())
		}
		return data, nil
	}
	m, ok := t.Materialize().(*tensor.Dense)
	if !ok {
		return nil, errors.Wrap(ErrShapeMismatch, "cannot materialize view")
	}
	return m.Data().([]float32), nil
}
