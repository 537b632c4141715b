package fomo

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// cellClass is the class predicted at one (image, row, col) cell.
type cellClass struct {
	b, r, c, class int
}

// logitsFor builds a (B, H, W, C) logit map predicting background everywhere
// except the listed cells, with margin separating the winning channel.
func logitsFor(b, h, w, c int, margin float32, cells ...cellClass) *tensor.Dense {
	data := make([]float32, b*h*w*c)
	set := func(off, class int) {
		for k := 0; k < c; k++ {
			data[off+k] = -margin
		}
		data[off+class] = margin
	}
	for i := 0; i < len(data); i += c {
		set(i, 0)
	}
	for _, cell := range cells {
		set(((cell.b*h+cell.r)*w+cell.c)*c, cell.class)
	}
	return tensor.New(tensor.WithShape(b, h, w, c), tensor.WithBacking(data))
}

// targetFor builds a one-hot target with the listed cells labelled.
func targetFor(t *testing.T, b, h, w, c int, cells ...cellClass) *tensor.Dense {
	t.Helper()
	annotations := make([]Annotation, 0, len(cells))
	for _, cell := range cells {
		annotations = append(annotations, Annotation{
			Image: cell.b,
			Class: cell.class,
			X:     (float32(cell.c) + 0.5) / float32(w),
			Y:     (float32(cell.r) + 0.5) / float32(h),
		})
	}
	target, err := BuildTarget(tensor.Shape{b, h, w, c}, annotations, CoordinateReject)
	require.NoError(t, err)
	return target
}

// at returns the value of a (B, H, W, C) float32 tensor.
func at(t *testing.T, d *tensor.Dense, coords ...int) float32 {
	t.Helper()
	v, err := d.At(coords...)
	require.NoError(t, err)
	return v.(float32)
}
