package fomo

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Annotation is one labelled object: the image it belongs to, its class and
// the fractional position of its centre.
type Annotation struct {
	// Image is the index of the image inside the batch.
	Image int `json:"image" yaml:"image"`
	// Class is the object class in [1, NumClasses]; 0 is background and never annotated.
	Class int `json:"class" yaml:"class"`
	// X is the horizontal centre as a fraction of the image width.
	X float32 `json:"x" yaml:"x"`
	// Y is the vertical centre as a fraction of the image height.
	Y float32 `json:"y" yaml:"y"`
}

// AnnotationsFromRows converts rows of the form [image, class, x, y, ...] into annotations.
// Trailing columns such as box width and height are ignored.
//
// Arguments:
//   - rows: Annotation rows, at least four columns each.
//
// Returns:
//   - []Annotation: One annotation per row, in row order.
//   - error: ErrInvalidAnnotation if a row is too short.
func AnnotationsFromRows(rows [][]float32) ([]Annotation, error) {
	out := make([]Annotation, 0, len(rows))
	for i, row := range rows {
		if len(row) < 4 {
			return nil, errors.Wrapf(ErrInvalidAnnotation, "row %d has %d columns, want at least 4", i, len(row))
		}
		out = append(out, Annotation{
			Image: int(row[0]),
			Class: int(row[1]),
			X:     row[2],
			Y:     row[3],
		})
	}
	return out, nil
}

// cell maps the annotation centre onto a (row, col) of an h x w grid.
func (a Annotation) cell(h, w int, policy CoordinatePolicy) (int, int, error) {
	if math32.IsNaN(a.X) || math32.IsNaN(a.Y) || math32.IsInf(a.X, 0) || math32.IsInf(a.Y, 0) {
		return 0, 0, errors.Errorf("centre (%v, %v) is not finite", a.X, a.Y)
	}
	if policy == CoordinateReject && (a.X < 0 || a.X >= 1 || a.Y < 0 || a.Y >= 1) {
		return 0, 0, errors.Errorf("centre (%v, %v) is outside [0, 1)", a.X, a.Y)
	}

	return cellIndex(a.Y, h), cellIndex(a.X, w), nil
}

// cellIndex maps a fraction onto [0, n-1]. Clamping happens before the int
// conversion so huge fractions cannot overflow.
func cellIndex(frac float32, n int) int {
	v := math32.Floor(frac * float32(n))
	if v < 0 {
		return 0
	}
	if v >= float32(n) {
		return n - 1
	}
	return int(v)
}
