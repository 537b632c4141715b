package images

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestIoU_Correctness validates the IoU implementation against known cases and image.Rectangle.
func TestIoU_Correctness(t *testing.T) {
	tests := []struct {
		name     string
		r1       Rect
		r2       Rect
		expected float32
	}{
		{"Identical cells", CellRect(2, 3, 8, 8), CellRect(2, 3, 8, 8), 1.0},
		{"Neighbouring cells", CellRect(2, 3, 8, 8), CellRect(2, 4, 8, 8), 0.0},
		{"Disjoint", Rect{0, 0, 100, 100}, Rect{200, 200, 300, 300}, 0.0},
		{"Half overlap", Rect{0, 0, 100, 100}, Rect{50, 50, 150, 150}, 1.0 / 7.0},
		{"One inside other", Rect{0, 0, 100, 100}, Rect{25, 25, 75, 75}, 0.25},
		{"Group and member", CellRect(0, 0, 8, 8).Union(CellRect(1, 1, 8, 8)), CellRect(1, 1, 8, 8), 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateIoU(tt.r1, tt.r2)
			assert.InDelta(t, tt.expected, result, 0.001)
			assert.InDelta(t, result, CalculateIoU(tt.r2, tt.r1), 1e-6, "IoU must be symmetric")
			assert.InDelta(t, imageRectangleIoU(tt.r1, tt.r2), result, 1e-4, "must agree with image.Rectangle")
		})
	}
}

// imageRectangleIoU implements IoU using Go's standard library image.Rectangle
func imageRectangleIoU(a, b Rect) float32 {
	r1 := image.Rect(a.X1, a.Y1, a.X2, a.Y2)
	r2 := image.Rect(b.X1, b.Y1, b.X2, b.Y2)
	intersect := r1.Intersect(r2)
	if intersect.Empty() {
		return 0
	}
	area := intersect.Dx() * intersect.Dy()
	return float32(area) / float32(r1.Dx()*r1.Dy()+r2.Dx()*r2.Dy()-area)
}

func TestIoU_EdgeCases(t *testing.T) {
	tests := []struct {
		name string
		r1   Rect
		r2   Rect
	}{
		{"Zero area rectangle", Rect{0, 0, 0, 0}, Rect{0, 0, 100, 100}},
		{"Both zero area", Rect{0, 0, 0, 0}, Rect{10, 10, 10, 10}},
		{"Negative coordinates", Rect{-100, -100, 0, 0}, Rect{-50, -50, 50, 50}},
		{"Inverted rectangle", Rect{10, 10, 0, 0}, Rect{0, 0, 10, 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, result := range []float32{CalculateIoU(tt.r1, tt.r2), CalculateIoU(tt.r2, tt.r1)} {
				assert.GreaterOrEqual(t, result, float32(0))
				assert.LessOrEqual(t, result, float32(1))
			}
		})
	}
}

func TestRect_Geometry(t *testing.T) {
	cell := CellRect(1, 2, 8, 6)
	assert.Equal(t, Rect{X1: 16, Y1: 6, X2: 24, Y2: 12}, cell)
	assert.Equal(t, 48, cell.Area())

	x, y := cell.Center()
	assert.Equal(t, float32(20), x)
	assert.Equal(t, float32(9), y)

	group := cell.Union(CellRect(3, 0, 8, 6))
	assert.Equal(t, Rect{X1: 0, Y1: 6, X2: 24, Y2: 24}, group)
	assert.Equal(t, 0, Rect{5, 5, 5, 10}.Area())
}
