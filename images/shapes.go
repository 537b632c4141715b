// Package images - Image processing utilities
package images

// Rect is a lightweight bounding box in pixels.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 int
}

// CellRect returns the pixel rectangle of grid cell (row, col) for cells of
// cellW x cellH pixels.
func CellRect(row, col, cellW, cellH int) Rect {
	return Rect{
		X1: col * cellW,
		Y1: row * cellH,
		X2: (col + 1) * cellW,
		Y2: (row + 1) * cellH,
	}
}

// Union returns the smallest rectangle containing both r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		X1: min(r.X1, o.X1),
		Y1: min(r.Y1, o.Y1),
		X2: max(r.X2, o.X2),
		Y2: max(r.Y2, o.Y2),
	}
}

// Area returns the area of r, or 0 for an empty rectangle.
func (r Rect) Area() int {
	w, h := r.X2-r.X1, r.Y2-r.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Center returns the centre of r.
func (r Rect) Center() (float32, float32) {
	return float32(r.X1+r.X2) / 2, float32(r.Y1+r.Y2) / 2
}

// CalculateIoU returns the intersection over union of two rectangles, in [0, 1].
//
// Non-overlapping rectangles (including ones that only share an edge) give 0.
//
// Arguments:
//   - r: The first rectangle.
//   - o: The second rectangle.
//
// Returns:
//   - float32: Area(r ∩ o) / Area(r ∪ o).
func CalculateIoU(r, o Rect) float32 {
	inter := Rect{
		X1: max(r.X1, o.X1),
		Y1: max(r.Y1, o.Y1),
		X2: min(r.X2, o.X2),
		Y2: min(r.Y2, o.Y2),
	}.Area()
	if inter == 0 {
		return 0
	}
	return float32(inter) / float32(r.Area()+o.Area()-inter)
}
