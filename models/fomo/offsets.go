package fomo

// Offset is a (batch, row, col) displacement on the grid.
type Offset [3]int

// neighborOffsets is the radius-1 neighbourhood, centre last. The order is
// significant for MatchReference and MatchSnap.
var neighborOffsets = [9]Offset{
	{0, -1, 0},
	{0, -1, -1},
	{0, 0, -1},
	{0, 1, 0},
	{0, 1, 1},
	{0, 0, 1},
	{0, 1, -1},
	{0, -1, 1},
	{0, 0, 0},
}

// NeighborOffsets returns a copy of the nine matching offsets in matching order.
func NeighborOffsets() []Offset {
	out := make([]Offset, len(neighborOffsets))
	copy(out, neighborOffsets[:])
	return out
}
