package fomo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-fomo/images"
	"github.com/nvr-ai/go-fomo/models/postprocess"
)

// imageLogits drops the batch dimension of logitsFor.
func imageLogits(h, w, c int, margin float32, cells ...cellClass) *tensor.Dense {
	data := logitsFor(1, h, w, c, margin, cells...).Data().([]float32)
	return tensor.New(tensor.WithShape(h, w, c), tensor.WithBacking(data))
}

func TestDecode_GroupsConnectedCells(t *testing.T) {
	pred := imageLogits(6, 6, 3, 4,
		cellClass{0, 1, 1, 1}, cellClass{0, 1, 2, 1}, cellClass{0, 2, 3, 1},
		cellClass{0, 4, 4, 2},
		cellClass{0, 5, 0, 1},
	)

	results, err := Decode(pred, DecodeOptions{ScoreThreshold: 0.5, CellWidth: 8, CellHeight: 8})
	require.NoError(t, err)
	require.Len(t, results, 3)

	byCells := map[int]postprocess.Result{}
	for _, r := range results {
		byCells[r.Cells*10+r.Class] = r
	}

	group, ok := byCells[31]
	require.True(t, ok, "three diagonal-connected class 1 cells form one detection")
	assert.Equal(t, images.Rect{X1: 8, Y1: 8, X2: 32, Y2: 24}, group.Box)

	single, ok := byCells[12]
	require.True(t, ok)
	assert.Equal(t, images.CellRect(4, 4, 8, 8), single.Box)

	corner, ok := byCells[11]
	require.True(t, ok)
	assert.Equal(t, images.Rect{X1: 0, Y1: 40, X2: 8, Y2: 48}, corner.Box)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score, "results must be sorted by score")
	}
}

func TestDecode_ClassesDoNotMerge(t *testing.T) {
	pred := imageLogits(4, 4, 3, 4, cellClass{0, 1, 1, 1}, cellClass{0, 1, 2, 2})

	results, err := Decode(pred, DecodeOptions{ScoreThreshold: 0.5, CellWidth: 1, CellHeight: 1})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestDecode_Threshold(t *testing.T) {
	data := make([]float32, 2*2*2)
	for i := 0; i < len(data); i += 2 {
		data[i] = 3
	}
	// Cell (0, 1) is an object with probability sigmoid(0.4) ~ 0.6.
	data[2], data[3] = 0, 0.4
	pred := tensor.New(tensor.WithShape(2, 2, 2), tensor.WithBacking(data))

	results, err := Decode(pred, DecodeOptions{ScoreThreshold: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.598688, results[0].Score, 1e-5)
	assert.Equal(t, images.CellRect(0, 1, 1, 1), results[0].Box, "zero cell size falls back to one pixel")

	results, err = Decode(pred, DecodeOptions{ScoreThreshold: 0.7})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDecode_NMS(t *testing.T) {
	pred := imageLogits(4, 4, 2, 4, cellClass{0, 0, 0, 1}, cellClass{0, 3, 3, 1})
	opts := DecodeOptions{
		ScoreThreshold: 0.5,
		CellWidth:      4,
		CellHeight:     4,
		NMS:            &postprocess.NMSConfig{IoUThreshold: 0.5, ClassAware: true},
	}

	results, err := Decode(pred, opts)
	require.NoError(t, err)
	assert.Len(t, results, 2, "disjoint detections survive suppression")
}

func TestDecode_ShapeMismatch(t *testing.T) {
	_, err := Decode(logitsFor(1, 2, 2, 3, 1), DecodeOptions{})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = Decode(nil, DecodeOptions{})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
