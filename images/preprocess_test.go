package images

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestToCHW(t *testing.T) {
	img := solidImage(40, 20, color.RGBA{255, 0, 51, 255})

	out := ToCHW(img, 8, 4)
	require.Len(t, out, 3*8*4)

	plane := 8 * 4
	for i := 0; i < plane; i++ {
		assert.InDelta(t, 1.0, out[i], 5e-3, "red plane")
		assert.InDelta(t, 0.0, out[plane+i], 5e-3, "green plane")
		assert.InDelta(t, 0.2, out[2*plane+i], 5e-3, "blue plane")
	}
}

func TestToCHW_Planar(t *testing.T) {
	img := solidImage(2, 1, color.RGBA{0, 0, 0, 255})
	img.SetRGBA(1, 0, color.RGBA{255, 255, 255, 255})

	out := ToCHW(img, 2, 1)
	assert.InDeltaSlice(t, []float32{0, 1, 0, 1, 0, 1}, out, 5e-3, "each plane holds one channel in row-major order")
}

func TestBatchCHW(t *testing.T) {
	imgs := []image.Image{solidImage(10, 10, color.RGBA{255, 255, 255, 255}), solidImage(10, 10, color.RGBA{0, 0, 0, 255})}

	batch := BatchCHW(imgs, 4, 4)
	assert.Equal(t, tensor.Shape{2, 3, 4, 4}, batch.Shape())

	data := batch.Data().([]float32)
	assert.InDelta(t, 1.0, data[0], 5e-3)
	assert.InDelta(t, 0.0, data[3*16], 5e-3)
}

func TestImage_Decode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(7, 5, color.RGBA{1, 2, 3, 255})))

	img := Image{Data: buf.Bytes()}
	decoded, err := img.Decode()
	require.NoError(t, err)
	assert.Equal(t, 7, decoded.Bounds().Dx())
	assert.Equal(t, 7, img.Width)
	assert.Equal(t, 5, img.Height)
	assert.Equal(t, FormatPNG, img.Format)

	_, err = (&Image{Data: []byte("not an image")}).Decode()
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatJPEG, FormatFromPath("frame-1.JPG"))
	assert.Equal(t, FormatJPEG, FormatFromPath("a/b.jpeg"))
	assert.Equal(t, FormatPNG, FormatFromPath("x.png"))
	assert.Equal(t, ImageFormat(""), FormatFromPath("labels.txt"))
}

func TestRenderClassGrid(t *testing.T) {
	grid := []int{0, 1, 2, 0}

	cells := RenderClassGrid(grid, 2, 2, 2, 2)
	assert.Equal(t, uint8(0), color.RGBAModel.Convert(cells.At(0, 0)).(color.RGBA).A, "background is transparent")
	assert.Equal(t, ClassColor(1), color.RGBAModel.Convert(cells.At(1, 0)))

	scaled := RenderClassGrid(grid, 2, 2, 16, 16)
	assert.Equal(t, image.Rect(0, 0, 16, 16), scaled.Bounds())
	r, g, b, _ := scaled.At(3, 12).RGBA()
	wr, wg, wb, _ := ClassColor(2).RGBA()
	assert.Equal(t, []uint32{wr, wg, wb}, []uint32{r, g, b}, "nearest-neighbour keeps cell colours")
}

func TestClassColor_Cycles(t *testing.T) {
	assert.Equal(t, Palette[0], ClassColor(0))
	assert.Equal(t, ClassColor(1), ClassColor(len(Palette)))
}

func TestOverlay(t *testing.T) {
	base := solidImage(4, 4, color.RGBA{0, 0, 0, 255})
	layer := RenderClassGrid([]int{1, 0, 0, 0}, 2, 2, 4, 4)

	out := Overlay(base, layer, 1)
	assert.Equal(t, ClassColor(1), out.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, out.RGBAAt(3, 3), "background cells leave the image untouched")

	half := Overlay(base, layer, 0.5)
	assert.InDelta(t, 115, int(half.RGBAAt(0, 0).R), 2)
}
