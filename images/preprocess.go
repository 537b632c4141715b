package images

import (
	"image"

	"github.com/nfnt/resize"
	"gorgonia.org/tensor"
)

// ToCHW resizes img to width x height and returns its RGB pixels as
// planar float32 values in [0, 1], in (3, height, width) order.
func ToCHW(img image.Image, width, height int) []float32 {
	resized := resize.Resize(uint(width), uint(height), img, resize.Bilinear)
	b := resized.Bounds()

	plane := width * height
	out := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*width + x
			out[i] = float32(r) / 0xffff
			out[plane+i] = float32(g) / 0xffff
			out[2*plane+i] = float32(bl) / 0xffff
		}
	}
	return out
}

// BatchCHW stacks images into one (B, 3, height, width) tensor. imgs must not be empty.
func BatchCHW(imgs []image.Image, width, height int) *tensor.Dense {
	size := 3 * width * height
	data := make([]float32, 0, len(imgs)*size)
	for _, img := range imgs {
		data = append(data, ToCHW(img, width, height)...)
	}
	return tensor.New(tensor.WithShape(len(imgs), 3, height, width), tensor.WithBacking(data))
}
