package images

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/nfnt/resize"
)

// Palette colours grid classes; index 0 (background) is transparent.
var Palette = []color.RGBA{
	{0, 0, 0, 0},
	{230, 25, 75, 255},
	{60, 180, 75, 255},
	{255, 225, 25, 255},
	{0, 130, 200, 255},
	{245, 130, 48, 255},
	{145, 30, 180, 255},
	{70, 240, 240, 255},
	{240, 50, 230, 255},
}

// ClassColor returns the palette colour of a class, cycling past the end of the palette.
func ClassColor(class int) color.RGBA {
	if class <= 0 {
		return Palette[0]
	}
	return Palette[1+(class-1)%(len(Palette)-1)]
}

// RenderClassGrid paints a row-major h x w grid of class indices and scales it
// to outW x outH with nearest-neighbour sampling so cells stay sharp.
func RenderClassGrid(grid []int, h, w, outW, outH int) image.Image {
	cells := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, class := range grid[:h*w] {
		cells.SetRGBA(i%w, i/w, ClassColor(class))
	}
	if outW == w && outH == h {
		return cells
	}
	return resize.Resize(uint(outW), uint(outH), cells, resize.NearestNeighbor)
}

// Overlay draws layer over base with the given opacity in [0, 1].
func Overlay(base, layer image.Image, opacity float64) *image.RGBA {
	b := base.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), base, b.Min, draw.Src)

	alpha := uint8(max(0, min(1, opacity)) * 255)
	mask := image.NewUniform(color.Alpha{A: alpha})
	draw.DrawMask(out, out.Bounds(), layer, layer.Bounds().Min, mask, image.Point{}, draw.Over)
	return out
}
