// Package images - Image loading, preprocessing and grid overlays for FOMO models.
package images

import (
	"bytes"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Image represents an encoded image with a format, data, width, and height.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
	// The width of the image, known after Decode.
	Width int `json:"width" yaml:"width"`
	// The height of the image, known after Decode.
	Height int `json:"height" yaml:"height"`
}

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
)

// FormatFromPath returns the format implied by a file extension, or "" if unsupported.
func FormatFromPath(path string) ImageFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".png":
		return FormatPNG
	}
	return ""
}

// Decode decodes the image data and records its size.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: An error if the data is not a supported image.
func (i *Image) Decode() (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(i.Data))
	if err != nil {
		return nil, errors.Wrap(err, "decoding image")
	}
	b := img.Bounds()
	i.Width, i.Height = b.Dx(), b.Dy()
	if i.Format == "" {
		i.Format = ImageFormat(format)
	}
	return img, nil
}
