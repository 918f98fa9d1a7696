// Package imagery resolves coordinates to fixed-size multi-band images and
// prepares them for the classifier.
package imagery

import (
	"fmt"
	"image"
	"slices"

	"github.com/nfnt/resize"
	"gorgonia.org/tensor"
)

// Image geometry expected by the classifier.
const (
	Height   = 64
	Width    = 64
	Channels = 3

	// DefaultBufferSize is the window, in pixels, requested around a coordinate.
	DefaultBufferSize = 256
)

// Coordinate is a geographic point. Ranges are not validated.
type Coordinate struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Image is a dense height x width x channels float32 buffer in row-major HWC order.
type Image struct {
	Height   int
	Width    int
	Channels int
	Pix      []float32
}

// NewImage allocates a zeroed image.
func NewImage(height, width, channels int) *Image {
	return &Image{
		Height:   height,
		Width:    width,
		Channels: channels,
		Pix:      make([]float32, height*width*channels),
	}
}

// Shape returns (H, W, C).
func (img *Image) Shape() []int {
	return []int{img.Height, img.Width, img.Channels}
}

func (img *Image) offset(y, x, c int) int {
	return (y*img.Width+x)*img.Channels + c
}

// At returns the value at row y, column x, channel c.
func (img *Image) At(y, x, c int) float32 {
	return img.Pix[img.offset(y, x, c)]
}

// Set stores v at row y, column x, channel c.
func (img *Image) Set(y, x, c int, v float32) {
	img.Pix[img.offset(y, x, c)] = v
}

// Clone returns a deep copy.
func (img *Image) Clone() *Image {
	out := *img
	out.Pix = slices.Clone(img.Pix)
	return &out
}

// Max returns the largest value, or 0 for an empty image.
func (img *Image) Max() float32 {
	if len(img.Pix) == 0 {
		return 0
	}
	return slices.Max(img.Pix)
}

// Tensor views the image as a 3-dimensional (H, W, C) tensor backed by a copy of Pix.
func (img *Image) Tensor() *tensor.Dense {
	return tensor.New(
		tensor.WithShape(img.Height, img.Width, img.Channels),
		tensor.WithBacking(slices.Clone(img.Pix)),
	)
}

// Batch is an ordered group of images sharing one shape.
type Batch []*Image

// Validate reports a nil image or an image whose shape differs from the
// first one.
func (b Batch) Validate() error {
	if len(b) == 0 {
		return nil
	}
	for i, img := range b {
		if img == nil {
			return fmt.Errorf("batch image %d is nil", i)
		}
		if img.Height != b[0].Height || img.Width != b[0].Width || img.Channels != b[0].Channels ||
			len(img.Pix) != img.Height*img.Width*img.Channels {
			return fmt.Errorf("batch image %d has shape %v, want %v", i, img.Shape(), b[0].Shape())
		}
	}
	return nil
}

// Tensor stacks the batch into a 4-dimensional (N, H, W, C) tensor. It
// returns nil for an empty batch or one that fails Validate.
func (b Batch) Tensor() *tensor.Dense {
	if len(b) == 0 || b.Validate() != nil {
		return nil
	}
	first := b[0]
	size := len(first.Pix)
	backing := make([]float32, 0, size*len(b))
	for _, img := range b {
		backing = append(backing, img.Pix[:size]...)
	}
	return tensor.New(
		tensor.WithShape(len(b), first.Height, first.Width, first.Channels),
		tensor.WithBacking(backing),
	)
}

// FromImage converts a decoded image into a Height x Width RGB Image.
// It resizes with bilinear interpolation and scales 8-bit channel values
// by 1/256, which keeps every value in [0,1).
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	if b.Dx() != Width || b.Dy() != Height {
		src = resize.Resize(Width, Height, src, resize.Bilinear)
		b = src.Bounds()
	}

	out := NewImage(Height, Width, Channels)
	for y := range Height {
		for x := range Width {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out.Set(y, x, 0, float32(r>>8)/256)
			out.Set(y, x, 1, float32(g>>8)/256)
			out.Set(y, x, 2, float32(bl>>8)/256)
		}
	}
	return out
}
