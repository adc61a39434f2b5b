// Package pixel provides the fixed-size RGBA pixel buffer the edit pipeline renders into.
package pixel

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/gift"

	"github.com/MeKo-Tech/imagex/internal/types"
)

// Channel offsets inside one interleaved pixel.
const (
	R = 0
	G = 1
	B = 2
	A = 3

	// Channels is the number of bytes per pixel.
	Channels = 4
)

// RGBA holds the four channel values of a single pixel.
type RGBA struct {
	R, G, B, A uint8
}

// Buffer is a width x height image stored as non-premultiplied RGBA bytes.
// len(Pix) is always Width*Height*4 and the buffer never changes size.
type Buffer struct {
	pix    []uint8
	width  int
	height int
}

// New allocates a zeroed buffer of the given size.
func New(width, height int) (*Buffer, error) {
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("invalid buffer size %dx%d", width, height)
	}
	return &Buffer{
		pix:    make([]uint8, width*height*Channels),
		width:  width,
		height: height,
	}, nil
}

// FromImage draws img at its native resolution into a fresh buffer.
// The source bounds origin is mapped to (0,0); no scaling takes place.
func FromImage(img image.Image) *Buffer {
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	// With no filters gift copies src into dst, converting to non-premultiplied RGBA.
	gift.New().Draw(dst, img)

	return &Buffer{pix: dst.Pix, width: bounds.Dx(), height: bounds.Dy()}
}

// Width returns the buffer width in pixels.
func (b *Buffer) Width() int { return b.width }

// Height returns the buffer height in pixels.
func (b *Buffer) Height() int { return b.height }

// Size returns the buffer dimensions.
func (b *Buffer) Size() types.Size {
	return types.Size{Width: b.width, Height: b.height}
}

// Pix exposes the whole channel sequence for bulk operations.
func (b *Buffer) Pix() []uint8 { return b.pix }

// Offset returns the index of the R channel of pixel (x, y).
func (b *Buffer) Offset(x, y int) int {
	return (y*b.width + x) * Channels
}

// In reports whether (x, y) lies inside the buffer.
func (b *Buffer) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < b.width && y < b.height
}

// At returns the channel values of pixel (x, y). Out-of-range coordinates yield the zero value.
func (b *Buffer) At(x, y int) RGBA {
	if !b.In(x, y) {
		return RGBA{}
	}
	i := b.Offset(x, y)
	p := b.pix[i : i+Channels : i+Channels]
	return RGBA{R: p[R], G: p[G], B: p[B], A: p[A]}
}

// Set writes the channel values of pixel (x, y). Out-of-range coordinates are ignored.
func (b *Buffer) Set(x, y int, c RGBA) {
	if !b.In(x, y) {
		return
	}
	i := b.Offset(x, y)
	p := b.pix[i : i+Channels : i+Channels]
	p[R], p[G], p[B], p[A] = c.R, c.G, c.B, c.A
}

// Clone returns a deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	pix := make([]uint8, len(b.pix))
	copy(pix, b.pix)
	return &Buffer{pix: pix, width: b.width, height: b.height}
}

// Equal reports whether both buffers have the same size and identical bytes.
func (b *Buffer) Equal(o *Buffer) bool {
	if b == nil || o == nil {
		return b == o
	}
	return b.width == o.width && b.height == o.height && bytes.Equal(b.pix, o.pix)
}

// NRGBA returns an image view sharing the buffer's bytes, for encoders and resamplers.
func (b *Buffer) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    b.pix,
		Stride: b.width * Channels,
		Rect:   image.Rect(0, 0, b.width, b.height),
	}
}
