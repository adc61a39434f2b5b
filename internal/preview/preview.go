// Package preview produces bounded display images from rendered buffers.
package preview

import (
	"image"

	"github.com/disintegration/gift"

	"github.com/MeKo-Tech/imagex/internal/pixel"
)

// DefaultMaxSize bounds the longer preview edge when callers do not pick one.
const DefaultMaxSize = 1024

// Render returns buf as an image whose longer edge is at most maxSize pixels.
// Buffers that already fit are returned as a view without copying; larger ones
// are downsampled with Lanczos resampling into a new image. maxSize <= 0 disables scaling.
func Render(buf *pixel.Buffer, maxSize int) image.Image {
	src := buf.NRGBA()
	if maxSize <= 0 || (buf.Width() <= maxSize && buf.Height() <= maxSize) {
		return src
	}

	w, h := Fit(buf.Width(), buf.Height(), maxSize)
	g := gift.New(gift.Resize(w, h, gift.LanczosResampling))
	dst := image.NewNRGBA(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	return dst
}

// Fit returns the dimensions a w x h image takes when scaled to fit maxSize.
func Fit(w, h, maxSize int) (int, int) {
	if maxSize <= 0 || (w <= maxSize && h <= maxSize) {
		return w, h
	}
	if w >= h {
		nh := int(float64(h)*float64(maxSize)/float64(w) + 0.5)
		if nh < 1 {
			nh = 1
		}
		return maxSize, nh
	}
	nw := int(float64(w)*float64(maxSize)/float64(h) + 0.5)
	if nw < 1 {
		nw = 1
	}
	return nw, maxSize
}
