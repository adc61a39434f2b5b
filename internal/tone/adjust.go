package tone

import (
	"math"

	"github.com/MeKo-Tech/imagex/internal/pixel"
)

// Luminance weights used by the saturation stage.
const (
	lumaR = 0.3
	lumaG = 0.59
	lumaB = 0.11

	midGray = 128.0
)

// Adjust applies brightness, then contrast, then saturation to every pixel of src
// and returns a fresh buffer. Alpha is copied untouched.
//
// The three stages are composed in float64 and clamped to [0,255] once, right
// before the result is stored. Identity params return an exact copy.
func Adjust(src *pixel.Buffer, p Params) *pixel.Buffer {
	dst := src.Clone()
	if p.IsIdentity() {
		return dst
	}

	bf := float64(p.Brightness) / 100
	cf := float64(p.Contrast) / 100
	sf := float64(p.Saturation) / 100

	pix := dst.Pix()
	for i := 0; i+pixel.Channels <= len(pix); i += pixel.Channels {
		r, g, b := transform(float64(pix[i]), float64(pix[i+1]), float64(pix[i+2]), bf, cf, sf)
		pix[i] = clampU8(r)
		pix[i+1] = clampU8(g)
		pix[i+2] = clampU8(b)
	}

	return dst
}

// transform runs the three stages on one pixel without intermediate clamping.
func transform(r, g, b, bf, cf, sf float64) (float64, float64, float64) {
	r, g, b = r*bf, g*bf, b*bf

	r = (r-midGray)*cf + midGray
	g = (g-midGray)*cf + midGray
	b = (b-midGray)*cf + midGray

	l := lumaR*r + lumaG*g + lumaB*b
	r = l + (r-l)*sf
	g = l + (g-l)*sf
	b = l + (b-l)*sf

	return r, g, b
}

// clampU8 rounds half away from zero and clamps to [0,255].
func clampU8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
