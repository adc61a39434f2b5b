package filter

import (
	"math"

	"github.com/MeKo-Tech/imagex/internal/pixel"
)

// sepiaMatrix maps (R,G,B) to sepia-toned (R',G',B'), row by row.
var sepiaMatrix = [3][3]float64{
	{0.393, 0.769, 0.189},
	{0.349, 0.686, 0.168},
	{0.272, 0.534, 0.131},
}

// Apply returns a fresh buffer with kind applied to every pixel of src.
// Each output channel is computed from the pixel's pre-filter R,G,B values.
// Alpha is copied untouched. An invalid kind behaves like None.
func Apply(src *pixel.Buffer, kind Kind) *pixel.Buffer {
	dst := src.Clone()

	var remap func(r, g, b uint8) (uint8, uint8, uint8)
	switch kind {
	case Grayscale:
		remap = grayscale
	case Sepia:
		remap = sepia
	case Invert:
		remap = invert
	default:
		return dst
	}

	pix := dst.Pix()
	for i := 0; i+pixel.Channels <= len(pix); i += pixel.Channels {
		pix[i], pix[i+1], pix[i+2] = remap(pix[i], pix[i+1], pix[i+2])
	}

	return dst
}

func grayscale(r, g, b uint8) (uint8, uint8, uint8) {
	avg := uint8(math.Round(float64(int(r)+int(g)+int(b)) / 3))
	return avg, avg, avg
}

func sepia(r, g, b uint8) (uint8, uint8, uint8) {
	fr, fg, fb := float64(r), float64(g), float64(b)

	var out [3]uint8
	for i, row := range sepiaMatrix {
		// Coefficients are positive, so only the upper bound needs clamping.
		v := math.Min(255, row[0]*fr+row[1]*fg+row[2]*fb)
		out[i] = uint8(math.Round(v))
	}
	return out[0], out[1], out[2]
}

func invert(r, g, b uint8) (uint8, uint8, uint8) {
	return 255 - r, 255 - g, 255 - b
}
