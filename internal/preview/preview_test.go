package preview

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/imagex/internal/pixel"
)

func solid(t *testing.T, w, h int, c pixel.RGBA) *pixel.Buffer {
	t.Helper()
	b, err := pixel.New(w, h)
	require.NoError(t, err)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			b.Set(x, y, c)
		}
	}
	return b
}

func TestRenderSmallBufferIsUnscaled(t *testing.T) {
	buf := solid(t, 10, 6, pixel.RGBA{R: 1, G: 2, B: 3, A: 255})
	img := Render(buf, 64)

	assert.Equal(t, image.Rect(0, 0, 10, 6), img.Bounds())
	nrgba, ok := img.(*image.NRGBA)
	require.True(t, ok)
	assert.Equal(t, buf.Pix(), nrgba.Pix)
}

func TestRenderDownscalesToFit(t *testing.T) {
	buf := solid(t, 200, 100, pixel.RGBA{R: 90, G: 120, B: 30, A: 255})
	before := buf.Clone()

	img := Render(buf, 50)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 25, img.Bounds().Dy())

	// A solid image stays solid after resampling.
	r, g, b, a := img.At(10, 10).RGBA()
	assert.InDelta(t, 90, r>>8, 1)
	assert.InDelta(t, 120, g>>8, 1)
	assert.InDelta(t, 30, b>>8, 1)
	assert.Equal(t, uint32(255), a>>8)

	assert.True(t, before.Equal(buf), "preview must not touch the export buffer")
}

func TestRenderZeroMaxDisablesScaling(t *testing.T) {
	buf := solid(t, 30, 20, pixel.RGBA{A: 255})
	assert.Equal(t, image.Rect(0, 0, 30, 20), Render(buf, 0).Bounds())
}

func TestFit(t *testing.T) {
	tests := []struct {
		w, h, maxSize int
		wantW, wantH  int
	}{
		{100, 50, 200, 100, 50},
		{200, 100, 50, 50, 25},
		{100, 200, 50, 25, 50},
		{1000, 1, 10, 10, 1},
		{30, 20, 0, 30, 20},
	}
	for _, tt := range tests {
		w, h := Fit(tt.w, tt.h, tt.maxSize)
		assert.Equal(t, tt.wantW, w, "%dx%d max %d", tt.w, tt.h, tt.maxSize)
		assert.Equal(t, tt.wantH, h, "%dx%d max %d", tt.w, tt.h, tt.maxSize)
	}
}
