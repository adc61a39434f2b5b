// Package codec turns uploaded bytes into images and final pixel buffers back into files.
package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"

	// Register the host decoders accepted for uploads.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/MeKo-Tech/imagex/internal/types"
)

// Decoded is a source image together with the format name the decoder reported.
type Decoded struct {
	Image  image.Image
	Format string
}

// Decode parses raw image bytes. Failures wrap types.ErrDecodeFailure.
func Decode(ctx context.Context, data []byte) (Decoded, error) {
	if err := ctx.Err(); err != nil {
		return Decoded{}, err
	}
	if len(data) == 0 {
		return Decoded{}, fmt.Errorf("empty input: %w", types.ErrDecodeFailure)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Decoded{}, fmt.Errorf("failed to decode image: %v: %w", err, types.ErrDecodeFailure)
	}

	b := img.Bounds()
	if size := (types.Size{Width: b.Dx(), Height: b.Dy()}); size.Empty() {
		return Decoded{}, fmt.Errorf("image has no pixels (%s): %w", size, types.ErrDecodeFailure)
	}

	// A newer upload may have superseded this one while we were decoding.
	if err := ctx.Err(); err != nil {
		return Decoded{}, err
	}

	return Decoded{Image: img, Format: format}, nil
}

// DecodeConfig reads only the header of data and reports format and size.
func DecodeConfig(data []byte) (string, types.Size, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", types.Size{}, fmt.Errorf("failed to read image header: %v: %w", err, types.ErrDecodeFailure)
	}
	size := types.Size{Width: cfg.Width, Height: cfg.Height}
	if size.Empty() {
		return "", size, fmt.Errorf("image has no pixels (%s): %w", size, types.ErrDecodeFailure)
	}
	return format, size, nil
}
