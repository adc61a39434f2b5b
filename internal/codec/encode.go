package codec

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/MeKo-Tech/imagex/internal/pixel"
	"github.com/MeKo-Tech/imagex/internal/types"
)

// Format is an export file format.
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	BMP  Format = "bmp"
	TIFF Format = "tiff"
)

// DefaultFileBase is the download name stem for exported images.
const DefaultFileBase = "edited-image"

// DefaultJPEGQuality is used when an Encoder leaves JPEGQuality unset.
const DefaultJPEGQuality = 92

// Formats lists the supported export formats.
func Formats() []Format {
	return []Format{PNG, JPEG, BMP, TIFF}
}

// ParseFormat resolves a format name or file extension. The empty string selects PNG.
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".") {
	case "", "png":
		return PNG, nil
	case "jpeg", "jpg":
		return JPEG, nil
	case "bmp":
		return BMP, nil
	case "tiff", "tif":
		return TIFF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q: %w", s, types.ErrInvalidParameter)
	}
}

// Extension returns the file extension without the leading dot.
func (f Format) Extension() string {
	switch f {
	case JPEG:
		return "jpg"
	case "":
		return "png"
	default:
		return string(f)
	}
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case JPEG:
		return "image/jpeg"
	case BMP:
		return "image/bmp"
	case TIFF:
		return "image/tiff"
	default:
		return "image/png"
	}
}

// FileName returns the download file name for f, e.g. "edited-image.png".
func FileName(f Format) string {
	return DefaultFileBase + "." + f.Extension()
}

// ParsePNGCompression maps a compression name to a png.CompressionLevel.
func ParsePNGCompression(s string) (png.CompressionLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return png.DefaultCompression, nil
	case "speed", "fast", "best-speed":
		return png.BestSpeed, nil
	case "best", "best-compression":
		return png.BestCompression, nil
	case "none", "no":
		return png.NoCompression, nil
	default:
		return png.DefaultCompression, fmt.Errorf("unknown png compression %q: %w", s, types.ErrInvalidParameter)
	}
}

// Encoder serializes final pixel buffers. The zero value writes default-compressed PNG.
type Encoder struct {
	Format         Format
	PNGCompression png.CompressionLevel
	JPEGQuality    int
}

// Encode writes buf to w. Failures wrap types.ErrExportFailure.
func (e Encoder) Encode(w io.Writer, buf *pixel.Buffer) error {
	if buf == nil {
		return fmt.Errorf("nothing to encode: %w", types.ErrExportFailure)
	}
	if err := e.encodeImage(w, buf.NRGBA()); err != nil {
		return fmt.Errorf("failed to encode %s: %v: %w", e.format(), err, types.ErrExportFailure)
	}
	return nil
}

// EncodeImage writes an arbitrary image, e.g. a downscaled preview.
func (e Encoder) EncodeImage(w io.Writer, img image.Image) error {
	if err := e.encodeImage(w, img); err != nil {
		return fmt.Errorf("failed to encode %s: %v: %w", e.format(), err, types.ErrExportFailure)
	}
	return nil
}

func (e Encoder) encodeImage(w io.Writer, img image.Image) error {
	switch e.format() {
	case PNG:
		enc := png.Encoder{CompressionLevel: e.PNGCompression}
		return enc.Encode(w, img)
	case JPEG:
		q := e.JPEGQuality
		if q <= 0 || q > 100 {
			q = DefaultJPEGQuality
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: q})
	case BMP:
		return bmp.Encode(w, img)
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	default:
		return fmt.Errorf("unsupported format %q", e.Format)
	}
}

func (e Encoder) format() Format {
	if e.Format == "" {
		return PNG
	}
	return e.Format
}

// OutputFormat returns the format Encode writes, resolving the zero value to PNG.
func (e Encoder) OutputFormat() Format {
	return e.format()
}

// FileName returns the download file name for the encoder's format.
func (e Encoder) FileName() string {
	return FileName(e.format())
}

// ContentType returns the MIME type of the encoder's output.
func (e Encoder) ContentType() string {
	return e.format().ContentType()
}
