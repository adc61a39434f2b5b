package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/imagex/internal/archive"
	"github.com/MeKo-Tech/imagex/internal/codec"
	"github.com/MeKo-Tech/imagex/internal/filter"
	"github.com/MeKo-Tech/imagex/internal/tone"
	"github.com/MeKo-Tech/imagex/internal/types"
)

// editOptions are the adjustment and export settings shared by edit and batch.
type editOptions struct {
	Filter  filter.Kind
	Encoder codec.Encoder
	Params  tone.Params
}

func addEditFlags(c *cobra.Command, section string) {
	f := c.Flags()
	f.Int("brightness", tone.Neutral, "Brightness in percent (0-200, 100 = unchanged)")
	f.Int("contrast", tone.Neutral, "Contrast in percent (0-200, 100 = unchanged)")
	f.Int("saturation", tone.Neutral, "Saturation in percent (0-200, 0 = gray, 100 = unchanged)")
	f.String("filter", string(filter.None), "Color filter (none, grayscale, sepia, invert)")
	f.String("format", string(codec.PNG), "Export format (png, jpeg, bmp, tiff)")
	f.String("png-compression", "default", "PNG compression (default, speed, best, none)")
	f.Int("jpeg-quality", codec.DefaultJPEGQuality, "JPEG quality (1-100)")
	f.String("archive", "", "SQLite file that keeps a copy of every export (optional)")

	bindFlags(c, section, []flagKey{
		{"brightness", "brightness"},
		{"contrast", "contrast"},
		{"saturation", "saturation"},
		{"filter", "filter"},
		{"format", "format"},
		{"png_compression", "png-compression"},
		{"jpeg_quality", "jpeg-quality"},
		{"archive", "archive"},
	})
}

type flagKey struct {
	key  string
	flag string
}

// bindFlags binds each flag of c to the viper key "<section>.<key>".
func bindFlags(c *cobra.Command, section string, keys []flagKey) {
	for _, bf := range keys {
		if err := viper.BindPFlag(section+"."+bf.key, c.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func readEditOptions(section string) (editOptions, error) {
	params := tone.Params{
		Brightness: viper.GetInt(section + ".brightness"),
		Contrast:   viper.GetInt(section + ".contrast"),
		Saturation: viper.GetInt(section + ".saturation"),
	}
	if err := params.Validate(); err != nil {
		return editOptions{}, err
	}

	kind, err := filter.ParseKind(viper.GetString(section + ".filter"))
	if err != nil {
		return editOptions{}, err
	}

	enc, err := readEncoder(section)
	if err != nil {
		return editOptions{}, err
	}

	return editOptions{Params: params, Filter: kind, Encoder: enc}, nil
}

func readEncoder(section string) (codec.Encoder, error) {
	format, err := codec.ParseFormat(viper.GetString(section + ".format"))
	if err != nil {
		return codec.Encoder{}, err
	}
	compression, err := codec.ParsePNGCompression(viper.GetString(section + ".png_compression"))
	if err != nil {
		return codec.Encoder{}, err
	}
	quality := viper.GetInt(section + ".jpeg_quality")
	if quality < 1 || quality > 100 {
		return codec.Encoder{}, fmt.Errorf("jpeg quality %d outside [1,100]: %w", quality, types.ErrInvalidParameter)
	}

	return codec.Encoder{Format: format, PNGCompression: compression, JPEGQuality: quality}, nil
}

// openArchive opens the export archive at path, or returns nil when path is empty.
func openArchive(path string) (*archive.Store, error) {
	if path == "" {
		return nil, nil
	}
	store, err := archive.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	logger.Info("Archiving exports", "path", path)
	return store, nil
}
