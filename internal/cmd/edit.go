package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/imagex/internal/archive"
	"github.com/MeKo-Tech/imagex/internal/codec"
	"github.com/MeKo-Tech/imagex/internal/pipeline"
)

var editCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit a single image",
	Long: `Decode an image, apply tone adjustments and a color filter, and export the result.

Use "-" as input or output to read from stdin or write to stdout. When --output
is omitted the result is written to edited-image.<ext> in the current directory.`,
	Example: `  imagex edit -i photo.jpg --brightness 120 --filter sepia
  imagex edit -i photo.png -o out.tiff --saturation 0
  cat photo.png | imagex edit -i - -o - --filter invert > inverted.png`,
	RunE: runEdit,
}

func init() {
	rootCmd.AddCommand(editCmd)

	editCmd.Flags().StringP("input", "i", "", "Input image file (required, - for stdin)")
	editCmd.Flags().StringP("output", "o", "", "Output file (default edited-image.<ext>, - for stdout)")
	editCmd.Flags().String("keep-stages", "", "Directory to write the intermediate render stages to")
	addEditFlags(editCmd, "edit")

	bindFlags(editCmd, "edit", []flagKey{
		{"input", "input"},
		{"output", "output"},
		{"keep_stages", "keep-stages"},
	})
}

func runEdit(cmd *cobra.Command, args []string) error {
	input := viper.GetString("edit.input")
	output := viper.GetString("edit.output")
	stagesDir := viper.GetString("edit.keep_stages")
	if input == "" {
		return fmt.Errorf("--input is required")
	}

	opts, err := readEditOptions("edit")
	if err != nil {
		return err
	}
	// An explicit output extension selects the format unless --format was given.
	if output != "" && output != "-" && !cmd.Flags().Changed("format") {
		if ext := filepath.Ext(output); ext != "" {
			if f, err := codec.ParseFormat(ext); err == nil {
				opts.Encoder.Format = f
			}
		}
	}
	if output == "" {
		output = opts.Encoder.FileName()
	}

	data, err := readInput(cmd.InOrStdin(), input)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var debug *pipeline.DebugContext
	if stagesDir != "" {
		debug = &pipeline.DebugContext{}
	}

	p, err := pipeline.New(pipeline.Options{
		Logger: logger,
		Params: &opts.Params,
		Filter: opts.Filter,
		Debug:  debug,
	})
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.Load(ctx, data); err != nil {
		return fmt.Errorf("failed to load %s: %w", input, err)
	}

	var buf bytes.Buffer
	if err := p.Export(&buf, opts.Encoder); err != nil {
		return err
	}
	if err := writeOutput(cmd.OutOrStdout(), output, buf.Bytes()); err != nil {
		return err
	}

	snap := p.Snapshot()
	if debug != nil {
		if err := writeStages(stagesDir, debug); err != nil {
			return err
		}
	}

	store, err := openArchive(viper.GetString("edit.archive"))
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		name := filepath.Base(output)
		if output == "-" {
			name = opts.Encoder.FileName()
		}
		if err := store.Put(archive.Entry{
			Name:   name,
			Format: string(opts.Encoder.OutputFormat()),
			Size:   snap.Size,
			Params: snap.Params,
			Filter: snap.Filter,
			Data:   buf.Bytes(),
		}); err != nil {
			return err
		}
	}

	logger.Info("Image edited",
		"input", input,
		"output", output,
		"size", snap.Size.String(),
		"adjust", snap.Params.String(),
		"filter", snap.Filter,
		"format", opts.Encoder.OutputFormat(),
		"bytes", buf.Len(),
	)
	return nil
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return data, nil
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "-" {
		if _, err := stdout.Write(data); err != nil {
			return fmt.Errorf("failed to write stdout: %w", err)
		}
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// writeStages saves each captured render stage as <dir>/<stage>.png.
func writeStages(dir string, debug *pipeline.DebugContext) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create stages directory: %w", err)
	}

	enc := codec.Encoder{Format: codec.PNG}
	for _, stage := range debug.SortedStages() {
		path := filepath.Join(dir, stage.Name+".png")
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create stage file: %w", err)
		}
		err = enc.EncodeImage(f, stage.Image)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to write stage %s: %w", stage.Name, err)
		}
		logger.Debug("Wrote stage", "path", path)
	}
	return nil
}
