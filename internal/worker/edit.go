package worker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/imagex/internal/archive"
	"github.com/MeKo-Tech/imagex/internal/codec"
	"github.com/MeKo-Tech/imagex/internal/filter"
	"github.com/MeKo-Tech/imagex/internal/pipeline"
	"github.com/MeKo-Tech/imagex/internal/tone"
)

// FileProcessor applies one set of adjustments to each file it is given.
type FileProcessor struct {
	Logger  *slog.Logger
	Archive *archive.Store // optional; receives every written file
	Encoder codec.Encoder
	Filter  filter.Kind
	Params  *tone.Params // nil keeps defaults
	Force   bool // overwrite existing outputs
}

// Process reads task.Input, renders it and writes the encoded result to task.Output.
func (fp *FileProcessor) Process(ctx context.Context, task Task) (Output, error) {
	if !fp.Force {
		if _, err := os.Stat(task.Output); err == nil {
			fp.log().Debug("Output exists, skipping", "output", task.Output)
			return Output{Path: task.Output, Skipped: true}, nil
		}
	}

	data, err := os.ReadFile(task.Input)
	if err != nil {
		return Output{}, fmt.Errorf("failed to read %s: %w", task.Input, err)
	}

	p, err := pipeline.New(pipeline.Options{
		Logger: fp.log().With("input", filepath.Base(task.Input)),
		Params: fp.Params,
		Filter: fp.Filter,
	})
	if err != nil {
		return Output{}, err
	}
	defer p.Close()

	if err := p.Load(ctx, data); err != nil {
		return Output{}, fmt.Errorf("failed to load %s: %w", task.Input, err)
	}

	var buf bytes.Buffer
	if err := p.Export(&buf, fp.Encoder); err != nil {
		return Output{}, fmt.Errorf("failed to export %s: %w", task.Input, err)
	}

	if err := os.MkdirAll(filepath.Dir(task.Output), 0o755); err != nil {
		return Output{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(task.Output, buf.Bytes(), 0o644); err != nil {
		return Output{}, fmt.Errorf("failed to write %s: %w", task.Output, err)
	}

	snap := p.Snapshot()
	out := Output{Path: task.Output, Size: snap.Size, Bytes: buf.Len()}

	if fp.Archive != nil {
		err := fp.Archive.Put(archive.Entry{
			Name:   filepath.Base(task.Output),
			Format: string(fp.Encoder.OutputFormat()),
			Size:   snap.Size,
			Params: snap.Params,
			Filter: snap.Filter,
			Data:   buf.Bytes(),
		})
		if err != nil {
			return out, fmt.Errorf("failed to archive %s: %w", task.Output, err)
		}
	}

	fp.log().Debug("Edited image",
		"input", task.Input,
		"output", task.Output,
		"size", snap.Size.String(),
		"bytes", buf.Len())

	return out, nil
}

func (fp *FileProcessor) log() *slog.Logger {
	if fp.Logger != nil {
		return fp.Logger
	}
	return slog.Default()
}
