//go:build js && wasm
// +build js,wasm

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"syscall/js"

	"github.com/MeKo-Tech/imagex/internal/codec"
	"github.com/MeKo-Tech/imagex/internal/filter"
	"github.com/MeKo-Tech/imagex/internal/pipeline"
	"github.com/MeKo-Tech/imagex/internal/tone"
)

// RenderRequest carries the adjustments for one render call from JS.
type RenderRequest struct {
	Filter     string `json:"filter"`
	Format     string `json:"format"`
	Brightness int    `json:"brightness"`
	Contrast   int    `json:"contrast"`
	Saturation int    `json:"saturation"`
}

func errorResult(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

// render is called from JavaScript as imagexRender(bytes: Uint8Array, params: string).
// Omitted params default to 100.
func render(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return errorResult(fmt.Errorf("missing image bytes"))
	}

	data := make([]byte, args[0].Get("length").Int())
	js.CopyBytesToGo(data, args[0])

	req := RenderRequest{Brightness: tone.Neutral, Contrast: tone.Neutral, Saturation: tone.Neutral}
	if len(args) > 1 && args[1].Type() == js.TypeString && args[1].String() != "" {
		if err := json.Unmarshal([]byte(args[1].String()), &req); err != nil {
			return errorResult(fmt.Errorf("failed to parse params: %w", err))
		}
	}

	kind, err := filter.ParseKind(req.Filter)
	if err != nil {
		return errorResult(err)
	}
	format, err := codec.ParseFormat(req.Format)
	if err != nil {
		return errorResult(err)
	}

	p, err := pipeline.New(pipeline.Options{
		Params: &tone.Params{Brightness: req.Brightness, Contrast: req.Contrast, Saturation: req.Saturation},
		Filter: kind,
	})
	if err != nil {
		return errorResult(err)
	}
	defer p.Close()

	if err := p.Load(context.Background(), data); err != nil {
		return errorResult(err)
	}

	var buf bytes.Buffer
	enc := codec.Encoder{Format: format}
	if err := p.Export(&buf, enc); err != nil {
		return errorResult(err)
	}

	out := js.Global().Get("Uint8Array").New(buf.Len())
	js.CopyBytesToJS(out, buf.Bytes())

	size := p.Snapshot().Size
	return map[string]any{
		"png":      out,
		"width":    size.Width,
		"height":   size.Height,
		"type":     enc.ContentType(),
		"filename": enc.FileName(),
	}
}

func filters(this js.Value, args []js.Value) any {
	kinds := filter.Kinds()
	names := make([]any, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}

func main() {
	c := make(chan struct{})

	js.Global().Set("imagexRender", js.FuncOf(render))
	js.Global().Set("imagexFilters", js.FuncOf(filters))

	fmt.Println("imagex WASM module loaded")
	<-c
}
