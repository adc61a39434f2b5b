// Package pipeline owns an edit session: it decodes uploads, re-renders on every
// parameter change and exposes the final buffer for display and export.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/imagex/internal/codec"
	"github.com/MeKo-Tech/imagex/internal/filter"
	"github.com/MeKo-Tech/imagex/internal/pixel"
	"github.com/MeKo-Tech/imagex/internal/tone"
	"github.com/MeKo-Tech/imagex/internal/types"
)

var (
	// ErrNoImage is returned for adjustments while no image is loaded.
	ErrNoImage = errors.New("no image loaded")

	// ErrNotReady is returned by Export when no rendered buffer is available.
	ErrNotReady = errors.New("no rendered image available")

	// ErrSuperseded is delivered to an upload whose decode finished after a newer upload.
	ErrSuperseded = errors.New("upload superseded by a newer one")
)

// Decoder turns raw bytes into a drawable image. It may block; ctx is cancelled
// when a newer upload supersedes the call.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (image.Image, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, data []byte) (image.Image, error)

func (f DecoderFunc) Decode(ctx context.Context, data []byte) (image.Image, error) {
	return f(ctx, data)
}

// Rasterizer draws a decoded image into a fresh buffer at native resolution.
type Rasterizer interface {
	Rasterize(img image.Image) *pixel.Buffer
}

// RasterizerFunc adapts a function to Rasterizer.
type RasterizerFunc func(img image.Image) *pixel.Buffer

func (f RasterizerFunc) Rasterize(img image.Image) *pixel.Buffer {
	return f(img)
}

// Exporter serializes a final buffer, e.g. codec.Encoder.
type Exporter interface {
	Encode(w io.Writer, buf *pixel.Buffer) error
}

// Frame is the result of one render pass. Its buffer is never written after publication.
type Frame struct {
	Buffer  *pixel.Buffer
	Filter  filter.Kind
	Params  tone.Params
	Seq     uint64 // upload sequence the frame was rendered from
	Render  uint64 // render pass counter
	Elapsed time.Duration
}

// Observer receives every published frame. It must not retain or modify the buffer's bytes
// beyond the callback unless it clones them.
type Observer func(Frame)

// Options configures a Pipeline. Zero values select the host codec, the gift
// rasterizer, identity params and no filter.
type Options struct {
	Decoder    Decoder
	Rasterizer Rasterizer
	Logger     *slog.Logger
	Debug      *DebugContext
	// OnTransition runs synchronously on every state change and must not call back into the pipeline.
	OnTransition func(from, to State)
	// Params are the initial adjustments; nil selects tone.DefaultParams.
	Params *tone.Params
	Filter filter.Kind
}

// Snapshot is a consistent view of the pipeline's state.
type Snapshot struct {
	State      State       `json:"state"`
	Size       types.Size  `json:"size"`
	Params     tone.Params `json:"params"`
	Filter     filter.Kind `json:"filter"`
	Seq        uint64      `json:"seq"`
	Renders    uint64      `json:"renders"`
	Superseded uint64      `json:"superseded"`
	Frame      *Frame      `json:"-"`
}

// renderKey identifies the inputs of a render pass for change detection.
type renderKey struct {
	params tone.Params
	filter filter.Kind
	seq    uint64
}

// Pipeline is an edit session: current source image, adjustments, filter and rendered frame.
// There is one logical writer; the mutex only guards against decode completions
// arriving on their own goroutine.
type Pipeline struct {
	decoder      Decoder
	rasterizer   Rasterizer
	logger       *slog.Logger
	debug        *DebugContext
	onTransition func(from, to State)
	cancel       context.CancelFunc
	source       image.Image
	frame        *Frame
	observers    map[int]Observer
	filter       filter.Kind
	rendered     renderKey
	params       tone.Params
	state        State
	seq          uint64
	renders      uint64
	superseded   uint64
	nextObserver int
	mu           sync.Mutex
}

// New creates an idle pipeline. Initial params and filter are validated.
func New(opts Options) (*Pipeline, error) {
	params := tone.DefaultParams()
	if opts.Params != nil {
		params = *opts.Params
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	kind := opts.Filter
	if kind == "" {
		kind = filter.None
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown filter %q: %w", kind, types.ErrInvalidParameter)
	}

	dec := opts.Decoder
	if dec == nil {
		dec = DecoderFunc(func(ctx context.Context, data []byte) (image.Image, error) {
			d, err := codec.Decode(ctx, data)
			return d.Image, err
		})
	}
	ras := opts.Rasterizer
	if ras == nil {
		ras = RasterizerFunc(pixel.FromImage)
	}

	return &Pipeline{
		decoder:      dec,
		rasterizer:   ras,
		logger:       opts.Logger,
		debug:        opts.Debug,
		onTransition: opts.OnTransition,
		observers:    make(map[int]Observer),
		params:       params,
		filter:       kind,
		state:        StateIdle,
	}, nil
}

// Upload starts decoding data, superseding any pending decode and discarding the
// current frame. The returned channel yields exactly one value: nil once the new
// image is rendered, ErrSuperseded if a newer upload won, or the decode error.
func (p *Pipeline) Upload(ctx context.Context, data []byte) <-chan error {
	done := make(chan error, 1)

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.seq++
	seq := p.seq
	dctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.source = nil
	p.frame = nil
	p.debug.reset()
	p.transition(StateDecoding)
	p.mu.Unlock()

	p.log().Debug("decoding upload", "seq", seq, "bytes", len(data))

	go func() {
		defer cancel()
		img, err := p.decoder.Decode(dctx, data)
		done <- p.completeDecode(seq, img, err)
	}()

	return done
}

// Load uploads data and waits for the outcome.
func (p *Pipeline) Load(ctx context.Context, data []byte) error {
	select {
	case err := <-p.Upload(ctx, data):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) completeDecode(seq uint64, img image.Image, err error) error {
	p.mu.Lock()

	if seq != p.seq {
		p.superseded++
		p.mu.Unlock()
		p.log().Debug("discarding stale decode", "seq", seq, "current_seq", p.currentSeq())
		return ErrSuperseded
	}
	p.cancel = nil

	if err == nil && img == nil {
		err = fmt.Errorf("decoder returned no image: %w", types.ErrDecodeFailure)
	}
	if err != nil {
		p.source = nil
		p.frame = nil
		p.transition(StateIdle)
		p.mu.Unlock()

		if !errors.Is(err, types.ErrDecodeFailure) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%v: %w", err, types.ErrDecodeFailure)
		}
		p.log().Warn("decode failed", "seq", seq, "error", err)
		return err
	}

	p.source = img
	frame := p.renderLocked()
	observers := p.observerList()
	p.mu.Unlock()

	notify(observers, frame)
	return nil
}

// SetParams replaces the tone adjustments and re-renders when they changed.
func (p *Pipeline) SetParams(params tone.Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	return p.update(func() { p.params = params })
}

// SetFilter replaces the color filter and re-renders when it changed.
func (p *Pipeline) SetFilter(kind filter.Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown filter %q: %w", kind, types.ErrInvalidParameter)
	}
	return p.update(func() { p.filter = kind })
}

// Apply replaces params and filter together, triggering at most one render pass.
func (p *Pipeline) Apply(params tone.Params, kind filter.Kind) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown filter %q: %w", kind, types.ErrInvalidParameter)
	}
	return p.update(func() {
		p.params = params
		p.filter = kind
	})
}

// update mutates inputs and re-enters Rendering from Ready when the inputs differ
// from the last rendered ones. During Decoding the change is picked up by the pending render.
func (p *Pipeline) update(mutate func()) error {
	p.mu.Lock()

	if p.state == StateIdle {
		p.mu.Unlock()
		return ErrNoImage
	}

	mutate()

	if p.state != StateReady || p.currentKey() == p.rendered {
		p.mu.Unlock()
		return nil
	}

	frame := p.renderLocked()
	observers := p.observerList()
	p.mu.Unlock()

	notify(observers, frame)
	return nil
}

// renderLocked runs one full pass: rasterize, tone, filter. Each pass owns a fresh buffer.
func (p *Pipeline) renderLocked() Frame {
	p.transition(StateRendering)
	start := time.Now()

	buf := p.rasterizer.Rasterize(p.source)
	p.debug.capture(StageSource, buf.NRGBA())

	buf = tone.Adjust(buf, p.params)
	p.debug.capture(StageAdjusted, buf.NRGBA())

	buf = filter.Apply(buf, p.filter)
	p.debug.capture(StageFiltered, buf.NRGBA())

	p.renders++
	frame := Frame{
		Buffer:  buf,
		Params:  p.params,
		Filter:  p.filter,
		Seq:     p.seq,
		Render:  p.renders,
		Elapsed: time.Since(start),
	}
	p.frame = &frame
	p.rendered = p.currentKey()
	p.transition(StateReady)

	p.log().Debug("render complete",
		"seq", frame.Seq,
		"render", frame.Render,
		"size", buf.Size().String(),
		"params", frame.Params.String(),
		"filter", frame.Filter,
		"ms", frame.Elapsed.Milliseconds(),
	)
	return frame
}

// Subscribe registers an observer for published frames and returns a function that removes it.
func (p *Pipeline) Subscribe(obs Observer) func() {
	p.mu.Lock()
	id := p.nextObserver
	p.nextObserver++
	p.observers[id] = obs
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
	}
}

// Snapshot returns the current state, inputs and frame.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{
		State:      p.state,
		Params:     p.params,
		Filter:     p.filter,
		Seq:        p.seq,
		Renders:    p.renders,
		Superseded: p.superseded,
	}
	if p.source != nil {
		b := p.source.Bounds()
		s.Size = types.Size{Width: b.Dx(), Height: b.Dy()}
	}
	if p.frame != nil {
		f := *p.frame
		s.Frame = &f
	}
	return s
}

// Frame returns the current frame, or false when the pipeline is not Ready.
func (p *Pipeline) Frame() (Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.frame == nil {
		return Frame{}, false
	}
	return *p.frame, true
}

// Export encodes the current frame to w. An encoder failure leaves the frame in place.
func (p *Pipeline) Export(w io.Writer, exp Exporter) error {
	frame, ok := p.Frame()
	if !ok {
		return ErrNotReady
	}
	if err := exp.Encode(w, frame.Buffer); err != nil {
		if !errors.Is(err, types.ErrExportFailure) {
			err = fmt.Errorf("%v: %w", err, types.ErrExportFailure)
		}
		p.log().Error("export failed", "seq", frame.Seq, "error", err)
		return err
	}
	return nil
}

// Close cancels any pending decode and returns the pipeline to Idle.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	// Bumping the sequence turns any in-flight decode into a stale result.
	p.seq++
	p.source = nil
	p.frame = nil
	p.transition(StateIdle)
}

func (p *Pipeline) currentKey() renderKey {
	return renderKey{params: p.params, filter: p.filter, seq: p.seq}
}

func (p *Pipeline) currentSeq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

func (p *Pipeline) transition(to State) {
	from := p.state
	p.state = to
	if p.onTransition != nil && from != to {
		p.onTransition(from, to)
	}
}

func (p *Pipeline) observerList() []Observer {
	list := make([]Observer, 0, len(p.observers))
	for _, obs := range p.observers {
		list = append(list, obs)
	}
	return list
}

func notify(observers []Observer, frame Frame) {
	for _, obs := range observers {
		obs(frame)
	}
}

func (p *Pipeline) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}
