// Package imageprocessor turns uploaded photos upright and derives the
// stored artifacts: a full-size WebP and a thumbnail whose shorter edge is
// fixed.
//
// Each operation is a list of steps run by core.Processor.  The decode and
// orient prefix is shared; ProcessAll runs it once and produces both outputs
// in parallel from the same read-only upright image.
package imageprocessor

import (
	"bytes"
	"context"
	"io"

	"github.com/ReGLOSS/Trackery-ImageProcessor/config"
	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
	apperrors "github.com/ReGLOSS/Trackery-ImageProcessor/errors"
	"github.com/ReGLOSS/Trackery-ImageProcessor/hooks"
	"github.com/ReGLOSS/Trackery-ImageProcessor/pipeline"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
	WebP = core.FormatWebP
)

// Variant names used by ProcessAll.
const (
	VariantOriginal  = "original"
	VariantThumbnail = "thumbnail"
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Outputs holds the two artifacts produced from one upload.
type Outputs struct {
	Original  []byte
	Thumbnail []byte
	// Width and Height of the upright original.
	Width, Height int
}

// Option customises a Processor.
type Option func(*options)

type options struct {
	logger  core.Logger
	metrics core.MetricsCollector
	hooks   []core.Hook
}

// WithLogger routes step logs and orientation warnings to l.
func WithLogger(l core.Logger) Option { return func(o *options) { o.logger = l } }

// WithMetrics records step timings, failures and output bytes in m.
func WithMetrics(m core.MetricsCollector) Option { return func(o *options) { o.metrics = m } }

// WithHooks registers additional step observers.
func WithHooks(h ...core.Hook) Option { return func(o *options) { o.hooks = append(o.hooks, h...) } }

// Processor is the primary entry point.  It is safe for concurrent use.
type Processor struct {
	inner    *core.Processor
	reg      *core.DefaultRegistry
	cfg      config.Config
	opts     options
	format   core.Format
	shutdown func()
}

// New creates a fully wired Processor with the codec backend selected by
// cfg.Backend.  Call Close when done.
func New(cfg config.Config, opts ...Option) *Processor {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = core.NopLogger()
	}

	reg := core.NewRegistry()
	shutdown := registerBackend(reg, cfg, o.logger)

	inner := core.New(cfg, reg)
	inner.SetLogger(o.logger)
	inner.AddHook(hooks.NewLoggingHook(o.logger))
	if o.metrics != nil {
		inner.AddHook(hooks.NewMetricsHook(o.metrics))
	}
	for _, h := range o.hooks {
		inner.AddHook(h)
	}

	format := core.ParseFormat(cfg.OutputFormat)
	if format == core.FormatUnknown {
		format = core.FormatWebP
	}

	return &Processor{
		inner:    inner,
		reg:      reg,
		cfg:      cfg,
		opts:     o,
		format:   format,
		shutdown: shutdown,
	}
}

// ProcessFull decodes data, turns it upright and encodes it in the output
// format at its upright size.
func (p *Processor) ProcessFull(ctx context.Context, data []byte) ([]byte, error) {
	res, err := p.inner.Process(ctx, FromBytes(data), p.FullSteps()...)
	if err != nil {
		return nil, err
	}
	return res.Primary.Data, nil
}

// ProcessThumbnail decodes data, turns it upright, scales it so that its
// shorter edge is cfg.ThumbnailSize and encodes it in the output format.
func (p *Processor) ProcessThumbnail(ctx context.Context, data []byte) ([]byte, error) {
	res, err := p.inner.Process(ctx, FromBytes(data), p.ThumbnailSteps()...)
	if err != nil {
		return nil, err
	}
	return res.Primary.Data, nil
}

// ProcessAll produces both artifacts, decoding and orienting only once.
// Either both outputs are returned or none.
func (p *Processor) ProcessAll(ctx context.Context, data []byte) (*Outputs, error) {
	res, err := p.inner.ProcessVariants(ctx, FromBytes(data), p.OrientedSteps(), []core.VariantDefinition{
		{Name: VariantOriginal, Steps: p.encodeSteps()},
		{Name: VariantThumbnail, Steps: append([]core.Step{Thumbnail(p.cfg.ThumbnailSize, p.cfg.MaxOutputPixels)}, p.encodeSteps()...)},
	})
	if err != nil {
		return nil, err
	}
	return &Outputs{
		Original:  res.Variants[VariantOriginal].Data,
		Thumbnail: res.Variants[VariantThumbnail].Data,
		Width:     res.Primary.Meta.Width,
		Height:    res.Primary.Meta.Height,
	}, nil
}

// OrientedSteps decodes the input and turns it upright.
func (p *Processor) OrientedSteps() []core.Step {
	return []core.Step{
		DecodeWith(p.reg),
		&pipeline.OrientStep{Logger: p.opts.logger, Metrics: p.opts.metrics},
	}
}

// FullSteps is the step list of ProcessFull.
func (p *Processor) FullSteps() []core.Step {
	return append(p.OrientedSteps(), p.encodeSteps()...)
}

// ThumbnailSteps is the step list of ProcessThumbnail.
func (p *Processor) ThumbnailSteps() []core.Step {
	steps := append(p.OrientedSteps(), Thumbnail(p.cfg.ThumbnailSize, p.cfg.MaxOutputPixels))
	return append(steps, p.encodeSteps()...)
}

func (p *Processor) encodeSteps() []core.Step {
	return []core.Step{
		ConvertFormat(p.format),
		EncodeWith(p.reg, core.EncodeOptions{Quality: p.cfg.DefaultQuality, Lossless: p.cfg.Lossless}),
	}
}

// IsDecodeFailure reports whether err means the input could not be decoded.
func IsDecodeFailure(err error) bool { return apperrors.IsCategory(err, apperrors.CategoryDecode) }

// IsEncodeFailure reports whether err means an output could not be encoded.
func IsEncodeFailure(err error) bool { return apperrors.IsCategory(err, apperrors.CategoryEncode) }

// Config returns the configuration the processor was built with.
func (p *Processor) Config() config.Config { return p.cfg }

// OutputFormat is the format both artifacts are encoded in.
func (p *Processor) OutputFormat() core.Format { return p.format }

// AddHook registers an observer for pipeline step events.
func (p *Processor) AddHook(h core.Hook) { p.inner.AddHook(h) }

// RegisterDecoder registers a custom decoder for the given format.
func (p *Processor) RegisterDecoder(f core.Format, d core.Decoder) { p.reg.RegisterDecoder(f, d) }

// RegisterEncoder registers a custom encoder for the given format.
func (p *Processor) RegisterEncoder(f core.Format, e core.Encoder) { p.reg.RegisterEncoder(f, e) }

// Inner exposes the underlying core.Processor for advanced use such as
// async jobs with custom step lists.
func (p *Processor) Inner() *core.Processor { return p.inner }

// Start starts the background worker pool.
func (p *Processor) Start() { p.inner.Start() }

// Stop drains and shuts down the worker pool.
func (p *Processor) Stop() { p.inner.Stop() }

// Close stops the worker pool and releases the codec backend.
func (p *Processor) Close() {
	p.inner.Stop()
	if p.shutdown != nil {
		p.shutdown()
	}
}

// Submit enqueues an async job for the worker pool.
func (p *Processor) Submit(job core.Job) error { return p.inner.Submit(job) }

// SubmitAll enqueues ProcessAll for data as an async job; the result arrives
// on ch with both artifacts as variants.
func (p *Processor) SubmitAll(ctx context.Context, id string, data []byte, ch chan<- core.JobResult) error {
	return p.inner.Submit(core.Job{
		ID:     id,
		Ctx:    ctx,
		Source: FromBytes(data),
		Steps:  p.OrientedSteps(),
		Variants: []core.VariantDefinition{
			{Name: VariantOriginal, Steps: p.encodeSteps()},
			{Name: VariantThumbnail, Steps: append([]core.Step{Thumbnail(p.cfg.ThumbnailSize, p.cfg.MaxOutputPixels)}, p.encodeSteps()...)},
		},
		ResultCh: ch,
	})
}

// Batch runs the same steps on multiple sources concurrently.
func (p *Processor) Batch(ctx context.Context, sources []core.Source, steps ...core.Step) ([]*core.ProcessingResult, []error) {
	return p.inner.Batch(ctx, sources, steps...)
}

// Stats returns lightweight processing statistics.
func (p *Processor) Stats() (processed, errors int64) {
	return p.inner.ProcessedCount(), p.inner.ErrorCount()
}

// ── Source constructors ────────────────────────────────────────────────────────

// FromReader creates a Source from an io.Reader.
func FromReader(r io.Reader) core.Source { return core.Source{Reader: r, Size: -1} }

// FromBytes creates a Source over an in-memory upload.
func FromBytes(b []byte) core.Source {
	return core.Source{Reader: bytes.NewReader(b), Size: int64(len(b))}
}

// ── Step constructors ─────────────────────────────────────────────────────────

// DecodeWith returns a decode step bound to the given registry.
func DecodeWith(reg core.Registry) core.Step { return &pipeline.DecodeStep{Registry: reg} }

// Resize returns a resize step.  Pass 0 for one axis to preserve aspect ratio.
func Resize(width, height int) core.Step { return &pipeline.ResizeStep{Width: width, Height: height} }

// Thumbnail returns a step scaling the shorter edge to size.  Outputs above
// maxPixels are rejected; 0 disables the check.
func Thumbnail(size int, maxPixels int64) core.Step {
	return &pipeline.ThumbnailStep{Size: size, MaxPixels: maxPixels}
}

// ConvertFormat instructs subsequent steps to use the given output format.
func ConvertFormat(f core.Format) core.Step { return &pipeline.FormatStep{Format: f} }

// EncodeWith returns an encode step bound to the given registry and options.
func EncodeWith(reg core.Registry, opts core.EncodeOptions) core.Step {
	return &pipeline.EncodeStep{Registry: reg, BaseOptions: opts}
}
