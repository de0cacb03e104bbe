package core

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ReGLOSS/Trackery-ImageProcessor/config"
	apperrors "github.com/ReGLOSS/Trackery-ImageProcessor/errors"
	"github.com/ReGLOSS/Trackery-ImageProcessor/utils"
)

// Processor is the central orchestrator.  It is safe for concurrent use.
type Processor struct {
	cfg      config.Config
	registry Registry
	hooks    []Hook
	logger   Logger

	// Worker pool.
	jobQueue chan Job
	wg       sync.WaitGroup
	once     sync.Once
	stopOnce sync.Once
	shutdown chan struct{}

	processedCount int64
	errorCount     int64
}

// New creates a Processor with the given config.  Call Start() before
// submitting jobs; call Stop() when done.  Synchronous processing does not
// need the pool.
func New(cfg config.Config, reg Registry) *Processor {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Processor{
		cfg:      cfg,
		registry: reg,
		logger:   NopLogger(),
		jobQueue: make(chan Job, queueSize),
		shutdown: make(chan struct{}),
	}
}

// SetLogger attaches a structured logger.  A nil logger restores the no-op one.
func (p *Processor) SetLogger(l Logger) {
	if l == nil {
		l = NopLogger()
	}
	p.logger = l
}

// Logger returns the attached logger; never nil.
func (p *Processor) Logger() Logger { return p.logger }

// AddHook registers a pipeline hook.
func (p *Processor) AddHook(h Hook) { p.hooks = append(p.hooks, h) }

// Registry returns the underlying registry so callers can register
// encoders/decoders after construction.
func (p *Processor) Registry() Registry { return p.registry }

// Config returns the configuration the processor was built with.
func (p *Processor) Config() config.Config { return p.cfg }

// Start launches the worker pool.  It is idempotent.
func (p *Processor) Start() {
	p.once.Do(func() {
		workerCount := p.cfg.WorkerCount
		if workerCount <= 0 {
			workerCount = runtime.NumCPU()
		}
		for i := 0; i < workerCount; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

// Stop shuts down all workers and waits for in-flight jobs.  Queued jobs
// that were not picked up are dropped.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.shutdown) })
	p.wg.Wait()
}

// Process is the primary synchronous API.  It reads from src, runs steps, and
// returns a ProcessingResult.
func (p *Processor) Process(ctx context.Context, src Source, steps ...Step) (*ProcessingResult, error) {
	res, err := p.run(ctx, src, steps)
	if err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		return nil, err
	}
	atomic.AddInt64(&p.processedCount, 1)
	return res, nil
}

// run loads src and runs steps without touching the counters.
func (p *Processor) run(ctx context.Context, src Source, steps []Step) (*ProcessingResult, error) {
	if len(steps) == 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, "process", apperrors.ErrEmptyInput)
	}

	start := time.Now()

	img, err := p.load(ctx, src)
	if err != nil {
		return nil, err
	}

	timings := make(map[string]time.Duration, len(steps))
	current, err := p.runSteps(ctx, img, steps, timings)
	if err != nil {
		return nil, err
	}

	return &ProcessingResult{
		Primary:        current,
		ProcessingTime: time.Since(start),
		StepTimings:    timings,
	}, nil
}

// Submit enqueues an async job.  Returns ErrWorkerPoolFull if the queue is full.
func (p *Processor) Submit(job Job) error {
	select {
	case p.jobQueue <- job:
		return nil
	default:
		return apperrors.New(apperrors.CategoryPipeline, "submit", apperrors.ErrWorkerPoolFull)
	}
}

// Batch processes multiple sources concurrently (fan-out / fan-in).
func (p *Processor) Batch(ctx context.Context, sources []Source, steps ...Step) ([]*ProcessingResult, []error) {
	results := make([]*ProcessingResult, len(sources))
	errs := make([]error, len(sources))
	var wg sync.WaitGroup

	for i, src := range sources {
		wg.Add(1)
		go func(idx int, s Source) {
			defer wg.Done()
			results[idx], errs[idx] = p.Process(ctx, s, steps...)
		}(i, src)
	}
	wg.Wait()
	return results, errs
}

// ProcessVariants runs baseSteps once, then runs every VariantDefinition in
// parallel against the shared base result.  Variants only ever read the base
// image.  On failure the error of the first failing variant, in definition
// order, is returned and no partial result is produced.  The call counts as
// one processed image only when every variant succeeds.
func (p *Processor) ProcessVariants(ctx context.Context, src Source, baseSteps []Step, variants []VariantDefinition) (*ProcessingResult, error) {
	base, err := p.run(ctx, src, baseSteps)
	if err != nil {
		atomic.AddInt64(&p.errorCount, 1)
		return nil, err
	}

	outs := make([]*ImageData, len(variants))
	errs := make([]error, len(variants))
	timings := make([]map[string]time.Duration, len(variants))
	var wg sync.WaitGroup

	for i, v := range variants {
		wg.Add(1)
		go func(idx int, vd VariantDefinition) {
			defer wg.Done()
			timings[idx] = make(map[string]time.Duration, len(vd.Steps))
			outs[idx], errs[idx] = p.runSteps(ctx, base.Primary, vd.Steps, timings[idx])
		}(i, v)
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			atomic.AddInt64(&p.errorCount, 1)
			return nil, e
		}
	}

	base.Variants = make(map[string]*ImageData, len(variants))
	for i, v := range variants {
		base.Variants[v.Name] = outs[i]
		for step, d := range timings[i] {
			base.StepTimings[v.Name+"."+step] = d
		}
	}
	atomic.AddInt64(&p.processedCount, 1)
	return base, nil
}

// ── internals ─────────────────────────────────────────────────────────────────

// load drains src into memory (respecting the size limit) and sniffs the format.
func (p *Processor) load(ctx context.Context, src Source) (*ImageData, error) {
	if src.Reader == nil {
		return nil, apperrors.New(apperrors.CategoryDecode, "process.load", apperrors.ErrEmptyInput)
	}
	r := src.Reader
	if p.cfg.MaxImageBytes > 0 {
		r = &utils.LimitedReader{R: r, Max: p.cfg.MaxImageBytes}
	}

	buf, err := utils.DrainReader(ctx, r, p.cfg.ChunkSize)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "process.drain", err)
	}
	raw := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	format := Format(utils.DetectFormat(raw))
	if format == FormatUnknown && src.ContentType != "" {
		format = contentTypeToFormat(src.ContentType)
	}

	return &ImageData{
		Data:         raw,
		Format:       format,
		OriginalSize: int64(len(raw)),
	}, nil
}

func (p *Processor) runSteps(ctx context.Context, img *ImageData, steps []Step, timings map[string]time.Duration) (*ImageData, error) {
	current := img
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), err)
		}
		p.notifyBefore(ctx, step.Name(), current)
		t := time.Now()
		next, err := p.runWithRetry(ctx, step, current)
		elapsed := time.Since(t)
		timings[step.Name()] = elapsed
		p.notifyAfter(ctx, step.Name(), next, elapsed, err)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			return
		case job := <-p.jobQueue:
			p.processJob(job)
		}
	}
}

func (p *Processor) processJob(job Job) {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()
	}

	var (
		result *ProcessingResult
		err    error
	)
	if len(job.Variants) > 0 {
		result, err = p.ProcessVariants(ctx, job.Source, job.Steps, job.Variants)
	} else {
		result, err = p.Process(ctx, job.Source, job.Steps...)
	}
	if err != nil {
		p.logger.Error("job failed", "job", job.ID, "source", job.Source.Name, "error", err)
	}
	if job.ResultCh != nil {
		job.ResultCh <- JobResult{JobID: job.ID, Result: result, Err: err}
	}
}

// runWithRetry retries steps that fail with a transient error.  Decode,
// encode and geometry failures are never transient, so in practice only
// I/O-backed custom steps are retried.
func (p *Processor) runWithRetry(ctx context.Context, step Step, img *ImageData) (*ImageData, error) {
	var (
		result *ImageData
		err    error
	)
	for i := 0; i <= p.cfg.MaxRetries; i++ {
		result, err = step.Execute(ctx, img)
		if err == nil || !apperrors.IsRetryable(err) {
			return result, err
		}
		if i < p.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), ctx.Err())
			case <-time.After(p.cfg.RetryDelay):
			}
		}
	}
	return result, err
}

func (p *Processor) notifyBefore(ctx context.Context, name string, img *ImageData) {
	for _, h := range p.hooks {
		h.BeforeStep(ctx, name, img)
	}
}

func (p *Processor) notifyAfter(ctx context.Context, name string, img *ImageData, d time.Duration, err error) {
	for _, h := range p.hooks {
		h.AfterStep(ctx, name, img, d, err)
	}
}

// contentTypeToFormat maps MIME types to Format values.
func contentTypeToFormat(ct string) Format {
	switch ct {
	case "image/jpeg", "image/jpg":
		return FormatJPEG
	case "image/png":
		return FormatPNG
	case "image/webp":
		return FormatWebP
	}
	return FormatUnknown
}

// ProcessedCount returns the total number of successfully processed images.
func (p *Processor) ProcessedCount() int64 { return atomic.LoadInt64(&p.processedCount) }

// ErrorCount returns the total number of processing errors.
func (p *Processor) ErrorCount() int64 { return atomic.LoadInt64(&p.errorCount) }
