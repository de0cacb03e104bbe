package core

import (
	"context"
	"io"
	"time"
)

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// ParseFormat maps a configuration identifier ("webp", "jpg", ...) to a Format.
func ParseFormat(s string) Format {
	switch s {
	case "jpeg", "jpg":
		return FormatJPEG
	case "png":
		return FormatPNG
	case "webp":
		return FormatWebP
	}
	return FormatUnknown
}

// Extension returns the file extension, with the leading dot, for f.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatWebP:
		return ".webp"
	}
	return ""
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	}
	return "application/octet-stream"
}

// ColorSpace represents the image colour model.
type ColorSpace string

const (
	ColorSpaceRGB  ColorSpace = "rgb"
	ColorSpaceRGBA ColorSpace = "rgba"
	ColorSpaceCMYK ColorSpace = "cmyk"
	ColorSpaceGray ColorSpace = "gray"
)

// Metadata holds extracted image information without loading pixel data.
type Metadata struct {
	Width      int
	Height     int
	Format     Format
	ColorSpace ColorSpace
	HasAlpha   bool
	SizeBytes  int64
	// Orientation is the EXIF orientation code (1-8). 0 means not yet
	// resolved; 1 after the image has been turned upright.
	Orientation int
}

// ImageData is the in-memory representation passed through a pipeline.
// Data holds encoded bytes; Image holds the decoded pixel buffer.
//
// Steps never mutate an ImageData they receive: they return a shallow copy
// with new fields, so one decoded Image can be shared read-only between
// concurrently running variants.
type ImageData struct {
	// Encoded bytes: the raw input until an encode step replaces them.
	Data   []byte
	Format Format

	// Decoded pixel buffer. image.Image for the native backend.
	Image interface{}

	Meta Metadata

	OriginalSize int64
}

// ProcessingResult is returned to the caller after the full pipeline completes.
type ProcessingResult struct {
	Primary  *ImageData
	Variants map[string]*ImageData // keyed by variant name

	ProcessingTime time.Duration
	StepTimings    map[string]time.Duration
}

// Source abstracts where raw bytes come from.
type Source struct {
	Reader      io.Reader
	ContentType string // optional hint
	Name        string // optional logical name / object key
	Size        int64  // -1 if unknown
}

// Job encapsulates a single unit of work for the worker pool.
type Job struct {
	ID     string
	Ctx    context.Context //nolint:containedctx // intentional for async jobs
	Source Source
	Steps  []Step
	// Variants, when set, are run after Steps as in Processor.ProcessVariants.
	Variants []VariantDefinition
	// Result channel; nil for fire-and-forget.
	ResultCh chan<- JobResult
}

// VariantDefinition instructs the pipeline to produce a named output variant.
type VariantDefinition struct {
	Name  string
	Steps []Step
}

// JobResult wraps the outcome of an async job.
type JobResult struct {
	JobID  string
	Result *ProcessingResult
	Err    error
}

// Step is the fundamental pipeline building block.  Each Step transforms an
// *ImageData value and must be safe for concurrent use across goroutines.
type Step interface {
	Name() string
	Execute(ctx context.Context, img *ImageData) (*ImageData, error)
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, img *ImageData)
	AfterStep(ctx context.Context, stepName string, img *ImageData, d time.Duration, err error)
}

// StorageKey uniquely identifies a stored object.
type StorageKey struct {
	Bucket string
	Path   string
}

func (k StorageKey) String() string {
	if k.Bucket == "" {
		return k.Path
	}
	return k.Bucket + "/" + k.Path
}
