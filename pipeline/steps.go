// Package pipeline provides the built-in pipeline steps.  Every step is
// stateless apart from its configuration, never mutates the ImageData it
// receives and is safe for concurrent use.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
	apperrors "github.com/ReGLOSS/Trackery-ImageProcessor/errors"
	"github.com/ReGLOSS/Trackery-ImageProcessor/orientation"
	"github.com/ReGLOSS/Trackery-ImageProcessor/utils"
)

// Step names, also used as metric labels.
const (
	StepDecode    = "decode"
	StepOrient    = "orient"
	StepResize    = "resize"
	StepThumbnail = "thumbnail"
	StepFormat    = "format"
	StepEncode    = "encode"
)

// ── Decode ────────────────────────────────────────────────────────────────────

// DecodeStep decodes raw bytes in img.Data into an image.Image.
type DecodeStep struct {
	Registry core.Registry
}

func (s *DecodeStep) Name() string { return StepDecode }

func (s *DecodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if img.Image != nil {
		return img, nil // already decoded
	}
	if len(img.Data) == 0 {
		return nil, apperrors.New(apperrors.CategoryDecode, s.Name(), apperrors.ErrEmptyInput)
	}
	dec, ok := s.Registry.DecoderFor(img.Format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryDecode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}

	decoded, err := dec.Decode(ctx, bytes.NewReader(img.Data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, s.Name(), err)
	}

	// Keep the raw bytes: the orient step reads EXIF from them.
	decoded.Data = img.Data
	decoded.OriginalSize = img.OriginalSize
	decoded.Meta.SizeBytes = int64(len(img.Data))
	return decoded, nil
}

// ── Orient ────────────────────────────────────────────────────────────────────

// OrientStep turns the decoded raster upright according to the EXIF
// orientation found in img.Data.  Missing or unreadable metadata is not an
// error: the image is kept as stored and a warning is logged.
type OrientStep struct {
	Logger  core.Logger
	Metrics core.MetricsCollector // optional; counts metadata failures
}

func (s *OrientStep) Name() string { return StepOrient }

func (s *OrientStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	code, err := orientation.Resolve(img.Data)
	if err != nil {
		s.warn(err)
	}

	oriented, _ := orientation.Apply(src, code)
	b := oriented.Bounds()

	out := *img
	out.Image = oriented
	out.Meta.Width = b.Dx()
	out.Meta.Height = b.Dy()
	out.Meta.Orientation = int(orientation.Identity)
	if code != orientation.Identity {
		s.logger().Debug("orientation applied", "code", int(code), "transform", code.String(),
			"width", b.Dx(), "height", b.Dy())
	}
	return &out, nil
}

func (s *OrientStep) warn(err error) {
	s.logger().Warn("orientation metadata unavailable, keeping stored orientation", "error", err)
	if s.Metrics != nil {
		s.Metrics.RecordError(s.Name(), string(apperrors.CategoryMetadata))
	}
}

func (s *OrientStep) logger() core.Logger {
	if s.Logger == nil {
		return core.NopLogger()
	}
	return s.Logger
}

// ── Resize ────────────────────────────────────────────────────────────────────

// ResizeStep resamples the image to Width×Height with a bilinear filter.
// Passing 0 for one axis derives it from the other, preserving aspect ratio.
type ResizeStep struct {
	Width, Height int
	// Filter defaults to imaging.Linear.
	Filter *imaging.ResampleFilter
}

func (s *ResizeStep) Name() string { return StepResize }

func (s *ResizeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryPipeline, s.Name(), err)
	}

	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}

	srcB := src.Bounds()
	if srcB.Empty() {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrInvalidDimensions)
	}
	dstW, dstH := utils.ScaleDimensions(srcB.Dx(), srcB.Dy(), s.Width, s.Height)
	if dstW <= 0 || dstH <= 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrInvalidDimensions)
	}

	out := *img
	out.Meta.Width = dstW
	out.Meta.Height = dstH
	if dstW == srcB.Dx() && dstH == srcB.Dy() {
		return &out, nil
	}

	filter := imaging.Linear
	if s.Filter != nil {
		filter = *s.Filter
	}
	out.Image = imaging.Resize(src, dstW, dstH, filter)
	return &out, nil
}

// ── Thumbnail ────────────────────────────────────────────────────────────────

// ThumbnailStep scales the image so that its shorter edge is exactly Size
// pixels, keeping the aspect ratio.  Smaller images are enlarged.  When
// MaxPixels is positive, outputs with more pixels are rejected.
type ThumbnailStep struct {
	Size      int
	MaxPixels int64
}

func (s *ThumbnailStep) Name() string { return StepThumbnail }

func (s *ThumbnailStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(), apperrors.ErrEmptyInput)
	}
	b := src.Bounds()
	w, h := utils.MinEdgeDimensions(b.Dx(), b.Dy(), s.Size)
	if w == 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("%w: %dx%d to edge %d", apperrors.ErrInvalidDimensions, b.Dx(), b.Dy(), s.Size))
	}
	if s.MaxPixels > 0 && int64(w)*int64(h) > s.MaxPixels {
		return nil, apperrors.New(apperrors.CategoryPipeline, s.Name(),
			fmt.Errorf("%w: %dx%d output exceeds %d pixels", apperrors.ErrInvalidDimensions, w, h, s.MaxPixels))
	}
	return (&ResizeStep{Width: w, Height: h}).Execute(ctx, img)
}

// ── Format conversion ─────────────────────────────────────────────────────────

// FormatStep sets the target format picked up by the following EncodeStep.
type FormatStep struct {
	Format core.Format
}

func (s *FormatStep) Name() string { return StepFormat }

func (s *FormatStep) Execute(_ context.Context, img *core.ImageData) (*core.ImageData, error) {
	out := *img
	out.Format = s.Format
	out.Meta.Format = s.Format
	return &out, nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises the image.Image into encoded bytes using the registry.
type EncodeStep struct {
	Registry    core.Registry
	BaseOptions core.EncodeOptions
}

func (s *EncodeStep) Name() string { return StepEncode }

func (s *EncodeStep) Execute(ctx context.Context, img *core.ImageData) (*core.ImageData, error) {
	enc, ok := s.Registry.EncoderFor(img.Format)
	if !ok {
		return nil, apperrors.New(apperrors.CategoryEncode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}

	data, err := enc.Encode(ctx, img, s.BaseOptions)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, s.Name(), err)
	}

	out := *img
	out.Data = data
	out.Meta.SizeBytes = int64(len(data))
	return &out, nil
}
