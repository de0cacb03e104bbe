// Package encoder provides format-specific image encoders.
package encoder

import (
	"bytes"
	"context"
	"image"

	"github.com/chai2010/webp"

	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
	apperrors "github.com/ReGLOSS/Trackery-ImageProcessor/errors"
)

// WebP encodes images with libwebp through github.com/chai2010/webp.
type WebP struct {
	DefaultQuality int
}

func NewWebP(defaultQuality int) *WebP {
	if defaultQuality <= 0 {
		defaultQuality = 85
	}
	return &WebP{DefaultQuality: defaultQuality}
}

func (w *WebP) CanEncode(format core.Format) bool { return format == core.FormatWebP }

func (w *WebP) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	src, err := source(ctx, "webp.encode", img)
	if err != nil {
		return nil, err
	}

	quality := opts.Quality
	if quality <= 0 {
		quality = w.DefaultQuality
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, src, &webp.Options{Lossless: opts.Lossless, Quality: float32(quality)}); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "webp.encode", err)
	}
	return buf.Bytes(), nil
}

// source extracts a non-empty raster from img for encoder op.
func source(ctx context.Context, op string, img *core.ImageData) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, op, err)
	}
	if img == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, op, apperrors.ErrEmptyInput)
	}
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, op, apperrors.ErrEmptyInput)
	}
	if src.Bounds().Empty() {
		return nil, apperrors.New(apperrors.CategoryEncode, op, apperrors.ErrInvalidDimensions)
	}
	return src, nil
}
