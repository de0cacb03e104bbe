package decoder

import (
	"context"
	"io"

	"golang.org/x/image/webp"

	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
	apperrors "github.com/ReGLOSS/Trackery-ImageProcessor/errors"
)

// WebP decodes still WebP images (VP8 lossy and VP8L lossless) with
// golang.org/x/image/webp.  Animated files are rejected by the decoder.
type WebP struct{}

func NewWebP() *WebP { return &WebP{} }

func (w *WebP) CanDecode(format core.Format) bool {
	return format == core.FormatWebP
}

func (w *WebP) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "webp.decode", err)
	}

	img, err := webp.Decode(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "webp.decode", err)
	}
	return decoded(img, core.FormatWebP)
}
