// Package decoder provides format-specific image decoders.
package decoder

import (
	"context"
	"image"
	"io"

	"github.com/gen2brain/jpegn"

	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
	apperrors "github.com/ReGLOSS/Trackery-ImageProcessor/errors"
)

// JPEG decodes baseline JPEGs with jpegn and leaves progressive or CMYK
// streams to its image/jpeg fallback.  EXIF orientation is never applied
// here; turning the raster upright is the orient step's job.
type JPEG struct {
	// Smooth selects Catmull-Rom chroma upsampling instead of nearest
	// neighbour.
	Smooth bool
}

// NewJPEG returns a JPEG decoder with smooth chroma upsampling.
func NewJPEG() *JPEG { return &JPEG{Smooth: true} }

func (j *JPEG) CanDecode(format core.Format) bool {
	return format == core.FormatJPEG
}

func (j *JPEG) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}

	opts := &jpegn.Options{ToRGBA: true, UpsampleMethod: jpegn.NearestNeighbor}
	if j.Smooth {
		opts.UpsampleMethod = jpegn.CatmullRom
	}
	img, err := jpegn.Decode(r, opts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "jpeg.decode", err)
	}
	return decoded(img, core.FormatJPEG)
}

// decoded wraps a freshly decoded raster, rejecting empty canvases.
func decoded(img image.Image, f core.Format) (*core.ImageData, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, apperrors.New(apperrors.CategoryDecode, string(f)+".decode", apperrors.ErrInvalidDimensions)
	}
	return &core.ImageData{
		Image:  img,
		Format: f,
		Meta: core.Metadata{
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
			Format:     f,
			ColorSpace: colorSpace(img),
			HasAlpha:   hasAlpha(img),
		},
	}, nil
}

// colorSpace returns the colour space of an image.Image.
func colorSpace(img image.Image) core.ColorSpace {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return core.ColorSpaceGray
	case *image.CMYK:
		return core.ColorSpaceCMYK
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64, *image.NYCbCrA:
		if hasAlpha(img) {
			return core.ColorSpaceRGBA
		}
	}
	return core.ColorSpaceRGB
}

// hasAlpha reports whether any pixel is translucent.  Decoders that always
// emit RGBA (jpegn) still report false for opaque data.
func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}
