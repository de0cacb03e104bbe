package encoder

import (
	"bytes"
	"context"
	"image/png"

	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
	apperrors "github.com/ReGLOSS/Trackery-ImageProcessor/errors"
)

// PNG encodes images to PNG format.  Quality is ignored; Lossless asks for
// the smallest file.
type PNG struct{}

func NewPNG() *PNG { return &PNG{} }

func (p *PNG) CanEncode(format core.Format) bool { return format == core.FormatPNG }

func (p *PNG) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	src, err := source(ctx, "png.encode", img)
	if err != nil {
		return nil, err
	}

	enc := &png.Encoder{CompressionLevel: png.DefaultCompression}
	if opts.Lossless {
		enc.CompressionLevel = png.BestCompression
	}

	var buf bytes.Buffer
	if err := enc.Encode(&buf, src); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "png.encode", err)
	}
	return buf.Bytes(), nil
}
