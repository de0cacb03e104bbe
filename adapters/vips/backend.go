//go:build vips

// Package vips provides a libvips-backed codec pair.  It is compiled only
// with the vips build tag because it needs libvips at link time.
package vips

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"runtime"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
	apperrors "github.com/ReGLOSS/Trackery-ImageProcessor/errors"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	DefaultQuality int
	MaxCacheSize   int
	MaxWorkers     int
	ReportLeaks    bool
}

// Backend decodes and encodes through libvips while the pipeline keeps
// working on image.Image rasters.  Rasters cross the boundary as PNG, which
// is lossless and understood by both sides.  Safe for concurrent use.
type Backend struct {
	cfg BackendConfig
}

// NewBackend initialises libvips and returns a ready Backend.
// Call Shutdown() when the process exits.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.DefaultQuality <= 0 {
		cfg.DefaultQuality = 85
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	govips.LoggingSettings(nil, govips.LogLevelWarning)
	govips.Startup(&govips.Config{
		ConcurrencyLevel: cfg.MaxWorkers,
		MaxCacheSize:     cfg.MaxCacheSize,
		ReportLeaks:      cfg.ReportLeaks,
	})
	return &Backend{cfg: cfg}
}

// Shutdown releases all libvips resources. Call once at process exit.
func (b *Backend) Shutdown() {
	govips.Shutdown()
}

func (b *Backend) CanDecode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP:
		return true
	}
	return false
}

// Decode loads the stored raster without applying EXIF orientation.
func (b *Backend) Decode(ctx context.Context, r io.Reader) (*core.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.read", err)
	}

	ref, err := govips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	defer ref.Close()

	format := vipsFormatToCore(ref.Format())
	ep := govips.NewPngExportParams()
	ep.Compression = 0
	ep.StripMetadata = true
	buf, _, err := ref.ExportPng(ep)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.export", err)
	}
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.raster", err)
	}

	return &core.ImageData{
		Format: format,
		Image:  img,
		Meta: core.Metadata{
			Width:      ref.Width(),
			Height:     ref.Height(),
			Format:     format,
			ColorSpace: vipsInterpretationToColorSpace(ref.Interpretation(), ref.HasAlpha()),
			HasAlpha:   ref.HasAlpha(),
		},
	}, nil
}

func (b *Backend) CanEncode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP:
		return true
	}
	return false
}

func (b *Backend) Encode(ctx context.Context, img *core.ImageData, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode", err)
	}
	src, ok := img.Image.(image.Image)
	if !ok || src == nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode", apperrors.ErrEmptyInput)
	}
	if src.Bounds().Empty() {
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode", apperrors.ErrInvalidDimensions)
	}

	var raster bytes.Buffer
	if err := (&png.Encoder{CompressionLevel: png.NoCompression}).Encode(&raster, src); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.raster", err)
	}
	ref, err := govips.NewImageFromBuffer(raster.Bytes())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.load", err)
	}
	defer ref.Close()

	quality := opts.Quality
	if quality <= 0 {
		quality = b.cfg.DefaultQuality
	}

	var out []byte
	switch img.Format {
	case core.FormatWebP:
		ep := govips.NewWebpExportParams()
		ep.Quality = quality
		ep.Lossless = opts.Lossless
		ep.StripMetadata = true
		out, _, err = ref.ExportWebp(ep)
	case core.FormatJPEG:
		ep := govips.NewJpegExportParams()
		ep.Quality = quality
		ep.StripMetadata = true
		out, _, err = ref.ExportJpeg(ep)
	case core.FormatPNG:
		ep := govips.NewPngExportParams()
		ep.StripMetadata = true
		out, _, err = ref.ExportPng(ep)
	default:
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, img.Format))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode."+string(img.Format), err)
	}
	return out, nil
}

// RegisterVipsBackend replaces the native codecs with libvips for all formats.
func RegisterVipsBackend(reg core.Registry, b *Backend) {
	for _, f := range []core.Format{core.FormatJPEG, core.FormatPNG, core.FormatWebP} {
		reg.RegisterDecoder(f, b)
		reg.RegisterEncoder(f, b)
	}
}

func vipsFormatToCore(f govips.ImageType) core.Format {
	switch f {
	case govips.ImageTypeJPEG:
		return core.FormatJPEG
	case govips.ImageTypePNG:
		return core.FormatPNG
	case govips.ImageTypeWEBP:
		return core.FormatWebP
	default:
		return core.FormatUnknown
	}
}

func vipsInterpretationToColorSpace(i govips.Interpretation, alpha bool) core.ColorSpace {
	switch i {
	case govips.InterpretationBW, govips.InterpretationGrey16:
		return core.ColorSpaceGray
	case govips.InterpretationCMYK:
		return core.ColorSpaceCMYK
	}
	if alpha {
		return core.ColorSpaceRGBA
	}
	return core.ColorSpaceRGB
}

var (
	_ core.Decoder = (*Backend)(nil)
	_ core.Encoder = (*Backend)(nil)
)
