package imageprocessor

import (
	"github.com/ReGLOSS/Trackery-ImageProcessor/adapters/decoder"
	"github.com/ReGLOSS/Trackery-ImageProcessor/adapters/encoder"
	"github.com/ReGLOSS/Trackery-ImageProcessor/config"
	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
)

// registerNative installs the pure Go decoders and the libwebp encoder.
func registerNative(reg core.Registry, cfg config.Config) {
	reg.RegisterDecoder(core.FormatJPEG, decoder.NewJPEG())
	reg.RegisterDecoder(core.FormatPNG, decoder.NewPNG())
	reg.RegisterDecoder(core.FormatWebP, decoder.NewWebP())
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(cfg.DefaultQuality))
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())
	reg.RegisterEncoder(core.FormatWebP, encoder.NewWebP(cfg.DefaultQuality))
}
