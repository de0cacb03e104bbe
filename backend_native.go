//go:build !vips

package imageprocessor

import (
	"github.com/ReGLOSS/Trackery-ImageProcessor/config"
	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
)

func registerBackend(reg core.Registry, cfg config.Config, log core.Logger) func() {
	registerNative(reg, cfg)
	if cfg.Backend == config.BackendVips {
		log.Warn("vips backend requested but this binary was built without the vips tag; using native codecs")
	}
	return nil
}
