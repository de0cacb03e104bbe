//go:build vips

package imageprocessor

import (
	"github.com/ReGLOSS/Trackery-ImageProcessor/adapters/vips"
	"github.com/ReGLOSS/Trackery-ImageProcessor/config"
	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
)

func registerBackend(reg core.Registry, cfg config.Config, log core.Logger) func() {
	registerNative(reg, cfg)
	if cfg.Backend != config.BackendVips {
		return nil
	}
	b := vips.NewBackend(vips.BackendConfig{
		DefaultQuality: cfg.DefaultQuality,
		MaxWorkers:     cfg.WorkerCount,
	})
	vips.RegisterVipsBackend(reg, b)
	log.Info("codec backend selected", "backend", config.BackendVips)
	return b.Shutdown
}
