//go:build !vips

package imageprocessor_test

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	imageprocessor "github.com/ReGLOSS/Trackery-ImageProcessor"
	"github.com/ReGLOSS/Trackery-ImageProcessor/config"
	"github.com/ReGLOSS/Trackery-ImageProcessor/hooks"
	"github.com/ReGLOSS/Trackery-ImageProcessor/internal/imagetest"
)

func TestNew_VipsRequestedWithoutTag(t *testing.T) {
	obs, logs := observer.New(zapcore.WarnLevel)
	cfg := imageprocessor.DefaultConfig()
	cfg.Backend = config.BackendVips

	proc := imageprocessor.New(cfg, imageprocessor.WithLogger(hooks.NewZapLogger(zap.New(obs))))
	t.Cleanup(proc.Close)

	if n := logs.FilterMessageSnippet("vips backend requested").Len(); n != 1 {
		t.Fatalf("fallback warnings: got %d, want 1", n)
	}
	if _, err := proc.ProcessFull(context.Background(), imagetest.PNG(t, imagetest.Quadrants(16, 16), nil)); err != nil {
		t.Fatalf("native codecs should still work: %v", err)
	}
}
