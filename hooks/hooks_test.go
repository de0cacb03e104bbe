package hooks_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ReGLOSS/Trackery-ImageProcessor/config"
	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
	apperrors "github.com/ReGLOSS/Trackery-ImageProcessor/errors"
	"github.com/ReGLOSS/Trackery-ImageProcessor/hooks"
)

func TestMetricsHook_InMemory(t *testing.T) {
	m := hooks.NewInMemoryMetrics()
	h := hooks.NewMetricsHook(m)
	ctx := context.Background()

	h.AfterStep(ctx, "decode", &core.ImageData{Meta: core.Metadata{SizeBytes: 999}}, 3*time.Millisecond, nil)
	h.AfterStep(ctx, "encode", &core.ImageData{Meta: core.Metadata{SizeBytes: 120}}, 2*time.Millisecond, nil)
	h.AfterStep(ctx, "encode", nil, time.Millisecond,
		apperrors.New(apperrors.CategoryEncode, "webp.encode", errors.New("boom")))
	h.AfterStep(ctx, "custom", nil, time.Millisecond, errors.New("plain"))

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.StepCalls["encode"])
	assert.Equal(t, int64(1), snap.StepCalls["decode"])
	assert.Equal(t, int64(120), snap.TotalThroughputB, "only encoded bytes count")
	assert.Equal(t, int64(1), snap.StepErrors["encode/encode"])
	assert.Equal(t, int64(1), snap.StepErrors["custom/pipeline"])
}

func TestPrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := hooks.NewPrometheusMetrics(reg)
	h := hooks.NewMetricsHook(p)
	ctx := context.Background()

	h.AfterStep(ctx, "encode", &core.ImageData{Meta: core.Metadata{SizeBytes: 2048}}, 10*time.Millisecond, nil)
	h.AfterStep(ctx, "decode", nil, time.Millisecond,
		apperrors.New(apperrors.CategoryDecode, "jpeg.decode", errors.New("bad huffman")))
	p.RecordError("orient", "metadata")

	expected := `
# HELP imageprocessor_step_errors_total Pipeline step failures by error category
# TYPE imageprocessor_step_errors_total counter
imageprocessor_step_errors_total{category="decode",step="decode"} 1
imageprocessor_step_errors_total{category="metadata",step="orient"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "imageprocessor_step_errors_total"))

	n, err := testutil.GatherAndCount(reg, "imageprocessor_step_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "imageprocessor_output_bytes_total" {
			assert.Equal(t, 2048.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
}

func TestLoggingHook(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	h := hooks.NewLoggingHook(hooks.NewZapLogger(zap.New(obs)))
	ctx := context.Background()
	img := &core.ImageData{Format: core.FormatWebP, Meta: core.Metadata{Width: 300, Height: 400, SizeBytes: 10}}

	h.BeforeStep(ctx, "thumbnail", img)
	h.AfterStep(ctx, "thumbnail", img, time.Millisecond, nil)
	h.AfterStep(ctx, "encode", nil, time.Millisecond, apperrors.New(apperrors.CategoryEncode, "webp.encode", errors.New("x")))

	require.Equal(t, 3, logs.Len())
	entries := logs.All()
	assert.Equal(t, "pipeline.step.start", entries[0].Message)
	assert.Equal(t, "pipeline.step.done", entries[1].Message)
	assert.Equal(t, "pipeline.step.error", entries[2].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "encode", entries[2].ContextMap()["category"])
}

func TestNewZap(t *testing.T) {
	file := filepath.Join(t.TempDir(), "proc.log")
	l, err := hooks.NewZap(config.LogConfig{Level: "info", Format: "json", File: file, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	require.NoError(t, err)

	l.Debug("hidden")
	l.With("request", "r1").Info("visible", "key", "value")
	_ = l.Sync()

	b, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"visible"`)
	assert.Contains(t, string(b), `"request":"r1"`)
	assert.NotContains(t, string(b), "hidden")

	_, err = hooks.NewZap(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
