// Package hooks provides production-ready Hook, Logger and MetricsCollector
// implementations.
package hooks

import (
	"context"
	"time"

	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
	apperrors "github.com/ReGLOSS/Trackery-ImageProcessor/errors"
	"github.com/ReGLOSS/Trackery-ImageProcessor/pipeline"
)

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs before/after each pipeline step.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook {
	if l == nil {
		l = core.NopLogger()
	}
	return &LoggingHook{logger: l}
}

func (h *LoggingHook) BeforeStep(_ context.Context, stepName string, img *core.ImageData) {
	h.logger.Debug("pipeline.step.start",
		"step", stepName,
		"format", string(img.Format),
		"width", img.Meta.Width,
		"height", img.Meta.Height,
	)
}

func (h *LoggingHook) AfterStep(_ context.Context, stepName string, img *core.ImageData, d time.Duration, err error) {
	if err != nil {
		h.logger.Error("pipeline.step.error",
			"step", stepName,
			"category", string(apperrors.CategoryOf(err)),
			"duration_ms", d.Milliseconds(),
			"error", err.Error(),
		)
		return
	}
	if img == nil {
		h.logger.Debug("pipeline.step.done", "step", stepName, "duration_ms", d.Milliseconds())
		return
	}
	h.logger.Debug("pipeline.step.done",
		"step", stepName,
		"duration_ms", d.Milliseconds(),
		"format", string(img.Format),
		"width", img.Meta.Width,
		"height", img.Meta.Height,
		"bytes", img.Meta.SizeBytes,
	)
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds pipeline events into a MetricsCollector.  Only encode
// steps count towards throughput, so the figure is bytes produced.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeStep(_ context.Context, _ string, _ *core.ImageData) {}

func (h *MetricsHook) AfterStep(_ context.Context, stepName string, img *core.ImageData, d time.Duration, err error) {
	h.collector.RecordProcessingTime(stepName, d)
	if err != nil {
		cat := apperrors.CategoryOf(err)
		if cat == "" {
			cat = apperrors.CategoryPipeline
		}
		h.collector.RecordError(stepName, string(cat))
		return
	}
	if img != nil && stepName == pipeline.StepEncode {
		h.collector.RecordThroughput(img.Meta.SizeBytes)
	}
}
