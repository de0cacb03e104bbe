package hooks

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates metrics; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	stepDurationsMs map[string]int64 // cumulative ms per step
	stepCalls       map[string]int64 // call count per step
	stepErrors      map[string]int64 // keyed "step" and "step/category"

	totalThroughputB int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		stepDurationsMs: make(map[string]int64),
		stepCalls:       make(map[string]int64),
		stepErrors:      make(map[string]int64),
	}
}

func (m *InMemoryMetrics) RecordProcessingTime(stepName string, d interface{ Seconds() float64 }) {
	ms := int64(d.Seconds() * 1000)
	m.mu.Lock()
	m.stepDurationsMs[stepName] += ms
	m.stepCalls[stepName]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordThroughput(bytes int64) {
	atomic.AddInt64(&m.totalThroughputB, bytes)
}

func (m *InMemoryMetrics) RecordError(stepName string, category string) {
	m.mu.Lock()
	m.stepErrors[stepName]++
	m.stepErrors[stepName+"/"+category]++
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		StepDurationsMs:  make(map[string]int64, len(m.stepDurationsMs)),
		StepCalls:        make(map[string]int64, len(m.stepCalls)),
		StepErrors:       make(map[string]int64, len(m.stepErrors)),
		TotalThroughputB: atomic.LoadInt64(&m.totalThroughputB),
	}
	for k, v := range m.stepDurationsMs {
		snap.StepDurationsMs[k] = v
	}
	for k, v := range m.stepCalls {
		snap.StepCalls[k] = v
	}
	for k, v := range m.stepErrors {
		snap.StepErrors[k] = v
	}
	return snap
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	StepDurationsMs  map[string]int64
	StepCalls        map[string]int64
	StepErrors       map[string]int64
	TotalThroughputB int64
}

// ── Prometheus collector ─────────────────────────────────────────────────────

// PrometheusMetrics exports pipeline observations as Prometheus series.
type PrometheusMetrics struct {
	stepDuration *prometheus.HistogramVec
	stepErrors   *prometheus.CounterVec
	outputBytes  prometheus.Counter
}

// NewPrometheusMetrics registers the collectors on reg.  A nil reg uses the
// default registerer.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &PrometheusMetrics{
		stepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "imageprocessor_step_duration_seconds",
				Help:    "Pipeline step duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"step"},
		),
		stepErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imageprocessor_step_errors_total",
				Help: "Pipeline step failures by error category",
			},
			[]string{"step", "category"},
		),
		outputBytes: f.NewCounter(
			prometheus.CounterOpts{
				Name: "imageprocessor_output_bytes_total",
				Help: "Total encoded bytes produced",
			},
		),
	}
}

func (p *PrometheusMetrics) RecordProcessingTime(stepName string, d interface{ Seconds() float64 }) {
	p.stepDuration.WithLabelValues(stepName).Observe(d.Seconds())
}

func (p *PrometheusMetrics) RecordThroughput(bytes int64) {
	p.outputBytes.Add(float64(bytes))
}

func (p *PrometheusMetrics) RecordError(stepName string, category string) {
	p.stepErrors.WithLabelValues(stepName, category).Inc()
}
