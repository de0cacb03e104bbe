package hooks

import (
	"context"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/ReGLOSS/Trackery-ImageProcessor/config"
	"github.com/ReGLOSS/Trackery-ImageProcessor/core"
)

// ── Publisher ─────────────────────────────────────────────────────────────────

// Publisher hands the series of a short-lived process to the outside world
// at the end of every invocation.  With a Pushgateway configured the
// registry is pushed there; otherwise a one-line summary is logged.
type Publisher struct {
	gatherer prometheus.Gatherer
	pusher   *push.Pusher
	logger   core.Logger
}

// NewPublisher publishes what g gathers.  instance, when not empty, becomes
// the "instance" grouping label so concurrent environments do not overwrite
// each other on the gateway.
func NewPublisher(g prometheus.Gatherer, cfg config.MetricsConfig, instance string, l core.Logger) *Publisher {
	if l == nil {
		l = core.NopLogger()
	}
	p := &Publisher{gatherer: g, logger: l}
	if cfg.PushGateway != "" {
		p.pusher = push.New(cfg.PushGateway, cfg.Job).Gatherer(g)
		if instance != "" {
			p.pusher = p.pusher.Grouping("instance", instance)
		}
	}
	return p
}

// Publish pushes or logs the current state of the registry.
func (p *Publisher) Publish(ctx context.Context) error {
	if p.pusher != nil {
		if err := p.pusher.PushContext(ctx); err != nil {
			return fmt.Errorf("metrics: push: %w", err)
		}
		return nil
	}

	summary, err := p.summary()
	if err != nil {
		return err
	}
	p.logger.Info("metrics summary", summary...)
	return nil
}

// summary flattens every family into name/value pairs: counters and gauges
// report their sum across labels, histograms their observation count.
func (p *Publisher) summary() ([]interface{}, error) {
	families, err := p.gatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("metrics: gather: %w", err)
	}
	totals := make(map[string]float64, len(families))
	for _, mf := range families {
		var v float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				v += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				v += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				v += float64(m.GetHistogram().GetSampleCount())
			}
		}
		totals[mf.GetName()] = v
	}

	names := make([]string, 0, len(totals))
	for n := range totals {
		names = append(names, n)
	}
	sort.Strings(names)
	kv := make([]interface{}, 0, 2*len(names))
	for _, n := range names {
		kv = append(kv, n, totals[n])
	}
	return kv, nil
}
