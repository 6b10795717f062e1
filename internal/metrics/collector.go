// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes.
const (
	OutcomeComplete = "complete"
	OutcomeError    = "error"
	OutcomeStopped  = "stopped"
	OutcomeStale    = "stale"
)

// Collector exposes engine counters to Prometheus. A nil *Collector is valid
// and records nothing.
type Collector struct {
	requests  *prometheus.CounterVec
	inFlight  prometheus.Gauge
	firstChar prometheus.Histogram
	swept     prometheus.Counter
	skipped   *prometheus.CounterVec
}

// NewCollector registers the engine metrics on reg. A nil reg uses the
// default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Collector{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nextchat",
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Finished model requests by outcome",
		}, []string{"outcome"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "nextchat",
			Subsystem: "engine",
			Name:      "requests_in_flight",
			Help:      "Model requests currently streaming",
		}),
		firstChar: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nextchat",
			Subsystem: "engine",
			Name:      "first_char_delay_seconds",
			Help:      "Delay between request start and the first content chunk",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		swept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "nextchat",
			Subsystem: "engine",
			Name:      "stale_swept_total",
			Help:      "Streaming replies forced out by the stale sweep",
		}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nextchat",
			Subsystem: "pipeline",
			Name:      "transform_skipped_total",
			Help:      "Content transforms skipped after a failure",
		}, []string{"transform"}),
	}
}

// RequestStarted counts a request entering flight.
func (c *Collector) RequestStarted() {
	if c == nil {
		return
	}
	c.inFlight.Inc()
}

// RequestFinished counts a request leaving flight with outcome.
func (c *Collector) RequestFinished(outcome string) {
	if c == nil {
		return
	}
	c.inFlight.Dec()
	c.requests.WithLabelValues(outcome).Inc()
}

// ObserveFirstChar records a first-token delay.
func (c *Collector) ObserveFirstChar(d time.Duration) {
	if c == nil {
		return
	}
	c.firstChar.Observe(d.Seconds())
}

// Swept counts stale replies.
func (c *Collector) Swept(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.swept.Add(float64(n))
}

// TransformSkipped counts a skipped content transform.
func (c *Collector) TransformSkipped(name string) {
	if c == nil {
		return
	}
	c.skipped.WithLabelValues(name).Inc()
}
