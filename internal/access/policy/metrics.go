// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package policy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for the evaluations counter.
const (
	outcomeAllow        = "allow"
	outcomeDeny         = "deny"
	outcomeDefaultAllow = "default_allow"
)

// Metrics for policy evaluation.
type Metrics struct {
	evaluateDuration prometheus.Histogram
	evaluations      *prometheus.CounterVec
	activePolicies   prometheus.Gauge
}

// NewMetrics registers the engine metrics with reg. A nil reg creates
// unregistered collectors, which is useful in tests that do not gather.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		evaluateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_policy_evaluate_duration_seconds",
			Help:    "Histogram of ABAC policy evaluation latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_policy_evaluations_total",
			Help: "Total number of ABAC policy evaluations by outcome",
		}, []string{"outcome"}),
		activePolicies: f.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_policy_active",
			Help: "Number of active policies in the current snapshot",
		}),
	}
}

func (m *Metrics) record(d time.Duration, outcome string) {
	m.evaluateDuration.Observe(d.Seconds())
	m.evaluations.WithLabelValues(outcome).Inc()
}
