// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package pdp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aegis-pdp/aegis/internal/access/audit"
	"github.com/aegis-pdp/aegis/internal/access/policy"
)

// Metrics groups the collectors of the service and its components.
type Metrics struct {
	decisions       *prometheus.CounterVec
	authentications *prometheus.CounterVec
	sweptSessions   prometheus.Counter

	policy *policy.Metrics
	audit  *audit.Metrics
}

// NewMetrics registers every collector with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_access_decisions_total",
			Help: "Total number of access decisions by outcome",
		}, []string{"outcome"}),
		authentications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_authentications_total",
			Help: "Total number of authentication attempts by result code",
		}, []string{"result"}),
		sweptSessions: f.NewCounter(prometheus.CounterOpts{
			Name: "aegis_sessions_expired_total",
			Help: "Total number of sessions expired by the periodic sweep",
		}),
		policy: policy.NewMetrics(reg),
		audit:  audit.NewMetrics(reg),
	}
}

func outcome(granted bool) string {
	if granted {
		return "granted"
	}
	return "denied"
}

// Audit returns the audit sink collectors, for audit loggers built outside
// the service.
func (m *Metrics) Audit() *audit.Metrics {
	return m.audit
}
