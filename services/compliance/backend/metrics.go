// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks backend call outcomes and failover events. Constructed
// against an explicit registry so tests can use isolated registries.
type Metrics struct {
	requests  *prometheus.CounterVec
	failovers *prometheus.CounterVec
}

// NewMetrics registers the backend metric family on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_backend_requests_total",
			Help: "Search backend calls by backend and outcome.",
		}, []string{"backend", "outcome"}),
		failovers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_backend_failovers_total",
			Help: "Failover events by failed and replacement backend.",
		}, []string{"from", "to"}),
	}
}

// ObserveRequest records one backend call outcome. Nil-safe so callers in
// tests can run without metrics.
func (m *Metrics) ObserveRequest(backend string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(backend, outcome).Inc()
}

// ObserveFailover records a primary flip.
func (m *Metrics) ObserveFailover(from, to string) {
	if m == nil {
		return
	}
	m.failovers.WithLabelValues(from, to).Inc()
}
