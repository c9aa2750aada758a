// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the query agent.
//
// # Description
//
// Metrics cover the full pipeline: request counts by variant and
// outcome, attempts consumed per question, guard rejections by rule,
// end-to-end latency, and live session count.
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "aleutian"

const querySubsystem = "query"

// QueryMetrics holds all Prometheus metrics for query operations.
type QueryMetrics struct {
	// RequestsTotal counts answered questions by variant and status.
	// Labels: variant (sql, dataframe), status (success, unrelated,
	// exhausted, error)
	RequestsTotal *prometheus.CounterVec

	// AttemptsPerQuery observes how many synthesis passes a question
	// consumed before resolution.
	// Labels: variant
	AttemptsPerQuery *prometheus.HistogramVec

	// GuardRejectionsTotal counts guard rejections by rule.
	// Labels: rule (shape, mutation, scope, environment)
	GuardRejectionsTotal *prometheus.CounterVec

	// QueryDurationSeconds measures end-to-end pipeline latency.
	// Labels: variant, status
	QueryDurationSeconds *prometheus.HistogramVec

	// ActiveSessions tracks the number of live sessions.
	ActiveSessions prometheus.Gauge

	// ActiveStreams tracks open websocket query streams.
	ActiveStreams prometheus.Gauge
}

// DefaultMetrics is the singleton instance of QueryMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *QueryMetrics

// InitMetrics creates and registers all Prometheus metrics. Call once
// at application startup; panics on duplicate registration.
func InitMetrics() *QueryMetrics {
	DefaultMetrics = &QueryMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "requests_total",
				Help:      "Total answered questions by variant and status",
			},
			[]string{"variant", "status"},
		),

		AttemptsPerQuery: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "attempts_per_query",
				Help:      "Synthesis passes consumed per question",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
			[]string{"variant"},
		),

		GuardRejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "guard_rejections_total",
				Help:      "Guard rejections by rule",
			},
			[]string{"rule"},
		),

		QueryDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "duration_seconds",
				Help:      "End-to-end pipeline latency in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"variant", "status"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "active_sessions",
				Help:      "Number of live sessions",
			},
		),

		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: querySubsystem,
				Name:      "active_streams",
				Help:      "Open websocket query streams",
			},
		),
	}
	return DefaultMetrics
}

// ObserveRequest records one finished pipeline run.
func (m *QueryMetrics) ObserveRequest(variant, status string, attempts int, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(variant, status).Inc()
	m.QueryDurationSeconds.WithLabelValues(variant, status).Observe(seconds)
	if attempts > 0 {
		m.AttemptsPerQuery.WithLabelValues(variant).Observe(float64(attempts))
	}
}

// ObserveGuardRejection counts one rejection under its rule.
func (m *QueryMetrics) ObserveGuardRejection(rule string) {
	if m == nil {
		return
	}
	m.GuardRejectionsTotal.WithLabelValues(rule).Inc()
}

// SetActiveSessions updates the live session gauge.
func (m *QueryMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// StreamOpened and StreamClosed bracket one websocket connection.
func (m *QueryMetrics) StreamOpened() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *QueryMetrics) StreamClosed() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}
