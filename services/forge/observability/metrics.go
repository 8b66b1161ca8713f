// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the forge
// service.
//
// # Description
//
// This package implements Prometheus metrics for monitoring combination
// storage and discovery operations. Metrics include:
//   - Combination counters (recorded, first discoveries)
//   - Generator call counters and latency (by backend, status)
//   - Event stream gauges (active subscribers) and drop counters
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for forge metrics
const forgeSubsystem = "forge"

// ForgeMetrics holds all Prometheus metrics for combination operations.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring combination
// throughput and event stream health. Initialize once at startup via
// InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type ForgeMetrics struct {
	// CombinationsTotal counts recorded combinations by origin and outcome.
	// Labels: origin (manual, generated), outcome (created, duplicate)
	CombinationsTotal *prometheus.CounterVec

	// FirstDiscoveriesTotal counts inserts that produced a first-ever result.
	FirstDiscoveriesTotal prometheus.Counter

	// GeneratorCallsTotal counts generator invocations by backend and status.
	// Labels: backend (local, openai, ollama), status (success, error)
	GeneratorCallsTotal *prometheus.CounterVec

	// GeneratorDurationSeconds measures generator call latency.
	// Labels: backend
	GeneratorDurationSeconds *prometheus.HistogramVec

	// ActiveSubscribers tracks currently connected event stream clients.
	// Labels: transport (sse, websocket)
	ActiveSubscribers *prometheus.GaugeVec

	// DroppedEventsTotal counts events discarded because a subscriber's
	// buffer was full.
	DroppedEventsTotal prometheus.Counter

	// SaveFailuresTotal counts durable save attempts that failed.
	SaveFailuresTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of ForgeMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *ForgeMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after Prometheus registry is available.
//
// # Outputs
//
//   - *ForgeMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *ForgeMetrics {
	DefaultMetrics = &ForgeMetrics{
		CombinationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "combinations_total",
				Help:      "Total combination requests by origin and outcome",
			},
			[]string{"origin", "outcome"},
		),

		FirstDiscoveriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "first_discoveries_total",
				Help:      "Total inserts that produced a first-ever result name",
			},
		),

		GeneratorCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "generator_calls_total",
				Help:      "Total generator invocations by backend and status",
			},
			[]string{"backend", "status"},
		),

		GeneratorDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "generator_duration_seconds",
				Help:      "Generator call latency in seconds",
				Buckets:   []float64{0.01, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"backend"},
		),

		ActiveSubscribers: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "active_subscribers",
				Help:      "Number of currently connected event stream clients",
			},
			[]string{"transport"},
		),

		DroppedEventsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "dropped_events_total",
				Help:      "Total events discarded because a subscriber buffer was full",
			},
		),

		SaveFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: forgeSubsystem,
				Name:      "save_failures_total",
				Help:      "Total durable save attempts that failed",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Recording Helpers
// =============================================================================

// RecordCombination increments the combination counter. Safe to call when
// metrics are disabled (m == nil).
func (m *ForgeMetrics) RecordCombination(origin string, created bool) {
	if m == nil {
		return
	}
	outcome := "duplicate"
	if created {
		outcome = "created"
	}
	m.CombinationsTotal.WithLabelValues(origin, outcome).Inc()
}

// RecordFirstDiscovery increments the first discovery counter.
func (m *ForgeMetrics) RecordFirstDiscovery() {
	if m == nil {
		return
	}
	m.FirstDiscoveriesTotal.Inc()
}

// RecordGeneratorCall records one generator invocation.
func (m *ForgeMetrics) RecordGeneratorCall(backend string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.GeneratorCallsTotal.WithLabelValues(backend, status).Inc()
	m.GeneratorDurationSeconds.WithLabelValues(backend).Observe(seconds)
}

// SubscriberConnected adjusts the active subscriber gauge on connect.
func (m *ForgeMetrics) SubscriberConnected(transport string) {
	if m == nil {
		return
	}
	m.ActiveSubscribers.WithLabelValues(transport).Inc()
}

// SubscriberDisconnected adjusts the active subscriber gauge on disconnect.
func (m *ForgeMetrics) SubscriberDisconnected(transport string) {
	if m == nil {
		return
	}
	m.ActiveSubscribers.WithLabelValues(transport).Dec()
}

// RecordDroppedEvents adds to the dropped event counter.
func (m *ForgeMetrics) RecordDroppedEvents(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DroppedEventsTotal.Add(float64(n))
}

// RecordSaveFailure increments the save failure counter.
func (m *ForgeMetrics) RecordSaveFailure() {
	if m == nil {
		return
	}
	m.SaveFailuresTotal.Inc()
}
