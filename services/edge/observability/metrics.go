// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the edge service.
//
// # Description
//
// Metrics cover the backend-integration layer:
//   - Proxy requests by method and status, and proxy latency
//   - Outbound (client and bridge) failures by error kind
//   - View cache hits, misses and invalidations
//   - Resource action results by resource, operation and mode
//
// # Integration
//
// Metrics are registered on the registry passed to NewMetrics and exposed
// via /metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every Record method is a no-op on a nil *Metrics so components can run
// without instrumentation.
package observability

import (
	"strconv"
	"time"

	"github.com/AleutianAI/FieldOps/pkg/apierr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "fieldops"

const (
	proxySubsystem    = "proxy"
	outboundSubsystem = "outbound"
	cacheSubsystem    = "cache"
	actionSubsystem   = "actions"
)

// Metrics holds all Prometheus collectors of the edge service.
//
// # Fields
//
//   - ProxyRequestsTotal: Labels: method, status
//   - ProxyDurationSeconds: Labels: method
//   - OutboundErrorsTotal: Labels: source (client, bridge, proxy), kind
//   - CacheEventsTotal: Labels: event (hit, miss, invalidate)
//   - ActionResultsTotal: Labels: resource, op, mode, status
//   - UploadsTotal: Labels: status
type Metrics struct {
	ProxyRequestsTotal   *prometheus.CounterVec
	ProxyDurationSeconds *prometheus.HistogramVec
	OutboundErrorsTotal  *prometheus.CounterVec
	CacheEventsTotal     *prometheus.CounterVec
	ActionResultsTotal   *prometheus.CounterVec
	UploadsTotal         *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on reg.
//
// # Inputs
//
//   - reg: Target registry. Tests pass prometheus.NewRegistry() so that
//     each test gets isolated collectors.
//
// # Limitations
//
//   - Panics if the same registry is used twice (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ProxyRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: proxySubsystem,
				Name:      "requests_total",
				Help:      "Total proxied requests by method and upstream status",
			},
			[]string{"method", "status"},
		),

		ProxyDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: proxySubsystem,
				Name:      "duration_seconds",
				Help:      "Proxied request duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method"},
		),

		OutboundErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: outboundSubsystem,
				Name:      "errors_total",
				Help:      "Total backend integration failures by source and kind",
			},
			[]string{"source", "kind"},
		),

		CacheEventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: cacheSubsystem,
				Name:      "events_total",
				Help:      "View cache hits, misses and invalidated keys",
			},
			[]string{"event"},
		),

		ActionResultsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: actionSubsystem,
				Name:      "results_total",
				Help:      "Resource action results by resource, operation, mode and status",
			},
			[]string{"resource", "op", "mode", "status"},
		),

		UploadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "uploads_total",
				Help:      "Image uploads by status",
			},
			[]string{"status"},
		),
	}
}

// =============================================================================
// Label Values
// =============================================================================

// Source identifies which integration component observed a failure.
type Source string

const (
	SourceClient Source = "client"
	SourceBridge Source = "bridge"
	SourceProxy  Source = "proxy"
)

// CacheEvent is a view cache outcome.
type CacheEvent string

const (
	CacheHit        CacheEvent = "hit"
	CacheMiss       CacheEvent = "miss"
	CacheInvalidate CacheEvent = "invalidate"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordProxy records one forwarded request. status is 0 when the backend
// was never reached.
func (m *Metrics) RecordProxy(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProxyRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.ProxyDurationSeconds.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RecordOutboundError records a failure using the apierr kind of err.
func (m *Metrics) RecordOutboundError(src Source, err error) {
	if m == nil || err == nil {
		return
	}
	m.OutboundErrorsTotal.WithLabelValues(string(src), apierr.KindOf(err).String()).Inc()
}

// RecordCache adds n to the counter for event.
func (m *Metrics) RecordCache(event CacheEvent, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheEventsTotal.WithLabelValues(string(event)).Add(float64(n))
}

// RecordAction records the result of one resource action.
func (m *Metrics) RecordAction(resource, op, mode string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.ActionResultsTotal.WithLabelValues(resource, op, mode, status).Inc()
}

// RecordUpload records one upload attempt.
func (m *Metrics) RecordUpload(success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.UploadsTotal.WithLabelValues(status).Inc()
}
