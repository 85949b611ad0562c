// Copyright (C) 2025 The Harvest Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry defines the service's Prometheus metrics and the
// HTTP middleware that feeds them. All metrics carry the "harvest_"
// prefix.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument the service records.
//
// Thread safety: safe for concurrent use after creation.
type Metrics struct {
	registry *prometheus.Registry

	// SessionsCreated counts successfully created analysis sessions.
	SessionsCreated prometheus.Counter

	// SessionsCompleted counts sessions that reached script emission.
	SessionsCompleted prometheus.Counter

	// SessionsRejected counts rejected session creations by reason code.
	SessionsRejected *prometheus.CounterVec

	// ResolverIterations counts resolver steps by outcome.
	ResolverIterations *prometheus.CounterVec

	// LLMFallbacks counts operations that degraded from the LLM
	// collaborator to the heuristic path.
	LLMFallbacks prometheus.Counter

	// CacheHits and CacheMisses count artifact lookups.
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// ResolveDuration records the resolve loop's wall time in seconds.
	ResolveDuration prometheus.Histogram

	// EmitDuration records script emission time in seconds.
	EmitDuration prometheus.Histogram

	// HTTPRequestsTotal counts requests by method, route, and status.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration records request latency in seconds.
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers every instrument on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvest_sessions_created_total",
			Help: "Analysis sessions created.",
		}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvest_sessions_completed_total",
			Help: "Sessions that produced a client script.",
		}),
		SessionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_sessions_rejected_total",
			Help: "Session creations rejected, by error code.",
		}, []string{"reason"}),
		ResolverIterations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_resolver_iterations_total",
			Help: "Resolver steps executed, by outcome.",
		}, []string{"outcome"}),
		LLMFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvest_llm_fallbacks_total",
			Help: "Operations that fell back from the LLM to heuristics.",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvest_cache_hits_total",
			Help: "Cached artifact lookups that found the artifact.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "harvest_cache_misses_total",
			Help: "Cached artifact lookups that missed.",
		}),
		ResolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvest_resolve_duration_seconds",
			Help:    "Dependency resolution latency per pipeline run.",
			Buckets: prometheus.DefBuckets,
		}),
		EmitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvest_emit_duration_seconds",
			Help:    "Script emission latency.",
			Buckets: prometheus.DefBuckets,
		}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_http_requests_total",
			Help: "HTTP requests served, by method, route, and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_http_request_duration_seconds",
			Help:    "HTTP request latency, by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
