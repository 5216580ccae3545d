// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

// Package metrics exposes Prometheus instrumentation for the sync pipeline:
// sync run outcomes and durations, ingestion counts, source request latency,
// circuit breaker state, and database statement timings.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync Run Metrics

	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubsync_runs_total",
			Help: "Total number of sync runs by source and result",
		},
		[]string{"source", "result"}, // result: "success", "failure"
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dubsync_run_duration_seconds",
			Help:    "Wall-clock duration of sync runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"source"},
	)

	SyncBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dubsync_ingest_batch_size",
			Help:    "Number of events per ingested page",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
	)

	// Ingestion Metrics

	EventsObserved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubsync_events_observed_total",
			Help: "Total events returned by sources, duplicates included",
		},
		[]string{"source"},
	)

	EventsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubsync_events_inserted_total",
			Help: "Total raw event rows actually inserted",
		},
		[]string{"source"},
	)

	EventsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubsync_events_deduplicated_total",
			Help: "Total events skipped by the natural-key constraint",
		},
		[]string{"source"},
	)

	WatermarkTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dubsync_watermark_timestamp_seconds",
			Help: "Unix timestamp of the committed watermark per source",
		},
		[]string{"source"},
	)

	PropertyWritesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubsync_property_writes_skipped_total",
			Help: "Property upserts skipped by the change-detection filter",
		},
		[]string{"source"},
	)

	// Source Request Metrics

	SourceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dubsync_source_request_duration_seconds",
			Help:    "Duration of vendor API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	SourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubsync_source_errors_total",
			Help: "Total vendor API errors by source and class",
		},
		[]string{"source", "class"}, // class: "rate_limited", "permanent", "transient"
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubsync_source_rate_limit_hits_total",
			Help: "Total HTTP 429 rejections from vendor APIs",
		},
		[]string{"source"},
	)

	// Circuit Breaker Metrics

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dubsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubsync_circuit_breaker_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubsync_circuit_breaker_requests_total",
			Help: "Circuit breaker request outcomes",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	// Database Metrics

	DBStatementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dubsync_db_statement_duration_seconds",
			Help:    "Duration of database statements in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBStatementErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubsync_db_statement_errors_total",
			Help: "Total database statement errors",
		},
		[]string{"operation", "table"},
	)
)

// RecordSyncRun records the outcome of one completed sync run.
func RecordSyncRun(source string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	SyncRunsTotal.WithLabelValues(source, result).Inc()
	SyncDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordIngestPage records the counts of one ingested page.
func RecordIngestPage(source string, observed, inserted int) {
	SyncBatchSize.Observe(float64(observed))
	EventsObserved.WithLabelValues(source).Add(float64(observed))
	EventsInserted.WithLabelValues(source).Add(float64(inserted))
	EventsDeduplicated.WithLabelValues(source).Add(float64(observed - inserted))
}

// ObserveDBStatement times a database statement and records errors.
// Call with the start time captured before executing the statement.
func ObserveDBStatement(operation, table string, start time.Time, err error) {
	DBStatementDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	if err != nil {
		DBStatementErrors.WithLabelValues(operation, table).Inc()
	}
}
