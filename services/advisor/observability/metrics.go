// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability exposes Prometheus metrics for the advisor.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for the Recommendation Pipeline
// =============================================================================

var (
	// pipelineRuns counts completed runs.
	// Labels: status (succeeded, failed), reason (failure reason, or "" on success)
	pipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campaign_advisor",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Total pipeline runs by terminal status",
	}, []string{"status", "reason"})

	// pipelineDuration measures end-to-end run latency.
	// Labels: status
	pipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "campaign_advisor",
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "End-to-end pipeline run latency in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"status"})

	// pipelineIterations tracks how many critique cycles runs needed.
	pipelineIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "campaign_advisor",
		Subsystem: "pipeline",
		Name:      "iterations",
		Help:      "Critique cycles per run",
		Buckets:   []float64{1, 2, 3, 4, 5},
	})

	// stageLatency measures per-stage reasoning latency.
	// Labels: stage (analyze, draft, critique), engine
	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "campaign_advisor",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Reasoning stage latency in seconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
	}, []string{"stage", "engine"})

	// collectorOutcomes counts per-source collection outcomes.
	// Labels: kind, status (ok, degraded, missing)
	collectorOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campaign_advisor",
		Subsystem: "collectors",
		Name:      "outcomes_total",
		Help:      "Signal collection outcomes by source kind and status",
	}, []string{"kind", "status"})

	// collectorAttempts tracks attempts used per collection.
	// Labels: kind
	collectorAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "campaign_advisor",
		Subsystem: "collectors",
		Name:      "attempts",
		Help:      "Attempts used per signal collection",
		Buckets:   []float64{1, 2, 3, 4, 5},
	}, []string{"kind"})

	// cacheLookups counts signal cache lookups.
	// Labels: result (hit, miss)
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campaign_advisor",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Signal cache lookups by result",
	}, []string{"result"})

	// gateDecisions counts quality-gate outcomes per critique cycle.
	// Labels: decision (validate, regenerate), best_effort (true, false)
	gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campaign_advisor",
		Subsystem: "gate",
		Name:      "decisions_total",
		Help:      "Quality gate decisions per critique cycle",
	}, []string{"decision", "best_effort"})
)

// =============================================================================
// Metrics Recording Functions
// =============================================================================

// RecordRun records a terminal pipeline outcome.
//
// Inputs:
//
//	status - "succeeded" or "failed".
//	reason - Failure reason code, empty on success.
//	durationSec - End-to-end run duration in seconds.
//	iterations - Critique cycles completed.
func RecordRun(status, reason string, durationSec float64, iterations int) {
	pipelineRuns.WithLabelValues(status, reason).Inc()
	pipelineDuration.WithLabelValues(status).Observe(durationSec)
	if iterations > 0 {
		pipelineIterations.Observe(float64(iterations))
	}
}

// RecordStage records one reasoning stage completion.
//
// Inputs:
//
//	stage - "analyze", "draft", or "critique".
//	engine - The reasoning engine name.
//	durationSec - Stage duration in seconds.
func RecordStage(stage, engine string, durationSec float64) {
	stageLatency.WithLabelValues(stage, engine).Observe(durationSec)
}

// RecordCollection records one collector's outcome in a round.
//
// Inputs:
//
//	kind - The signal bundle kind.
//	status - "ok", "degraded", or "missing".
//	attempts - How many attempts the collector used.
func RecordCollection(kind, status string, attempts int) {
	collectorOutcomes.WithLabelValues(kind, status).Inc()
	if attempts > 0 {
		collectorAttempts.WithLabelValues(kind).Observe(float64(attempts))
	}
}

// RecordCacheLookup records a signal cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordGateDecision records one quality-gate evaluation.
//
// Inputs:
//
//	regenerate - True when the gate sent the loop back to drafting.
//	bestEffort - True when the iteration cap forced acceptance.
func RecordGateDecision(regenerate, bestEffort bool) {
	decision := "validate"
	if regenerate {
		decision = "regenerate"
	}
	effort := "false"
	if bestEffort {
		effort = "true"
	}
	gateDecisions.WithLabelValues(decision, effort).Inc()
}
