// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/CampaignAdvisor/pkg/logging"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/collectors"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/config"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/engine"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/pipeline"
)

// buildLogger creates the process logger from the log config section.
func buildLogger(cfg config.LogConfig, quiet bool) *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Level),
		LogDir:  cfg.Dir,
		Service: "advisor",
		JSON:    cfg.JSON,
		Quiet:   quiet,
	})
}

// buildEngine creates the configured reasoning engine. The stub engine
// answers every stage with canned payloads; it exists for dry runs and
// smoke tests, not advice.
func buildEngine(cfg config.EngineConfig) (engine.Engine, error) {
	switch cfg.Provider {
	case "openai":
		return engine.NewOpenAIEngine(cfg.Model, cfg.QPS)
	case "ollama":
		model := cfg.Model
		if model == "" {
			model = "llama3.1"
		}
		return engine.NewOllamaEngine(cfg.ServerURL, model, cfg.QPS)
	case "stub":
		return cannedStub(), nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
	}
}

// cannedStub returns a stub engine that walks a clean run end to end:
// a competitive-pressure diagnosis and a bid adjustment that survives
// critique.
func cannedStub() *engine.StubEngine {
	return engine.NewStubEngine().
		Respond(pipeline.AnalysisSchema, `{
  "root_cause": "competitive_pressure",
  "narrative": "CPA is up sharply while CTR held steady, and three new bidders entered the auction.",
  "supporting_evidence": ["cpa_change +38.2%", "new_entrants 3", "auction_pressure +27.4%"],
  "contradictory_evidence": [],
  "confidence": 0.82
}`).
		Respond(pipeline.DraftSchema, `{
  "recommended_workflow": "bid_adjustment",
  "specific_action": "Raise the bid cap 15% on the top three converting ad sets for 14 days.",
  "reasoning": "The CPA spike tracks auction pressure, not creative or audience decay; a similar bid move recovered CPA in 9 days last quarter.",
  "expected_impact": "CPA within 10% of the pre-spike baseline inside two weeks.",
  "risk_level": "medium",
  "alternative_actions": ["continue_monitoring", "budget_reallocation"],
  "success_metrics": ["cpa", "roas"],
  "confidence": 0.85
}`).
		Respond(pipeline.CritiqueSchema, `{
  "pass": true,
  "findings": [{"severity": "minor", "message": "Impact window is optimistic if auction pressure keeps climbing."}],
  "summary": "Action follows from the evidence and history supports the expected impact."
}`)
}

// buildCache creates the bundle cache, with a badger-backed persistent
// tier when a directory is configured. Returns a nil cache when the
// section is disabled.
func buildCache(cfg config.CacheConfig, log *logging.Logger) (*collectors.Cache, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}
	cache := collectors.NewCache(cfg.TTL, cfg.MaxEntries, log.Slog())
	if cfg.Dir == "" {
		return cache, func() {}, nil
	}

	db, err := badger.Open(badger.DefaultOptions(cfg.Dir).WithLogger(nil))
	if err != nil {
		return nil, nil, fmt.Errorf("open cache store: %w", err)
	}
	cache.WithBadger(db)
	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Warn("failed to close cache store", "error", err)
		}
	}
	return cache, cleanup, nil
}

// buildPipeline assembles the full pipeline from config. The fixture
// provider is the in-tree data source; production providers implement
// the collector contracts and slot in here.
func buildPipeline(cfg config.Config, e engine.Engine, cache *collectors.Cache, log *logging.Logger) (*pipeline.Pipeline, error) {
	retry := pipeline.RetryConfig{
		MaxAttempts:    cfg.Collect.MaxAttempts,
		InitialBackoff: cfg.Collect.InitialBackoff,
		MaxBackoff:     cfg.Collect.MaxBackoff,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
	cs := collectors.FixtureCollectors(collectors.NewFixtureProvider(), cache)
	agg := pipeline.NewAggregator(cs, retry, cfg.Collect.Timeout, log)
	stages := pipeline.NewStages(e, log)
	gate := pipeline.GateConfig{
		MaxIterations:       cfg.Gate.MaxIterations,
		ConfidenceThreshold: cfg.Gate.ConfidenceThreshold,
	}
	return pipeline.New(agg, stages, gate, log)
}
