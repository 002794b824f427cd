// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/CampaignAdvisor/pkg/logging"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/datatypes"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/engine"
)

// Stage response schemas. Each stage's schema is distinct, which also
// lets scripted test engines route canned responses per stage.
const (
	// AnalysisSchema is the JSON contract of the analyze stage.
	AnalysisSchema = `{
  "root_cause": "competitive_pressure | creative_fatigue | audience_saturation | budget_constraint | seasonality | tracking_anomaly | unknown",
  "narrative": "string",
  "supporting_evidence": ["string"],
  "contradictory_evidence": ["string"],
  "confidence": 0.0
}`

	// DraftSchema is the JSON contract of the draft stage.
	DraftSchema = `{
  "recommended_workflow": "bid_adjustment | creative_refresh | audience_expansion | campaign_pause | budget_reallocation | continue_monitoring",
  "specific_action": "string",
  "reasoning": "string",
  "expected_impact": "string",
  "risk_level": "low | medium | high",
  "alternative_actions": ["string"],
  "success_metrics": ["string"],
  "confidence": 0.0
}`

	// CritiqueSchema is the JSON contract of the critique stage.
	CritiqueSchema = `{
  "pass": true,
  "findings": [{"severity": "critical | major | minor", "message": "string"}],
  "summary": "string"
}`
)

// errSchemaViolation marks a response that parsed as JSON but violated
// the stage's semantic contract (bad enum, confidence out of range).
// Schema violations get the stage's one retry like transient engine
// faults do; the model often self-corrects on a second pass.
var errSchemaViolation = errors.New("stage response violates schema")

// stageRetryable decides which stage errors earn the local retry.
func stageRetryable(err error) bool {
	return engine.IsRetryable(err) ||
		errors.Is(err, engine.ErrMalformedOutput) ||
		errors.Is(err, errSchemaViolation)
}

// DefaultStageRetryConfig returns the stage-local retry policy: one
// retry with a short backoff, then the run fails.
func DefaultStageRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
		Retryable:      stageRetryable,
	}
}

// Stages runs the three reasoning stages against one engine.
//
// Each stage call is independent: build the prompt, complete, parse,
// and validate the parsed value against the stage contract. A stage
// that fails past its local retry returns ErrStageExhausted and the
// run terminates as reasoning-engine-unavailable.
type Stages struct {
	engine engine.Engine
	retry  RetryConfig
	log    *logging.Logger
}

// NewStages creates the stage runner. A nil logger falls back to the
// default stderr logger.
func NewStages(e engine.Engine, log *logging.Logger) *Stages {
	if log == nil {
		log = logging.Default()
	}
	return &Stages{
		engine: e,
		retry:  DefaultStageRetryConfig(),
		log:    log,
	}
}

// WithRetry overrides the stage-local retry policy.
func (s *Stages) WithRetry(cfg RetryConfig) *Stages {
	cfg.Retryable = stageRetryable
	s.retry = cfg
	return s
}

// Analyze runs root-cause analysis over the context snapshot. A
// non-nil prior critique makes this a regeneration pass: the findings
// that rejected the previous draft are fed back into the prompt.
func (s *Stages) Analyze(ctx context.Context, snapshot *datatypes.Context, prior *datatypes.Critique) (*datatypes.SignalAnalysis, error) {
	req := engine.Request{
		SystemPrompt: analyzeSystemPrompt,
		Prompt:       buildAnalyzePrompt(snapshot, prior),
		Schema:       AnalysisSchema,
	}

	var analysis *datatypes.SignalAnalysis
	err := s.complete(ctx, "analyze", req, func(content string) error {
		parsed := &datatypes.SignalAnalysis{}
		if err := engine.Decode(content, parsed); err != nil {
			return err
		}
		if err := validateAnalysis(parsed); err != nil {
			return fmt.Errorf("%w: %v", errSchemaViolation, err)
		}
		analysis = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

// Draft produces a recommendation draft from the analysis. A non-nil
// prior critique makes this a regeneration: its findings are fed back
// into the prompt.
func (s *Stages) Draft(ctx context.Context, snapshot *datatypes.Context, analysis *datatypes.SignalAnalysis, prior *datatypes.Critique) (*datatypes.RecommendationDraft, error) {
	req := engine.Request{
		SystemPrompt: draftSystemPrompt,
		Prompt:       buildDraftPrompt(snapshot, analysis, prior),
		Schema:       DraftSchema,
	}

	var draft *datatypes.RecommendationDraft
	err := s.complete(ctx, "draft", req, func(content string) error {
		parsed := &datatypes.RecommendationDraft{}
		if err := engine.Decode(content, parsed); err != nil {
			return err
		}
		if err := validateDraft(parsed); err != nil {
			return fmt.Errorf("%w: %v", errSchemaViolation, err)
		}
		draft = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// Critique reviews the draft against the evidence.
func (s *Stages) Critique(ctx context.Context, snapshot *datatypes.Context, analysis *datatypes.SignalAnalysis, draft *datatypes.RecommendationDraft) (*datatypes.Critique, error) {
	req := engine.Request{
		SystemPrompt: critiqueSystemPrompt,
		Prompt:       buildCritiquePrompt(snapshot, analysis, draft),
		Schema:       CritiqueSchema,
	}

	var critique *datatypes.Critique
	err := s.complete(ctx, "critique", req, func(content string) error {
		parsed := &datatypes.Critique{}
		if err := engine.Decode(content, parsed); err != nil {
			return err
		}
		if err := validateCritique(parsed); err != nil {
			return fmt.Errorf("%w: %v", errSchemaViolation, err)
		}
		critique = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return critique, nil
}

// complete runs one stage with the local retry. The handle callback
// decodes and validates the raw response; each attempt parses into a
// fresh value so a partial decode cannot leak across attempts.
func (s *Stages) complete(ctx context.Context, stage string, req engine.Request, handle func(content string) error) error {
	result, err := Retry(ctx, s.retry, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			s.log.Warn("retrying reasoning stage",
				"stage", stage,
				"attempt", attempt,
				"engine", s.engine.Name(),
			)
		}

		resp, err := s.engine.Complete(ctx, req)
		if err != nil {
			return fmt.Errorf("%s completion: %w", stage, err)
		}
		if err := handle(resp.Content); err != nil {
			return fmt.Errorf("%s response: %w", stage, err)
		}
		return nil
	})

	if err != nil {
		s.log.Error("reasoning stage failed",
			"stage", stage,
			"attempts", result.Attempts,
			"error", err,
		)
		return fmt.Errorf("%w: %s after %d attempts: %v", ErrStageExhausted, stage, result.Attempts, err)
	}
	return nil
}

// validateAnalysis enforces the analyze stage contract.
func validateAnalysis(a *datatypes.SignalAnalysis) error {
	if !a.RootCause.Valid() {
		return fmt.Errorf("unknown root cause %q", a.RootCause)
	}
	if a.Narrative == "" {
		return errors.New("empty narrative")
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", a.Confidence)
	}
	return nil
}

// validateDraft enforces the draft stage contract. The closed action
// set is a hard rule: an action outside it is never accepted.
func validateDraft(d *datatypes.RecommendationDraft) error {
	if !d.Workflow.Valid() {
		return fmt.Errorf("action %q outside the closed set", d.Workflow)
	}
	if !d.Risk.Valid() {
		return fmt.Errorf("unknown risk level %q", d.Risk)
	}
	if d.SpecificAction == "" || d.Reasoning == "" || d.ExpectedImpact == "" {
		return errors.New("missing required draft field")
	}
	if len(d.SuccessMetrics) == 0 {
		return errors.New("at least one success metric required")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", d.Confidence)
	}
	for _, alt := range d.Alternatives {
		if !alt.Valid() {
			return fmt.Errorf("alternative %q outside the closed set", alt)
		}
		if alt == d.Workflow {
			return fmt.Errorf("action %q listed as its own alternative", alt)
		}
	}
	return nil
}

// validateCritique enforces the critique stage contract.
func validateCritique(c *datatypes.Critique) error {
	for _, f := range c.Findings {
		if !f.Severity.Valid() {
			return fmt.Errorf("unknown severity %q", f.Severity)
		}
		if f.Message == "" {
			return errors.New("finding with empty message")
		}
	}
	return nil
}
