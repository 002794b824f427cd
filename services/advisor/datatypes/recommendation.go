// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"time"
)

// =============================================================================
// Signal Analysis
// =============================================================================

// RootCause is the enumerated root-cause category of a signal analysis.
type RootCause string

const (
	CauseCompetitivePressure RootCause = "competitive_pressure"
	CauseCreativeFatigue     RootCause = "creative_fatigue"
	CauseAudienceSaturation  RootCause = "audience_saturation"
	CauseBudgetConstraint    RootCause = "budget_constraint"
	CauseSeasonality         RootCause = "seasonality"
	CauseTrackingAnomaly     RootCause = "tracking_anomaly"
	CauseUnknown             RootCause = "unknown"
)

// AllRootCauses returns every root-cause category in stable order.
func AllRootCauses() []RootCause {
	return []RootCause{
		CauseCompetitivePressure,
		CauseCreativeFatigue,
		CauseAudienceSaturation,
		CauseBudgetConstraint,
		CauseSeasonality,
		CauseTrackingAnomaly,
		CauseUnknown,
	}
}

// Valid reports whether c is a known root-cause category.
func (c RootCause) Valid() bool {
	for _, known := range AllRootCauses() {
		if c == known {
			return true
		}
	}
	return false
}

// SignalAnalysis is the output of the analyze stage: a root-cause reading
// of the context snapshot. Produced once per reasoning iteration and
// superseded on regeneration, never mutated in place.
type SignalAnalysis struct {
	// RootCause is the enumerated category the engine settled on.
	RootCause RootCause `json:"root_cause"`

	// Narrative explains the diagnosis in plain language.
	Narrative string `json:"narrative"`

	// SupportingEvidence lists observations consistent with the diagnosis.
	SupportingEvidence []string `json:"supporting_evidence"`

	// ContradictoryEvidence lists observations that argue against it.
	ContradictoryEvidence []string `json:"contradictory_evidence"`

	// Confidence is the engine's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`
}

// =============================================================================
// Recommendation Draft
// =============================================================================

// WorkflowAction is the fixed, closed set of actions a recommendation may
// choose from. Any other value is a hard validation failure, not a warning.
type WorkflowAction string

const (
	ActionBidAdjustment      WorkflowAction = "bid_adjustment"
	ActionCreativeRefresh    WorkflowAction = "creative_refresh"
	ActionAudienceExpansion  WorkflowAction = "audience_expansion"
	ActionCampaignPause      WorkflowAction = "campaign_pause"
	ActionBudgetReallocation WorkflowAction = "budget_reallocation"
	ActionContinueMonitoring WorkflowAction = "continue_monitoring"
)

// AllWorkflowActions returns the closed action set in stable order.
func AllWorkflowActions() []WorkflowAction {
	return []WorkflowAction{
		ActionBidAdjustment,
		ActionCreativeRefresh,
		ActionAudienceExpansion,
		ActionCampaignPause,
		ActionBudgetReallocation,
		ActionContinueMonitoring,
	}
}

// Valid reports whether a is a member of the closed action set.
func (a WorkflowAction) Valid() bool {
	for _, known := range AllWorkflowActions() {
		if a == known {
			return true
		}
	}
	return false
}

// RiskLevel is the enumerated risk classification of a draft.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether r is a known risk level.
func (r RiskLevel) Valid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// RecommendationDraft is the output of the draft stage. One draft exists
// per iteration.
//
// Validation tags mirror the output validator's contract; the validator
// additionally enforces enum membership and the rule that an action cannot
// appear in its own alternatives.
type RecommendationDraft struct {
	// Workflow is the chosen action from the closed set.
	Workflow WorkflowAction `json:"recommended_workflow" validate:"required"`

	// SpecificAction is the free-text concrete step to take.
	SpecificAction string `json:"specific_action" validate:"required"`

	// Reasoning explains why this action follows from the analysis.
	Reasoning string `json:"reasoning" validate:"required"`

	// ExpectedImpact describes the anticipated effect if approved.
	ExpectedImpact string `json:"expected_impact" validate:"required"`

	// Risk classifies the downside of acting on this draft.
	Risk RiskLevel `json:"risk_level" validate:"required"`

	// Alternatives are actions considered and rejected. The chosen
	// action must not appear here.
	Alternatives []WorkflowAction `json:"alternative_actions"`

	// SuccessMetrics are the measurements that would confirm the action
	// worked. At least one is required.
	SuccessMetrics []string `json:"success_metrics" validate:"min=1"`

	// Confidence is the engine's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// =============================================================================
// Critique
// =============================================================================

// FindingSeverity tags a critique finding.
type FindingSeverity string

const (
	SeverityCritical FindingSeverity = "critical"
	SeverityMajor    FindingSeverity = "major"
	SeverityMinor    FindingSeverity = "minor"
)

// Valid reports whether s is a known severity.
func (s FindingSeverity) Valid() bool {
	return s == SeverityCritical || s == SeverityMajor || s == SeverityMinor
}

// Finding is one issue the critique stage raised against a draft.
type Finding struct {
	Severity FindingSeverity `json:"severity"`
	Message  string          `json:"message"`
}

// Critique is the output of the critique stage and the sole input to the
// quality gate's loop decision. One critique exists per iteration.
type Critique struct {
	// Pass is the critic's overall verdict. A critical finding overrides
	// Pass: the gate treats the draft as failing regardless.
	Pass bool `json:"pass"`

	// Findings are severity-tagged issues with the draft.
	Findings []Finding `json:"findings"`

	// Summary is the critic's free-text overall assessment.
	Summary string `json:"summary"`
}

// HasCritical reports whether any finding is tagged critical.
func (c *Critique) HasCritical() bool {
	for _, f := range c.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// =============================================================================
// Terminal artifacts
// =============================================================================

// Recommendation is the terminal success artifact: the last draft that
// passed validation, annotated with run metadata. Immutable once emitted;
// its identity (RunID) must remain stable so external collaborators can
// join a later human decision back to it.
type Recommendation struct {
	// RunID uniquely identifies the pipeline run that produced this
	// recommendation.
	RunID string `json:"run_id"`

	// Seq increases monotonically per process, ordering runs.
	Seq uint64 `json:"seq"`

	Campaign CampaignID `json:"campaign"`

	// Draft is the validated recommendation content.
	Draft RecommendationDraft `json:"draft"`

	// Analysis is the signal analysis the final draft was built from.
	Analysis SignalAnalysis `json:"analysis"`

	// Iterations is how many analyze/draft/critique cycles ran.
	Iterations int `json:"iterations"`

	// Context is the snapshot the recommendation was computed from.
	Context *Context `json:"context"`

	CreatedAt time.Time `json:"created_at"`
}

// FailureReason is the enumerated reason code of a terminal failure.
type FailureReason string

const (
	// ReasonInsufficientContext means zero signal sources collected ok.
	ReasonInsufficientContext FailureReason = "insufficient-context"

	// ReasonEngineUnavailable means a reasoning stage failed after its
	// local retry, including schema violations the engine could not
	// correct.
	ReasonEngineUnavailable FailureReason = "reasoning-engine-unavailable"

	// ReasonValidationExhausted means the final draft failed output
	// validation past the quality gate's iteration cap.
	ReasonValidationExhausted FailureReason = "validation-exhausted"

	// ReasonIterationLimitExceeded means the run attempted to reason
	// past the configured iteration cap. The gate normally accepts a
	// best-effort result at the cap, so this reason signals a control
	// flow violation rather than an engine outcome.
	ReasonIterationLimitExceeded FailureReason = "iteration-limit-exceeded"
)

// PipelineFailure is the terminal non-success outcome. It retains the
// last intermediate state for offline diagnosis and implements error so
// it can flow through ordinary error returns.
type PipelineFailure struct {
	RunID    string        `json:"run_id"`
	Seq      uint64        `json:"seq"`
	Campaign CampaignID    `json:"campaign"`
	Reason   FailureReason `json:"reason"`

	// Message is a human-readable status suitable for a reviewer-facing
	// surface. Never a raw exception dump.
	Message string `json:"message"`

	// Iterations is how many reasoning cycles completed before failure.
	Iterations int `json:"iterations"`

	// Context, LastDraft, and LastCritique retain whatever intermediate
	// state existed when the run terminated.
	Context      *Context             `json:"context,omitempty"`
	LastDraft    *RecommendationDraft `json:"last_draft,omitempty"`
	LastCritique *Critique            `json:"last_critique,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Error implements the error interface.
func (f *PipelineFailure) Error() string {
	return fmt.Sprintf("pipeline failed (%s): %s", f.Reason, f.Message)
}
