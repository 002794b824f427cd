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
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/CampaignAdvisor/pkg/logging"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/datatypes"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/observability"
)

// DefaultWindowDays is the analysis window length when the caller does
// not supply one.
const DefaultWindowDays = 14

// Pipeline orchestrates one recommendation run end to end: collection,
// the bounded reasoning loop, and output validation.
//
// Description:
//
//	A Pipeline is built once at startup and shared across requests.
//	Each Run works on its own snapshot and state, so concurrent runs
//	never interfere. Runs are identified two ways: RunID (a UUID,
//	stable for external joins) and Seq (a per-process monotonic
//	counter ordering runs).
//
// Thread Safety: Pipeline is safe for concurrent use.
type Pipeline struct {
	aggregator *Aggregator
	stages     *Stages
	validator  *OutputValidator
	sm         *GateStateMachine
	log        *logging.Logger
	tracer     trace.Tracer

	// gateMu guards gate: the config watcher swaps it while handler
	// goroutines start runs.
	gateMu sync.Mutex
	gate   GateConfig

	seq atomic.Uint64
}

// New assembles a pipeline. A nil logger falls back to the default
// stderr logger; gate config is validated and must be legal.
func New(aggregator *Aggregator, stages *Stages, gate GateConfig, log *logging.Logger) (*Pipeline, error) {
	if err := gate.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Default()
	}
	return &Pipeline{
		aggregator: aggregator,
		stages:     stages,
		validator:  NewOutputValidator(),
		gate:       gate,
		sm:         DefaultGateStateMachine,
		log:        log,
		tracer:     otel.Tracer("campaign-advisor/pipeline"),
	}, nil
}

// SetGateConfig replaces the loop bounds for subsequent runs. Invalid
// configs are rejected; in-flight runs keep the bounds they started
// with. Used by config hot reload.
func (p *Pipeline) SetGateConfig(cfg GateConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.gateMu.Lock()
	p.gate = cfg
	p.gateMu.Unlock()
	return nil
}

// gateConfig snapshots the current loop bounds for one run.
func (p *Pipeline) gateConfig() GateConfig {
	p.gateMu.Lock()
	defer p.gateMu.Unlock()
	return p.gate
}

// run carries the mutable state of one pipeline run.
type run struct {
	id       string
	seq      uint64
	campaign datatypes.CampaignID
	state    GateState
	started  time.Time

	snapshot *datatypes.Context
	analysis *datatypes.SignalAnalysis
	draft    *datatypes.RecommendationDraft
	critique *datatypes.Critique

	// iterations counts completed critique cycles.
	iterations int
}

// Run executes one recommendation run for a campaign.
//
// Description:
//
//	The zero window defaults to the trailing DefaultWindowDays. Every
//	run terminates in bounded time with exactly one artifact: a
//	Recommendation on success, or a *datatypes.PipelineFailure as the
//	returned error. Use errors.As to recover the typed failure; any
//	other error shape indicates a bug.
func (p *Pipeline) Run(ctx context.Context, campaign datatypes.CampaignID, window datatypes.Window) (*datatypes.Recommendation, error) {
	if window.Start.IsZero() && window.End.IsZero() {
		now := time.Now().UTC()
		window = datatypes.Window{Start: now.AddDate(0, 0, -DefaultWindowDays), End: now}
	}

	r := &run{
		id:       uuid.NewString(),
		seq:      p.seq.Add(1),
		campaign: campaign,
		state:    StateAnalyzing,
		started:  time.Now(),
	}
	gate := p.gateConfig()
	rlog := p.log.ForRun(r.id, string(campaign))

	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("campaign.id", string(campaign)),
		attribute.String("run.id", r.id),
	))
	defer span.End()

	rlog.Info("pipeline run started",
		"seq", r.seq,
		"window_start", window.Start.Format(time.RFC3339),
		"window_end", window.End.Format(time.RFC3339),
	)

	// Collection happens exactly once per run; the snapshot is frozen
	// before any reasoning starts.
	snapshot, err := p.collect(ctx, r, campaign, window)
	if err != nil {
		return nil, p.fail(span, rlog, r, datatypes.ReasonInsufficientContext,
			"no signal source could be collected for this campaign and window")
	}
	r.snapshot = snapshot

	// Reasoning loop, bounded by the gate. Each cycle re-runs Analyze,
	// Draft, and Critique over the frozen snapshot; on regeneration the
	// rejecting critique is fed back into the analyze and draft prompts.
	var prior *datatypes.Critique
	for {
		if err := p.analyze(ctx, r, rlog, prior); err != nil {
			return nil, p.fail(span, rlog, r, datatypes.ReasonEngineUnavailable,
				"the reasoning engine could not complete root-cause analysis")
		}
		if _, err := p.transition(r, StateDrafting); err != nil {
			return nil, p.fail(span, rlog, r, datatypes.ReasonIterationLimitExceeded, err.Error())
		}
		if err := p.draft(ctx, r, rlog, prior); err != nil {
			return nil, p.fail(span, rlog, r, datatypes.ReasonEngineUnavailable,
				"the reasoning engine could not produce a recommendation draft")
		}
		if _, err := p.transition(r, StateCritiquing); err != nil {
			return nil, p.fail(span, rlog, r, datatypes.ReasonIterationLimitExceeded, err.Error())
		}
		if err := p.critique(ctx, r, rlog); err != nil {
			// A critique failure is run-fatal even when the current
			// draft clears the confidence threshold: scoring an
			// unreviewed draft as reviewed would overstate it.
			return nil, p.fail(span, rlog, r, datatypes.ReasonEngineUnavailable,
				"the reasoning engine could not critique the draft")
		}
		r.iterations++

		decision := Decide(gate, r.iterations, r.draft, r.critique)
		observability.RecordGateDecision(decision.Next == StateRegenerating, decision.BestEffort)
		rlog.Info("quality gate decision",
			"iteration", r.iterations,
			"next", decision.Next.String(),
			"best_effort", decision.BestEffort,
			"reason", decision.Reason,
		)

		if decision.Next != StateRegenerating {
			break
		}

		// The gate only regenerates below the cap, but guard anyway:
		// reasoning past the cap is a control flow violation.
		if r.iterations >= gate.MaxIterations {
			return nil, p.fail(span, rlog, r, datatypes.ReasonIterationLimitExceeded,
				fmt.Sprintf("attempted to reason past the iteration cap of %d", gate.MaxIterations))
		}
		if _, err := p.transition(r, StateRegenerating); err != nil {
			return nil, p.fail(span, rlog, r, datatypes.ReasonIterationLimitExceeded, err.Error())
		}
		if _, err := p.transition(r, StateAnalyzing); err != nil {
			return nil, p.fail(span, rlog, r, datatypes.ReasonIterationLimitExceeded, err.Error())
		}
		prior = r.critique
	}

	// Validate
	if _, err := p.transition(r, StateValidating); err != nil {
		return nil, p.fail(span, rlog, r, datatypes.ReasonIterationLimitExceeded, err.Error())
	}
	if err := p.validator.ValidateDraft(r.draft); err != nil {
		rlog.Error("final draft failed output validation", "error", err)
		return nil, p.fail(span, rlog, r, datatypes.ReasonValidationExhausted,
			"the final draft failed output validation: "+err.Error())
	}

	r.state = StateSucceeded
	rec := &datatypes.Recommendation{
		RunID:      r.id,
		Seq:        r.seq,
		Campaign:   campaign,
		Draft:      *r.draft,
		Analysis:   *r.analysis,
		Iterations: r.iterations,
		Context:    r.snapshot,
		CreatedAt:  time.Now(),
	}

	duration := time.Since(r.started)
	observability.RecordRun("succeeded", "", duration.Seconds(), r.iterations)
	span.SetAttributes(attribute.Int("run.iterations", r.iterations))
	rlog.Info("pipeline run succeeded",
		"workflow", string(rec.Draft.Workflow),
		"iterations", r.iterations,
		"duration_ms", duration.Milliseconds(),
	)
	return rec, nil
}

// collect runs the aggregation round and records collector metrics.
func (p *Pipeline) collect(ctx context.Context, r *run, campaign datatypes.CampaignID, window datatypes.Window) (*datatypes.Context, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.collect")
	defer span.End()

	snapshot, err := p.aggregator.Build(ctx, campaign, window)
	if snapshot != nil {
		r.snapshot = snapshot
		for kind, report := range snapshot.Sources {
			observability.RecordCollection(string(kind), string(report.Status), report.Attempts)
		}
		span.SetAttributes(attribute.Int("collect.ok_sources", snapshot.OKCount()))
	}
	if err != nil && !errors.Is(err, ErrInsufficientContext) {
		// Parent context expired before or during collection; terminal
		// either way, and the snapshot is not usable.
		return nil, err
	}
	return snapshot, err
}

// analyze runs the analysis stage; a non-nil prior critique makes it
// a regeneration pass.
func (p *Pipeline) analyze(ctx context.Context, r *run, rlog *logging.Logger, prior *datatypes.Critique) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.analyze",
		trace.WithAttributes(attribute.Bool("analyze.regeneration", prior != nil)))
	defer span.End()

	start := time.Now()
	analysis, err := p.stages.Analyze(ctx, r.snapshot, prior)
	observability.RecordStage("analyze", p.stages.engine.Name(), time.Since(start).Seconds())
	if err != nil {
		return err
	}
	r.analysis = analysis
	rlog.Info("analysis complete",
		"root_cause", string(analysis.RootCause),
		"confidence", analysis.Confidence,
	)
	return nil
}

// draft runs the draft stage; a non-nil prior critique makes it a
// regeneration.
func (p *Pipeline) draft(ctx context.Context, r *run, rlog *logging.Logger, prior *datatypes.Critique) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.draft",
		trace.WithAttributes(attribute.Bool("draft.regeneration", prior != nil)))
	defer span.End()

	start := time.Now()
	draft, err := p.stages.Draft(ctx, r.snapshot, r.analysis, prior)
	observability.RecordStage("draft", p.stages.engine.Name(), time.Since(start).Seconds())
	if err != nil {
		return err
	}
	r.draft = draft
	rlog.Info("draft produced",
		"workflow", string(draft.Workflow),
		"risk", string(draft.Risk),
		"confidence", draft.Confidence,
		"regeneration", prior != nil,
	)
	return nil
}

// critique runs the critique stage.
func (p *Pipeline) critique(ctx context.Context, r *run, rlog *logging.Logger) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.critique")
	defer span.End()

	start := time.Now()
	critique, err := p.stages.Critique(ctx, r.snapshot, r.analysis, r.draft)
	observability.RecordStage("critique", p.stages.engine.Name(), time.Since(start).Seconds())
	if err != nil {
		return err
	}
	r.critique = critique
	rlog.Info("critique complete",
		"pass", critique.Pass,
		"findings", len(critique.Findings),
		"critical", critique.HasCritical(),
	)
	return nil
}

// transition moves the run to the next gate state through the state
// machine.
func (p *Pipeline) transition(r *run, to GateState) (GateState, error) {
	next, err := p.sm.Transition(r.state, to)
	if err != nil {
		return r.state, err
	}
	r.state = next
	return next, nil
}

// fail builds the terminal failure artifact and records it.
func (p *Pipeline) fail(span trace.Span, rlog *logging.Logger, r *run, reason datatypes.FailureReason, message string) *datatypes.PipelineFailure {
	r.state = StateFailed
	failure := &datatypes.PipelineFailure{
		RunID:        r.id,
		Seq:          r.seq,
		Campaign:     r.campaign,
		Reason:       reason,
		Message:      message,
		Iterations:   r.iterations,
		Context:      r.snapshot,
		LastDraft:    r.draft,
		LastCritique: r.critique,
		CreatedAt:    time.Now(),
	}

	duration := time.Since(r.started)
	observability.RecordRun("failed", string(reason), duration.Seconds(), r.iterations)
	span.SetAttributes(attribute.String("run.failure_reason", string(reason)))
	rlog.Error("pipeline run failed",
		"reason", string(reason),
		"message", message,
		"iterations", r.iterations,
		"duration_ms", duration.Milliseconds(),
	)
	return failure
}
