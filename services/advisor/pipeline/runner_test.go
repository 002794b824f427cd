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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/CampaignAdvisor/services/advisor/collectors"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/datatypes"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/engine"
)

// testPipeline assembles a pipeline over the given collectors and engine
// with fast retry budgets: three attempts per collector, two per stage.
func testPipeline(t *testing.T, cs []collectors.Collector, e engine.Engine, gate GateConfig) *Pipeline {
	t.Helper()
	agg := NewAggregator(cs, fastRetryConfig(3), time.Second, nil)
	stages := NewStages(e, nil).WithRetry(fastRetryConfig(2))
	p, err := New(agg, stages, gate, nil)
	require.NoError(t, err)
	return p
}

// stubAllStages wires one valid canned answer per stage.
func stubAllStages(cause string, workflow string) *engine.StubEngine {
	return engine.NewStubEngine().
		Respond(AnalysisSchema, analysisJSON(cause, 0.82)).
		Respond(DraftSchema, draftJSON(workflow, 0.85)).
		Respond(CritiqueSchema, critiqueJSON(true))
}

// recordingEngine captures every request while delegating to an inner
// engine, letting tests assert on the prompts the pipeline built.
type recordingEngine struct {
	inner engine.Engine

	mu       sync.Mutex
	requests []engine.Request
}

func (r *recordingEngine) Name() string  { return r.inner.Name() }
func (r *recordingEngine) Model() string { return r.inner.Model() }

func (r *recordingEngine) Complete(ctx context.Context, req engine.Request) (*engine.Response, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	return r.inner.Complete(ctx, req)
}

func (r *recordingEngine) bySchema(schema string) []engine.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []engine.Request
	for _, req := range r.requests {
		if req.Schema == schema {
			out = append(out, req)
		}
	}
	return out
}

// The default fixture describes a campaign whose CPA jumped while CTR
// held and three competitors entered the auction. A clean run should
// diagnose competitive pressure and recommend a bid adjustment.
func TestPipeline_CompetitivePressureYieldsBidAdjustment(t *testing.T) {
	provider := collectors.NewFixtureProvider()
	stub := stubAllStages("competitive_pressure", "bid_adjustment")
	p := testPipeline(t, collectors.FixtureCollectors(provider, nil), stub, DefaultGateConfig())

	rec, err := p.Run(context.Background(), "camp-1", aggWindow())
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, datatypes.CauseCompetitivePressure, rec.Analysis.RootCause)
	assert.Equal(t, datatypes.ActionBidAdjustment, rec.Draft.Workflow)
	assert.Equal(t, 1, rec.Iterations)
	assert.NotEmpty(t, rec.RunID)
	assert.EqualValues(t, 1, rec.Seq)
	assert.Equal(t, datatypes.CampaignID("camp-1"), rec.Campaign)
	require.NotNil(t, rec.Context)
	assert.Equal(t, len(datatypes.AllBundleKinds()), rec.Context.OKCount())
	assert.EqualValues(t, 3, stub.Calls(), "a clean run is analyze, draft, critique")
}

func TestPipeline_CreativeFatigueYieldsCreativeRefresh(t *testing.T) {
	provider := collectors.NewFixtureProvider()
	provider.Performance.CPAChangePct = 9.1
	provider.Creative = datatypes.CreativeHealth{
		CreativeAgeDays: 42,
		Frequency:       7.8,
		FatigueScore:    0.81,
		ActiveVariants:  2,
	}
	provider.Competitive = datatypes.CompetitiveSignals{
		NewEntrants:              0,
		AuctionPressureChangePct: 0.4,
		ShareOfVoicePct:          19.2,
	}

	recorder := &recordingEngine{inner: stubAllStages("creative_fatigue", "creative_refresh")}
	p := testPipeline(t, collectors.FixtureCollectors(provider, nil), recorder, DefaultGateConfig())

	rec, err := p.Run(context.Background(), "camp-2", aggWindow())
	require.NoError(t, err)

	assert.Equal(t, datatypes.CauseCreativeFatigue, rec.Analysis.RootCause)
	assert.Equal(t, datatypes.ActionCreativeRefresh, rec.Draft.Workflow)

	// The analyze prompt must carry the fatigue evidence the stub based
	// its canned diagnosis on.
	analyzeReqs := recorder.bySchema(AnalysisSchema)
	require.Len(t, analyzeReqs, 1)
	assert.Contains(t, analyzeReqs[0].Prompt, "42")
	assert.Contains(t, analyzeReqs[0].Prompt, "7.8")
}

func TestPipeline_CriticalCritiqueLoopsToCapThenBestEffort(t *testing.T) {
	stub := engine.NewStubEngine().
		Respond(AnalysisSchema, analysisJSON("competitive_pressure", 0.82)).
		Respond(DraftSchema, draftJSON("bid_adjustment", 0.85)).
		Respond(CritiqueSchema, critiqueJSON(false, "critical"))

	gate := DefaultGateConfig()
	recorder := &recordingEngine{inner: stub}
	p := testPipeline(t, collectors.FixtureCollectors(collectors.NewFixtureProvider(), nil), recorder, gate)

	rec, err := p.Run(context.Background(), "camp-3", aggWindow())
	require.NoError(t, err, "gate exhaustion is best-effort success, not failure")

	assert.Equal(t, gate.MaxIterations, rec.Iterations)
	// Analyze, draft, and critique all re-run per iteration at cap 2:
	// six calls, two of each stage.
	assert.EqualValues(t, 6, stub.Calls())
	assert.Len(t, recorder.bySchema(AnalysisSchema), 2, "regeneration restarts at analysis")
	assert.Len(t, recorder.bySchema(DraftSchema), 2)
	assert.Len(t, recorder.bySchema(CritiqueSchema), 2)
}

func TestPipeline_LowConfidenceDraftRegeneratesOnce(t *testing.T) {
	recorder := &recordingEngine{inner: engine.NewStubEngine().
		Respond(AnalysisSchema, analysisJSON("competitive_pressure", 0.82)).
		Respond(DraftSchema, draftJSON("bid_adjustment", 0.35), draftJSON("bid_adjustment", 0.88)).
		Respond(CritiqueSchema,
			critiqueJSON(false, "major"),
			critiqueJSON(true)),
	}
	p := testPipeline(t, collectors.FixtureCollectors(collectors.NewFixtureProvider(), nil), recorder, DefaultGateConfig())

	rec, err := p.Run(context.Background(), "camp-4", aggWindow())
	require.NoError(t, err)

	assert.Equal(t, 2, rec.Iterations)
	assert.InDelta(t, 0.88, rec.Draft.Confidence, 1e-9)

	// The regeneration analyze and draft prompts both carry the
	// critique findings back.
	analyzeReqs := recorder.bySchema(AnalysisSchema)
	require.Len(t, analyzeReqs, 2)
	assert.NotContains(t, analyzeReqs[0].Prompt, "rejected")
	assert.Contains(t, analyzeReqs[1].Prompt, "A draft based on a previous diagnosis was rejected")
	assert.Contains(t, analyzeReqs[1].Prompt, "finding 1")

	draftReqs := recorder.bySchema(DraftSchema)
	require.Len(t, draftReqs, 2)
	assert.NotContains(t, draftReqs[0].Prompt, "A previous draft was rejected")
	assert.Contains(t, draftReqs[1].Prompt, "A previous draft was rejected")
	assert.Contains(t, draftReqs[1].Prompt, "finding 1")
}

func TestPipeline_OneMissingSourceStillRecommends(t *testing.T) {
	provider := collectors.NewFixtureProvider()
	timedOut := &scriptedCollector{kind: datatypes.KindHistory, fn: func(ctx context.Context) (datatypes.SignalBundle, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	cs := []collectors.Collector{
		collectors.NewPerformanceCollector(provider, nil),
		collectors.NewCreativeCollector(provider, nil),
		collectors.NewCompetitiveCollector(provider, nil),
		collectors.NewAudienceCollector(provider, nil),
		timedOut,
	}

	stub := stubAllStages("competitive_pressure", "bid_adjustment")
	agg := NewAggregator(cs, fastRetryConfig(3), 50*time.Millisecond, nil)
	p, err := New(agg, NewStages(stub, nil).WithRetry(fastRetryConfig(2)), DefaultGateConfig(), nil)
	require.NoError(t, err)

	rec, err := p.Run(context.Background(), "camp-5", aggWindow())
	require.NoError(t, err, "four ok sources are enough to recommend")

	assert.Equal(t, 4, rec.Context.OKCount())
	assert.Equal(t, datatypes.StatusMissing, rec.Context.StatusOf(datatypes.KindHistory))
	assert.Equal(t, datatypes.ActionBidAdjustment, rec.Draft.Workflow)
}

func TestPipeline_PersistentMalformedStageFailsRun(t *testing.T) {
	// The draft stage never produces JSON; after its one retry the run
	// terminates as reasoning-engine-unavailable with the analysis and
	// context retained for diagnosis.
	stub := engine.NewStubEngine().
		Respond(AnalysisSchema, analysisJSON("competitive_pressure", 0.82)).
		Respond(DraftSchema, "the model rambled instead of answering")

	p := testPipeline(t, collectors.FixtureCollectors(collectors.NewFixtureProvider(), nil), stub, DefaultGateConfig())

	rec, err := p.Run(context.Background(), "camp-6", aggWindow())
	require.Error(t, err)
	assert.Nil(t, rec)

	var failure *datatypes.PipelineFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, datatypes.ReasonEngineUnavailable, failure.Reason)
	assert.Equal(t, 0, failure.Iterations)
	assert.NotNil(t, failure.Context, "the snapshot is retained on failure")
	assert.Nil(t, failure.LastDraft)
	assert.NotEmpty(t, failure.Message)
	// analyze once, draft twice (attempt + retry).
	assert.EqualValues(t, 3, stub.Calls())
}

func TestPipeline_ZeroOKSourcesFailsBeforeReasoning(t *testing.T) {
	provider := collectors.NewFixtureProvider()
	provider.Errs = map[datatypes.BundleKind]error{}
	for _, kind := range datatypes.AllBundleKinds() {
		provider.Errs[kind] = errors.New("provider outage")
	}

	stub := stubAllStages("competitive_pressure", "bid_adjustment")
	p := testPipeline(t, collectors.FixtureCollectors(provider, nil), stub, DefaultGateConfig())

	rec, err := p.Run(context.Background(), "camp-7", aggWindow())
	require.Error(t, err)
	assert.Nil(t, rec)

	var failure *datatypes.PipelineFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, datatypes.ReasonInsufficientContext, failure.Reason)
	assert.EqualValues(t, 0, stub.Calls(), "no reasoning stage may run on an unusable context")

	require.NotNil(t, failure.Context, "even a failed round reports per-source status")
	assert.Len(t, failure.Context.Sources, len(datatypes.AllBundleKinds()))
	assert.Equal(t, 0, failure.Context.OKCount())
}

func TestPipeline_GarbageEngineOutputNeverPasses(t *testing.T) {
	// Whatever the engine emits, the run either fails typed or emits a
	// recommendation whose action is in the closed set. Nothing leaks
	// through unvalidated.
	payloads := []string{
		"",
		"null",
		"[]",
		`{"recommended_workflow": "rm -rf /", "specific_action": "x", "reasoning": "x", "expected_impact": "x", "risk_level": "high", "success_metrics": ["x"], "confidence": 0.9}`,
		`{"recommended_workflow": 42}`,
		`{"root_cause": "gremlins", "narrative": "n", "confidence": 0.5}`,
		`{"confidence": "very"}`,
		"<html>502 Bad Gateway</html>",
		`{"pass": "maybe"}`,
		draftJSON("bid_adjustment", 17.0),
	}

	for _, payload := range payloads {
		stub := engine.NewStubEngine()
		stub.OnComplete = func(ctx context.Context, req engine.Request) (*engine.Response, error) {
			return &engine.Response{Content: payload}, nil
		}
		p := testPipeline(t, collectors.FixtureCollectors(collectors.NewFixtureProvider(), nil), stub, DefaultGateConfig())

		rec, err := p.Run(context.Background(), "camp-8", aggWindow())
		if err != nil {
			var failure *datatypes.PipelineFailure
			assert.ErrorAs(t, err, &failure, "payload %q: failures must be typed", payload)
			assert.Nil(t, rec)
			continue
		}
		require.NotNil(t, rec)
		assert.True(t, rec.Draft.Workflow.Valid(),
			"payload %q produced an action outside the closed set", payload)
	}
}

func TestPipeline_TotalStageCallsAreBounded(t *testing.T) {
	// Even with an engine that always answers and a critic that never
	// passes, stage invocations stay within the iteration cap.
	gate := GateConfig{MaxIterations: 3, ConfidenceThreshold: 0.99}
	stub := engine.NewStubEngine().
		Respond(AnalysisSchema, analysisJSON("unknown", 0.3)).
		Respond(DraftSchema, draftJSON("continue_monitoring", 0.3)).
		Respond(CritiqueSchema, critiqueJSON(false, "critical", "major"))

	p := testPipeline(t, collectors.FixtureCollectors(collectors.NewFixtureProvider(), nil), stub, gate)

	rec, err := p.Run(context.Background(), "camp-9", aggWindow())
	require.NoError(t, err)

	assert.Equal(t, 3, rec.Iterations)
	// analyze + draft + critique per iteration: 3 x 3 = 9, the three
	// engine calls per iteration the cap promises.
	assert.EqualValues(t, 9, stub.Calls())
}

func TestPipeline_CannedEngineRunsAreIdempotent(t *testing.T) {
	window := aggWindow()

	runOnce := func() *datatypes.Recommendation {
		stub := stubAllStages("competitive_pressure", "bid_adjustment")
		p := testPipeline(t, collectors.FixtureCollectors(collectors.NewFixtureProvider(), nil), stub, DefaultGateConfig())
		rec, err := p.Run(context.Background(), "camp-10", window)
		require.NoError(t, err)
		return rec
	}

	first := runOnce()
	second := runOnce()

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Draft, second.Draft)
	assert.Equal(t, first.Analysis, second.Analysis)
	assert.Equal(t, first.Iterations, second.Iterations)
	assert.Equal(t, first.Context.OKCount(), second.Context.OKCount())
}

func TestPipeline_SetGateConfigRejectsInvalid(t *testing.T) {
	p := testPipeline(t, nil, engine.NewStubEngine(), DefaultGateConfig())

	assert.Error(t, p.SetGateConfig(GateConfig{MaxIterations: 0, ConfidenceThreshold: 0.5}))
	assert.NoError(t, p.SetGateConfig(GateConfig{MaxIterations: 4, ConfidenceThreshold: 0.7}))
}

// The config watcher calls SetGateConfig from its own goroutine while
// handlers start runs; the two must not race on the gate bounds.
func TestPipeline_GateReloadDuringRunsIsSafe(t *testing.T) {
	stub := stubAllStages("competitive_pressure", "bid_adjustment")
	p := testPipeline(t, collectors.FixtureCollectors(collectors.NewFixtureProvider(), nil), stub, DefaultGateConfig())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			cfg := GateConfig{MaxIterations: 2 + i%3, ConfidenceThreshold: 0.6}
			assert.NoError(t, p.SetGateConfig(cfg))
		}
	}()

	for i := 0; i < 20; i++ {
		rec, err := p.Run(context.Background(), "camp-12", aggWindow())
		require.NoError(t, err)
		require.NotNil(t, rec)
	}
	<-done
}

func TestPipeline_DefaultWindowIsApplied(t *testing.T) {
	stub := stubAllStages("competitive_pressure", "bid_adjustment")
	p := testPipeline(t, collectors.FixtureCollectors(collectors.NewFixtureProvider(), nil), stub, DefaultGateConfig())

	rec, err := p.Run(context.Background(), "camp-11", datatypes.Window{})
	require.NoError(t, err)

	window := rec.Context.Window
	require.False(t, window.Start.IsZero())
	require.False(t, window.End.IsZero())
	got := window.End.Sub(window.Start)
	assert.InDelta(t, float64(DefaultWindowDays*24*time.Hour), float64(got), float64(time.Minute))
}
