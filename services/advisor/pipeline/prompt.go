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
	"fmt"
	"strings"

	"github.com/AleutianAI/CampaignAdvisor/services/advisor/datatypes"
)

// Prompt rendering is deterministic: bundles appear in the stable kind
// order and every numeric field uses a fixed format, so identical
// snapshots produce byte-identical prompts.

// renderContext renders the snapshot for inclusion in a stage prompt.
// Unavailable sources are named explicitly so the engine reasons about
// what it cannot see instead of assuming completeness.
func renderContext(snapshot *datatypes.Context) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Campaign: %s\n", snapshot.Campaign)
	fmt.Fprintf(&b, "Analysis window: %s to %s\n\n",
		snapshot.Window.Start.UTC().Format("2006-01-02"),
		snapshot.Window.End.UTC().Format("2006-01-02"),
	)

	for _, kind := range datatypes.AllBundleKinds() {
		report, registered := snapshot.Sources[kind]
		if !registered {
			fmt.Fprintf(&b, "## %s signals: UNAVAILABLE (not collected)\n\n", kind)
			continue
		}
		if report.Status != datatypes.StatusOK {
			fmt.Fprintf(&b, "## %s signals: UNAVAILABLE (%s)\n\n", kind, report.Status)
			continue
		}
		bundle := snapshot.Bundles[kind]
		fmt.Fprintf(&b, "## %s signals\n%s\n", kind, renderBundle(bundle))
	}

	return b.String()
}

// renderBundle formats one bundle's fields for the prompt.
func renderBundle(bundle datatypes.SignalBundle) string {
	var b strings.Builder

	switch v := bundle.(type) {
	case *datatypes.PerformanceMetrics:
		fmt.Fprintf(&b, "- impressions: %d, clicks: %d, conversions: %d\n", v.Impressions, v.Clicks, v.Conversions)
		fmt.Fprintf(&b, "- spend: $%.2f\n", v.SpendUSD)
		fmt.Fprintf(&b, "- CPA: $%.2f (%+.1f%% vs prior window)\n", v.CPA, v.CPAChangePct)
		fmt.Fprintf(&b, "- CTR: %.4f (%+.1f%% vs prior window)\n", v.CTR, v.CTRChangePct)
		fmt.Fprintf(&b, "- ROAS: %.2f (%+.1f%% vs prior window)\n", v.ROAS, v.ROASChangePct)
	case *datatypes.CreativeHealth:
		fmt.Fprintf(&b, "- oldest active creative: %d days\n", v.CreativeAgeDays)
		fmt.Fprintf(&b, "- frequency: %.2f impressions per user\n", v.Frequency)
		fmt.Fprintf(&b, "- fatigue score: %.2f (0=fresh, 1=exhausted)\n", v.FatigueScore)
		fmt.Fprintf(&b, "- active variants: %d\n", v.ActiveVariants)
	case *datatypes.CompetitiveSignals:
		fmt.Fprintf(&b, "- new auction entrants: %d\n", v.NewEntrants)
		fmt.Fprintf(&b, "- auction pressure: %+.1f%% vs prior window\n", v.AuctionPressureChangePct)
		fmt.Fprintf(&b, "- share of voice: %.1f%%\n", v.ShareOfVoicePct)
	case *datatypes.AudienceSignals:
		fmt.Fprintf(&b, "- saturation index: %.2f (0=untapped, 1=saturated)\n", v.SaturationIndex)
		fmt.Fprintf(&b, "- overlap with sibling campaigns: %.1f%%\n", v.OverlapPct)
		fmt.Fprintf(&b, "- reach growth: %+.1f%% vs prior window\n", v.ReachGrowthPct)
	case *datatypes.HistoricalPattern:
		if len(v.Outcomes) == 0 {
			b.WriteString("- no prior recommendation outcomes on record\n")
			break
		}
		for _, o := range v.Outcomes {
			fmt.Fprintf(&b, "- %s: %s approved by %s, CPA %+.1f%%, CTR %+.1f%%",
				o.DecidedAt.UTC().Format("2006-01-02"), o.Action, o.ApprovedBy, o.CPADeltaPct, o.CTRDeltaPct)
			if o.Notes != "" {
				fmt.Fprintf(&b, " (%s)", o.Notes)
			}
			b.WriteString("\n")
		}
	default:
		fmt.Fprintf(&b, "- (unrenderable bundle kind %s)\n", bundle.Kind())
	}

	return b.String()
}

// renderActions lists the closed action set for the prompt.
func renderActions() string {
	actions := datatypes.AllWorkflowActions()
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = string(a)
	}
	return strings.Join(parts, ", ")
}

// renderFindings lists critique findings for a regeneration prompt.
func renderFindings(critique *datatypes.Critique) string {
	var b strings.Builder
	for _, f := range critique.Findings {
		fmt.Fprintf(&b, "- [%s] %s\n", f.Severity, f.Message)
	}
	if critique.Summary != "" {
		fmt.Fprintf(&b, "Overall: %s\n", critique.Summary)
	}
	return b.String()
}

// analyzeSystemPrompt frames the analysis stage.
const analyzeSystemPrompt = `You are a marketing analyst diagnosing why a paid campaign's performance changed. Reason only from the signals provided; name unavailable sources as gaps rather than guessing their contents. Respond with a single JSON object and nothing else.`

// draftSystemPrompt frames the draft stage.
const draftSystemPrompt = `You are a marketing strategist turning a root-cause diagnosis into one concrete, reviewable recommendation. You must choose the recommended workflow from the allowed action list verbatim. Respond with a single JSON object and nothing else.`

// critiqueSystemPrompt frames the critique stage.
const critiqueSystemPrompt = `You are a skeptical marketing reviewer. Challenge the draft recommendation against the evidence: unsupported claims, ignored contradictory signals, and mismatches between diagnosis and action. Tag each finding critical, major, or minor. Respond with a single JSON object and nothing else.`

// buildAnalyzePrompt builds the analyze stage user prompt. A non-nil
// prior critique turns this into a regeneration prompt: the diagnosis
// is redone with the rejecting findings in view.
func buildAnalyzePrompt(snapshot *datatypes.Context, prior *datatypes.Critique) string {
	var b strings.Builder
	b.WriteString("Diagnose the most likely root cause of this campaign's current performance.\n\n")
	b.WriteString(renderContext(snapshot))
	if prior != nil {
		b.WriteString("\nA draft based on a previous diagnosis was rejected. Re-examine the evidence with these findings in mind:\n")
		b.WriteString(renderFindings(prior))
	}
	b.WriteString("\nPick root_cause from: competitive_pressure, creative_fatigue, audience_saturation, budget_constraint, seasonality, tracking_anomaly, unknown.\n")
	return b.String()
}

// buildDraftPrompt builds the draft stage user prompt. A non-nil prior
// critique turns this into a regeneration prompt.
func buildDraftPrompt(snapshot *datatypes.Context, analysis *datatypes.SignalAnalysis, prior *datatypes.Critique) string {
	var b strings.Builder
	b.WriteString("Produce one actionable recommendation for this campaign.\n\n")
	b.WriteString(renderContext(snapshot))
	fmt.Fprintf(&b, "\nDiagnosis: %s (confidence %.2f)\n%s\n", analysis.RootCause, analysis.Confidence, analysis.Narrative)
	if prior != nil {
		b.WriteString("\nA previous draft was rejected. Address these findings in the new draft:\n")
		b.WriteString(renderFindings(prior))
	}
	fmt.Fprintf(&b, "\nAllowed actions for recommended_workflow and alternative_actions: %s.\n", renderActions())
	b.WriteString("The recommended workflow must not appear in alternative_actions.\n")
	return b.String()
}

// buildCritiquePrompt builds the critique stage user prompt.
func buildCritiquePrompt(snapshot *datatypes.Context, analysis *datatypes.SignalAnalysis, draft *datatypes.RecommendationDraft) string {
	var b strings.Builder
	b.WriteString("Review this draft recommendation against the evidence.\n\n")
	b.WriteString(renderContext(snapshot))
	fmt.Fprintf(&b, "\nDiagnosis: %s (confidence %.2f)\n", analysis.RootCause, analysis.Confidence)
	fmt.Fprintf(&b, "Draft action: %s - %s\n", draft.Workflow, draft.SpecificAction)
	fmt.Fprintf(&b, "Reasoning: %s\n", draft.Reasoning)
	fmt.Fprintf(&b, "Expected impact: %s (risk: %s, confidence %.2f)\n", draft.ExpectedImpact, draft.Risk, draft.Confidence)
	return b.String()
}
