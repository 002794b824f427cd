// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the data model for the campaign advisor pipeline.
//
// All types here are owned exclusively by a single pipeline run: bundles are
// produced once per run and immutable afterwards, analyses and drafts are
// superseded on regeneration rather than mutated in place, and nothing is
// shared across concurrent runs for different campaigns.
package datatypes

import (
	"time"
)

// CampaignID is the opaque key that scopes every collector fetch.
// No internal structure is assumed.
type CampaignID string

// Window is the period a signal bundle summarizes.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// BundleKind identifies one category of campaign signal.
type BundleKind string

const (
	// KindPerformance is delivery and cost telemetry (CPA, CTR, ROAS).
	KindPerformance BundleKind = "performance"

	// KindCreative is creative health (age, frequency, fatigue).
	KindCreative BundleKind = "creative"

	// KindCompetitive is competitive activity (entrants, auction pressure).
	KindCompetitive BundleKind = "competitive"

	// KindAudience is audience saturation and reach.
	KindAudience BundleKind = "audience"

	// KindHistory is the historical pattern of prior recommendations
	// and their recorded outcomes.
	KindHistory BundleKind = "history"
)

// AllBundleKinds returns every bundle kind in stable order.
//
// The order is used for deterministic prompt construction: the same
// Context must always produce the same prompt.
func AllBundleKinds() []BundleKind {
	return []BundleKind{
		KindPerformance,
		KindCreative,
		KindCompetitive,
		KindAudience,
		KindHistory,
	}
}

// Valid reports whether k is a known bundle kind.
func (k BundleKind) Valid() bool {
	switch k {
	case KindPerformance, KindCreative, KindCompetitive, KindAudience, KindHistory:
		return true
	default:
		return false
	}
}

// SignalBundle is one typed slice of campaign telemetry from a single source.
//
// Bundles carry their own collection timestamp and the freshness window of
// the period they summarize. A bundle is produced once per pipeline run and
// must not be mutated afterwards.
type SignalBundle interface {
	// Kind identifies the signal category of this bundle.
	Kind() BundleKind

	// CollectedAt is when the collector produced this bundle.
	CollectedAt() time.Time

	// SourceWindow is the period the bundle summarizes.
	SourceWindow() Window
}

// BundleMeta carries the collection timestamp and freshness window shared
// by all concrete bundle types. Embed it and implement Kind().
type BundleMeta struct {
	Collected time.Time `json:"collected_at"`
	Window    Window    `json:"window"`
}

// CollectedAt implements SignalBundle.
func (m BundleMeta) CollectedAt() time.Time { return m.Collected }

// SourceWindow implements SignalBundle.
func (m BundleMeta) SourceWindow() Window { return m.Window }

// PerformanceMetrics is the delivery/cost signal bundle.
//
// Change percentages compare the source window against the preceding
// window of equal length; +32.0 means a 32% increase.
type PerformanceMetrics struct {
	BundleMeta

	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	SpendUSD    float64 `json:"spend_usd"`

	CPA           float64 `json:"cpa"`
	CPAChangePct  float64 `json:"cpa_change_pct"`
	CTR           float64 `json:"ctr"`
	CTRChangePct  float64 `json:"ctr_change_pct"`
	ROAS          float64 `json:"roas"`
	ROASChangePct float64 `json:"roas_change_pct"`
}

// Kind implements SignalBundle.
func (PerformanceMetrics) Kind() BundleKind { return KindPerformance }

// CreativeHealth is the creative fatigue signal bundle.
type CreativeHealth struct {
	BundleMeta

	// CreativeAgeDays is the age of the oldest active creative.
	CreativeAgeDays int `json:"creative_age_days"`

	// Frequency is the average impressions per user in the window.
	Frequency float64 `json:"frequency"`

	// FatigueScore is a normalized fatigue estimate in [0,1].
	FatigueScore float64 `json:"fatigue_score"`

	// ActiveVariants is the number of creative variants still serving.
	ActiveVariants int `json:"active_variants"`
}

// Kind implements SignalBundle.
func (CreativeHealth) Kind() BundleKind { return KindCreative }

// CompetitiveSignals is the competitive activity bundle.
type CompetitiveSignals struct {
	BundleMeta

	// NewEntrants is the count of competitors that entered the auction
	// during the window.
	NewEntrants int `json:"new_entrants"`

	// AuctionPressureChangePct is the change in estimated auction
	// pressure versus the prior window.
	AuctionPressureChangePct float64 `json:"auction_pressure_change_pct"`

	// ShareOfVoicePct is the campaign's current share of voice.
	ShareOfVoicePct float64 `json:"share_of_voice_pct"`
}

// Kind implements SignalBundle.
func (CompetitiveSignals) Kind() BundleKind { return KindCompetitive }

// AudienceSignals is the audience saturation bundle.
type AudienceSignals struct {
	BundleMeta

	// SaturationIndex estimates how much of the targetable audience has
	// already been reached, in [0,1].
	SaturationIndex float64 `json:"saturation_index"`

	// OverlapPct is the audience overlap with sibling campaigns.
	OverlapPct float64 `json:"overlap_pct"`

	// ReachGrowthPct is incremental reach growth versus the prior window.
	ReachGrowthPct float64 `json:"reach_growth_pct"`
}

// Kind implements SignalBundle.
func (AudienceSignals) Kind() BundleKind { return KindAudience }

// Outcome records the eventual result of a previously approved
// recommendation. Outcomes are written by external collaborators after
// human review; the pipeline only reads them back through the history
// collector.
type Outcome struct {
	Campaign    CampaignID     `json:"campaign"`
	Action      WorkflowAction `json:"action"`
	ApprovedBy  string         `json:"approved_by"`
	DecidedAt   time.Time      `json:"decided_at"`
	CPADeltaPct float64        `json:"cpa_delta_pct"`
	CTRDeltaPct float64        `json:"ctr_delta_pct"`
	Notes       string         `json:"notes,omitempty"`
}

// HistoricalPattern is the prior-outcome signal bundle.
type HistoricalPattern struct {
	BundleMeta

	// Outcomes are prior recommendation outcomes, most recent first.
	Outcomes []Outcome `json:"outcomes"`
}

// Kind implements SignalBundle.
func (HistoricalPattern) Kind() BundleKind { return KindHistory }

// SourceStatus is the per-source collection outcome recorded in a Context.
//
// The explicit status enum replaces null-checks so downstream code cannot
// silently treat missing data as present.
type SourceStatus string

const (
	// StatusOK means the collector returned a bundle.
	StatusOK SourceStatus = "ok"

	// StatusDegraded means the collector was retried and exhausted its
	// attempts; the last error is recorded.
	StatusDegraded SourceStatus = "degraded"

	// StatusMissing means the collector never produced a usable result:
	// it panicked, violated its contract, or was abandoned mid-flight
	// when the collection deadline fired.
	StatusMissing SourceStatus = "missing"
)

// SourceReport records how one collector fared during aggregation.
type SourceReport struct {
	Status   SourceStatus `json:"status"`
	Attempts int          `json:"attempts"`

	// LastError is the final error string for degraded/missing sources.
	LastError string `json:"last_error,omitempty"`
}

// Context is the aggregated, partially-tolerant snapshot of all signal
// bundles for one campaign.
//
// Only the context aggregator writes into a Context; after Build returns
// the snapshot is immutable. A Context is valid for reasoning as long as
// at least one bundle is ok.
type Context struct {
	Campaign CampaignID `json:"campaign"`
	Window   Window     `json:"window"`
	BuiltAt  time.Time  `json:"built_at"`

	// Bundles holds successfully collected bundles only; a kind absent
	// from this map is degraded or missing per Sources.
	Bundles map[BundleKind]SignalBundle `json:"bundles"`

	// Sources records the collection outcome for every registered
	// collector, including the ones that produced a bundle.
	Sources map[BundleKind]SourceReport `json:"sources"`
}

// Bundle returns the bundle of the given kind if it was collected ok.
func (c *Context) Bundle(kind BundleKind) (SignalBundle, bool) {
	b, ok := c.Bundles[kind]
	return b, ok
}

// OKCount returns the number of sources that collected successfully.
func (c *Context) OKCount() int {
	n := 0
	for _, r := range c.Sources {
		if r.Status == StatusOK {
			n++
		}
	}
	return n
}

// Usable reports whether the context may enter the reasoning stages.
func (c *Context) Usable() bool {
	return c.OKCount() >= 1
}

// StatusOf returns the collection status for a kind. Kinds that were
// never registered report missing.
func (c *Context) StatusOf(kind BundleKind) SourceStatus {
	if r, ok := c.Sources[kind]; ok {
		return r.Status
	}
	return StatusMissing
}
