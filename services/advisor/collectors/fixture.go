// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package collectors

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/CampaignAdvisor/services/advisor/datatypes"
)

// FixtureProvider serves deterministic signal data for dry runs and
// tests. It implements every provider contract in this package.
//
// Description:
//
//	The zero-configuration fixture describes a campaign under rising
//	competitive pressure: CPA up sharply with healthy creatives and an
//	unsaturated audience. Individual bundles can be replaced per test,
//	and per-kind errors or a fetch delay can be injected to exercise
//	the aggregator's degradation paths.
//
// Thread Safety: This type is safe for concurrent use once configured;
// mutate fields only before handing it to collectors.
type FixtureProvider struct {
	Performance datatypes.PerformanceMetrics
	Creative    datatypes.CreativeHealth
	Competitive datatypes.CompetitiveSignals
	Audience    datatypes.AudienceSignals
	History     datatypes.HistoricalPattern

	// Errs injects a per-kind fetch failure. The error is returned on
	// every fetch for that kind until FailCount for the kind reaches
	// zero (a zero FailCount entry fails forever).
	Errs map[datatypes.BundleKind]error

	// FailCount bounds injected failures per kind, letting tests
	// exercise retry-then-succeed paths.
	FailCount map[datatypes.BundleKind]int

	// Delay is applied before every fetch, honoring ctx cancellation.
	Delay time.Duration

	mu    sync.Mutex
	calls map[datatypes.BundleKind]int
}

// NewFixtureProvider returns a provider loaded with the default
// competitive-pressure fixture.
func NewFixtureProvider() *FixtureProvider {
	return &FixtureProvider{
		Performance: datatypes.PerformanceMetrics{
			Impressions:   482_000,
			Clicks:        11_570,
			Conversions:   312,
			SpendUSD:      14_820.50,
			CPA:           47.50,
			CPAChangePct:  38.2,
			CTR:           0.024,
			CTRChangePct:  -2.1,
			ROAS:          2.4,
			ROASChangePct: -21.5,
		},
		Creative: datatypes.CreativeHealth{
			CreativeAgeDays: 12,
			Frequency:       1.8,
			FatigueScore:    0.22,
			ActiveVariants:  4,
		},
		Competitive: datatypes.CompetitiveSignals{
			NewEntrants:              3,
			AuctionPressureChangePct: 27.4,
			ShareOfVoicePct:          18.9,
		},
		Audience: datatypes.AudienceSignals{
			SaturationIndex: 0.31,
			OverlapPct:      9.5,
			ReachGrowthPct:  4.2,
		},
		History: datatypes.HistoricalPattern{
			Outcomes: []datatypes.Outcome{
				{
					Campaign:    "camp-legacy-041",
					Action:      datatypes.ActionBidAdjustment,
					ApprovedBy:  "j.ramos",
					DecidedAt:   time.Date(2026, 5, 3, 10, 0, 0, 0, time.UTC),
					CPADeltaPct: -11.3,
					CTRDeltaPct: 0.4,
					Notes:       "bid cap raised 15% during auction spike; CPA recovered in 9 days",
				},
				{
					Campaign:    "camp-legacy-017",
					Action:      datatypes.ActionCreativeRefresh,
					ApprovedBy:  "s.okafor",
					DecidedAt:   time.Date(2026, 3, 18, 15, 30, 0, 0, time.UTC),
					CPADeltaPct: -6.8,
					CTRDeltaPct: 12.1,
					Notes:       "three new variants shipped; fatigue score halved",
				},
			},
		},
	}
}

// Calls reports how many fetches ran for a kind, failures included.
func (f *FixtureProvider) Calls(kind datatypes.BundleKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

// FetchPerformance implements PerformanceProvider.
func (f *FixtureProvider) FetchPerformance(ctx context.Context, _ datatypes.CampaignID, _ datatypes.Window) (*datatypes.PerformanceMetrics, error) {
	if err := f.gate(ctx, datatypes.KindPerformance); err != nil {
		return nil, err
	}
	b := f.Performance
	return &b, nil
}

// FetchCreativeHealth implements CreativeProvider.
func (f *FixtureProvider) FetchCreativeHealth(ctx context.Context, _ datatypes.CampaignID, _ datatypes.Window) (*datatypes.CreativeHealth, error) {
	if err := f.gate(ctx, datatypes.KindCreative); err != nil {
		return nil, err
	}
	b := f.Creative
	return &b, nil
}

// FetchCompetitiveSignals implements CompetitiveProvider.
func (f *FixtureProvider) FetchCompetitiveSignals(ctx context.Context, _ datatypes.CampaignID, _ datatypes.Window) (*datatypes.CompetitiveSignals, error) {
	if err := f.gate(ctx, datatypes.KindCompetitive); err != nil {
		return nil, err
	}
	b := f.Competitive
	return &b, nil
}

// FetchAudienceSignals implements AudienceProvider.
func (f *FixtureProvider) FetchAudienceSignals(ctx context.Context, _ datatypes.CampaignID, _ datatypes.Window) (*datatypes.AudienceSignals, error) {
	if err := f.gate(ctx, datatypes.KindAudience); err != nil {
		return nil, err
	}
	b := f.Audience
	return &b, nil
}

// FetchHistory implements HistoryProvider.
func (f *FixtureProvider) FetchHistory(ctx context.Context, _ datatypes.CampaignID, _ datatypes.Window) (*datatypes.HistoricalPattern, error) {
	if err := f.gate(ctx, datatypes.KindHistory); err != nil {
		return nil, err
	}
	b := datatypes.HistoricalPattern{
		Outcomes: append([]datatypes.Outcome(nil), f.History.Outcomes...),
	}
	b.BundleMeta = f.History.BundleMeta
	return &b, nil
}

// gate counts the call, applies the optional delay, and returns any
// injected failure still owed for the kind.
func (f *FixtureProvider) gate(ctx context.Context, kind datatypes.BundleKind) error {
	f.mu.Lock()
	f.ensureCalls()
	f.calls[kind]++
	injected := f.Errs[kind]
	if injected != nil {
		if n, bounded := f.FailCount[kind]; bounded {
			if n <= 0 {
				injected = nil
			} else {
				f.FailCount[kind] = n - 1
			}
		}
	}
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.Delay):
		}
	}
	if injected != nil {
		return injected
	}
	return ctx.Err()
}

func (f *FixtureProvider) ensureCalls() {
	if f.calls == nil {
		f.calls = make(map[datatypes.BundleKind]int)
	}
}

// FixtureCollectors wires the provider into the full collector set, in
// the stable kind order. cache may be nil.
func FixtureCollectors(p *FixtureProvider, cache *Cache) []Collector {
	return []Collector{
		NewPerformanceCollector(p, cache),
		NewCreativeCollector(p, cache),
		NewCompetitiveCollector(p, cache),
		NewAudienceCollector(p, cache),
		NewHistoryCollector(p, cache),
	}
}
