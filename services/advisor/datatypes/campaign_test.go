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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testWindow() Window {
	end := time.Date(2025, 11, 14, 0, 0, 0, 0, time.UTC)
	return Window{Start: end.AddDate(0, 0, -7), End: end}
}

func TestAllBundleKinds_StableOrder(t *testing.T) {
	// Prompt construction depends on this ordering being stable.
	want := []BundleKind{KindPerformance, KindCreative, KindCompetitive, KindAudience, KindHistory}
	assert.Equal(t, want, AllBundleKinds())

	for _, k := range AllBundleKinds() {
		assert.True(t, k.Valid())
	}
	assert.False(t, BundleKind("weather").Valid())
}

func TestContext_OKCountAndUsable(t *testing.T) {
	perf := &PerformanceMetrics{BundleMeta: BundleMeta{Collected: time.Now(), Window: testWindow()}}

	snapshot := &Context{
		Campaign: "cmp-001",
		Window:   testWindow(),
		Bundles:  map[BundleKind]SignalBundle{KindPerformance: perf},
		Sources: map[BundleKind]SourceReport{
			KindPerformance: {Status: StatusOK, Attempts: 1},
			KindCreative:    {Status: StatusDegraded, Attempts: 3, LastError: "upstream 503"},
			KindCompetitive: {Status: StatusMissing, Attempts: 1, LastError: "deadline exceeded"},
		},
	}

	assert.Equal(t, 1, snapshot.OKCount())
	assert.True(t, snapshot.Usable())
	assert.Equal(t, StatusOK, snapshot.StatusOf(KindPerformance))
	assert.Equal(t, StatusDegraded, snapshot.StatusOf(KindCreative))

	// Unregistered kinds report missing, never a zero value.
	assert.Equal(t, StatusMissing, snapshot.StatusOf(KindHistory))

	b, ok := snapshot.Bundle(KindPerformance)
	assert.True(t, ok)
	assert.Equal(t, KindPerformance, b.Kind())

	_, ok = snapshot.Bundle(KindCreative)
	assert.False(t, ok, "degraded sources must not expose a bundle")
}

func TestContext_ZeroOKIsNotUsable(t *testing.T) {
	snapshot := &Context{
		Campaign: "cmp-002",
		Bundles:  map[BundleKind]SignalBundle{},
		Sources: map[BundleKind]SourceReport{
			KindPerformance: {Status: StatusDegraded, Attempts: 3},
			KindCreative:    {Status: StatusMissing, Attempts: 1},
		},
	}

	assert.Equal(t, 0, snapshot.OKCount())
	assert.False(t, snapshot.Usable())
}

func TestBundleMeta_ImplementsSignalBundle(t *testing.T) {
	now := time.Now()
	w := testWindow()

	bundles := []SignalBundle{
		&PerformanceMetrics{BundleMeta: BundleMeta{Collected: now, Window: w}},
		&CreativeHealth{BundleMeta: BundleMeta{Collected: now, Window: w}},
		&CompetitiveSignals{BundleMeta: BundleMeta{Collected: now, Window: w}},
		&AudienceSignals{BundleMeta: BundleMeta{Collected: now, Window: w}},
		&HistoricalPattern{BundleMeta: BundleMeta{Collected: now, Window: w}},
	}

	kinds := map[BundleKind]bool{}
	for _, b := range bundles {
		assert.Equal(t, now, b.CollectedAt())
		assert.Equal(t, w, b.SourceWindow())
		kinds[b.Kind()] = true
	}
	assert.Len(t, kinds, 5, "each bundle type reports a distinct kind")
}
