// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package collectors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/CampaignAdvisor/services/advisor/datatypes"
)

func testWindow() datatypes.Window {
	return datatypes.Window{
		Start: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestCollectStampsMetadata(t *testing.T) {
	provider := NewFixtureProvider()
	window := testWindow()

	for _, c := range FixtureCollectors(provider, nil) {
		before := time.Now()
		b, err := c.Collect(context.Background(), "camp-123", window)
		require.NoError(t, err, "collector %s", c.Kind())
		require.NotNil(t, b)

		assert.Equal(t, c.Kind(), b.Kind())
		assert.Equal(t, window, b.SourceWindow())
		assert.False(t, b.CollectedAt().Before(before), "collection timestamp must be stamped at fetch time")
	}
}

func TestCollectReturnsProviderError(t *testing.T) {
	wantErr := errors.New("upstream 503")
	provider := NewFixtureProvider()
	provider.Errs = map[datatypes.BundleKind]error{
		datatypes.KindPerformance: wantErr,
	}

	c := NewPerformanceCollector(provider, nil)
	b, err := c.Collect(context.Background(), "camp-123", testWindow())
	assert.Nil(t, b, "a failed collect must not return a partial bundle")
	assert.ErrorIs(t, err, wantErr)
}

func TestCollectHonorsCancellation(t *testing.T) {
	provider := NewFixtureProvider()
	provider.Delay = 5 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := NewAudienceCollector(provider, nil)
	start := time.Now()
	_, err := c.Collect(ctx, "camp-123", testWindow())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second, "collect must return promptly after cancellation")
}

func TestCollectorKindsAreDistinct(t *testing.T) {
	provider := NewFixtureProvider()
	seen := make(map[datatypes.BundleKind]bool)
	for _, c := range FixtureCollectors(provider, nil) {
		assert.True(t, c.Kind().Valid())
		assert.False(t, seen[c.Kind()], "duplicate kind %s", c.Kind())
		seen[c.Kind()] = true
	}
	assert.Len(t, seen, len(datatypes.AllBundleKinds()))
}

func TestFixtureFailCountBoundsInjectedFailures(t *testing.T) {
	provider := NewFixtureProvider()
	provider.Errs = map[datatypes.BundleKind]error{
		datatypes.KindCreative: errors.New("flaky"),
	}
	provider.FailCount = map[datatypes.BundleKind]int{
		datatypes.KindCreative: 2,
	}

	c := NewCreativeCollector(provider, nil)
	ctx := context.Background()

	_, err := c.Collect(ctx, "camp-123", testWindow())
	require.Error(t, err)
	_, err = c.Collect(ctx, "camp-123", testWindow())
	require.Error(t, err)

	b, err := c.Collect(ctx, "camp-123", testWindow())
	require.NoError(t, err, "third attempt should succeed once injected failures are spent")
	assert.Equal(t, datatypes.KindCreative, b.Kind())
	assert.Equal(t, 3, provider.Calls(datatypes.KindCreative))
}
