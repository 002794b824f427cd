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
	"sync/atomic"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/CampaignAdvisor/services/advisor/datatypes"
)

func testKey(campaign datatypes.CampaignID, kind datatypes.BundleKind) Key {
	return Key{Campaign: campaign, Kind: kind, Window: testWindow()}
}

func perfBundle(cpa float64) *datatypes.PerformanceMetrics {
	b := &datatypes.PerformanceMetrics{CPA: cpa}
	b.Collected = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	b.Window = testWindow()
	return b
}

func TestCacheKeyDiscriminatesComponents(t *testing.T) {
	base := testKey("camp-1", datatypes.KindPerformance)

	otherCampaign := base
	otherCampaign.Campaign = "camp-2"

	otherKind := base
	otherKind.Kind = datatypes.KindCreative

	otherWindow := base
	otherWindow.Window.End = otherWindow.Window.End.Add(time.Hour)

	assert.NotEqual(t, base.hash(), otherCampaign.hash())
	assert.NotEqual(t, base.hash(), otherKind.hash())
	assert.NotEqual(t, base.hash(), otherWindow.hash())
}

func TestCacheGetSetMemoryTier(t *testing.T) {
	cache := NewCache(time.Minute, 10, nil)
	key := testKey("camp-1", datatypes.KindPerformance)

	_, ok := cache.Get(key)
	assert.False(t, ok)

	cache.Set(key, perfBundle(42))

	got, ok := cache.Get(key)
	require.True(t, ok)
	assert.Equal(t, 42.0, got.(*datatypes.PerformanceMetrics).CPA)
	assert.Equal(t, int64(1), cache.Hits())
	assert.Equal(t, int64(1), cache.Misses())
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := NewCache(10*time.Millisecond, 10, nil)
	key := testKey("camp-1", datatypes.KindPerformance)
	cache.Set(key, perfBundle(42))

	time.Sleep(25 * time.Millisecond)

	_, ok := cache.Get(key)
	assert.False(t, ok, "expired entries must not be served")
}

func TestCacheLRUEviction(t *testing.T) {
	cache := NewCache(time.Minute, 2, nil)

	k1 := testKey("camp-1", datatypes.KindPerformance)
	k2 := testKey("camp-2", datatypes.KindPerformance)
	k3 := testKey("camp-3", datatypes.KindPerformance)

	cache.Set(k1, perfBundle(1))
	cache.Set(k2, perfBundle(2))

	// Touch k1 so k2 is the eviction candidate.
	_, ok := cache.Get(k1)
	require.True(t, ok)

	cache.Set(k3, perfBundle(3))
	assert.Equal(t, 2, cache.Size())

	_, ok = cache.Get(k2)
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = cache.Get(k1)
	assert.True(t, ok)
	_, ok = cache.Get(k3)
	assert.True(t, ok)
}

func TestCacheGetOrCollectCoalescesConcurrentMisses(t *testing.T) {
	cache := NewCache(time.Minute, 10, nil)
	key := testKey("camp-1", datatypes.KindAudience)

	var fetches atomic.Int64
	release := make(chan struct{})
	fetch := func(ctx context.Context) (datatypes.SignalBundle, error) {
		fetches.Add(1)
		<-release
		b := &datatypes.AudienceSignals{SaturationIndex: 0.5}
		return b, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]datatypes.SignalBundle, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := cache.GetOrCollect(context.Background(), key, fetch)
			assert.NoError(t, err)
			results[i] = b
		}(i)
	}

	// Give every goroutine time to join the flight before releasing.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), fetches.Load(), "concurrent misses for one key must share a single fetch")
	for _, b := range results {
		require.NotNil(t, b)
	}
}

func TestCacheGetOrCollectDoesNotCacheFailures(t *testing.T) {
	cache := NewCache(time.Minute, 10, nil)
	key := testKey("camp-1", datatypes.KindHistory)

	var fetches int
	fetch := func(ctx context.Context) (datatypes.SignalBundle, error) {
		fetches++
		if fetches == 1 {
			return nil, assert.AnError
		}
		return &datatypes.HistoricalPattern{}, nil
	}

	_, err := cache.GetOrCollect(context.Background(), key, fetch)
	require.Error(t, err)

	b, err := cache.GetOrCollect(context.Background(), key, fetch)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, 2, fetches)
}

func TestCachePersistentTierRoundTrip(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	defer db.Close()

	key := testKey("camp-1", datatypes.KindCompetitive)
	bundle := &datatypes.CompetitiveSignals{NewEntrants: 4, AuctionPressureChangePct: 31.0}
	bundle.Window = testWindow()

	writer := NewCache(time.Minute, 10, nil).WithBadger(db)
	writer.Set(key, bundle)

	// A fresh cache with an empty memory tier must recover the entry
	// from Badger, as after a process restart.
	reader := NewCache(time.Minute, 10, nil).WithBadger(db)
	got, ok := reader.Get(key)
	require.True(t, ok)

	cs, isCompetitive := got.(*datatypes.CompetitiveSignals)
	require.True(t, isCompetitive)
	assert.Equal(t, 4, cs.NewEntrants)
	assert.Equal(t, 31.0, cs.AuctionPressureChangePct)
}

func TestDecodeBundleRejectsKindMismatch(t *testing.T) {
	raw, err := encodeBundle(perfBundle(10))
	require.NoError(t, err)

	_, err = decodeBundle(raw, datatypes.KindCreative)
	assert.Error(t, err)
}

func TestCollectorUsesCacheAcrossCalls(t *testing.T) {
	provider := NewFixtureProvider()
	cache := NewCache(time.Minute, 10, nil)
	c := NewPerformanceCollector(provider, cache)
	ctx := context.Background()

	first, err := c.Collect(ctx, "camp-1", testWindow())
	require.NoError(t, err)
	second, err := c.Collect(ctx, "camp-1", testWindow())
	require.NoError(t, err)

	assert.Equal(t, 1, provider.Calls(datatypes.KindPerformance), "second collect should be served from cache")
	assert.Equal(t, first.(*datatypes.PerformanceMetrics).CPA, second.(*datatypes.PerformanceMetrics).CPA)
}
