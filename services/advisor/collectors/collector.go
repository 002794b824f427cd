// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package collectors fetches per-source campaign signals.
//
// Each collector wraps one external read-only data provider behind a
// narrow typed contract. Collectors are independently swappable, assume
// no other collector ran, and never return a partially-filled bundle.
// Retry with backoff is applied by the caller (the context aggregator);
// collectors themselves only consult the advisory cache and fetch.
//
// Providers are an extension point: the open source tree ships the
// deterministic fixture provider for dry runs and tests, while real ad
// platform integrations are injected at startup.
package collectors

import (
	"context"
	"errors"
	"time"

	"github.com/AleutianAI/CampaignAdvisor/services/advisor/datatypes"
)

// ErrNilBundle indicates a provider violated its contract by returning
// neither a bundle nor an error.
var ErrNilBundle = errors.New("provider returned nil bundle without error")

// Collector fetches one category of campaign signal.
//
// Implementations must be safe for concurrent use and must honor context
// cancellation: an abandoned in-flight collect must return promptly once
// the shared collection deadline fires.
type Collector interface {
	// Kind identifies the signal category this collector produces.
	Kind() datatypes.BundleKind

	// Collect fetches the signal bundle for one campaign and window.
	// On failure it returns an error, never a partial bundle.
	Collect(ctx context.Context, campaign datatypes.CampaignID, window datatypes.Window) (datatypes.SignalBundle, error)
}

// Provider contracts, one per signal source. Each returns the concrete
// bundle without collection metadata; the collector stamps that.
type (
	// PerformanceProvider serves delivery and cost telemetry.
	PerformanceProvider interface {
		FetchPerformance(ctx context.Context, campaign datatypes.CampaignID, window datatypes.Window) (*datatypes.PerformanceMetrics, error)
	}

	// CreativeProvider serves creative health signals.
	CreativeProvider interface {
		FetchCreativeHealth(ctx context.Context, campaign datatypes.CampaignID, window datatypes.Window) (*datatypes.CreativeHealth, error)
	}

	// CompetitiveProvider serves competitive activity signals.
	CompetitiveProvider interface {
		FetchCompetitiveSignals(ctx context.Context, campaign datatypes.CampaignID, window datatypes.Window) (*datatypes.CompetitiveSignals, error)
	}

	// AudienceProvider serves audience saturation signals.
	AudienceProvider interface {
		FetchAudienceSignals(ctx context.Context, campaign datatypes.CampaignID, window datatypes.Window) (*datatypes.AudienceSignals, error)
	}

	// HistoryProvider serves prior recommendation outcomes.
	HistoryProvider interface {
		FetchHistory(ctx context.Context, campaign datatypes.CampaignID, window datatypes.Window) (*datatypes.HistoricalPattern, error)
	}
)

// collectThrough runs fetch through the advisory cache when one is
// configured. Cache faults fall through to a direct fetch; they are
// never surfaced as collection failures.
func collectThrough(
	ctx context.Context,
	cache *Cache,
	key Key,
	fetch func(ctx context.Context) (datatypes.SignalBundle, error),
) (datatypes.SignalBundle, error) {
	if cache == nil {
		return fetch(ctx)
	}
	return cache.GetOrCollect(ctx, key, fetch)
}

// PerformanceCollector wraps a PerformanceProvider.
type PerformanceCollector struct {
	provider PerformanceProvider
	cache    *Cache
}

// NewPerformanceCollector creates a collector; cache may be nil.
func NewPerformanceCollector(p PerformanceProvider, cache *Cache) *PerformanceCollector {
	return &PerformanceCollector{provider: p, cache: cache}
}

// Kind implements Collector.
func (c *PerformanceCollector) Kind() datatypes.BundleKind { return datatypes.KindPerformance }

// Collect implements Collector.
func (c *PerformanceCollector) Collect(ctx context.Context, campaign datatypes.CampaignID, window datatypes.Window) (datatypes.SignalBundle, error) {
	key := Key{Campaign: campaign, Kind: c.Kind(), Window: window}
	return collectThrough(ctx, c.cache, key, func(ctx context.Context) (datatypes.SignalBundle, error) {
		b, err := c.provider.FetchPerformance(ctx, campaign, window)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, ErrNilBundle
		}
		b.Collected = time.Now()
		b.Window = window
		return b, nil
	})
}

// CreativeCollector wraps a CreativeProvider.
type CreativeCollector struct {
	provider CreativeProvider
	cache    *Cache
}

// NewCreativeCollector creates a collector; cache may be nil.
func NewCreativeCollector(p CreativeProvider, cache *Cache) *CreativeCollector {
	return &CreativeCollector{provider: p, cache: cache}
}

// Kind implements Collector.
func (c *CreativeCollector) Kind() datatypes.BundleKind { return datatypes.KindCreative }

// Collect implements Collector.
func (c *CreativeCollector) Collect(ctx context.Context, campaign datatypes.CampaignID, window datatypes.Window) (datatypes.SignalBundle, error) {
	key := Key{Campaign: campaign, Kind: c.Kind(), Window: window}
	return collectThrough(ctx, c.cache, key, func(ctx context.Context) (datatypes.SignalBundle, error) {
		b, err := c.provider.FetchCreativeHealth(ctx, campaign, window)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, ErrNilBundle
		}
		b.Collected = time.Now()
		b.Window = window
		return b, nil
	})
}

// CompetitiveCollector wraps a CompetitiveProvider.
type CompetitiveCollector struct {
	provider CompetitiveProvider
	cache    *Cache
}

// NewCompetitiveCollector creates a collector; cache may be nil.
func NewCompetitiveCollector(p CompetitiveProvider, cache *Cache) *CompetitiveCollector {
	return &CompetitiveCollector{provider: p, cache: cache}
}

// Kind implements Collector.
func (c *CompetitiveCollector) Kind() datatypes.BundleKind { return datatypes.KindCompetitive }

// Collect implements Collector.
func (c *CompetitiveCollector) Collect(ctx context.Context, campaign datatypes.CampaignID, window datatypes.Window) (datatypes.SignalBundle, error) {
	key := Key{Campaign: campaign, Kind: c.Kind(), Window: window}
	return collectThrough(ctx, c.cache, key, func(ctx context.Context) (datatypes.SignalBundle, error) {
		b, err := c.provider.FetchCompetitiveSignals(ctx, campaign, window)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, ErrNilBundle
		}
		b.Collected = time.Now()
		b.Window = window
		return b, nil
	})
}

// AudienceCollector wraps an AudienceProvider.
type AudienceCollector struct {
	provider AudienceProvider
	cache    *Cache
}

// NewAudienceCollector creates a collector; cache may be nil.
func NewAudienceCollector(p AudienceProvider, cache *Cache) *AudienceCollector {
	return &AudienceCollector{provider: p, cache: cache}
}

// Kind implements Collector.
func (c *AudienceCollector) Kind() datatypes.BundleKind { return datatypes.KindAudience }

// Collect implements Collector.
func (c *AudienceCollector) Collect(ctx context.Context, campaign datatypes.CampaignID, window datatypes.Window) (datatypes.SignalBundle, error) {
	key := Key{Campaign: campaign, Kind: c.Kind(), Window: window}
	return collectThrough(ctx, c.cache, key, func(ctx context.Context) (datatypes.SignalBundle, error) {
		b, err := c.provider.FetchAudienceSignals(ctx, campaign, window)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, ErrNilBundle
		}
		b.Collected = time.Now()
		b.Window = window
		return b, nil
	})
}

// HistoryCollector wraps a HistoryProvider.
type HistoryCollector struct {
	provider HistoryProvider
	cache    *Cache
}

// NewHistoryCollector creates a collector; cache may be nil.
func NewHistoryCollector(p HistoryProvider, cache *Cache) *HistoryCollector {
	return &HistoryCollector{provider: p, cache: cache}
}

// Kind implements Collector.
func (c *HistoryCollector) Kind() datatypes.BundleKind { return datatypes.KindHistory }

// Collect implements Collector.
func (c *HistoryCollector) Collect(ctx context.Context, campaign datatypes.CampaignID, window datatypes.Window) (datatypes.SignalBundle, error) {
	key := Key{Campaign: campaign, Kind: c.Kind(), Window: window}
	return collectThrough(ctx, c.cache, key, func(ctx context.Context) (datatypes.SignalBundle, error) {
		b, err := c.provider.FetchHistory(ctx, campaign, window)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, ErrNilBundle
		}
		b.Collected = time.Now()
		b.Window = window
		return b, nil
	})
}
