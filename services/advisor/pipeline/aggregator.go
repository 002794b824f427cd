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
	"time"

	"github.com/AleutianAI/CampaignAdvisor/pkg/logging"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/collectors"
	"github.com/AleutianAI/CampaignAdvisor/services/advisor/datatypes"
)

// DefaultCollectionTimeout is the shared deadline for one collection
// round across all signal sources.
const DefaultCollectionTimeout = 10 * time.Second

// Aggregator fans out to all registered collectors and assembles the
// context snapshot with graceful degradation.
//
// Description:
//
//	Collectors run concurrently under one shared deadline. Each
//	collector gets the retry policy independently; an exhausted
//	collector marks its source degraded, while a panic or a deadline
//	that fires mid-flight marks it missing. Collection failures never
//	abort the round. Only a round where zero sources collect ok is
//	fatal, because reasoning over an empty snapshot would hallucinate.
//
// Thread Safety: Aggregator is safe for concurrent use; each Build call
// works on its own snapshot.
type Aggregator struct {
	collectors []collectors.Collector
	retry      RetryConfig
	timeout    time.Duration
	log        *logging.Logger
}

// NewAggregator creates an aggregator over the given collectors.
// A nil logger falls back to the default stderr logger.
func NewAggregator(cs []collectors.Collector, retry RetryConfig, timeout time.Duration, log *logging.Logger) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultCollectionTimeout
	}
	if log == nil {
		log = logging.Default()
	}
	return &Aggregator{
		collectors: cs,
		retry:      retry,
		timeout:    timeout,
		log:        log,
	}
}

// sourceOutcome is one collector's result within a round.
type sourceOutcome struct {
	kind   datatypes.BundleKind
	bundle datatypes.SignalBundle
	report datatypes.SourceReport
}

// Build runs one collection round and assembles the context snapshot.
//
// Outputs:
//
//	*datatypes.Context - The snapshot, always populated with a source
//	    report per registered collector. Returned even on error so a
//	    failure artifact can retain it.
//	error - ErrInsufficientContext when zero sources collected ok, or
//	    the parent context's error when it expired before the round.
func (a *Aggregator) Build(ctx context.Context, campaign datatypes.CampaignID, window datatypes.Window) (*datatypes.Context, error) {
	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	outcomes := make([]sourceOutcome, len(a.collectors))
	var wg sync.WaitGroup

	for i, c := range a.collectors {
		wg.Add(1)
		go func(i int, c collectors.Collector) {
			defer wg.Done()
			defer func() {
				// A panicking collector loses its source, not the round.
				if r := recover(); r != nil {
					a.log.Error("collector panicked",
						"kind", string(c.Kind()),
						"campaign", string(campaign),
						"panic", fmt.Sprint(r),
					)
					outcomes[i] = sourceOutcome{
						kind: c.Kind(),
						report: datatypes.SourceReport{
							Status:    datatypes.StatusMissing,
							Attempts:  1,
							LastError: fmt.Sprintf("collector panic: %v", r),
						},
					}
				}
			}()
			outcomes[i] = a.collectOne(cctx, c, campaign, window)
		}(i, c)
	}

	wg.Wait()

	snapshot := &datatypes.Context{
		Campaign: campaign,
		Window:   window,
		BuiltAt:  time.Now(),
		Bundles:  make(map[datatypes.BundleKind]datatypes.SignalBundle),
		Sources:  make(map[datatypes.BundleKind]datatypes.SourceReport),
	}
	for _, o := range outcomes {
		snapshot.Sources[o.kind] = o.report
		if o.report.Status == datatypes.StatusOK && o.bundle != nil {
			snapshot.Bundles[o.kind] = o.bundle
		}
	}

	// The round's own deadline expiring is normal degradation; the
	// parent expiring means the caller is gone and the run is over.
	if err := ctx.Err(); err != nil {
		a.log.Error("collection round abandoned, parent context expired",
			"campaign", string(campaign),
			"error", err,
		)
		return snapshot, err
	}

	if !snapshot.Usable() {
		a.log.Error("collection round produced no usable sources",
			"campaign", string(campaign),
			"sources", len(a.collectors),
		)
		return snapshot, ErrInsufficientContext
	}

	if degraded := len(a.collectors) - snapshot.OKCount(); degraded > 0 {
		a.log.Warn("proceeding with partial context",
			"campaign", string(campaign),
			"ok", snapshot.OKCount(),
			"unavailable", degraded,
		)
	}

	return snapshot, nil
}

// collectOne runs a single collector with the retry policy and maps its
// final error to a source status.
func (a *Aggregator) collectOne(ctx context.Context, c collectors.Collector, campaign datatypes.CampaignID, window datatypes.Window) sourceOutcome {
	var bundle datatypes.SignalBundle

	result, err := Retry(ctx, a.retry, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			a.log.Warn("retrying collector",
				"kind", string(c.Kind()),
				"campaign", string(campaign),
				"attempt", attempt,
			)
		}
		b, err := c.Collect(ctx, campaign, window)
		if err != nil {
			return err
		}
		bundle = b
		return nil
	})

	if err != nil {
		status := datatypes.StatusDegraded
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			// Abandoned mid-flight by the shared deadline
			status = datatypes.StatusMissing
		}
		return sourceOutcome{
			kind: c.Kind(),
			report: datatypes.SourceReport{
				Status:    status,
				Attempts:  result.Attempts,
				LastError: err.Error(),
			},
		}
	}

	return sourceOutcome{
		kind:   c.Kind(),
		bundle: bundle,
		report: datatypes.SourceReport{
			Status:   datatypes.StatusOK,
			Attempts: result.Attempts,
		},
	}
}
