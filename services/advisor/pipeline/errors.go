// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline implements the recommendation pipeline: signal
// aggregation, the analyze/draft/critique reasoning loop, the quality
// gate, and output validation.
package pipeline

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientContext means zero signal sources collected ok, so
	// no reasoning may start.
	ErrInsufficientContext = errors.New("insufficient context: no signal source collected successfully")

	// ErrInvalidTransition indicates an attempted gate transition that
	// the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid gate state transition")

	// ErrStageExhausted means a reasoning stage failed after its local
	// retry and the run must terminate.
	ErrStageExhausted = errors.New("reasoning stage exhausted retries")

	// ErrInvalidConfig indicates a retry or gate configuration that
	// fails validation.
	ErrInvalidConfig = errors.New("invalid pipeline configuration")
)

// collectorRetryable reports whether a collector error is worth another
// attempt. Context cancellation and deadline expiry end the collection;
// everything else a provider returns is treated as transient.
func collectorRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
