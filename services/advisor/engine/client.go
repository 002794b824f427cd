// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine provides the reasoning engine abstraction for the advisor
// pipeline.
//
// The pipeline treats "ask a reasoning engine for a structured answer" as
// an abstract capability: it owns prompt construction and the expected
// output shape, but not transport, auth, or model selection. Concrete
// backends (OpenAI, Ollama) are injected at startup; tests and dry runs
// use the deterministic stub.
//
// Thread Safety:
//
//	All implementations in this package are safe for concurrent use.
package engine

import (
	"context"
	"errors"
	"time"
)

// Default request parameters. Low temperature keeps structured answers
// stable across retries.
const (
	DefaultMaxTokens   = 1024
	DefaultTemperature = 0.2
	DefaultTimeout     = 60 * time.Second
)

// Sentinel errors returned by engine backends. The retry helper consults
// IsRetryable to decide whether a failed call is worth repeating.
var (
	// ErrRateLimited indicates the provider rejected the call for rate
	// reasons (retryable).
	ErrRateLimited = errors.New("reasoning engine rate limited")

	// ErrTimeout indicates the call exceeded its deadline (retryable).
	ErrTimeout = errors.New("reasoning engine request timed out")

	// ErrServer indicates a provider-side failure, e.g. a 5xx (retryable).
	ErrServer = errors.New("reasoning engine server error")

	// ErrInvalidRequest indicates the request itself was malformed
	// (not retryable).
	ErrInvalidRequest = errors.New("invalid reasoning engine request")

	// ErrMalformedOutput indicates the engine answered, but the payload
	// could not be parsed into the requested structure. Treated the same
	// as an engine failure: the engine effectively failed if it cannot
	// produce a parseable answer.
	ErrMalformedOutput = errors.New("reasoning engine returned malformed output")
)

// IsRetryable reports whether an engine error is worth one more attempt.
//
// Context cancellation and deadline expiry are never retryable: the run's
// cancellation signal has fired and the pipeline must terminate.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrInvalidRequest) {
		return false
	}
	return true
}

// Request is one structured-completion request.
//
// The same inputs must always produce the same request: stages build
// prompts deterministically so that retries and idempotence tests see
// identical payloads.
type Request struct {
	// SystemPrompt frames the engine's role for this stage.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Prompt is the stage-specific task and context rendering.
	Prompt string `json:"prompt"`

	// Schema describes the exact JSON shape the answer must take. It is
	// appended to the prompt verbatim and identifies the stage for
	// scripted test engines.
	Schema string `json:"schema"`

	// MaxTokens limits the response length. Zero means DefaultMaxTokens.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls sampling randomness. Negative means
	// DefaultTemperature.
	Temperature float64 `json:"temperature,omitempty"`
}

// Response is a raw engine answer. Content is untrusted text until a
// stage parses and validates it.
type Response struct {
	Content string `json:"content"`

	// TokensUsed is total tokens consumed, when the provider reports it.
	TokensUsed int `json:"tokens_used,omitempty"`

	// Model is the model that produced this response.
	Model string `json:"model,omitempty"`

	// Duration is how long the call took.
	Duration time.Duration `json:"duration"`
}

// Engine is the abstract reasoning capability consumed by the pipeline.
//
// Implementations must be safe for concurrent use and must honor context
// cancellation and deadline.
type Engine interface {
	// Complete sends a prompt plus output-shape description and returns
	// the raw payload.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider name (e.g. "openai", "ollama", "stub").
	Name() string

	// Model returns the model identifier in use.
	Model() string
}
