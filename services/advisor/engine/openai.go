// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// openaiSecretPath is where container secrets mount the API key when the
// environment variable is not set.
const openaiSecretPath = "/run/secrets/openai_api_key"

// OpenAIEngine is the OpenAI-backed reasoning engine.
//
// Thread Safety: safe for concurrent use after construction.
type OpenAIEngine struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// NewOpenAIEngine builds an engine from environment configuration.
//
// Description:
//
//	Reads OPENAI_API_KEY (falling back to the container secret path) and
//	OPENAI_MODEL. A per-second rate limit caps outbound calls so bursts
//	of concurrent pipeline runs do not trip provider limits; qps <= 0
//	disables the limiter.
//
// Outputs:
//
//	*OpenAIEngine - Ready-to-use engine.
//	error - If no API key is available.
func NewOpenAIEngine(model string, qps float64) (*OpenAIEngine, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		keyBytes, err := os.ReadFile(openaiSecretPath)
		if err != nil {
			return nil, fmt.Errorf("OPENAI_API_KEY not set and secret not found at %s", openaiSecretPath)
		}
		apiKey = strings.TrimSpace(string(keyBytes))
		slog.Info("read OpenAI API key from container secret")
	}
	if model == "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	var limiter *rate.Limiter
	if qps > 0 {
		limiter = rate.NewLimiter(rate.Limit(qps), 1)
	}

	return &OpenAIEngine{
		client:  openai.NewClient(apiKey),
		model:   model,
		limiter: limiter,
	}, nil
}

// Name implements Engine.
func (e *OpenAIEngine) Name() string { return "openai" }

// Model implements Engine.
func (e *OpenAIEngine) Model() string { return e.model }

// Complete implements Engine.
//
// The output-shape description is appended to the user prompt and JSON
// response mode is requested so the model cannot answer in prose.
func (e *OpenAIEngine) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", ErrInvalidRequest)
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	temperature := req.Temperature
	if temperature < 0 {
		temperature = DefaultTemperature
	}

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt + "\n\n" + req.Schema},
		},
		MaxCompletionTokens: maxTokens,
		Temperature:         float32(temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrServer)
	}

	return &Response{
		Content:    resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
		Model:      resp.Model,
		Duration:   time.Since(start),
	}, nil
}

// classifyOpenAIError maps provider errors onto the package sentinels so
// the retry policy can distinguish transient from permanent failures.
func classifyOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.HTTPStatusCode >= 500:
			return fmt.Errorf("%w: %v", ErrServer, err)
		case apiErr.HTTPStatusCode >= 400:
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	// Transport-level failures are treated as retryable server faults.
	return fmt.Errorf("%w: %v", ErrServer, err)
}

// Ensure OpenAIEngine implements Engine.
var _ Engine = (*OpenAIEngine)(nil)
