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
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/time/rate"
)

// OllamaEngine runs reasoning against a local Ollama server. This is the
// fully-local path: no campaign data leaves the machine.
//
// Thread Safety: safe for concurrent use after construction.
type OllamaEngine struct {
	llm     *ollama.LLM
	model   string
	limiter *rate.Limiter
}

// NewOllamaEngine connects to an Ollama server.
//
// Inputs:
//
//	serverURL - Ollama base URL. Empty uses the client default
//	            (http://localhost:11434).
//	model - Model name, e.g. "llama3.1:8b". Must not be empty.
//	qps - Outbound call rate cap; <= 0 disables the limiter.
func NewOllamaEngine(serverURL, model string, qps float64) (*OllamaEngine, error) {
	if model == "" {
		return nil, errors.New("ollama model must not be empty")
	}

	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}

	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("connect ollama: %w", err)
	}

	var limiter *rate.Limiter
	if qps > 0 {
		limiter = rate.NewLimiter(rate.Limit(qps), 1)
	}

	return &OllamaEngine{llm: llm, model: model, limiter: limiter}, nil
}

// Name implements Engine.
func (e *OllamaEngine) Name() string { return "ollama" }

// Model implements Engine.
func (e *OllamaEngine) Model() string { return e.model }

// Complete implements Engine.
func (e *OllamaEngine) Complete(ctx context.Context, req Request) (*Response, error) {
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

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt+"\n\n"+req.Schema),
	}

	start := time.Now()
	resp, err := e.llm.GenerateContent(ctx, messages,
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(temperature),
		llms.WithJSONMode(),
	)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// Local server faults are transient by default: the model may be
		// loading or the server restarting.
		return nil, fmt.Errorf("%w: %v", ErrServer, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrServer)
	}

	return &Response{
		Content:  resp.Choices[0].Content,
		Model:    e.model,
		Duration: time.Since(start),
	}, nil
}

// Ensure OllamaEngine implements Engine.
var _ Engine = (*OllamaEngine)(nil)
