// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// StubEngine is a deterministic in-memory engine for tests and dry runs.
//
// Responses are routed by the request's Schema string, which is distinct
// per reasoning stage, so a stub configured once answers every stage of a
// run. An optional OnComplete hook overrides routing entirely.
//
// Thread Safety: safe for concurrent use.
type StubEngine struct {
	mu sync.Mutex

	// responses maps a schema string to the ordered answers returned for
	// that schema. The last answer repeats once the list is exhausted.
	responses map[string][]string

	// served counts per-schema calls to walk the response lists.
	served map[string]int

	// OnComplete, when set, handles every call. Useful for failure
	// injection.
	OnComplete func(ctx context.Context, req Request) (*Response, error)

	calls atomic.Int64
}

// NewStubEngine creates an empty stub. Configure it with Respond or set
// OnComplete.
func NewStubEngine() *StubEngine {
	return &StubEngine{
		responses: make(map[string][]string),
		served:    make(map[string]int),
	}
}

// Respond registers the ordered answers for a schema. Registering again
// replaces the previous answers.
func (e *StubEngine) Respond(schema string, answers ...string) *StubEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responses[schema] = answers
	e.served[schema] = 0
	return e
}

// Calls returns how many times Complete has been invoked.
func (e *StubEngine) Calls() int64 {
	return e.calls.Load()
}

// Name implements Engine.
func (e *StubEngine) Name() string { return "stub" }

// Model implements Engine.
func (e *StubEngine) Model() string { return "canned" }

// Complete implements Engine.
func (e *StubEngine) Complete(ctx context.Context, req Request) (*Response, error) {
	e.calls.Add(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if e.OnComplete != nil {
		return e.OnComplete(ctx, req)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	answers, ok := e.responses[req.Schema]
	if !ok || len(answers) == 0 {
		return nil, fmt.Errorf("%w: stub has no response for schema", ErrInvalidRequest)
	}

	idx := e.served[req.Schema]
	if idx >= len(answers) {
		idx = len(answers) - 1
	}
	e.served[req.Schema]++

	return &Response{Content: answers[idx], Model: "canned"}, nil
}

// Ensure StubEngine implements Engine.
var _ Engine = (*StubEngine)(nil)
