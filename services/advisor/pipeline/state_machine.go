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
	"fmt"
	"sync"

	"github.com/AleutianAI/CampaignAdvisor/services/advisor/datatypes"
)

// GateState is a phase of the quality-gate loop.
type GateState string

const (
	// StateAnalyzing runs root-cause analysis on the context snapshot.
	StateAnalyzing GateState = "ANALYZING"

	// StateDrafting produces a recommendation draft from the analysis.
	StateDrafting GateState = "DRAFTING"

	// StateCritiquing reviews the current draft.
	StateCritiquing GateState = "CRITIQUING"

	// StateRegenerating loops back to analysis after a rejected critique.
	StateRegenerating GateState = "REGENERATING"

	// StateValidating runs the accepted draft through output validation.
	StateValidating GateState = "VALIDATING"

	// StateSucceeded is the terminal success state.
	StateSucceeded GateState = "SUCCEEDED"

	// StateFailed is the terminal failure state.
	StateFailed GateState = "FAILED"
)

// AllGateStates returns every state in stable order.
func AllGateStates() []GateState {
	return []GateState{
		StateAnalyzing,
		StateDrafting,
		StateCritiquing,
		StateRegenerating,
		StateValidating,
		StateSucceeded,
		StateFailed,
	}
}

// String returns the state name.
func (s GateState) String() string { return string(s) }

// Terminal reports whether the state ends the run.
func (s GateState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// GateConfig bounds the quality-gate loop.
type GateConfig struct {
	// MaxIterations caps the number of critique cycles. At the cap the
	// gate accepts the current draft best-effort instead of looping.
	// Default: 2
	MaxIterations int

	// ConfidenceThreshold is the minimum draft confidence below which a
	// non-final critique triggers regeneration. Default: 0.6
	ConfidenceThreshold float64
}

// DefaultGateConfig returns the default loop bounds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MaxIterations:       2,
		ConfidenceThreshold: 0.6,
	}
}

// Validate checks the gate configuration.
func (c GateConfig) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("%w: max iterations must be >= 1", ErrInvalidConfig)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence threshold must be in [0,1]", ErrInvalidConfig)
	}
	return nil
}

// GateStateMachine manages valid transitions for the quality-gate loop.
//
// The state machine enforces the following transition graph:
//
//	ANALYZING → DRAFTING        : Analysis produced and parsed
//	DRAFTING → CRITIQUING       : Draft produced and parsed
//	CRITIQUING → VALIDATING     : Draft accepted (or cap reached)
//	CRITIQUING → REGENERATING   : Draft rejected, cap not reached
//	REGENERATING → ANALYZING    : Loop restarts at analysis; the
//	                              snapshot is never re-collected
//	VALIDATING → SUCCEEDED      : Validation passed
//	VALIDATING → FAILED         : Validation failed past the cap
//	* → FAILED                  : Any non-terminal state on stage failure
//
// Thread Safety:
//
//	GateStateMachine is safe for concurrent use.
type GateStateMachine struct {
	mu sync.RWMutex

	// transitions maps (from, to) pairs that are valid.
	transitions map[GateState]map[GateState]bool
}

// NewGateStateMachine creates a state machine with all valid transitions.
func NewGateStateMachine() *GateStateMachine {
	sm := &GateStateMachine{
		transitions: make(map[GateState]map[GateState]bool),
	}

	for _, state := range AllGateStates() {
		sm.transitions[state] = make(map[GateState]bool)
	}

	sm.addTransition(StateAnalyzing, StateDrafting)
	sm.addTransition(StateDrafting, StateCritiquing)
	sm.addTransition(StateCritiquing, StateValidating)
	sm.addTransition(StateCritiquing, StateRegenerating)
	sm.addTransition(StateRegenerating, StateAnalyzing)
	sm.addTransition(StateValidating, StateSucceeded)
	sm.addTransition(StateValidating, StateFailed)

	// Any non-terminal state can fail
	for _, state := range AllGateStates() {
		if !state.Terminal() {
			sm.addTransition(state, StateFailed)
		}
	}

	return sm
}

// addTransition registers a valid transition.
func (sm *GateStateMachine) addTransition(from, to GateState) {
	sm.transitions[from][to] = true
}

// CanTransition checks if a transition from one state to another is valid.
//
// Thread Safety: This method is safe for concurrent use.
func (sm *GateStateMachine) CanTransition(from, to GateState) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if toMap, ok := sm.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// Transition validates and returns the target state.
//
// Outputs:
//
//	GateState - to, when the transition is valid
//	error - ErrInvalidTransition otherwise
func (sm *GateStateMachine) Transition(from, to GateState) (GateState, error) {
	if !sm.CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}

// ValidTransitionsFrom returns all valid transitions from a given state.
func (sm *GateStateMachine) ValidTransitionsFrom(from GateState) []GateState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var result []GateState
	if toMap, ok := sm.transitions[from]; ok {
		for state, valid := range toMap {
			if valid {
				result = append(result, state)
			}
		}
	}
	return result
}

// GateDecision is the outcome of one critique-gate evaluation.
type GateDecision struct {
	// Next is the state the loop moves to: StateValidating or
	// StateRegenerating.
	Next GateState

	// BestEffort is true when the iteration cap forced acceptance of a
	// draft the gate would otherwise have rejected.
	BestEffort bool

	// Reason is a human-readable description of the decision.
	Reason string
}

// Decide applies the gate rule to a completed critique cycle.
//
// Description:
//
//	The rule is evaluated after each critique, with iteration counting
//	completed critique cycles (the first cycle is 1):
//
//	  1. At or past the iteration cap, accept the current draft
//	     best-effort and proceed to validation. The loop is bounded by
//	     construction; it cannot run a third cycle at the default cap.
//	  2. Below the cap, a critical finding or a draft confidence below
//	     the threshold triggers regeneration.
//	  3. Otherwise the draft is accepted and proceeds to validation.
//
//	Decide is pure: same inputs, same decision.
func Decide(cfg GateConfig, iteration int, draft *datatypes.RecommendationDraft, critique *datatypes.Critique) GateDecision {
	if iteration >= cfg.MaxIterations {
		if critique.HasCritical() || draft.Confidence < cfg.ConfidenceThreshold {
			return GateDecision{
				Next:       StateValidating,
				BestEffort: true,
				Reason:     fmt.Sprintf("iteration cap %d reached, accepting best-effort draft", cfg.MaxIterations),
			}
		}
		return GateDecision{
			Next:   StateValidating,
			Reason: fmt.Sprintf("draft accepted at iteration cap %d", cfg.MaxIterations),
		}
	}

	if critique.HasCritical() {
		return GateDecision{
			Next:   StateRegenerating,
			Reason: "critique raised a critical finding",
		}
	}
	if draft.Confidence < cfg.ConfidenceThreshold {
		return GateDecision{
			Next:   StateRegenerating,
			Reason: fmt.Sprintf("draft confidence %.2f below threshold %.2f", draft.Confidence, cfg.ConfidenceThreshold),
		}
	}

	return GateDecision{
		Next:   StateValidating,
		Reason: "critique accepted the draft",
	}
}

// DefaultGateStateMachine is the shared state machine instance.
var DefaultGateStateMachine = NewGateStateMachine()
