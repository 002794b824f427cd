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
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/CampaignAdvisor/services/advisor/datatypes"
)

// Violation is one output-validation failure on the final draft.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError aggregates every violation found on a draft so the
// failure artifact can report all of them at once.
type ValidationError struct {
	Violations []Violation
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "draft validation failed"
	}
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return "draft validation failed: " + strings.Join(msgs, "; ")
}

// OutputValidator is the final contract check before a draft becomes a
// Recommendation. It is the last line of defense: the reasoning stages
// validate their own responses, but the validator re-checks the accepted
// draft independently so a bug upstream cannot emit a malformed artifact.
//
// Thread Safety: OutputValidator is safe for concurrent use.
type OutputValidator struct {
	validate *validator.Validate
}

// NewOutputValidator creates the validator with struct-tag rules bound.
func NewOutputValidator() *OutputValidator {
	return &OutputValidator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ValidateDraft checks the draft against the full output contract:
// struct-tag rules (required fields, metric minimum, confidence range)
// plus the enum and self-alternative rules tags cannot express.
// Returns *ValidationError listing every violation, or nil.
func (v *OutputValidator) ValidateDraft(draft *datatypes.RecommendationDraft) error {
	var violations []Violation

	if err := v.validate.Struct(draft); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				violations = append(violations, Violation{
					Field:   fe.Field(),
					Rule:    fe.Tag(),
					Message: fmt.Sprintf("%s fails rule %q", fe.Field(), fe.Tag()),
				})
			}
		} else {
			violations = append(violations, Violation{
				Field:   "draft",
				Rule:    "struct",
				Message: err.Error(),
			})
		}
	}

	if !draft.Workflow.Valid() {
		violations = append(violations, Violation{
			Field:   "Workflow",
			Rule:    "closed_set",
			Message: fmt.Sprintf("recommended workflow %q is not in the closed action set", draft.Workflow),
		})
	}
	if draft.Risk != "" && !draft.Risk.Valid() {
		violations = append(violations, Violation{
			Field:   "Risk",
			Rule:    "closed_set",
			Message: fmt.Sprintf("risk level %q is not low, medium, or high", draft.Risk),
		})
	}
	for _, alt := range draft.Alternatives {
		if !alt.Valid() {
			violations = append(violations, Violation{
				Field:   "Alternatives",
				Rule:    "closed_set",
				Message: fmt.Sprintf("alternative %q is not in the closed action set", alt),
			})
		}
		if alt == draft.Workflow {
			violations = append(violations, Violation{
				Field:   "Alternatives",
				Rule:    "no_self_alternative",
				Message: fmt.Sprintf("recommended workflow %q also listed as an alternative", alt),
			})
		}
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}
