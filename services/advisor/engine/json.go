// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Decode parses untrusted engine output into v.
//
// Description:
//
//	Every engine response is treated as untrusted text. Decode tries a
//	direct JSON parse first, then extraction from a markdown code fence,
//	then the outermost brace pair. Anything that still fails to parse is
//	reported as ErrMalformedOutput so callers treat it like an engine
//	failure (one retry, then run-fatal).
//
// Inputs:
//
//	content - Raw response text from the engine.
//	v - Destination struct pointer.
//
// Outputs:
//
//	error - Wraps ErrMalformedOutput on any parse failure.
func Decode(content string, v any) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("%w: empty response", ErrMalformedOutput)
	}

	if err := json.Unmarshal([]byte(content), v); err == nil {
		return nil
	}

	extracted := ExtractJSON(content)
	if extracted == "" {
		return fmt.Errorf("%w: no JSON object found", ErrMalformedOutput)
	}
	if err := json.Unmarshal([]byte(extracted), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

// ExtractJSON pulls a JSON object out of surrounding prose.
//
// Models frequently wrap JSON in markdown fences or a preamble despite
// instructions. Fenced blocks are preferred; otherwise the outermost
// brace pair is taken. Returns "" when no candidate object exists.
func ExtractJSON(content string) string {
	startMarkers := []string{"```json\n", "```json\r\n", "```\n", "```\r\n"}
	const endMarker = "```"

	for _, startMarker := range startMarkers {
		startIdx := strings.Index(content, startMarker)
		if startIdx == -1 {
			continue
		}

		contentStart := startIdx + len(startMarker)
		remaining := content[contentStart:]
		endIdx := strings.Index(remaining, endMarker)
		if endIdx == -1 {
			continue
		}
		return strings.TrimSpace(remaining[:endIdx])
	}

	startIdx := strings.Index(content, "{")
	endIdx := strings.LastIndex(content, "}")
	if startIdx != -1 && endIdx > startIdx {
		return content[startIdx : endIdx+1]
	}
	return ""
}
