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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decodeTarget struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		want    decodeTarget
	}{
		{
			name:    "bare json",
			content: `{"verdict":"pass","confidence":0.9}`,
			want:    decodeTarget{Verdict: "pass", Confidence: 0.9},
		},
		{
			name:    "json fence",
			content: "Here you go:\n```json\n{\"verdict\":\"pass\",\"confidence\":0.8}\n```\nDone.",
			want:    decodeTarget{Verdict: "pass", Confidence: 0.8},
		},
		{
			name:    "anonymous fence",
			content: "```\n{\"verdict\":\"fail\",\"confidence\":0.1}\n```",
			want:    decodeTarget{Verdict: "fail", Confidence: 0.1},
		},
		{
			name:    "preamble and trailer around bare object",
			content: "Sure! The answer is {\"verdict\":\"pass\",\"confidence\":0.7} as requested.",
			want:    decodeTarget{Verdict: "pass", Confidence: 0.7},
		},
		{
			name:    "empty response",
			content: "",
			wantErr: true,
		},
		{
			name:    "prose only",
			content: "I think the campaign should pause.",
			wantErr: true,
		},
		{
			name:    "truncated object",
			content: `{"verdict":"pass",`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got decodeTarget
			err := Decode(tt.content, &got)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedOutput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrRateLimited))
	assert.True(t, IsRetryable(ErrServer))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(ErrMalformedOutput))
	assert.True(t, IsRetryable(errors.New("connection reset")))

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(ErrInvalidRequest))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
}

func TestStubEngine_RoutesBySchema(t *testing.T) {
	stub := NewStubEngine().
		Respond("schema-a", `{"n":1}`, `{"n":2}`).
		Respond("schema-b", `{"n":10}`)

	ctx := context.Background()

	resp, err := stub.Complete(ctx, Request{Prompt: "p", Schema: "schema-a"})
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, resp.Content)

	resp, err = stub.Complete(ctx, Request{Prompt: "p", Schema: "schema-b"})
	require.NoError(t, err)
	assert.Equal(t, `{"n":10}`, resp.Content)

	// Second call for schema-a advances the script.
	resp, err = stub.Complete(ctx, Request{Prompt: "p", Schema: "schema-a"})
	require.NoError(t, err)
	assert.Equal(t, `{"n":2}`, resp.Content)

	// Exhausted scripts repeat their last answer.
	resp, err = stub.Complete(ctx, Request{Prompt: "p", Schema: "schema-a"})
	require.NoError(t, err)
	assert.Equal(t, `{"n":2}`, resp.Content)

	assert.EqualValues(t, 4, stub.Calls())

	_, err = stub.Complete(ctx, Request{Prompt: "p", Schema: "unknown"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
