// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherAppliesValidChange(t *testing.T) {
	path := writeConfig(t, `
gate:
  max_iterations: 2
  confidence_threshold: 0.6
`)

	changed := make(chan Config, 1)
	w, err := NewWatcher(path, func(cfg Config) { changed <- cfg }, nil)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`
gate:
  max_iterations: 4
  confidence_threshold: 0.8
`), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, 4, cfg.Gate.MaxIterations)
		assert.InDelta(t, 0.8, cfg.Gate.ConfidenceThreshold, 1e-9)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was never applied")
	}
}

func TestWatcherIgnoresInvalidChange(t *testing.T) {
	path := writeConfig(t, `
gate:
  max_iterations: 2
  confidence_threshold: 0.6
`)

	changed := make(chan Config, 1)
	w, err := NewWatcher(path, func(cfg Config) { changed <- cfg }, nil)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	time.Sleep(50 * time.Millisecond)

	// Iteration count outside the accepted range: the reload must be
	// rejected and the callback never invoked.
	require.NoError(t, os.WriteFile(path, []byte(`
gate:
  max_iterations: 0
  confidence_threshold: 0.6
`), 0o644))

	select {
	case cfg := <-changed:
		t.Fatalf("invalid config was applied: %+v", cfg.Gate)
	case <-time.After(600 * time.Millisecond):
		// No callback within the debounce window plus slack: rejected.
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	path := writeConfig(t, `
gate:
  max_iterations: 2
  confidence_threshold: 0.6
`)

	changed := make(chan Config, 1)
	w, err := NewWatcher(path, func(cfg Config) { changed <- cfg }, nil)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	time.Sleep(50 * time.Millisecond)

	sibling := path + ".bak"
	require.NoError(t, os.WriteFile(sibling, []byte("not: config"), 0o644))

	select {
	case <-changed:
		t.Fatal("a sibling file write must not trigger a reload")
	case <-time.After(600 * time.Millisecond):
	}
}
