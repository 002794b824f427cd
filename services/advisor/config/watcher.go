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
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/CampaignAdvisor/pkg/logging"
)

// reloadDebounce coalesces the write bursts editors produce when saving.
const reloadDebounce = 200 * time.Millisecond

// Watcher reloads the config file on change and hands the result to a
// callback. A file that no longer parses or validates is ignored: the
// previous configuration stays in effect and the failure is logged.
//
// Thread Safety: Safe for concurrent use. Start should only be called
// once.
type Watcher struct {
	path     string
	onChange func(Config)
	watcher  *fsnotify.Watcher
	log      *logging.Logger
}

// NewWatcher creates a watcher for the given config file.
//
// Description:
//
//	The parent directory is watched rather than the file itself, so
//	atomic saves (write temp, rename over) keep being observed. The
//	callback runs on the watcher goroutine; keep it short.
//
// Inputs:
//   - path: Config file to watch.
//   - onChange: Called with each successfully reloaded Config.
//   - log: Logger; nil falls back to the default.
func NewWatcher(path string, onChange func(Config), log *logging.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		watcher:  w,
		log:      log,
	}, nil
}

// Start begins watching. Blocks until the context is cancelled; run it
// in a goroutine.
func (w *Watcher) Start(ctx context.Context) {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		w.log.Warn("failed to watch config directory", "dir", dir, "error", err)
		return
	}
	w.log.Debug("watching config file", "path", w.path)

	var pending <-chan time.Time
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(reloadDebounce)

		case <-pending:
			pending = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", "error", err)

		case <-ctx.Done():
			w.log.Debug("config watcher stopping")
			return
		}
	}
}

// reload re-reads the file and invokes the callback on success.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config reload rejected, keeping previous configuration",
			"path", w.path,
			"error", err,
		)
		return
	}
	w.log.Info("config reloaded",
		"path", w.path,
		"gate_max_iterations", cfg.Gate.MaxIterations,
		"gate_confidence_threshold", cfg.Gate.ConfidenceThreshold,
	)
	w.onChange(cfg)
}

// Stop stops the watcher and releases resources. Safe to call multiple
// times.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
