// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guard

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// PolicyWatcher reloads an external policy file into a Guard when the
// file changes on disk.
//
// # Description
//
// Watches the directory containing the policy file (editors typically
// replace files via rename, which would silently drop a watch on the
// file itself). Events are debounced so an editor writing in chunks
// triggers a single reload. A file that fails to parse or compile is
// logged and ignored; the previous policy stays in effect.
//
// # Thread Safety
//
// Safe for concurrent use. Reloads go through Guard.Reload, which is
// atomic with respect to in-flight checks.
type PolicyWatcher struct {
	guard    *Guard
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

// NewPolicyWatcher creates a watcher for the given policy file. The file
// must already load cleanly; call NewGuardFromFile first.
func NewPolicyWatcher(g *Guard, path string) (*PolicyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	return &PolicyWatcher{
		guard:    g,
		path:     path,
		debounce: 250 * time.Millisecond,
		watcher:  w,
	}, nil
}

// Run blocks until ctx is canceled, reloading the policy on change.
func (pw *PolicyWatcher) Run(ctx context.Context) error {
	defer pw.watcher.Close()

	var timer *time.Timer
	pending := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-pw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(pw.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(pw.debounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("policy watcher error", "error", err)
		case <-pending:
			pw.reload()
		}
	}
}

func (pw *PolicyWatcher) reload() {
	data, err := os.ReadFile(pw.path)
	if err != nil {
		slog.Error("failed to read changed policy file, keeping previous policy", "path", pw.path, "error", err)
		return
	}
	policy, err := ParsePolicy(data)
	if err != nil {
		slog.Error("changed policy file does not parse, keeping previous policy", "path", pw.path, "error", err)
		return
	}
	if err := pw.guard.Reload(policy); err != nil {
		slog.Error("changed policy file does not compile, keeping previous policy", "path", pw.path, "error", err)
		return
	}
	slog.Info("reloaded query guard policy", "path", pw.path)
}
