// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/loader"
)

// DefaultDebounce is the quiet period before a watched graph reloads.
const DefaultDebounce = 250 * time.Millisecond

// ReloadFunc loads the store described by a manifest file.
type ReloadFunc func(ctx context.Context, manifestPath string) (*graph.Store, error)

// WatchOption configures Watch.
type WatchOption func(*watchOptions)

type watchOptions struct {
	debounce time.Duration
	reload   ReloadFunc
	onReload func(store *graph.Store, err error)
}

// WithDebounce sets the quiet period before reloading.
func WithDebounce(d time.Duration) WatchOption {
	return func(o *watchOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithReloadFunc replaces the default loader.
func WithReloadFunc(fn ReloadFunc) WatchOption {
	return func(o *watchOptions) {
		if fn != nil {
			o.reload = fn
		}
	}
}

// WithReloadHook registers a callback run after every reload attempt.
func WithReloadHook(fn func(store *graph.Store, err error)) WatchOption {
	return func(o *watchOptions) { o.onReload = fn }
}

// Watcher reloads one graph when its manifest or sources change.
//
// Thread Safety:
//
//	Safe for concurrent use. Stop may be called more than once.
type Watcher struct {
	catalog  *Catalog
	name     string
	manifest string
	opts     watchOptions
	logger   *slog.Logger

	fsw     *fsnotify.Watcher
	mu      sync.Mutex
	tracked map[string]bool

	changes  chan string
	stopOnce sync.Once
	stopCh   chan struct{}
	done     sync.WaitGroup

	reloads  atomic.Int64
	failures atomic.Int64
}

// Watch loads the manifest, publishes it as name, and keeps it current.
//
// Description:
//
//	The directories containing the manifest and its local sources are
//	watched. Changes to any of those files are debounced, then the
//	manifest is reloaded and the result published. A failed reload is
//	logged and leaves the previous snapshot in place.
//
// Inputs:
//
//	ctx - Controls the watcher's lifetime.
//	name - Catalog name. Must match the manifest's graph name.
//	manifestPath - Path to the manifest YAML.
//
// Outputs:
//
//	*Watcher - Running watcher. Call Stop to end it.
//	error - Non-nil if the initial load or publish fails.
func (c *Catalog) Watch(ctx context.Context, name, manifestPath string, opts ...WatchOption) (*Watcher, error) {
	o := watchOptions{
		debounce: DefaultDebounce,
		reload: func(ctx context.Context, path string) (*graph.Store, error) {
			return loader.New().LoadFile(ctx, path, nil)
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	abs, err := filepath.Abs(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("catalog: resolving %s: %w", manifestPath, err)
	}

	store, err := o.reload(ctx, abs)
	if err != nil {
		return nil, err
	}
	if err := c.Publish(name, store); err != nil {
		return nil, err
	}
	c.SetSource(name, abs)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("catalog: creating watcher: %w", err)
	}

	w := &Watcher{
		catalog:  c,
		name:     name,
		manifest: abs,
		opts:     o,
		logger:   c.logger.With(slog.String("graph", name), slog.String("manifest", abs)),
		fsw:      fsw,
		tracked:  make(map[string]bool),
		changes:  make(chan string, 64),
		stopCh:   make(chan struct{}),
	}
	if err := w.track(); err != nil {
		fsw.Close()
		return nil, err
	}

	w.done.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	w.logger.Info("watching graph manifest", slog.Duration("debounce", o.debounce))
	return w, nil
}

// Stop ends the watcher and waits for its goroutines.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.fsw.Close()
	})
	w.done.Wait()
}

// Reloads returns the number of successful reloads.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// Failures returns the number of failed reloads.
func (w *Watcher) Failures() int64 { return w.failures.Load() }

// track refreshes the watched file set from the manifest. Directories are
// watched because editors often replace files by rename.
func (w *Watcher) track() error {
	files := []string{w.manifest}
	if m, err := loader.ReadManifest(w.manifest); err == nil {
		files = append(files, m.LocalSources(filepath.Dir(w.manifest))...)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	dirs := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		w.tracked[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("catalog: watching %s: %w", dir, err)
		}
	}
	return nil
}

func (w *Watcher) isTracked(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tracked[path]
}

// processEvents forwards relevant fsnotify events to the debounce loop.
func (w *Watcher) processEvents(ctx context.Context) {
	defer w.done.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			path, err := filepath.Abs(event.Name)
			if err != nil || !w.isTracked(path) {
				continue
			}
			select {
			case w.changes <- path:
			default:
				// A reload is already pending.
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// debounceLoop reloads once the change stream has been quiet for the
// debounce window.
func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.done.Done()

	var timer *time.Timer
	var timerC <-chan time.Time
	pending := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case path := <-w.changes:
			pending[path] = true
			if timer == nil {
				timer = time.NewTimer(w.opts.debounce)
			} else {
				timer.Reset(w.opts.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			changed := len(pending)
			clear(pending)
			w.reload(ctx, changed)
		}
	}
}

func (w *Watcher) reload(ctx context.Context, changed int) {
	start := time.Now()
	store, err := w.opts.reload(ctx, w.manifest)
	if err == nil {
		err = w.catalog.Publish(w.name, store)
	}
	if err != nil {
		w.failures.Add(1)
		w.logger.Warn("graph reload failed",
			slog.Int("changed_files", changed),
			slog.String("error", err.Error()),
		)
	} else {
		w.reloads.Add(1)
		w.catalog.SetSource(w.name, w.manifest)
		// The manifest may now name different sources.
		if terr := w.track(); terr != nil {
			w.logger.Warn("refreshing watched files failed", slog.String("error", terr.Error()))
		}
		w.logger.Info("graph reloaded",
			slog.Int("changed_files", changed),
			slog.Duration("duration", time.Since(start)),
		)
	}
	if w.opts.onReload != nil {
		w.opts.onReload(store, err)
	}
}
