// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ontology

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last file event
// before reloading. Editors often write a file in several events.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads an ontology file into a Holder when it changes on disk.
//
// # Description
//
// The watcher observes the file's parent directory, not the file itself,
// so atomic replace-by-rename saves are seen. Events for other files in
// the directory are ignored. Events are debounced; after the quiet period
// the file is loaded and validated. A valid file replaces the Holder's
// ontology; an invalid one is logged and the previous ontology stays
// active.
//
// # Thread Safety
//
// Start and Stop may be called from any goroutine. OnReload callbacks run
// on the watcher goroutine.
type Watcher struct {
	path     string
	holder   *Holder
	logger   *slog.Logger
	debounce time.Duration
	onReload func(*Ontology, error)

	fs       *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	Debounce time.Duration
	Logger   *slog.Logger

	// OnReload is called after every reload attempt with the new ontology
	// or the error that rejected it.
	OnReload func(*Ontology, error)
}

// NewWatcher creates a watcher for path publishing into holder.
func NewWatcher(path string, holder *Holder, opts WatcherOptions) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve ontology path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		path:     abs,
		holder:   holder,
		logger:   opts.Logger.With("component", "ontology_watcher", "path", abs),
		debounce: opts.Debounce,
		onReload: opts.OnReload,
		fs:       fw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the directory watch is in place.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop ends watching and waits for the watcher goroutine to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fs.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) reload() {
	o, err := Load(w.path)
	if err != nil {
		w.logger.Error("ontology reload rejected, keeping previous version", "error", err)
	} else {
		w.holder.Store(o)
		w.logger.Info("ontology reloaded",
			"version", o.Version,
			"controls", len(o.Controls),
			"edges", len(o.PropagationGraph),
			"generation", w.holder.Generation(),
		)
	}
	if w.onReload != nil {
		w.onReload(o, err)
	}
}
