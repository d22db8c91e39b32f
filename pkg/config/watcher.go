// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"
)

// Watcher polls the config file (and its profile overlay) and reloads on change.
type Watcher struct {
	mu        sync.RWMutex
	opts      Options
	interval  time.Duration
	modTimes  map[string]time.Time
	config    *Config
	listeners []func(*Config)
	logger    *slog.Logger
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// NewWatcher loads the configuration described by opts and prepares to
// watch its files. Call Start to begin polling.
func NewWatcher(opts Options, wopts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		opts:     opts,
		interval: time.Second,
		modTimes: make(map[string]time.Time),
		logger:   slog.Default(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, o := range wopts {
		o(w)
	}
	w.changed()
	cfg, err := LoadWith(opts)
	if err != nil {
		return nil, err
	}
	w.config = cfg
	return w, nil
}

// OnChange registers a callback invoked with every reloaded config.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start begins polling until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer close(w.doneCh)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				if w.changed() {
					w.reload()
				}
			}
		}
	}()
}

// Stop stops polling and waits for the loop to exit. Start must have been called.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Watcher) paths() []string {
	if w.opts.Path == "" {
		return nil
	}
	paths := []string{w.opts.Path}
	if w.opts.Profile != "" {
		paths = append(paths, ProfilePath(w.opts.Path, w.opts.Profile))
	}
	return paths
}

// changed records current mod times and reports whether any moved forward.
func (w *Watcher) changed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := false
	for _, p := range w.paths() {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if last, ok := w.modTimes[p]; !ok || info.ModTime().After(last) {
			w.modTimes[p] = info.ModTime()
			changed = true
		}
	}
	return changed
}

func (w *Watcher) reload() {
	cfg, err := LoadWith(w.opts)
	if err != nil {
		w.logger.Error("config.reload.error", slog.String("error", err.Error()))
		return
	}
	w.mu.Lock()
	w.config = cfg
	listeners := slices.Clone(w.listeners)
	w.mu.Unlock()

	w.logger.Info("config.reload.complete", slog.String("path", w.opts.Path))
	for _, fn := range listeners {
		fn(cfg)
	}
}
