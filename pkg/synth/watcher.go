// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package synth

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jllopis/ergon/pkg/capability"
)

// DefaultDebounce is how long a file must stay quiet before it is reloaded.
const DefaultDebounce = 200 * time.Millisecond

// Watcher keeps the registry in sync with the dynamic directory: created
// or modified files are (re)loaded, removed files are unregistered.
type Watcher struct {
	reg      *capability.Registry
	loader   capability.Loader
	debounce time.Duration
	logger   *slog.Logger

	fs       *fsnotify.Watcher
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the per-file quiet period.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher returns a watcher for reg's dynamic directory.
func NewWatcher(reg *capability.Registry, loader capability.Loader, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		reg:      reg,
		loader:   loader,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. The directory is created if missing.
func (w *Watcher) Start(ctx context.Context) error {
	dir := w.reg.DynamicDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return err
	}
	w.fs = fsw
	w.logger.Info("synth.watch.start", slog.String("dir", dir))
	go w.run(ctx)
	return nil
}

// Stop stops watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	if w.fs == nil {
		return
	}
	<-w.doneCh
	w.fs.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	tick := w.debounce / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	pending := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Ext(ev.Name) != capability.SourceExt {
				continue
			}
			pending[ev.Name] = time.Now().Add(w.debounce)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("synth.watch.error", slog.String("error", err.Error()))
		case now := <-ticker.C:
			for path, due := range pending {
				if now.Before(due) {
					continue
				}
				delete(pending, path)
				w.sync(ctx, path)
			}
		}
	}
}

// sync brings the registry in line with the current state of path.
func (w *Watcher) sync(ctx context.Context, path string) {
	name := strings.TrimSuffix(filepath.Base(path), capability.SourceExt)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if c, ok := w.reg.Get(name); ok && c.Source == capability.SourceSynth {
			w.reg.Unregister(name)
		}
		return
	}
	if err != nil {
		w.logger.Warn("synth.watch.read.error", slog.String("file", path), slog.String("error", err.Error()))
		return
	}
	if c, ok := w.reg.Get(name); ok && c.Code == string(data) {
		return
	}
	if err := LoadFile(ctx, w.reg, w.loader, path); err != nil {
		w.logger.Warn("synth.watch.load.error", slog.String("file", path), slog.String("error", err.Error()))
		return
	}
	w.logger.Info("synth.watch.reloaded", slog.String("name", name))
}
