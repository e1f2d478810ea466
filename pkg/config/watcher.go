// Copyright 2026 © The Argo Authors
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

// Source identifies where a configuration is loaded from.
type Source struct {
	Path    string
	Profile string
	Sets    []string
}

// Load loads the configuration described by s.
func (s Source) Load() (*Config, error) {
	return LoadWithOverrides(s.Path, s.Profile, s.Sets)
}

// files returns the files whose changes trigger a reload. The profile
// overlay is watched even before it exists.
func (s Source) files() []string {
	if s.Path == "" {
		return nil
	}
	files := []string{s.Path}
	if s.Profile != "" {
		files = append(files, overlayPath(s.Path, s.Profile))
	}
	return files
}

type stamp struct {
	mod  time.Time
	size int64
}

// Watcher polls the configuration files and reloads on change.
type Watcher struct {
	mu        sync.RWMutex
	source    Source
	interval  time.Duration
	stamps    map[string]stamp
	config    *Config
	listeners []func(*Config)
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
	logger    *slog.Logger
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling interval for file changes.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher loads src and prepares to watch it.
func NewWatcher(src Source, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		source:   src,
		interval: time.Second,
		stamps:   make(map[string]stamp),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.checkForChanges()
	cfg, err := src.Load()
	if err != nil {
		return nil, err
	}
	w.config = cfg
	return w, nil
}

// OnChange registers a callback run after every successful reload.
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

// Start begins polling in the background.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop stops polling and waits for the poller to exit. Stop must only be
// called after Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *Watcher) watch(ctx context.Context) {
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
			if w.checkForChanges() {
				w.reload()
			}
		}
	}
}

func (w *Watcher) checkForChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	changed := false
	for _, path := range w.source.files() {
		info, err := os.Stat(path)
		if err != nil {
			if _, seen := w.stamps[path]; seen {
				delete(w.stamps, path)
				changed = true
			}
			continue
		}
		cur := stamp{mod: info.ModTime(), size: info.Size()}
		if prev, ok := w.stamps[path]; !ok || !prev.mod.Equal(cur.mod) || prev.size != cur.size {
			w.stamps[path] = cur
			changed = true
		}
	}
	return changed
}

func (w *Watcher) reload() {
	w.logger.Info("config file changed, reloading", "path", w.source.Path)

	cfg, err := w.source.Load()
	if err != nil {
		w.logger.Error("failed to reload config", "error", err)
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := slices.Clone(w.listeners)
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}

// WatchConfig creates a watcher for src and starts it.
func WatchConfig(ctx context.Context, src Source, opts ...WatcherOption) (*Watcher, *Config, error) {
	w, err := NewWatcher(src, opts...)
	if err != nil {
		return nil, nil, err
	}
	w.Start(ctx)
	return w, w.Config(), nil
}
