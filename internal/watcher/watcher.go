// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package watcher reloads the tool-server registry when its file changes
// on disk and applies the difference to the supervisor.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/mcpherd/mcpherd/internal/config"
	"github.com/mcpherd/mcpherd/internal/supervisor"
)

// Registry is the supervisor surface the watcher drives.
type Registry interface {
	SetDescriptor(desc supervisor.ServerDescriptor) error
	RemoveDescriptor(name string)
	Descriptors() []supervisor.ServerDescriptor
	Connect(ctx context.Context, name string) error
}

// Watcher monitors the registry file and applies configuration changes to
// the supervisor as they land.
type Watcher struct {
	// fsWatcher is the underlying filesystem watcher. It watches the
	// registry's parent directory because atomic saves replace the file
	// by rename, which drops per-file watches.
	fsWatcher *fsnotify.Watcher

	// path is the absolute path of the registry file.
	path string

	// registry is the supervisor to apply changes to.
	registry Registry

	logger *slog.Logger

	// debounceDelay coalesces editor write bursts into one reload.
	debounceDelay time.Duration

	// limiter bounds how often reloads run even under sustained churn.
	limiter *rate.Limiter

	// mu protects pendingReload.
	mu            sync.Mutex
	pendingReload *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures a Watcher.
type Config struct {
	// Path is the registry file to watch. Required.
	Path string

	// Registry is the supervisor to apply changes to. Required.
	Registry Registry

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// DebounceDelay is the settle time after a write burst before
	// reloading (defaults to 200ms).
	DebounceDelay time.Duration

	// ReloadsPerSecond bounds the sustained reload rate (defaults to 2).
	ReloadsPerSecond float64
}

// New creates a watcher and starts its event loop.
func New(cfg Config) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("registry path is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve registry path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(absPath)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch registry directory: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	debounceDelay := cfg.DebounceDelay
	if debounceDelay == 0 {
		debounceDelay = 200 * time.Millisecond
	}

	reloadsPerSecond := cfg.ReloadsPerSecond
	if reloadsPerSecond == 0 {
		reloadsPerSecond = 2
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		fsWatcher:     fsWatcher,
		path:          absPath,
		registry:      cfg.Registry,
		logger:        logger,
		debounceDelay: debounceDelay,
		limiter:       rate.NewLimiter(rate.Limit(reloadsPerSecond), 1),
		ctx:           ctx,
		cancel:        cancel,
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// processEvents filters filesystem events down to changes of the registry
// file and schedules debounced reloads.
func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.isRegistryEvent(event) {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("registry watcher error", "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

// isRegistryEvent reports whether the event is a write, create, or rename
// of the registry file itself. Rename covers the atomic temp-file save.
func (w *Watcher) isRegistryEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return abs == w.path
}

// scheduleReload (re)arms the debounce timer; a burst of writes collapses
// into one reload after the settle period.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pendingReload != nil {
		w.pendingReload.Stop()
	}
	w.pendingReload = time.AfterFunc(w.debounceDelay, func() {
		if err := w.limiter.Wait(w.ctx); err != nil {
			return
		}
		w.Reload()
	})
}

// Reload reads the registry file and applies the difference to the
// supervisor: new and changed entries via SetDescriptor, deleted entries
// via RemoveDescriptor. Newly added enabled servers are connected in the
// background. An unreadable or invalid file leaves the running state
// untouched.
func (w *Watcher) Reload() {
	reg, err := config.Load(w.path)
	if err != nil {
		w.logger.Error("failed to reload registry, keeping current state",
			"path", w.path,
			"error", err,
		)
		return
	}
	if err := reg.Validate(); err != nil {
		w.logger.Error("invalid registry, keeping current state",
			"path", w.path,
			"error", err,
		)
		return
	}

	known := make(map[string]bool)
	for _, desc := range w.registry.Descriptors() {
		known[desc.Name] = true
	}

	for _, desc := range reg.Descriptors() {
		isNew := !known[desc.Name]
		delete(known, desc.Name)

		if err := w.registry.SetDescriptor(desc); err != nil {
			w.logger.Error("failed to apply server config",
				"server", desc.Name,
				"error", err,
			)
			continue
		}

		// SetDescriptor restarts changed live servers itself; only servers
		// appearing for the first time need an explicit connect.
		if isNew && desc.Enabled {
			name := desc.Name
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				if err := w.registry.Connect(w.ctx, name); err != nil {
					w.logger.Error("failed to connect new server",
						"server", name,
						"error", err,
					)
				}
			}()
		}
	}

	// Anything left was removed from the file.
	for name := range known {
		w.logger.Info("server removed from registry", "server", name)
		w.registry.RemoveDescriptor(name)
	}

	w.logger.Info("registry reloaded", "path", w.path)
}

// Close shuts down the watcher.
func (w *Watcher) Close() error {
	w.cancel()

	w.mu.Lock()
	if w.pendingReload != nil {
		w.pendingReload.Stop()
	}
	w.mu.Unlock()

	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}
