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

// Package daemon runs the long-lived mcpherd process: it supervises the
// configured tool-servers, watches the registry for changes, persists
// lifecycle events, and serves the HTTP API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/mcpherd/mcpherd/internal/config"
	"github.com/mcpherd/mcpherd/internal/history"
	"github.com/mcpherd/mcpherd/internal/stdio"
	"github.com/mcpherd/mcpherd/internal/supervisor"
	"github.com/mcpherd/mcpherd/internal/watcher"
)

// Options configures the daemon.
type Options struct {
	// RegistryPath is the servers.yaml file (defaults to the XDG path).
	RegistryPath string

	// ListenAddr is the HTTP API address (defaults to 127.0.0.1:7690).
	ListenAddr string

	// HistoryPath is the event history database (defaults to
	// events.db in the XDG data dir; empty string plus NoHistory
	// disables persistence).
	HistoryPath string

	// NoHistory disables the event history database.
	NoHistory bool

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// Stdio configures the MCP connection handles.
	Stdio stdio.Options
}

// Daemon wires the supervisor, registry watcher, event history, and HTTP
// API together.
type Daemon struct {
	opts   Options
	logger *slog.Logger

	sup     *supervisor.Supervisor
	store   *history.Store
	watcher *watcher.Watcher

	// registryMu serializes read-modify-write cycles on the registry file.
	registryMu sync.Mutex
}

// New creates a daemon. Run starts it.
func New(opts Options) (*Daemon, error) {
	if opts.RegistryPath == "" {
		path, err := config.RegistryPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve registry path: %w", err)
		}
		opts.RegistryPath = path
	}
	if opts.ListenAddr == "" {
		opts.ListenAddr = "127.0.0.1:7690"
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.Stdio.Logger = logger

	// Registry defaults tune the stdio handles; explicit Options win.
	if reg, err := config.Load(opts.RegistryPath); err == nil {
		if opts.Stdio.CallTimeout == 0 {
			opts.Stdio.CallTimeout = reg.Defaults.CallTimeout()
		}
		if opts.Stdio.PingInterval == 0 {
			opts.Stdio.PingInterval = reg.Defaults.PingInterval()
		}
	}

	d := &Daemon{opts: opts, logger: logger}

	if !opts.NoHistory {
		historyPath := opts.HistoryPath
		if historyPath == "" {
			dataDir, err := config.DataDir()
			if err != nil {
				return nil, fmt.Errorf("failed to resolve data dir: %w", err)
			}
			historyPath = filepath.Join(dataDir, "events.db")
		}
		store, err := history.New(history.Config{Path: historyPath, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("failed to open event history: %w", err)
		}
		d.store = store
	}

	var sink supervisor.EventSink
	if d.store != nil {
		sink = d.store.Sink()
	}

	sup, err := supervisor.New(supervisor.Config{
		Factory:       stdio.NewFactory(opts.Stdio),
		Logger:        logger,
		EventSink:     sink,
		OnAutoDisable: d.persistDisable,
	})
	if err != nil {
		return nil, err
	}
	d.sup = sup

	return d, nil
}

// Run loads the registry, connects the enabled servers, and serves the
// HTTP API until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	reg, err := config.Load(d.opts.RegistryPath)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("invalid registry: %w", err)
	}

	descs := reg.Descriptors()
	for _, desc := range descs {
		if err := d.sup.SetDescriptor(desc); err != nil {
			return fmt.Errorf("failed to register server %q: %w", desc.Name, err)
		}
	}

	// Servers connect concurrently; one slow or broken server never
	// delays the rest.
	var wg sync.WaitGroup
	for _, desc := range descs {
		if !desc.Enabled {
			continue
		}
		name := desc.Name
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.sup.Connect(ctx, name); err != nil {
				d.logger.Error("initial connect failed",
					"server", name,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()

	w, err := watcher.New(watcher.Config{
		Path:     d.opts.RegistryPath,
		Registry: d.sup,
		Logger:   d.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to start registry watcher: %w", err)
	}
	d.watcher = w

	mux := http.NewServeMux()
	(&api{
		sup:     d.sup,
		store:   d.store,
		persist: d.persistEntry,
		logger:  d.logger,
	}).routes(mux)

	server := &http.Server{
		Addr:              d.opts.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("daemon listening",
			"addr", d.opts.ListenAddr,
			"registry", d.opts.RegistryPath,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		d.shutdown()
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	d.logger.Info("daemon shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("HTTP shutdown error", "error", err)
	}

	d.shutdown()
	return nil
}

// shutdown tears down the watcher, supervisor, and history store.
func (d *Daemon) shutdown() {
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.logger.Error("watcher close error", "error", err)
		}
	}
	if err := d.sup.Close(); err != nil {
		d.logger.Error("supervisor close error", "error", err)
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Error("history close error", "error", err)
		}
	}
}

// persistDisable writes the auto-disabled flag back to the registry file
// so the server stays off across daemon restarts.
func (d *Daemon) persistDisable(desc supervisor.ServerDescriptor) {
	if err := d.persistEntry(desc); err != nil {
		d.logger.Error("failed to persist auto-disable",
			"server", desc.Name,
			"error", err,
		)
	}
}

// persistEntry upserts one descriptor into the registry file.
func (d *Daemon) persistEntry(desc supervisor.ServerDescriptor) error {
	d.registryMu.Lock()
	defer d.registryMu.Unlock()

	reg, err := config.Load(d.opts.RegistryPath)
	if err != nil {
		return err
	}
	reg.Servers[desc.Name] = config.FromDescriptor(desc)
	return config.Save(d.opts.RegistryPath, reg)
}
