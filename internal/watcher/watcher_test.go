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

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpherd/mcpherd/internal/config"
	"github.com/mcpherd/mcpherd/internal/supervisor"
)

// fakeRegistry records the descriptor operations applied by the watcher.
type fakeRegistry struct {
	mu       sync.Mutex
	descs    map[string]supervisor.ServerDescriptor
	removed  []string
	connects []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{descs: make(map[string]supervisor.ServerDescriptor)}
}

func (f *fakeRegistry) SetDescriptor(desc supervisor.ServerDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.descs[desc.Name] = desc
	return nil
}

func (f *fakeRegistry) RemoveDescriptor(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.descs, name)
	f.removed = append(f.removed, name)
}

func (f *fakeRegistry) Descriptors() []supervisor.ServerDescriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]supervisor.ServerDescriptor, 0, len(f.descs))
	for _, d := range f.descs {
		out = append(out, d)
	}
	return out
}

func (f *fakeRegistry) Connect(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, name)
	return nil
}

func (f *fakeRegistry) get(name string) (supervisor.ServerDescriptor, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.descs[name]
	return d, ok
}

func (f *fakeRegistry) removedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.removed))
	copy(out, f.removed)
	return out
}

func (f *fakeRegistry) connectedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.connects))
	copy(out, f.connects)
	return out
}

func saveRegistry(t *testing.T, path string, servers map[string]*config.ServerEntry) {
	t.Helper()
	require.NoError(t, config.Save(path, &config.Registry{Servers: servers}))
}

func newTestWatcher(t *testing.T, path string, reg Registry) *Watcher {
	t.Helper()
	w, err := New(Config{
		Path:             path,
		Registry:         reg,
		DebounceDelay:    10 * time.Millisecond,
		ReloadsPerSecond: 1000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestReload_AppliesAddsChangesAndRemoves(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.yaml")

	reg := newFakeRegistry()
	require.NoError(t, reg.SetDescriptor(supervisor.ServerDescriptor{
		Name: "old", Command: "sh", Enabled: true,
	}))

	saveRegistry(t, path, map[string]*config.ServerEntry{
		"fresh": {Command: "npx", Args: []string{"-y", "server"}},
	})

	w := newTestWatcher(t, path, reg)
	w.Reload()

	fresh, ok := reg.get("fresh")
	require.True(t, ok)
	assert.Equal(t, "npx", fresh.Command)
	assert.True(t, fresh.Enabled)

	_, ok = reg.get("old")
	assert.False(t, ok)
	assert.Equal(t, []string{"old"}, reg.removedNames())

	// Only the newly added server gets an explicit connect.
	require.Eventually(t, func() bool {
		return len(reg.connectedNames()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"fresh"}, reg.connectedNames())
}

func TestReload_InvalidFileKeepsState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.yaml")

	reg := newFakeRegistry()
	require.NoError(t, reg.SetDescriptor(supervisor.ServerDescriptor{
		Name: "keep", Command: "sh", Enabled: true,
	}))

	require.NoError(t, os.WriteFile(path, []byte("servers: [not a map"), 0600))

	w := newTestWatcher(t, path, reg)
	w.Reload()

	_, ok := reg.get("keep")
	assert.True(t, ok, "invalid file must not disturb running state")
	assert.Empty(t, reg.removedNames())
}

func TestReload_ChangedEntryNotReconnectedExplicitly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.yaml")

	reg := newFakeRegistry()
	require.NoError(t, reg.SetDescriptor(supervisor.ServerDescriptor{
		Name: "p", Command: "sh", Args: []string{"--old"}, Enabled: true,
	}))

	saveRegistry(t, path, map[string]*config.ServerEntry{
		"p": {Command: "sh", Args: []string{"--new"}},
	})

	w := newTestWatcher(t, path, reg)
	w.Reload()

	d, ok := reg.get("p")
	require.True(t, ok)
	assert.Equal(t, []string{"--new"}, d.Args)
	// SetDescriptor owns restarting live peers; no explicit connect.
	assert.Empty(t, reg.connectedNames())
}

func TestWatcher_ReloadsOnFileSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servers.yaml")
	saveRegistry(t, path, map[string]*config.ServerEntry{})

	reg := newFakeRegistry()
	newTestWatcher(t, path, reg)

	// Atomic save: write temp then rename, the pattern the watcher must
	// pick up from directory events.
	saveRegistry(t, path, map[string]*config.ServerEntry{
		"added": {Command: "sh"},
	})

	require.Eventually(t, func() bool {
		_, ok := reg.get("added")
		return ok
	}, 3*time.Second, 10*time.Millisecond)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Registry: newFakeRegistry()})
	require.Error(t, err)

	_, err = New(Config{Path: "/tmp/x.yaml"})
	require.Error(t, err)
}
