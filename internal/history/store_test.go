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

package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpherd/mcpherd/internal/supervisor"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func event(typ supervisor.EventType, server string, ts time.Time) supervisor.Event {
	return supervisor.Event{
		Type:      typ,
		Server:    server,
		Timestamp: ts,
		Message:   "msg",
		Details:   map[string]any{"attempt": float64(1)},
	}
}

func TestAppendAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Append(ctx, event(supervisor.EventConnected, "a", now.Add(-2*time.Minute))))
	require.NoError(t, store.Append(ctx, event(supervisor.EventReconnecting, "a", now.Add(-time.Minute))))
	require.NoError(t, store.Append(ctx, event(supervisor.EventConnected, "b", now)))

	records, err := store.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Newest first.
	assert.Equal(t, "b", records[0].Server)
	assert.Equal(t, string(supervisor.EventConnected), records[0].Type)
	assert.Equal(t, "msg", records[0].Message)
	assert.Equal(t, float64(1), records[0].Details["attempt"])
	assert.NotEmpty(t, records[0].ID)
}

func TestRecent_FilterByServer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Append(ctx, event(supervisor.EventConnected, "a", now)))
	require.NoError(t, store.Append(ctx, event(supervisor.EventConnected, "b", now)))

	records, err := store.Recent(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].Server)
}

func TestRecent_Limit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, event(supervisor.EventRetrying, "a",
			time.Now().Add(time.Duration(i)*time.Second))))
	}

	records, err := store.Recent(ctx, "a", 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Append(ctx, event(supervisor.EventConnected, "a", now.Add(-48*time.Hour))))
	require.NoError(t, store.Append(ctx, event(supervisor.EventConnected, "a", now)))

	pruned, err := store.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	records, err := store.Recent(ctx, "a", 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSink_PersistsEvents(t *testing.T) {
	store := newTestStore(t)
	sink := store.Sink()

	sink(event(supervisor.EventAutoDisabled, "bad", time.Now()))

	records, err := store.Recent(context.Background(), "bad", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, string(supervisor.EventAutoDisabled), records[0].Type)
}
