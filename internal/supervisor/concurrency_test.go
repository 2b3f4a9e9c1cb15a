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

package supervisor_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpherd/mcpherd/internal/supervisor"
	"github.com/mcpherd/mcpherd/internal/supervisor/supervisortest"
)

// TestConcurrentPeersIndependent exercises many peers in parallel with
// churn on each: connect, terminate, restart via config change, and
// removal. Meant to run under the race detector.
func TestConcurrentPeersIndependent(t *testing.T) {
	factory := supervisortest.NewFakeFactory()
	sup := newTestSupervisor(t, factory, supervisor.Config{})

	const peers = 8
	var wg sync.WaitGroup

	for i := 0; i < peers; i++ {
		name := fmt.Sprintf("peer-%d", i)
		require.NoError(t, sup.SetDescriptor(descriptor(name, "--id", name)))

		wg.Add(1)
		go func() {
			defer wg.Done()

			require.NoError(t, sup.Connect(context.Background(), name))

			factory.Last(name).Terminate(errors.New("crash"))
			require.Eventually(t, func() bool {
				return sup.IsConnected(name) && factory.Created(name) == 2
			}, waitFor, tick)

			require.NoError(t, sup.SetDescriptor(descriptor(name, "--id", name, "--v2")))
			require.Eventually(t, func() bool {
				return sup.IsConnected(name) && factory.Created(name) == 3
			}, waitFor, tick)

			_ = sup.GetStatus(name)
			_, _ = sup.GetDescriptor(name)
		}()
	}

	wg.Wait()

	sum := sup.Summary()
	assert.Equal(t, peers, sum.Total)
	assert.Equal(t, peers, sum.Connected)
}

// TestConnectWhileConnected reconnects an already-connected peer: the old
// handle is torn down and exactly one handle remains live.
func TestConnectWhileConnected(t *testing.T) {
	factory := supervisortest.NewFakeFactory()
	sup := newTestSupervisor(t, factory, supervisor.Config{})

	require.NoError(t, sup.SetDescriptor(descriptor("p")))
	require.NoError(t, sup.Connect(context.Background(), "p"))
	h1 := factory.Last("p")

	require.NoError(t, sup.Connect(context.Background(), "p"))
	h2 := factory.Last("p")

	require.NotSame(t, h1, h2)
	assert.Equal(t, 1, h1.DisconnectCalls())
	assert.Equal(t, 0, h2.DisconnectCalls())
	assert.True(t, sup.IsConnected("p"))
}

// TestCallerCancelDuringBackoff cancels the caller's context while the
// sequence is waiting out a retry backoff: Connect returns the context
// error and the peer settles back to disconnected.
func TestCallerCancelDuringBackoff(t *testing.T) {
	factory := supervisortest.NewFakeFactory()
	factory.ScriptConnects("p", errors.New("down"), errors.New("down"))

	sup := newTestSupervisor(t, factory, supervisor.Config{
		MaxAttempts: 3,
		RetryDelay:  func(int) time.Duration { return time.Hour },
	})
	require.NoError(t, sup.SetDescriptor(descriptor("p")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Connect(ctx, "p") }()

	require.Eventually(t, func() bool {
		return factory.Created("p") == 1
	}, waitFor, tick)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Connect did not return after caller cancellation")
	}

	assert.Equal(t, supervisor.StateDisconnected, sup.GetStatus("p").State)
	assert.Equal(t, 1, factory.Created("p"))
}

// TestCallerCancelDuringHandshake cancels the caller's context while an
// attempt is blocked in the handshake itself: the attempt is cut short,
// Connect returns the context error, the handle is torn down, and no
// retry is charged.
func TestCallerCancelDuringHandshake(t *testing.T) {
	factory := supervisortest.NewFakeFactory()
	started := make(chan struct{})
	factory.ScriptConnectFunc("p", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	sup := newTestSupervisor(t, factory, supervisor.Config{})
	require.NoError(t, sup.SetDescriptor(descriptor("p")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Connect(ctx, "p") }()

	<-started
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Connect did not return after caller cancellation")
	}

	assert.Equal(t, supervisor.StateDisconnected, sup.GetStatus("p").State)
	assert.Equal(t, 0, sup.GetStatus("p").RetryCount)
	assert.Equal(t, 1, factory.Created("p"))
	assert.Equal(t, 1, factory.Last("p").DisconnectCalls())
}
