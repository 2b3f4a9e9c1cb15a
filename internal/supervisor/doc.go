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

/*
Package supervisor manages the lifecycle of connections to a fleet of
externally configured, long-lived MCP tool-server processes.

Each peer is identified by a unique name and described by a
ServerDescriptor (command, args, env, enabled flag). The supervisor drives
every state transition for a peer:

  - disconnected: registered, no connection, no attempt in progress
  - connecting: a connect sequence (with bounded retry) is in progress
  - connected: live and healthy
  - reconnecting: the process terminated unexpectedly, reconnect pending
  - disabled: connect retries exhausted; requires explicit re-enable

# Connecting

Connect blocks until the peer reaches a terminal outcome for the attempt
sequence. Each attempt constructs a brand-new ServiceHandle via the
injected Factory; a handle whose Connect failed is discarded, never
retried in place. Failed attempts back off per the injected
RetryDelayFunc. After MaxAttempts total failures the peer's descriptor is
flipped to Enabled=false, the peer transitions to disabled, and the
OnAutoDisable hook fires so the flip can be persisted.

	sup, _ := supervisor.New(supervisor.Config{Factory: factory})
	_ = sup.SetDescriptor(supervisor.ServerDescriptor{
	    Name:    "filesystem",
	    Command: "npx",
	    Args:    []string{"-y", "@modelcontextprotocol/server-filesystem"},
	    Enabled: true,
	})
	err := sup.Connect(ctx, "filesystem")

# Termination and reconnect

A connected handle reports unexpected process termination through its
delegate. The supervisor tags each event with the originating handle's
identity and drops events from superseded handles, then schedules a
reconnect using the current descriptor after the ReconnectDelayFunc
elapses. Pending reconnects are cancellable: removing the peer, changing
its configuration, or a newer termination all invalidate the token.

# Restart on configuration change

SetDescriptor on a live peer whose launch parameters changed tears down
the active handle exactly once and queues a reconnect under the new
descriptor. Operations on one peer name never interleave; different peers
are driven fully concurrently.
*/
package supervisor
