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

package supervisor

import "context"

// ServiceHandle is one connection to one tool-server process. A handle is
// constructed fresh for every connect, reconnect, and restart attempt; a
// handle whose Connect failed is discarded, never retried in place.
//
// Implementations must make Disconnect idempotent and must invoke the
// OnTerminated callback at most once, only for termination the supervisor
// did not itself request.
type ServiceHandle interface {
	// ID returns the unique identity of this handle instance. The
	// supervisor uses it to discard stale termination events from
	// handles that have since been superseded.
	ID() string

	// Connect establishes the connection, spawning the server process
	// and completing the protocol handshake.
	Connect(ctx context.Context) error

	// Disconnect tears down the connection. Safe to call at any time,
	// any number of times, including before Connect.
	Disconnect()

	// OnTerminated registers the delegate invoked when the underlying
	// process terminates unexpectedly. If termination already happened,
	// the callback fires immediately.
	OnTerminated(fn func(err error))

	// ListTools retrieves the tools exposed by the peer.
	ListTools(ctx context.Context) ([]ToolDescriptor, error)

	// ListResources retrieves the resources exposed by the peer.
	ListResources(ctx context.Context) ([]ResourceDescriptor, error)

	// CallTool invokes a tool on the peer and returns its textual output.
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Factory constructs a new, not-yet-connected handle for a descriptor.
// Injected into the supervisor so tests can substitute scripted fakes.
type Factory func(desc ServerDescriptor) ServiceHandle
