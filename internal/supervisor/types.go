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

import (
	"encoding/json"
	"maps"
	"slices"
)

// ServerDescriptor holds the identity and launch parameters for one
// tool-server peer. Name is the primary key across all supervisor state.
type ServerDescriptor struct {
	// Name is the unique, stable identifier for this peer.
	Name string `json:"name"`

	// Command is the executable to run.
	Command string `json:"command"`

	// Args are the command-line arguments.
	Args []string `json:"args,omitempty"`

	// Env are environment variables passed to the server process.
	Env map[string]string `json:"env,omitempty"`

	// Enabled gates automatic connection attempts. A disabled peer is
	// never connected until it is explicitly re-enabled.
	Enabled bool `json:"enabled"`
}

// LaunchEquals reports whether two descriptors share the same launch
// parameters. A change in launch parameters while a peer is live
// triggers a restart; a change in Enabled alone does not.
func (d ServerDescriptor) LaunchEquals(other ServerDescriptor) bool {
	return d.Command == other.Command &&
		slices.Equal(d.Args, other.Args) &&
		maps.Equal(d.Env, other.Env)
}

// clone returns a deep copy so callers can never mutate supervisor-owned state.
func (d ServerDescriptor) clone() ServerDescriptor {
	c := d
	c.Args = slices.Clone(d.Args)
	c.Env = maps.Clone(d.Env)
	return c
}

// ConnState represents the connection lifecycle state of a peer.
type ConnState string

const (
	// StateDisconnected indicates no connection and no attempt in progress.
	StateDisconnected ConnState = "disconnected"
	// StateConnecting indicates a connect attempt sequence is in progress.
	StateConnecting ConnState = "connecting"
	// StateConnected indicates a live, healthy connection.
	StateConnected ConnState = "connected"
	// StateReconnecting indicates the connection terminated unexpectedly
	// and a reconnect is pending or in progress.
	StateReconnecting ConnState = "reconnecting"
	// StateDisabled indicates the peer exhausted its connect retries and
	// will not be reconnected until explicitly re-enabled.
	StateDisabled ConnState = "disabled"
)

// live reports whether the state implies an active handle.
func (s ConnState) live() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}

// PeerStatus is the observable state for one peer. It is mutated only by
// the supervisor; callers receive snapshots via GetStatus.
type PeerStatus struct {
	// Name is the peer this status describes.
	Name string `json:"name"`

	// State is the current connection state.
	State ConnState `json:"state"`

	// LastError is the most recent connect or termination error, empty
	// while the peer is healthy.
	LastError string `json:"last_error,omitempty"`

	// RetryCount is the number of failed attempts in the current
	// connect sequence. Reset to zero on success and on reconnect.
	RetryCount int `json:"retry_count"`
}

// ToolDescriptor describes one tool exposed by a connected peer.
type ToolDescriptor struct {
	// Name is the unique identifier for this tool on its peer.
	Name string `json:"name"`

	// Description explains what the tool does.
	Description string `json:"description,omitempty"`

	// InputSchema is the JSON Schema for the tool's arguments.
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ResourceDescriptor describes one resource exposed by a connected peer.
type ResourceDescriptor struct {
	// URI is the unique identifier for this resource.
	URI string `json:"uri"`

	// Name is a human-readable name.
	Name string `json:"name"`

	// Description explains what this resource contains.
	Description string `json:"description,omitempty"`

	// MimeType indicates the content type.
	MimeType string `json:"mimeType,omitempty"`
}

// Summary aggregates peer states for health reporting.
type Summary struct {
	Total        int `json:"total"`
	Connected    int `json:"connected"`
	Connecting   int `json:"connecting"`
	Reconnecting int `json:"reconnecting"`
	Disabled     int `json:"disabled"`
	Disconnected int `json:"disconnected"`
}
