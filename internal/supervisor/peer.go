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
	"context"
	"sync"
)

// peer tracks the supervised state of one named tool-server.
//
// Two locks serialize access. opMu serializes whole operations (a connect
// sequence including its retries, a reconnect firing, a queued restart) so
// that no two multi-step operations for the same name interleave. mu
// guards the individual fields and is only ever held briefly.
type peer struct {
	// name is the peer's stable identifier.
	name string

	// opMu serializes multi-step operations for this peer.
	opMu sync.Mutex

	// mu protects the fields below.
	mu sync.Mutex

	// desc is the current descriptor.
	desc ServerDescriptor

	// status is the observable state, supervisor-owned.
	status PeerStatus

	// handle is the active service handle, present only while the peer
	// is connecting, connected, or reconnecting.
	handle ServiceHandle

	// gen identifies the current connect sequence. Every multi-step
	// operation checks gen before committing state so that superseded
	// sequences abort without mutating anything.
	gen uint64

	// seqCancel aborts the in-flight connect sequence, if any.
	seqCancel context.CancelFunc

	// reconnectCancel aborts the pending reconnect delay, if any.
	reconnectCancel context.CancelFunc

	// ctx is the peer's lifecycle context; cancelled on remove and on
	// supervisor shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

func newPeer(parent context.Context, desc ServerDescriptor) *peer {
	ctx, cancel := context.WithCancel(parent)
	return &peer{
		name: desc.Name,
		desc: desc,
		status: PeerStatus{
			Name:  desc.Name,
			State: StateDisconnected,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// supersedeLocked invalidates the current connect sequence and any pending
// reconnect, and returns the new generation. Callers must hold p.mu.
func (p *peer) supersedeLocked() uint64 {
	if p.seqCancel != nil {
		p.seqCancel()
		p.seqCancel = nil
	}
	if p.reconnectCancel != nil {
		p.reconnectCancel()
		p.reconnectCancel = nil
	}
	p.gen++
	return p.gen
}

// snapshotLocked returns a copy of the peer's status. Callers must hold p.mu.
func (p *peer) snapshotLocked() PeerStatus {
	return p.status
}
