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
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Supervisor owns the full set of supervised peers and drives every
// connection state transition: connect with bounded retry, automatic
// disable after exhaustion, reconnect after unexpected termination, and
// restart on configuration change.
//
// Operations on different peers run fully concurrently; operations on the
// same peer are serialized (see peer.opMu) and superseded operations abort
// without mutating state (see peer.gen).
type Supervisor struct {
	// factory constructs a fresh handle per connect attempt.
	factory Factory

	// retryDelay supplies the backoff between failed connect attempts.
	retryDelay RetryDelayFunc

	// reconnectDelay supplies the pause before reconnecting after an
	// unexpected termination.
	reconnectDelay ReconnectDelayFunc

	// maxAttempts is the total connect attempts before auto-disable.
	maxAttempts int

	// onAutoDisable, if set, is called after a peer is auto-disabled so
	// the flipped Enabled flag can be persisted outside the supervisor.
	onAutoDisable func(desc ServerDescriptor)

	// peers tracks all supervised peers by name.
	peers map[string]*peer

	// mu protects the peers map.
	mu sync.RWMutex

	logger  *slog.Logger
	emitter *EventEmitter

	// ctx is the supervisor's lifecycle context.
	ctx    context.Context
	cancel context.CancelFunc

	// wg tracks background reconnect and restart work.
	wg sync.WaitGroup
}

// Config configures a Supervisor.
type Config struct {
	// Factory constructs service handles. Required.
	Factory Factory

	// RetryDelay supplies retry backoff (optional, default exponential).
	RetryDelay RetryDelayFunc

	// ReconnectDelay supplies the reconnect pause (optional, default 2s).
	ReconnectDelay ReconnectDelayFunc

	// MaxAttempts is the total connect attempts before auto-disable
	// (optional, default 3).
	MaxAttempts int

	// OnAutoDisable is invoked with the disabled descriptor after retry
	// exhaustion flips Enabled to false (optional).
	OnAutoDisable func(desc ServerDescriptor)

	// Logger is used for structured logging (optional).
	Logger *slog.Logger

	// EventSink receives a copy of every emitted event (optional).
	EventSink EventSink
}

// New creates a supervisor with no peers registered.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("factory is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retryDelay := cfg.RetryDelay
	if retryDelay == nil {
		retryDelay = DefaultRetryDelay
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay == nil {
		reconnectDelay = DefaultReconnectDelay
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Supervisor{
		factory:        cfg.Factory,
		retryDelay:     retryDelay,
		reconnectDelay: reconnectDelay,
		maxAttempts:    maxAttempts,
		onAutoDisable:  cfg.OnAutoDisable,
		peers:          make(map[string]*peer),
		logger:         logger,
		emitter:        NewEventEmitter(logger, cfg.EventSink),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// peer returns the peer for name, or nil if unknown.
func (s *Supervisor) peer(name string) *peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peers[name]
}

// SetDescriptor registers a new peer or updates an existing one.
//
// A new name is inserted disconnected with no handle. Updating the launch
// parameters of a peer that is currently connecting, connected, or
// reconnecting tears down the active handle and queues a restart under the
// new descriptor. Re-enabling a disabled peer resets it to disconnected so
// Connect may be called again.
func (s *Supervisor) SetDescriptor(desc ServerDescriptor) error {
	if desc.Name == "" {
		return ErrInvalidDescriptor("server name is required")
	}
	if desc.Command == "" {
		return ErrInvalidDescriptor("command is required")
	}

	s.mu.Lock()
	p, exists := s.peers[desc.Name]
	if !exists {
		s.peers[desc.Name] = newPeer(s.ctx, desc.clone())
		s.mu.Unlock()
		s.logger.Info("peer registered",
			"server", desc.Name,
			"command", desc.Command,
			"enabled", desc.Enabled,
		)
		return nil
	}
	s.mu.Unlock()

	p.mu.Lock()
	old := p.desc
	p.desc = desc.clone()
	launchChanged := !old.LaunchEquals(desc)
	state := p.status.State

	// Re-enable resets a disabled peer so it is eligible to connect again.
	if state == StateDisabled && desc.Enabled {
		p.status.State = StateDisconnected
		p.status.RetryCount = 0
		p.status.LastError = ""
		state = StateDisconnected
	}

	if !state.live() || (!launchChanged && desc.Enabled) {
		p.mu.Unlock()
		return nil
	}

	// Launch parameters changed (or the peer was disabled) while live:
	// supersede whatever is in flight, tear down the handle exactly once,
	// and queue the restart. The generation bump makes the queueing atomic
	// with respect to every other operation on this name.
	gen := p.supersedeLocked()
	dead := p.handle
	p.handle = nil
	wasConnected := state == StateConnected
	p.status.State = StateDisconnected
	p.status.RetryCount = 0
	p.mu.Unlock()

	if dead != nil {
		dead.Disconnect()
	}
	if wasConnected {
		recordPeerDisconnected()
	}

	if !desc.Enabled {
		s.emitter.EmitDisconnected(desc.Name, "disabled by configuration")
		return nil
	}

	s.emitter.EmitRestarting(desc.Name)
	recordRestart(desc.Name)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		p.opMu.Lock()
		defer p.opMu.Unlock()

		p.mu.Lock()
		if p.gen != gen || !p.desc.Enabled {
			p.mu.Unlock()
			return
		}
		next := p.desc.clone()
		p.status.State = StateConnecting
		p.status.RetryCount = 0
		p.mu.Unlock()

		if err := s.runSequence(context.Background(), p, next, gen); err != nil {
			s.logger.Error("restart failed",
				"server", next.Name,
				"error", err,
			)
		}
	}()

	return nil
}

// RemoveDescriptor disconnects any active handle, cancels any pending
// reconnect, and deletes all supervisor state for the name. Removing an
// unknown name is a no-op.
func (s *Supervisor) RemoveDescriptor(name string) {
	s.mu.Lock()
	p, exists := s.peers[name]
	if !exists {
		s.mu.Unlock()
		return
	}
	delete(s.peers, name)
	s.mu.Unlock()

	p.mu.Lock()
	p.supersedeLocked()
	dead := p.handle
	p.handle = nil
	wasConnected := p.status.State == StateConnected
	p.status.State = StateDisconnected
	p.mu.Unlock()

	p.cancel()
	if dead != nil {
		dead.Disconnect()
	}
	if wasConnected {
		recordPeerDisconnected()
	}

	s.logger.Info("peer removed", "server", name)
}

// GetDescriptor returns a copy of the stored descriptor, or false if the
// name is unknown.
func (s *Supervisor) GetDescriptor(name string) (ServerDescriptor, bool) {
	p := s.peer(name)
	if p == nil {
		return ServerDescriptor{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.desc.clone(), true
}

// Descriptors returns copies of all registered descriptors.
func (s *Supervisor) Descriptors() []ServerDescriptor {
	s.mu.RLock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	descs := make([]ServerDescriptor, 0, len(peers))
	for _, p := range peers {
		p.mu.Lock()
		descs = append(descs, p.desc.clone())
		p.mu.Unlock()
	}
	return descs
}

// Connect drives the connect state machine for a registered peer. It
// blocks until the peer reaches a terminal outcome for this sequence:
// connected (nil) or disabled after retry exhaustion (RetriesExhausted).
//
// Connecting a peer whose descriptor is not enabled is a no-op. Transient
// attempt failures are retried internally and never surface mid-sequence.
func (s *Supervisor) Connect(ctx context.Context, name string) error {
	p := s.peer(name)
	if p == nil {
		return ErrPeerNotFound(name)
	}

	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	if !p.desc.Enabled {
		p.mu.Unlock()
		return nil
	}
	desc := p.desc.clone()
	gen := p.supersedeLocked()
	dead := p.handle
	p.handle = nil
	wasConnected := p.status.State == StateConnected
	p.status.State = StateConnecting
	p.status.RetryCount = 0
	p.mu.Unlock()

	// A previous handle may still be live if the caller reconnects an
	// already-connected peer. Never hold two handles for one name.
	if dead != nil {
		dead.Disconnect()
	}
	if wasConnected {
		recordPeerDisconnected()
	}

	return s.runSequence(ctx, p, desc, gen)
}

// runSequence runs one connect attempt sequence for a peer: construct a
// fresh handle, attempt, and on failure back off and repeat with a new
// handle until success or exhaustion. The sequence aborts silently if it
// is superseded (gen mismatch) or the peer is removed.
func (s *Supervisor) runSequence(callerCtx context.Context, p *peer, desc ServerDescriptor, gen uint64) error {
	ctx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return nil
	}
	p.seqCancel = cancel
	p.mu.Unlock()

	for attempt := 1; ; attempt++ {
		h := s.factory(desc)

		p.mu.Lock()
		if p.gen != gen {
			p.mu.Unlock()
			h.Disconnect()
			return nil
		}
		p.handle = h
		p.mu.Unlock()

		// The attempt aborts if the sequence is superseded or the
		// caller gives up mid-handshake.
		attemptCtx, cancelAttempt := context.WithCancel(ctx)
		stopAfter := context.AfterFunc(callerCtx, cancelAttempt)
		err := h.Connect(attemptCtx)
		stopAfter()
		cancelAttempt()
		if err == nil {
			p.mu.Lock()
			if p.gen != gen {
				p.mu.Unlock()
				h.Disconnect()
				return nil
			}
			// Status commits before the delegate hook is registered, so
			// a termination racing the tail of Connect is observed with
			// the peer already reporting connected.
			p.status.State = StateConnected
			p.status.RetryCount = 0
			p.status.LastError = ""
			p.mu.Unlock()

			hid := h.ID()
			h.OnTerminated(func(terr error) {
				s.handleTermination(desc.Name, hid, terr)
			})

			recordConnectAttempt(desc.Name, "success")
			recordPeerConnected()
			s.emitter.EmitConnected(desc.Name, attempt)
			s.logger.Info("peer connected",
				"server", desc.Name,
				"attempt", attempt,
			)
			return nil
		}

		// A failed handle may hold partially-initialized process state;
		// it is discarded and rebuilt, never retried in place.
		h.Disconnect()

		if cerr := callerCtx.Err(); cerr != nil {
			// Caller cancellation is not a server failure; the retry
			// budget is not charged.
			p.mu.Lock()
			if p.gen == gen {
				p.status.State = StateDisconnected
				p.handle = nil
			}
			p.mu.Unlock()
			return cerr
		}

		recordConnectAttempt(desc.Name, "failure")
		err = ErrConnectionFailed(desc.Name, attempt, err)

		p.mu.Lock()
		if p.gen != gen {
			p.mu.Unlock()
			return nil
		}
		p.status.RetryCount = attempt
		p.status.LastError = err.Error()

		if attempt >= s.maxAttempts {
			p.status.State = StateDisabled
			p.desc.Enabled = false
			p.handle = nil
			disabled := p.desc.clone()
			p.mu.Unlock()

			recordAutoDisable(desc.Name)
			s.emitter.EmitAutoDisabled(desc.Name, attempt, err)
			s.logger.Error("peer disabled after exhausting connect retries",
				"server", desc.Name,
				"attempts", attempt,
				"error", err,
			)
			if s.onAutoDisable != nil {
				s.onAutoDisable(disabled)
			}
			return ErrRetriesExhausted(desc.Name, attempt, err)
		}
		p.handle = nil
		p.mu.Unlock()

		delay := s.retryDelay(attempt)
		s.emitter.EmitRetrying(desc.Name, attempt, delay)
		s.logger.Warn("peer connect failed, will retry",
			"server", desc.Name,
			"attempt", attempt,
			"backoff", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// Superseded by a restart or remove; the newer operation
			// owns the peer's state now.
			return nil
		case <-callerCtx.Done():
			p.mu.Lock()
			if p.gen == gen {
				p.status.State = StateDisconnected
			}
			p.mu.Unlock()
			return callerCtx.Err()
		}
	}
}

// handleTermination reacts to an unexpected-termination event reported by
// a handle's delegate. Events from superseded handles are dropped.
func (s *Supervisor) handleTermination(name, handleID string, err error) {
	p := s.peer(name)
	if p == nil {
		recordStaleEvent(name)
		return
	}

	p.mu.Lock()
	if p.status.State != StateConnected || p.handle == nil || p.handle.ID() != handleID {
		p.mu.Unlock()
		recordStaleEvent(name)
		s.logger.Debug("dropping stale termination event",
			"server", name,
			"handle_id", handleID,
		)
		return
	}

	dead := p.handle
	p.status.State = StateReconnecting
	if err != nil {
		p.status.LastError = err.Error()
	} else {
		p.status.LastError = "server terminated unexpectedly"
	}

	// A fresh termination supersedes any reconnect already pending.
	if p.reconnectCancel != nil {
		p.reconnectCancel()
	}
	rctx, rcancel := context.WithCancel(p.ctx)
	p.reconnectCancel = rcancel
	gen := p.gen
	p.mu.Unlock()

	dead.Disconnect()
	recordPeerDisconnected()
	recordReconnect(name)
	s.emitter.EmitReconnecting(name, err)
	s.logger.Warn("peer terminated unexpectedly, scheduling reconnect",
		"server", name,
		"error", err,
	)

	delay := s.reconnectDelay()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case <-time.After(delay):
		case <-rctx.Done():
			return
		}

		p.opMu.Lock()
		defer p.opMu.Unlock()

		p.mu.Lock()
		// The token may have been cancelled between the timer firing and
		// this operation winning the per-peer queue.
		if rctx.Err() != nil || p.gen != gen ||
			!p.desc.Enabled || p.status.State != StateReconnecting {
			p.mu.Unlock()
			return
		}
		// Reconnect uses the current descriptor, which may have changed
		// since the terminated handle connected.
		next := p.desc.clone()
		ngen := p.supersedeLocked()
		p.handle = nil
		p.status.State = StateConnecting
		p.status.RetryCount = 0
		p.mu.Unlock()

		if cerr := s.runSequence(context.Background(), p, next, ngen); cerr != nil {
			s.logger.Error("reconnect failed",
				"server", name,
				"error", cerr,
			)
		}
	}()
}

// Disconnect tears down the peer's connection, cancelling any in-flight
// sequence or pending reconnect. The peer remains registered and may be
// connected again later.
func (s *Supervisor) Disconnect(name string) error {
	p := s.peer(name)
	if p == nil {
		return ErrPeerNotFound(name)
	}

	p.mu.Lock()
	p.supersedeLocked()
	dead := p.handle
	p.handle = nil
	wasConnected := p.status.State == StateConnected
	p.status.State = StateDisconnected
	p.status.RetryCount = 0
	p.mu.Unlock()

	if dead != nil {
		dead.Disconnect()
	}
	if wasConnected {
		recordPeerDisconnected()
	}
	s.emitter.EmitDisconnected(name, "disconnected by caller")

	return nil
}

// IsConnected reports whether the named peer is currently connected.
func (s *Supervisor) IsConnected(name string) bool {
	p := s.peer(name)
	if p == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.State == StateConnected
}

// GetStatus returns a snapshot of the peer's status, or nil if the name
// is unknown.
func (s *Supervisor) GetStatus(name string) *PeerStatus {
	p := s.peer(name)
	if p == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	snap := p.snapshotLocked()
	return &snap
}

// ListStatuses returns status snapshots for all registered peers.
func (s *Supervisor) ListStatuses() []PeerStatus {
	s.mu.RLock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	statuses := make([]PeerStatus, 0, len(peers))
	for _, p := range peers {
		p.mu.Lock()
		statuses = append(statuses, p.snapshotLocked())
		p.mu.Unlock()
	}
	return statuses
}

// Summary aggregates the state of all registered peers.
func (s *Supervisor) Summary() Summary {
	var sum Summary
	for _, st := range s.ListStatuses() {
		sum.Total++
		switch st.State {
		case StateConnected:
			sum.Connected++
		case StateConnecting:
			sum.Connecting++
		case StateReconnecting:
			sum.Reconnecting++
		case StateDisabled:
			sum.Disabled++
		default:
			sum.Disconnected++
		}
	}
	return sum
}

// connectedHandle returns the active handle for a connected peer.
func (s *Supervisor) connectedHandle(name string) (ServiceHandle, error) {
	p := s.peer(name)
	if p == nil {
		return nil, ErrPeerNotFound(name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status.State != StateConnected || p.handle == nil {
		return nil, ErrPeerNotConnected(name)
	}
	return p.handle, nil
}

// ListTools routes to the active handle for a connected peer.
func (s *Supervisor) ListTools(ctx context.Context, name string) ([]ToolDescriptor, error) {
	h, err := s.connectedHandle(name)
	if err != nil {
		return nil, err
	}
	return h.ListTools(ctx)
}

// ListResources routes to the active handle for a connected peer.
func (s *Supervisor) ListResources(ctx context.Context, name string) ([]ResourceDescriptor, error) {
	h, err := s.connectedHandle(name)
	if err != nil {
		return nil, err
	}
	return h.ListResources(ctx)
}

// CallTool invokes a tool on a connected peer and returns its output.
func (s *Supervisor) CallTool(ctx context.Context, name, tool string, args map[string]any) (string, error) {
	h, err := s.connectedHandle(name)
	if err != nil {
		return "", err
	}
	return h.CallTool(ctx, tool, args)
}

// Close tears down every peer and waits for background work to finish.
func (s *Supervisor) Close() error {
	s.cancel()

	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.peers = make(map[string]*peer)
	s.mu.Unlock()

	for _, p := range peers {
		p.mu.Lock()
		p.supersedeLocked()
		dead := p.handle
		p.handle = nil
		wasConnected := p.status.State == StateConnected
		p.status.State = StateDisconnected
		p.mu.Unlock()

		p.cancel()
		if dead != nil {
			dead.Disconnect()
		}
		if wasConnected {
			recordPeerDisconnected()
		}
	}

	s.wg.Wait()
	return nil
}
