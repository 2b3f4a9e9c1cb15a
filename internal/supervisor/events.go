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
	"log/slog"
	"time"
)

// EventType represents the type of a peer lifecycle event.
type EventType string

const (
	// EventConnected indicates a peer reached the connected state.
	EventConnected EventType = "connected"
	// EventDisconnected indicates a peer was disconnected deliberately.
	EventDisconnected EventType = "disconnected"
	// EventRetrying indicates a connect attempt failed and will be retried.
	EventRetrying EventType = "retrying"
	// EventReconnecting indicates a peer terminated unexpectedly and a
	// reconnect was scheduled.
	EventReconnecting EventType = "reconnecting"
	// EventRestarting indicates a configuration change triggered a restart.
	EventRestarting EventType = "restarting"
	// EventAutoDisabled indicates a peer exhausted its connect retries.
	EventAutoDisabled EventType = "auto_disabled"
)

// Event records one peer lifecycle transition.
type Event struct {
	// Type is the event type.
	Type EventType `json:"type"`

	// Server is the name of the peer.
	Server string `json:"server"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Message is an optional human-readable message.
	Message string `json:"message,omitempty"`

	// Details contains additional event-specific information.
	Details map[string]any `json:"details,omitempty"`
}

// EventSink receives a copy of every emitted event.
type EventSink func(Event)

// EventEmitter emits peer lifecycle events to the log and to an optional
// sink (used for the persistent event history).
type EventEmitter struct {
	logger *slog.Logger
	sink   EventSink
}

// NewEventEmitter creates a new event emitter.
func NewEventEmitter(logger *slog.Logger, sink EventSink) *EventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventEmitter{logger: logger, sink: sink}
}

// Emit logs an event and forwards it to the sink, if any.
func (e *EventEmitter) Emit(event Event) {
	attrs := []any{
		"server", event.Server,
		"type", string(event.Type),
	}
	if event.Message != "" {
		attrs = append(attrs, "message", event.Message)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	e.logger.Info("peer event", attrs...)

	if e.sink != nil {
		e.sink(event)
	}
}

// EmitConnected emits a connected event.
func (e *EventEmitter) EmitConnected(server string, attempt int) {
	e.Emit(Event{
		Type:      EventConnected,
		Server:    server,
		Timestamp: time.Now(),
		Message:   "connected",
		Details: map[string]any{
			"attempt": attempt,
		},
	})
}

// EmitDisconnected emits a disconnected event.
func (e *EventEmitter) EmitDisconnected(server, reason string) {
	e.Emit(Event{
		Type:      EventDisconnected,
		Server:    server,
		Timestamp: time.Now(),
		Message:   reason,
	})
}

// EmitRetrying emits a retrying event.
func (e *EventEmitter) EmitRetrying(server string, attempt int, backoff time.Duration) {
	e.Emit(Event{
		Type:      EventRetrying,
		Server:    server,
		Timestamp: time.Now(),
		Message:   "connect attempt failed",
		Details: map[string]any{
			"attempt": attempt,
			"backoff": backoff.String(),
		},
	})
}

// EmitReconnecting emits a reconnecting event.
func (e *EventEmitter) EmitReconnecting(server string, err error) {
	details := map[string]any{}
	if err != nil {
		details["error"] = err.Error()
	}
	e.Emit(Event{
		Type:      EventReconnecting,
		Server:    server,
		Timestamp: time.Now(),
		Message:   "server terminated unexpectedly",
		Details:   details,
	})
}

// EmitRestarting emits a restarting event.
func (e *EventEmitter) EmitRestarting(server string) {
	e.Emit(Event{
		Type:      EventRestarting,
		Server:    server,
		Timestamp: time.Now(),
		Message:   "configuration changed",
	})
}

// EmitAutoDisabled emits an auto-disabled event.
func (e *EventEmitter) EmitAutoDisabled(server string, attempts int, err error) {
	details := map[string]any{
		"attempts": attempts,
	}
	if err != nil {
		details["error"] = err.Error()
	}
	e.Emit(Event{
		Type:      EventAutoDisabled,
		Server:    server,
		Timestamp: time.Now(),
		Message:   "disabled after exhausting connect retries",
		Details:   details,
	})
}
