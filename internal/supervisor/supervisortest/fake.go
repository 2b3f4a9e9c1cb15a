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

// Package supervisortest provides scripted fakes for the supervisor's
// ServiceHandle and Factory, enabling deterministic, delay-free tests.
package supervisortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mcpherd/mcpherd/internal/supervisor"
)

// FakeHandle implements supervisor.ServiceHandle with scripted behavior.
type FakeHandle struct {
	mu sync.Mutex

	id          string
	desc        supervisor.ServerDescriptor
	connectErr  error
	connectFunc func(ctx context.Context) error

	connectCalls    int
	disconnectCalls int

	onTerm     func(err error)
	terminated bool
	termErr    error

	tools     []supervisor.ToolDescriptor
	resources []supervisor.ResourceDescriptor
	callFunc  func(ctx context.Context, tool string, args map[string]any) (string, error)
}

// ID returns the handle's unique identity.
func (h *FakeHandle) ID() string {
	return h.id
}

// Descriptor returns the descriptor this handle was constructed with.
func (h *FakeHandle) Descriptor() supervisor.ServerDescriptor {
	return h.desc
}

// Connect returns the scripted outcome for this handle. A scripted
// connect func runs outside the handle lock so it may block on ctx.
func (h *FakeHandle) Connect(ctx context.Context) error {
	h.mu.Lock()
	if err := ctx.Err(); err != nil {
		h.mu.Unlock()
		return err
	}
	h.connectCalls++
	fn := h.connectFunc
	err := h.connectErr
	h.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return err
}

// Disconnect records the call. Safe to call any number of times.
func (h *FakeHandle) Disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnectCalls++
}

// OnTerminated registers the delegate. If the handle already terminated,
// the callback fires immediately.
func (h *FakeHandle) OnTerminated(fn func(err error)) {
	h.mu.Lock()
	terminated := h.terminated
	termErr := h.termErr
	h.onTerm = fn
	h.mu.Unlock()

	if terminated && fn != nil {
		fn(termErr)
	}
}

// ListTools returns the configured tool list.
func (h *FakeHandle) ListTools(ctx context.Context) ([]supervisor.ToolDescriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]supervisor.ToolDescriptor, len(h.tools))
	copy(out, h.tools)
	return out, nil
}

// ListResources returns the configured resource list.
func (h *FakeHandle) ListResources(ctx context.Context) ([]supervisor.ResourceDescriptor, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]supervisor.ResourceDescriptor, len(h.resources))
	copy(out, h.resources)
	return out, nil
}

// CallTool invokes the configured call handler, or echoes by default.
func (h *FakeHandle) CallTool(ctx context.Context, tool string, args map[string]any) (string, error) {
	h.mu.Lock()
	callFunc := h.callFunc
	h.mu.Unlock()

	if callFunc != nil {
		return callFunc(ctx, tool, args)
	}
	return fmt.Sprintf("fake response for %s", tool), nil
}

// Terminate simulates an unexpected process termination, invoking the
// registered delegate at most once.
func (h *FakeHandle) Terminate(err error) {
	h.mu.Lock()
	if h.terminated {
		h.mu.Unlock()
		return
	}
	h.terminated = true
	h.termErr = err
	fn := h.onTerm
	h.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}

// ConnectCalls returns how many times Connect was invoked.
func (h *FakeHandle) ConnectCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connectCalls
}

// DisconnectCalls returns how many times Disconnect was invoked.
func (h *FakeHandle) DisconnectCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnectCalls
}

// SetCallFunc sets a custom tool-call handler.
func (h *FakeHandle) SetCallFunc(fn func(ctx context.Context, tool string, args map[string]any) (string, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callFunc = fn
}

// SetTools sets the tool list returned by ListTools.
func (h *FakeHandle) SetTools(tools []supervisor.ToolDescriptor) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tools = tools
}

// FakeFactory constructs FakeHandles and records every construction.
// Connect outcomes are scripted per server name: each constructed handle
// consumes the next scripted error (nil means success); an exhausted or
// absent script yields successful handles.
type FakeFactory struct {
	mu         sync.Mutex
	scripts    map[string][]error
	connectFns map[string][]func(ctx context.Context) error
	handles    map[string][]*FakeHandle
}

// NewFakeFactory creates an empty factory; all handles succeed until
// outcomes are scripted.
func NewFakeFactory() *FakeFactory {
	return &FakeFactory{
		scripts:    make(map[string][]error),
		connectFns: make(map[string][]func(ctx context.Context) error),
		handles:    make(map[string][]*FakeHandle),
	}
}

// ScriptConnects appends connect outcomes for successive handles of the
// named server. A nil entry scripts a success.
func (f *FakeFactory) ScriptConnects(server string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[server] = append(f.scripts[server], errs...)
}

// ScriptConnectFunc appends connect behaviors for successive handles of
// the named server. Unlike ScriptConnects, the func runs with the attempt
// context and may block until it is cancelled.
func (f *FakeFactory) ScriptConnectFunc(server string, fns ...func(ctx context.Context) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectFns[server] = append(f.connectFns[server], fns...)
}

// New is the supervisor.Factory implementation.
func (f *FakeFactory) New(desc supervisor.ServerDescriptor) supervisor.ServiceHandle {
	f.mu.Lock()
	defer f.mu.Unlock()

	var connectErr error
	if script := f.scripts[desc.Name]; len(script) > 0 {
		connectErr = script[0]
		f.scripts[desc.Name] = script[1:]
	}
	var connectFunc func(ctx context.Context) error
	if fns := f.connectFns[desc.Name]; len(fns) > 0 {
		connectFunc = fns[0]
		f.connectFns[desc.Name] = fns[1:]
	}

	h := &FakeHandle{
		id:          uuid.NewString(),
		desc:        desc,
		connectErr:  connectErr,
		connectFunc: connectFunc,
	}
	f.handles[desc.Name] = append(f.handles[desc.Name], h)
	return h
}

// Handles returns every handle constructed for the named server, in order.
func (f *FakeFactory) Handles(server string) []*FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeHandle, len(f.handles[server]))
	copy(out, f.handles[server])
	return out
}

// Created returns how many handles were constructed for the named server.
func (f *FakeFactory) Created(server string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles[server])
}

// Last returns the most recently constructed handle for the named server,
// or nil if none exists.
func (f *FakeFactory) Last(server string) *FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	hs := f.handles[server]
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}
