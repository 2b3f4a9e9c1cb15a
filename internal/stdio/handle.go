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

// Package stdio connects to MCP tool-servers running as local
// subprocesses speaking the stdio transport.
package stdio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcpherd/mcpherd/internal/supervisor"
)

// Options configures stdio handles produced by NewFactory.
type Options struct {
	// CallTimeout bounds individual tool calls (defaults to 30s).
	CallTimeout time.Duration

	// PingInterval is how often the watchdog pings a connected server to
	// detect silent process death (defaults to 15s).
	PingInterval time.Duration

	// ClientName and ClientVersion identify us in the MCP handshake.
	ClientName    string
	ClientVersion string

	// Logger is used for structured logging (optional).
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.CallTimeout == 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.PingInterval == 0 {
		o.PingInterval = 15 * time.Second
	}
	if o.ClientName == "" {
		o.ClientName = "mcpherd"
	}
	if o.ClientVersion == "" {
		o.ClientVersion = "0.1.0"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// NewFactory returns a supervisor.Factory that produces stdio handles.
func NewFactory(opts Options) supervisor.Factory {
	opts = opts.withDefaults()
	return func(desc supervisor.ServerDescriptor) supervisor.ServiceHandle {
		return &Handle{
			id:   uuid.NewString(),
			desc: desc,
			opts: opts,
			done: make(chan struct{}),
		}
	}
}

// Handle is one connection to a stdio MCP server subprocess. It is
// single-use: a Handle whose Connect failed or whose process terminated
// is discarded, never reconnected.
type Handle struct {
	id   string
	desc supervisor.ServerDescriptor
	opts Options

	mu     sync.Mutex
	client *client.Client

	// done is closed by Disconnect; the watchdog treats that as a
	// deliberate teardown rather than an unexpected termination.
	done      chan struct{}
	closeOnce sync.Once

	termMu     sync.Mutex
	onTerm     func(err error)
	terminated bool
	termErr    error
}

// ID returns the unique identity of this connection attempt.
func (h *Handle) ID() string {
	return h.id
}

// Connect starts the server subprocess and performs the MCP handshake.
func (h *Handle) Connect(ctx context.Context) error {
	env := make([]string, 0, len(h.desc.Env))
	for k, v := range h.desc.Env {
		env = append(env, k+"="+v)
	}

	mcpClient, err := client.NewStdioMCPClient(h.desc.Command, env, h.desc.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to start MCP server process: %w", err)
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    h.opts.ClientName,
				Version: h.opts.ClientVersion,
			},
		},
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP server: %w", err)
	}

	if !h.publishClient(mcpClient) {
		// Disconnect won the race with the handshake; the client was
		// never published, so close it here instead of leaking the
		// subprocess.
		_ = mcpClient.Close()
		return fmt.Errorf("connection closed during handshake")
	}

	go h.watchdog()

	return nil
}

// publishClient stores the connected client for the accessors and the
// watchdog. It refuses once Disconnect has run, since Disconnect only
// closes a client it can see.
func (h *Handle) publishClient(c *client.Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.done:
		return false
	default:
	}
	h.client = c
	return true
}

// watchdog pings the server until the handle is disconnected. A failed
// ping means the process died or hung; the termination delegate fires
// exactly once and the watchdog exits.
func (h *Handle) watchdog() {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
		}

		c := h.clientRef()
		if c == nil {
			// Disconnect nils the client; the select above may still
			// pick the ticker when both channels are ready.
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.opts.PingInterval)
		err := c.Ping(ctx)
		cancel()

		if err == nil {
			continue
		}

		select {
		case <-h.done:
			// Disconnect raced the failed ping; not an unexpected death.
			return
		default:
		}

		h.opts.Logger.Warn("MCP server stopped responding",
			"server", h.desc.Name,
			"error", err,
		)
		h.terminate(fmt.Errorf("server stopped responding: %w", err))
		return
	}
}

func (h *Handle) clientRef() *client.Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client
}

// terminate fires the registered delegate at most once.
func (h *Handle) terminate(err error) {
	h.termMu.Lock()
	if h.terminated {
		h.termMu.Unlock()
		return
	}
	h.terminated = true
	h.termErr = err
	fn := h.onTerm
	h.termMu.Unlock()

	if fn != nil {
		fn(err)
	}
}

// OnTerminated registers the delegate notified of unexpected process
// termination. If the handle already terminated, fn fires immediately.
func (h *Handle) OnTerminated(fn func(err error)) {
	h.termMu.Lock()
	terminated := h.terminated
	termErr := h.termErr
	h.onTerm = fn
	h.termMu.Unlock()

	if terminated && fn != nil {
		fn(termErr)
	}
}

// Disconnect stops the watchdog and closes the connection, terminating
// the server process. Safe to call any number of times.
func (h *Handle) Disconnect() {
	h.closeOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		c := h.client
		h.client = nil
		h.mu.Unlock()

		if c != nil {
			if err := c.Close(); err != nil {
				h.opts.Logger.Debug("error closing MCP client",
					"server", h.desc.Name,
					"error", err,
				)
			}
		}
	})
}

// ListTools retrieves the server's tool list.
func (h *Handle) ListTools(ctx context.Context) ([]supervisor.ToolDescriptor, error) {
	c := h.clientRef()
	if c == nil {
		return nil, fmt.Errorf("not connected")
	}

	result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]supervisor.ToolDescriptor, len(result.Tools))
	for i, tool := range result.Tools {
		schema, err := toolSchema(tool)
		if err != nil {
			return nil, err
		}
		tools[i] = supervisor.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		}
	}

	return tools, nil
}

// toolSchema extracts the JSON Schema for a tool's arguments, preferring
// the raw schema bytes when the server supplied them.
func toolSchema(tool mcp.Tool) (json.RawMessage, error) {
	if len(tool.RawInputSchema) > 0 {
		return json.RawMessage(tool.RawInputSchema), nil
	}

	toolBytes, err := tool.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool %s: %w", tool.Name, err)
	}
	var toolMap map[string]any
	if err := json.Unmarshal(toolBytes, &toolMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool %s: %w", tool.Name, err)
	}
	inputSchema, ok := toolMap["inputSchema"]
	if !ok {
		return nil, nil
	}
	schema, err := json.Marshal(inputSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input schema for %s: %w", tool.Name, err)
	}
	return schema, nil
}

// ListResources retrieves the server's resource list.
func (h *Handle) ListResources(ctx context.Context) ([]supervisor.ResourceDescriptor, error) {
	c := h.clientRef()
	if c == nil {
		return nil, fmt.Errorf("not connected")
	}

	result, err := c.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}

	resources := make([]supervisor.ResourceDescriptor, len(result.Resources))
	for i, resource := range result.Resources {
		resources[i] = supervisor.ResourceDescriptor{
			URI:         resource.URI,
			Name:        resource.Name,
			Description: resource.Description,
			MimeType:    resource.MIMEType,
		}
	}

	return resources, nil
}

// CallTool executes a tool and flattens the response content to text.
// A tool-level error result is returned as an error carrying the
// server's message.
func (h *Handle) CallTool(ctx context.Context, tool string, args map[string]any) (string, error) {
	c := h.clientRef()
	if c == nil {
		return "", fmt.Errorf("not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.CallTimeout)
	defer cancel()

	result, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      tool,
			Arguments: args,
		},
	})
	if err != nil {
		return "", fmt.Errorf("tool call failed: %w", err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		return "", fmt.Errorf("tool %s returned an error: %s", tool, text)
	}
	return text, nil
}

// flattenContent joins the textual parts of a tool response. Non-text
// content is summarized by type so callers still see that it was there.
func flattenContent(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, item := range content {
		if textContent, ok := mcp.AsTextContent(item); ok {
			parts = append(parts, textContent.Text)
			continue
		}
		if imageContent, ok := mcp.AsImageContent(item); ok {
			parts = append(parts, fmt.Sprintf("[image: %s, %d bytes base64]",
				imageContent.MIMEType, len(imageContent.Data)))
			continue
		}

		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		if text, ok := m["text"].(string); ok {
			parts = append(parts, text)
		} else if typ, ok := m["type"].(string); ok {
			parts = append(parts, fmt.Sprintf("[%s content]", typ))
		}
	}
	return strings.Join(parts, "\n")
}
