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

package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpherd/mcpherd/internal/history"
	"github.com/mcpherd/mcpherd/internal/supervisor"
	"github.com/mcpherd/mcpherd/internal/supervisor/supervisortest"
)

type apiFixture struct {
	sup     *supervisor.Supervisor
	factory *supervisortest.FakeFactory
	server  *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	factory := supervisortest.NewFakeFactory()
	store, err := history.New(history.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sup, err := supervisor.New(supervisor.Config{
		Factory:    factory.New,
		RetryDelay: func(int) time.Duration { return 0 },
		EventSink:  store.Sink(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Close() })

	mux := http.NewServeMux()
	(&api{sup: sup, store: store}).routes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &apiFixture{sup: sup, factory: factory, server: server}
}

func (f *apiFixture) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (f *apiFixture) post(t *testing.T, path string, body []byte) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func registerServer(t *testing.T, f *apiFixture, name string) {
	t.Helper()
	require.NoError(t, f.sup.SetDescriptor(supervisor.ServerDescriptor{
		Name:    name,
		Command: "mcp-server",
		Enabled: true,
	}))
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	registerServer(t, f, "p")

	resp, body := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	summary, ok := body["summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), summary["total"])
}

func TestListAndGetServers(t *testing.T) {
	f := newAPIFixture(t)
	registerServer(t, f, "p")

	resp, body := f.get(t, "/v1/servers")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	servers, ok := body["servers"].([]any)
	require.True(t, ok)
	require.Len(t, servers, 1)

	resp, body = f.get(t, "/v1/servers/p")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "p", body["name"])
	status, ok := body["status"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "disconnected", status["state"])

	resp, _ = f.get(t, "/v1/servers/ghost")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConnectAndDisconnect(t *testing.T) {
	f := newAPIFixture(t)
	registerServer(t, f, "p")

	resp, body := f.post(t, "/v1/servers/p/connect", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "connected", body["state"])
	assert.True(t, f.sup.IsConnected("p"))

	resp, body = f.post(t, "/v1/servers/p/disconnect", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "disconnected", body["state"])
	assert.False(t, f.sup.IsConnected("p"))
}

func TestConnect_ExhaustionMapsToBadGateway(t *testing.T) {
	f := newAPIFixture(t)
	registerServer(t, f, "p")
	f.factory.ScriptConnects("p",
		errors.New("down"), errors.New("down"), errors.New("down"),
	)

	resp, body := f.post(t, "/v1/servers/p/connect", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body["error"], "disabled after 3 failed connect attempts")
}

func TestCallTool(t *testing.T) {
	f := newAPIFixture(t)
	registerServer(t, f, "p")

	resp, _ := f.post(t, "/v1/servers/p/connect", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f.factory.Last("p").SetCallFunc(func(ctx context.Context, tool string, args map[string]any) (string, error) {
		return "ran " + tool + " on " + args["path"].(string), nil
	})

	resp, body := f.post(t, "/v1/servers/p/tools/read_file", []byte(`{"path":"/etc/hosts"}`))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ran read_file on /etc/hosts", body["output"])
}

func TestCallTool_NotConnectedConflict(t *testing.T) {
	f := newAPIFixture(t)
	registerServer(t, f, "p")

	resp, _ := f.post(t, "/v1/servers/p/tools/read_file", []byte(`{}`))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestEvents(t *testing.T) {
	f := newAPIFixture(t)
	registerServer(t, f, "p")

	resp, _ := f.post(t, "/v1/servers/p/connect", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.get(t, "/v1/events?server=p&limit=10")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	events, ok := body["events"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, events)

	first := events[0].(map[string]any)
	assert.Equal(t, "p", first["server"])

	resp, _ = f.get(t, "/v1/events?limit=zero")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
