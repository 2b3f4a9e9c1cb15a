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
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpherd/mcpherd/internal/history"
	"github.com/mcpherd/mcpherd/internal/supervisor"
)

// api exposes the daemon's HTTP surface: server status, lifecycle
// operations, tool routing, event history, and Prometheus metrics.
type api struct {
	sup     *supervisor.Supervisor
	store   *history.Store
	persist func(desc supervisor.ServerDescriptor) error
	logger  *slog.Logger
}

// routes registers all handlers on the mux.
func (a *api) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /v1/servers", a.handleList)
	mux.HandleFunc("GET /v1/servers/{name}", a.handleGet)
	mux.HandleFunc("POST /v1/servers/{name}/connect", a.handleConnect)
	mux.HandleFunc("POST /v1/servers/{name}/disconnect", a.handleDisconnect)
	mux.HandleFunc("GET /v1/servers/{name}/tools", a.handleTools)
	mux.HandleFunc("GET /v1/servers/{name}/resources", a.handleResources)
	mux.HandleFunc("POST /v1/servers/{name}/tools/{tool}", a.handleCallTool)
	mux.HandleFunc("GET /v1/events", a.handleEvents)
	mux.Handle("GET /metrics", promhttp.Handler())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeSupervisorError maps supervisor error codes to HTTP statuses.
func writeSupervisorError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch supervisor.CodeOf(err) {
	case supervisor.CodeNotFound:
		status = http.StatusNotFound
	case supervisor.CodeNotConnected:
		status = http.StatusConflict
	case supervisor.CodeRetriesExhausted:
		status = http.StatusBadGateway
	case supervisor.CodeValidation:
		status = http.StatusBadRequest
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	writeError(w, status, err.Error())
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"summary": a.sup.Summary(),
	})
}

// serverView is the API representation of one server.
type serverView struct {
	Name    string                 `json:"name"`
	Command string                 `json:"command"`
	Args    []string               `json:"args,omitempty"`
	Enabled bool                   `json:"enabled"`
	Status  *supervisor.PeerStatus `json:"status"`
}

func (a *api) view(desc supervisor.ServerDescriptor) serverView {
	return serverView{
		Name:    desc.Name,
		Command: desc.Command,
		Args:    desc.Args,
		Enabled: desc.Enabled,
		Status:  a.sup.GetStatus(desc.Name),
	}
}

func (a *api) handleList(w http.ResponseWriter, r *http.Request) {
	descs := a.sup.Descriptors()
	views := make([]serverView, 0, len(descs))
	for _, desc := range descs {
		views = append(views, a.view(desc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": views})
}

func (a *api) handleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	desc, ok := a.sup.GetDescriptor(name)
	if !ok {
		writeSupervisorError(w, supervisor.ErrPeerNotFound(name))
		return
	}
	writeJSON(w, http.StatusOK, a.view(desc))
}

func (a *api) handleConnect(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	// Re-enable a disabled server on explicit connect.
	if desc, ok := a.sup.GetDescriptor(name); ok && !desc.Enabled {
		desc.Enabled = true
		if err := a.sup.SetDescriptor(desc); err != nil {
			writeSupervisorError(w, err)
			return
		}
		if a.persist != nil {
			if err := a.persist(desc); err != nil {
				a.logger.Error("failed to persist re-enabled server",
					"server", name,
					"error", err,
				)
			}
		}
	}

	if err := a.sup.Connect(r.Context(), name); err != nil {
		writeSupervisorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.sup.GetStatus(name))
}

func (a *api) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := a.sup.Disconnect(name); err != nil {
		writeSupervisorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.sup.GetStatus(name))
}

func (a *api) handleTools(w http.ResponseWriter, r *http.Request) {
	tools, err := a.sup.ListTools(r.Context(), r.PathValue("name"))
	if err != nil {
		writeSupervisorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (a *api) handleResources(w http.ResponseWriter, r *http.Request) {
	resources, err := a.sup.ListResources(r.Context(), r.PathValue("name"))
	if err != nil {
		writeSupervisorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
}

func (a *api) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	tool := r.PathValue("tool")

	var args map[string]any
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON arguments: "+err.Error())
			return
		}
	}

	output, err := a.sup.CallTool(r.Context(), name, tool, args)
	if err != nil {
		writeSupervisorError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": output})
}

func (a *api) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusNotImplemented, "event history is not enabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := a.store.Recent(r.Context(), r.URL.Query().Get("server"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records})
}
