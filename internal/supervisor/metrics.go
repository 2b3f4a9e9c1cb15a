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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// connectAttempts tracks connect attempts by server and outcome.
	connectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpherd_supervisor_connect_attempts_total",
			Help: "Total connect attempts by server name and outcome",
		},
		[]string{"server", "outcome"},
	)

	// reconnects tracks reconnects scheduled after unexpected termination.
	reconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpherd_supervisor_reconnects_total",
			Help: "Total reconnects scheduled after unexpected termination",
		},
		[]string{"server"},
	)

	// restarts tracks restarts triggered by configuration changes.
	restarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpherd_supervisor_restarts_total",
			Help: "Total restarts triggered by configuration changes",
		},
		[]string{"server"},
	)

	// autoDisables tracks peers disabled after retry exhaustion.
	autoDisables = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpherd_supervisor_auto_disabled_total",
			Help: "Total peers auto-disabled after exhausting connect retries",
		},
		[]string{"server"},
	)

	// staleEvents tracks termination events dropped as stale.
	staleEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mcpherd_supervisor_stale_events_total",
			Help: "Total termination events dropped because the handle was superseded",
		},
		[]string{"server"},
	)

	// connectedPeers tracks the number of currently connected peers.
	connectedPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mcpherd_supervisor_connected_peers",
			Help: "Number of currently connected peers",
		},
	)
)

// recordConnectAttempt increments the attempt counter.
func recordConnectAttempt(server, outcome string) {
	connectAttempts.WithLabelValues(server, outcome).Inc()
}

// recordReconnect increments the reconnect counter.
func recordReconnect(server string) {
	reconnects.WithLabelValues(server).Inc()
}

// recordRestart increments the restart counter.
func recordRestart(server string) {
	restarts.WithLabelValues(server).Inc()
}

// recordAutoDisable increments the auto-disable counter.
func recordAutoDisable(server string) {
	autoDisables.WithLabelValues(server).Inc()
}

// recordStaleEvent increments the stale-event counter.
func recordStaleEvent(server string) {
	staleEvents.WithLabelValues(server).Inc()
}

// recordPeerConnected increments the connected-peer gauge.
func recordPeerConnected() {
	connectedPeers.Inc()
}

// recordPeerDisconnected decrements the connected-peer gauge.
func recordPeerDisconnected() {
	connectedPeers.Dec()
}
