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

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpherd/mcpherd/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	slog.SetDefault(log.New(log.FromEnv()))

	root := &cobra.Command{
		Use:   "mcpherd",
		Short: "Supervise external MCP tool-server connections",
		Long: `mcpherd keeps a fleet of MCP (Model Context Protocol) tool-servers
running: it connects them with bounded retries, reconnects them when
they crash, restarts them when their configuration changes, and
disables them when they keep failing.

Commands:
  serve       Run the supervisor daemon
  list        List configured servers and their connection state
  status      Show detailed status of one server
  add         Register a server in the registry
  remove      Remove a server from the registry
  connect     Connect a server (re-enables a disabled one)
  disconnect  Disconnect a server
  tools       List tools exposed by a connected server
  call        Invoke a tool on a connected server
  events      Show recent lifecycle events`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("addr", defaultAddr(), "daemon API address")

	root.AddCommand(
		newServeCommand(),
		newListCommand(),
		newStatusCommand(),
		newAddCommand(),
		newRemoveCommand(),
		newConnectCommand(),
		newDisconnectCommand(),
		newToolsCommand(),
		newCallCommand(),
		newEventsCommand(),
		newVersionCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func defaultAddr() string {
	if addr := os.Getenv("MCPHERD_ADDR"); addr != "" {
		return addr
	}
	return "127.0.0.1:7690"
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mcpherd %s (commit %s, built %s)\n", version, commit, buildDate)
		},
	}
}
