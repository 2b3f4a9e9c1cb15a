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
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcpherd/mcpherd/internal/daemon"
)

// newServeCommand creates the 'serve' command.
func newServeCommand() *cobra.Command {
	var registryPath string
	var historyPath string
	var noHistory bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor daemon",
		Long: `Run the mcpherd daemon in the foreground.

The daemon connects every enabled server from the registry, watches the
registry file for changes, and serves the HTTP API used by the other
mcpherd commands. Stop it with Ctrl-C or SIGTERM.`,
		Example: `  # Run with the default registry (~/.config/mcpherd/servers.yaml)
  mcpherd serve

  # Run against an explicit registry file
  mcpherd serve --registry ./servers.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")

			d, err := daemon.New(daemon.Options{
				RegistryPath: registryPath,
				ListenAddr:   addr,
				HistoryPath:  historyPath,
				NoHistory:    noHistory,
				Logger:       slog.Default(),
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return d.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&registryPath, "registry", "", "registry file path (default: XDG config dir)")
	cmd.Flags().StringVar(&historyPath, "history-db", "", "event history database path (default: XDG data dir)")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "disable the event history database")

	return cmd
}
