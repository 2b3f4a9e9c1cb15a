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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// newConnectCommand creates the 'connect' command.
func newConnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <name>",
		Short: "Connect a server (re-enables a disabled one)",
		Long: `Connect a server through the running daemon.

Connecting blocks while the daemon retries with backoff; if every
attempt fails the server is disabled and the command reports the error.
Connecting a disabled server re-enables it first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newAPIClient(cmd).post(cmd.Context(), "/v1/servers/"+args[0]+"/connect", nil)
			if err != nil {
				return err
			}

			var status struct {
				State string `json:"state"`
			}
			if err := json.Unmarshal(data, &status); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			fmt.Printf("%s: %s\n", args[0], status.State)
			return nil
		},
	}
}

// newDisconnectCommand creates the 'disconnect' command.
func newDisconnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <name>",
		Short: "Disconnect a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := newAPIClient(cmd).post(cmd.Context(), "/v1/servers/"+args[0]+"/disconnect", nil); err != nil {
				return err
			}
			fmt.Printf("%s: disconnected\n", args[0])
			return nil
		},
	}
}
