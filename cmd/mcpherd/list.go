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
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// serverListItem mirrors the daemon's server view.
type serverListItem struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Enabled bool     `json:"enabled"`
	Status  *struct {
		State      string `json:"state"`
		LastError  string `json:"last_error,omitempty"`
		RetryCount int    `json:"retry_count"`
	} `json:"status"`
}

// newListCommand creates the 'list' command.
func newListCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured servers and their connection state",
		Example: `  # List all servers
  mcpherd list

  # Extract connected server names for scripting
  mcpherd list --json | jq -r '.servers[] | select(.status.state=="connected") | .name'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newAPIClient(cmd).get(cmd.Context(), "/v1/servers")
			if err != nil {
				return err
			}

			if asJSON {
				fmt.Println(string(data))
				return nil
			}

			var resp struct {
				Servers []serverListItem `json:"servers"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			if len(resp.Servers) == 0 {
				fmt.Println("No servers configured. Register one with 'mcpherd add'.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTATE\tENABLED\tRETRIES\tLAST ERROR")
			for _, s := range resp.Servers {
				state := "unknown"
				retries := 0
				lastErr := ""
				if s.Status != nil {
					state = s.Status.State
					retries = s.Status.RetryCount
					lastErr = s.Status.LastError
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\n",
					s.Name, state, s.Enabled, retries, lastErr)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output raw JSON")

	return cmd
}
