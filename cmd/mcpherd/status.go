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
	"strings"

	"github.com/spf13/cobra"
)

// newStatusCommand creates the 'status' command.
func newStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <name>",
		Short: "Show detailed status of one server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newAPIClient(cmd).get(cmd.Context(), "/v1/servers/"+args[0])
			if err != nil {
				return err
			}

			if asJSON {
				fmt.Println(string(data))
				return nil
			}

			var s serverListItem
			if err := json.Unmarshal(data, &s); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			fmt.Printf("Name:     %s\n", s.Name)
			fmt.Printf("Command:  %s", s.Command)
			if len(s.Args) > 0 {
				fmt.Printf(" %s", strings.Join(s.Args, " "))
			}
			fmt.Println()
			fmt.Printf("Enabled:  %t\n", s.Enabled)
			if s.Status != nil {
				fmt.Printf("State:    %s\n", s.Status.State)
				fmt.Printf("Retries:  %d\n", s.Status.RetryCount)
				if s.Status.LastError != "" {
					fmt.Printf("Error:    %s\n", s.Status.LastError)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output raw JSON")

	return cmd
}

// newEventsCommand creates the 'events' command.
func newEventsCommand() *cobra.Command {
	var server string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent lifecycle events",
		Example: `  # Last 50 events across all servers
  mcpherd events

  # Last 10 events for one server
  mcpherd events --server filesystem --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/v1/events?limit=%d", limit)
			if server != "" {
				path += "&server=" + server
			}
			data, err := newAPIClient(cmd).get(cmd.Context(), path)
			if err != nil {
				return err
			}

			if asJSON {
				fmt.Println(string(data))
				return nil
			}

			var resp struct {
				Events []struct {
					Type      string `json:"type"`
					Server    string `json:"server"`
					Timestamp string `json:"timestamp"`
					Message   string `json:"message,omitempty"`
				} `json:"events"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			for _, ev := range resp.Events {
				fmt.Printf("%s  %-14s %-16s %s\n", ev.Timestamp, ev.Type, ev.Server, ev.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "filter by server name")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output raw JSON")

	return cmd
}
