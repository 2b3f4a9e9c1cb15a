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

// newToolsCommand creates the 'tools' command.
func newToolsCommand() *cobra.Command {
	var asJSON bool
	var resources bool

	cmd := &cobra.Command{
		Use:   "tools <name>",
		Short: "List tools exposed by a connected server",
		Args:  cobra.ExactArgs(1),
		Example: `  # List tools
  mcpherd tools filesystem

  # List resources instead
  mcpherd tools filesystem --resources`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/servers/" + args[0] + "/tools"
			if resources {
				path = "/v1/servers/" + args[0] + "/resources"
			}
			data, err := newAPIClient(cmd).get(cmd.Context(), path)
			if err != nil {
				return err
			}

			if asJSON {
				fmt.Println(string(data))
				return nil
			}

			if resources {
				var resp struct {
					Resources []struct {
						URI  string `json:"uri"`
						Name string `json:"name"`
					} `json:"resources"`
				}
				if err := json.Unmarshal(data, &resp); err != nil {
					return fmt.Errorf("failed to parse response: %w", err)
				}
				for _, r := range resp.Resources {
					fmt.Printf("%-40s %s\n", r.URI, r.Name)
				}
				return nil
			}

			var resp struct {
				Tools []struct {
					Name        string `json:"name"`
					Description string `json:"description,omitempty"`
				} `json:"tools"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			for _, tool := range resp.Tools {
				fmt.Printf("%-30s %s\n", tool.Name, tool.Description)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output raw JSON")
	cmd.Flags().BoolVar(&resources, "resources", false, "list resources instead of tools")

	return cmd
}

// newCallCommand creates the 'call' command.
func newCallCommand() *cobra.Command {
	var argsJSON string

	cmd := &cobra.Command{
		Use:   "call <name> <tool>",
		Short: "Invoke a tool on a connected server",
		Args:  cobra.ExactArgs(2),
		Example: `  # Call a tool with JSON arguments
  mcpherd call filesystem read_file --args '{"path":"/etc/hostname"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var toolArgs map[string]any
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &toolArgs); err != nil {
					return fmt.Errorf("invalid --args JSON: %w", err)
				}
			}

			data, err := newAPIClient(cmd).post(cmd.Context(),
				"/v1/servers/"+args[0]+"/tools/"+args[1], toolArgs)
			if err != nil {
				return err
			}

			var resp struct {
				Output string `json:"output"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			fmt.Println(resp.Output)
			return nil
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "", "tool arguments as a JSON object")

	return cmd
}
