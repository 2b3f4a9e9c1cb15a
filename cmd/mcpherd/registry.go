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
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcpherd/mcpherd/internal/config"
)

// registryFile resolves the registry path from the flag or XDG default.
func registryFile(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("registry"); path != "" {
		return path, nil
	}
	return config.RegistryPath()
}

// newAddCommand creates the 'add' command. It edits the registry file
// directly; a running daemon picks the change up through its watcher.
func newAddCommand() *cobra.Command {
	var command string
	var cmdArgs []string
	var envPairs []string
	var disabled bool
	var registryPath string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a server in the registry",
		Args:  cobra.ExactArgs(1),
		Example: `  # Register the filesystem server
  mcpherd add filesystem --command npx --arg -y --arg @modelcontextprotocol/server-filesystem --arg /data

  # Register with an API token
  mcpherd add github --command npx --arg -y --arg @modelcontextprotocol/server-github --env GITHUB_TOKEN=ghp_xxx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := config.ValidateServerName(name); err != nil {
				return err
			}

			env := make(map[string]string, len(envPairs))
			for _, pair := range envPairs {
				key, value, ok := strings.Cut(pair, "=")
				if !ok {
					return fmt.Errorf("env must be KEY=VALUE, got %q", pair)
				}
				env[key] = value
			}

			entry := &config.ServerEntry{
				Command: command,
				Args:    cmdArgs,
				Env:     env,
			}
			entry.SetEnabled(!disabled)
			if err := entry.Validate(); err != nil {
				return err
			}

			path, err := registryFile(cmd)
			if err != nil {
				return err
			}
			reg, err := config.Load(path)
			if err != nil {
				return err
			}
			if _, exists := reg.Servers[name]; exists {
				return fmt.Errorf("server %q already exists (remove it first to replace)", name)
			}
			reg.Servers[name] = entry
			if err := config.Save(path, reg); err != nil {
				return err
			}

			fmt.Printf("Registered %q in %s\n", name, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&command, "command", "", "executable to run (required)")
	cmd.Flags().StringArrayVar(&cmdArgs, "arg", nil, "command argument (repeatable)")
	cmd.Flags().StringArrayVar(&envPairs, "env", nil, "environment variable KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "register without enabling")
	cmd.Flags().StringVar(&registryPath, "registry", "", "registry file path (default: XDG config dir)")
	_ = cmd.MarkFlagRequired("command")

	return cmd
}

// newRemoveCommand creates the 'remove' command.
func newRemoveCommand() *cobra.Command {
	var registryPath string

	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a server from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			path, err := registryFile(cmd)
			if err != nil {
				return err
			}
			reg, err := config.Load(path)
			if err != nil {
				return err
			}
			if _, exists := reg.Servers[name]; !exists {
				return fmt.Errorf("server %q not found in %s", name, path)
			}
			delete(reg.Servers, name)
			if err := config.Save(path, reg); err != nil {
				return err
			}

			fmt.Printf("Removed %q from %s\n", name, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&registryPath, "registry", "", "registry file path (default: XDG config dir)")

	return cmd
}
