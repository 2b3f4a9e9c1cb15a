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

// Package config loads and saves the tool-server registry, a YAML file
// mapping server names to launch parameters.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcpherd/mcpherd/internal/supervisor"
)

// ServerNameRegex validates tool-server names. Names must start with a
// letter and contain only letters, numbers, hyphens, and underscores.
// Maximum length is 64 characters.
var ServerNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// envKeyRegex validates environment variable keys.
var envKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Registry is the on-disk tool-server registry.
// Stored at ~/.config/mcpherd/servers.yaml
type Registry struct {
	// Servers is a map of server name to configuration.
	Servers map[string]*ServerEntry `yaml:"servers,omitempty"`

	// Defaults holds connection tuning shared by all servers.
	Defaults Defaults `yaml:"defaults,omitempty"`
}

// Defaults provides connection tuning for all servers.
type Defaults struct {
	// CallTimeoutSeconds bounds individual tool calls (default: 30).
	CallTimeoutSeconds int `yaml:"call_timeout_seconds,omitempty"`

	// PingIntervalSeconds is the health-check ping cadence (default: 15).
	PingIntervalSeconds int `yaml:"ping_interval_seconds,omitempty"`
}

// CallTimeout returns the configured call timeout, or zero to use the
// built-in default.
func (d Defaults) CallTimeout() time.Duration {
	return time.Duration(d.CallTimeoutSeconds) * time.Second
}

// PingInterval returns the configured ping interval, or zero to use the
// built-in default.
func (d Defaults) PingInterval() time.Duration {
	return time.Duration(d.PingIntervalSeconds) * time.Second
}

// ServerEntry is a single tool-server configuration entry.
type ServerEntry struct {
	// Command is the executable to run (e.g., "npx", "python").
	Command string `yaml:"command"`

	// Args are command-line arguments.
	Args []string `yaml:"args,omitempty"`

	// Env are environment variables passed to the server process.
	Env map[string]string `yaml:"env,omitempty"`

	// Enabled gates automatic connection. Omitted means enabled; the
	// supervisor flips this to false when connect retries are exhausted.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports the effective enabled flag.
func (e *ServerEntry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// SetEnabled sets the enabled flag explicitly.
func (e *ServerEntry) SetEnabled(enabled bool) {
	e.Enabled = &enabled
}

// ToDescriptor converts an entry to a supervisor descriptor.
func (e *ServerEntry) ToDescriptor(name string) supervisor.ServerDescriptor {
	return supervisor.ServerDescriptor{
		Name:    name,
		Command: e.Command,
		Args:    e.Args,
		Env:     e.Env,
		Enabled: e.IsEnabled(),
	}
}

// FromDescriptor converts a supervisor descriptor back to an entry.
func FromDescriptor(desc supervisor.ServerDescriptor) *ServerEntry {
	entry := &ServerEntry{
		Command: desc.Command,
		Args:    desc.Args,
		Env:     desc.Env,
	}
	entry.SetEnabled(desc.Enabled)
	return entry
}

// RegistryPath returns the path to the registry file.
func RegistryPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "servers.yaml"), nil
}

// Load reads the registry from path. A missing file yields an empty
// registry rather than an error.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{Servers: make(map[string]*ServerEntry)}, nil
		}
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse registry file: %w", err)
	}
	if reg.Servers == nil {
		reg.Servers = make(map[string]*ServerEntry)
	}

	return &reg, nil
}

// Save writes the registry to path atomically (temp file plus rename).
func Save(path string, reg *Registry) error {
	data, err := yaml.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save registry file: %w", err)
	}

	return nil
}

// Descriptors converts every registry entry to a supervisor descriptor,
// sorted by name for stable iteration.
func (r *Registry) Descriptors() []supervisor.ServerDescriptor {
	names := make([]string, 0, len(r.Servers))
	for name := range r.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	descs := make([]supervisor.ServerDescriptor, 0, len(names))
	for _, name := range names {
		descs = append(descs, r.Servers[name].ToDescriptor(name))
	}
	return descs
}

// Validate validates every entry in the registry.
func (r *Registry) Validate() error {
	for name, entry := range r.Servers {
		if err := ValidateServerName(name); err != nil {
			return fmt.Errorf("server %q: %w", name, err)
		}
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("server %q: %w", name, err)
		}
	}
	return nil
}

// Validate validates a single server entry.
func (e *ServerEntry) Validate() error {
	if e.Command == "" {
		return fmt.Errorf("command is required")
	}

	for i, arg := range e.Args {
		if err := ValidateArg(arg); err != nil {
			return fmt.Errorf("args[%d]: %w", i, err)
		}
	}

	for key, value := range e.Env {
		if err := ValidateEnv(key, value); err != nil {
			return fmt.Errorf("env[%s]: %w", key, err)
		}
	}

	return nil
}

// ValidateServerName validates a tool-server name.
func ValidateServerName(name string) error {
	if name == "" {
		return fmt.Errorf("server name is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("server name exceeds 64 character limit")
	}
	if !ServerNameRegex.MatchString(name) {
		return fmt.Errorf("invalid server name: must start with a letter and contain only letters, numbers, hyphens, and underscores")
	}
	return nil
}

// shellInjectionPatterns are patterns that could indicate shell injection
// attempts. Server processes are exec'd directly, but arguments still end
// up in logs and shells via copy-paste.
var shellInjectionPatterns = []string{
	";", "&&", "||", "|", "`", "$(", "\n", "\r",
}

// ValidateArg validates a command argument for shell injection.
func ValidateArg(arg string) error {
	for _, pattern := range shellInjectionPatterns {
		if strings.Contains(arg, pattern) {
			return fmt.Errorf("argument contains potentially unsafe pattern %q", pattern)
		}
	}
	return nil
}

// ValidateEnv validates one environment variable.
func ValidateEnv(key, value string) error {
	if key == "" {
		return fmt.Errorf("environment variable key is required")
	}
	if !envKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid environment variable key: %s", key)
	}
	for _, pattern := range shellInjectionPatterns {
		if strings.Contains(value, pattern) {
			return fmt.Errorf("environment value contains potentially unsafe pattern %q", pattern)
		}
	}
	return nil
}

// sensitiveKeyPatterns are patterns that indicate a sensitive value.
var sensitiveKeyPatterns = []string{
	"SECRET", "TOKEN", "KEY", "PASSWORD", "CREDENTIAL", "AUTH",
}

// IsSensitiveEnvKey returns true if the key appears to contain sensitive data.
func IsSensitiveEnvKey(key string) bool {
	upperKey := strings.ToUpper(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(upperKey, pattern) {
			return true
		}
	}
	return false
}

// RedactEnv returns a copy of env with sensitive values replaced.
func RedactEnv(env map[string]string) map[string]string {
	result := make(map[string]string, len(env))
	for key, value := range env {
		if IsSensitiveEnvKey(key) {
			result[key] = "***REDACTED***"
		} else {
			result[key] = value
		}
	}
	return result
}
