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

package supervisor_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mcpherd/mcpherd/internal/supervisor"
)

func TestDefaultRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, supervisor.DefaultRetryDelay(tt.attempt))
		})
	}
}

func TestDefaultReconnectDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, supervisor.DefaultReconnectDelay())
}

func TestLaunchEquals(t *testing.T) {
	base := supervisor.ServerDescriptor{
		Name:    "p",
		Command: "mcp-server",
		Args:    []string{"--root", "/a"},
		Env:     map[string]string{"TOKEN": "x"},
		Enabled: true,
	}

	same := base
	same.Enabled = false
	assert.True(t, base.LaunchEquals(same), "Enabled is not a launch parameter")

	diffCmd := base
	diffCmd.Command = "other"
	assert.False(t, base.LaunchEquals(diffCmd))

	diffArgs := base
	diffArgs.Args = []string{"--root", "/b"}
	assert.False(t, base.LaunchEquals(diffArgs))

	diffEnv := base
	diffEnv.Env = map[string]string{"TOKEN": "y"}
	assert.False(t, base.LaunchEquals(diffEnv))
}
