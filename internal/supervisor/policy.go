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

import "time"

// RetryDelayFunc supplies the delay before retry attempt n of a connect
// sequence. Attempt numbering starts at 1 (the first failed attempt).
type RetryDelayFunc func(attempt int) time.Duration

// ReconnectDelayFunc supplies the delay before reconnecting after an
// unexpected termination.
type ReconnectDelayFunc func() time.Duration

// DefaultMaxAttempts is the total number of connect attempts before a
// peer is automatically disabled.
const DefaultMaxAttempts = 3

// defaultReconnectDelay is the pause before reconnecting a peer whose
// process terminated unexpectedly.
const defaultReconnectDelay = 2 * time.Second

// DefaultRetryDelay returns an exponential backoff: 1s, 2s, 4s, 8s, 16s,
// capped at 30s.
func DefaultRetryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return time.Second
	}

	backoff := time.Duration(1<<uint(attempt-1)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

// DefaultReconnectDelay returns the fixed reconnect delay.
func DefaultReconnectDelay() time.Duration {
	return defaultReconnectDelay
}
