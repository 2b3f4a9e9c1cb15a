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

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of supervisor error.
type ErrorCode string

const (
	// CodeNotFound indicates the named peer is not registered.
	CodeNotFound ErrorCode = "NOT_FOUND"
	// CodeNotConnected indicates an operation needs an active connection.
	CodeNotConnected ErrorCode = "NOT_CONNECTED"
	// CodeConnectionFailed indicates a single connect attempt failed.
	CodeConnectionFailed ErrorCode = "CONNECTION_FAILED"
	// CodeRetriesExhausted indicates a connect sequence used all attempts
	// and the peer was automatically disabled.
	CodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
	// CodeValidation indicates an invalid descriptor or argument.
	CodeValidation ErrorCode = "VALIDATION"
)

// Error is the supervisor's error type. It carries a machine-checkable
// code plus optional suggestions for resolution.
type Error struct {
	// Code is the error category.
	Code ErrorCode
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(e.Message)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	if len(e.Suggestions) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(e.Suggestions, "; "))
		sb.WriteString(")")
	}

	return sb.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// newError creates an Error with the given code and message.
func newError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetail adds detail to the error.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *Error) WithSuggestions(suggestions ...string) *Error {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// ErrPeerNotFound creates an error for an unregistered peer name.
func ErrPeerNotFound(name string) *Error {
	return newError(CodeNotFound, fmt.Sprintf("server %q not found", name)).
		WithSuggestions(
			"check the server name: mcpherd list",
			fmt.Sprintf("register the server: mcpherd add %s --command <cmd>", name),
		)
}

// ErrPeerNotConnected creates an error for an operation that requires an
// active connection.
func ErrPeerNotConnected(name string) *Error {
	return newError(CodeNotConnected, fmt.Sprintf("server %q is not connected", name)).
		WithSuggestions(
			fmt.Sprintf("connect the server: mcpherd connect %s", name),
			fmt.Sprintf("check status: mcpherd status %s", name),
		)
}

// ErrConnectionFailed wraps one failed connect attempt. Recoverable; the
// supervisor retries these internally up to the attempt limit.
func ErrConnectionFailed(name string, attempt int, cause error) *Error {
	return newError(CodeConnectionFailed,
		fmt.Sprintf("server %q connect attempt %d failed", name, attempt)).
		WithDetail(cause.Error()).
		WithCause(cause)
}

// ErrRetriesExhausted creates the terminal error for a connect sequence
// that used all attempts. The peer has been automatically disabled.
func ErrRetriesExhausted(name string, attempts int, cause error) *Error {
	return newError(CodeRetriesExhausted,
		fmt.Sprintf("server %q disabled after %d failed connect attempts", name, attempts)).
		WithDetail(cause.Error()).
		WithCause(cause).
		WithSuggestions(
			fmt.Sprintf("check the command and arguments: mcpherd status %s", name),
			fmt.Sprintf("re-enable and retry: mcpherd connect %s", name),
		)
}

// ErrInvalidDescriptor creates an error for an invalid server descriptor.
func ErrInvalidDescriptor(detail string) *Error {
	return newError(CodeValidation, "invalid server descriptor").
		WithDetail(detail)
}

// CodeOf extracts the ErrorCode from an error chain, or "" if the chain
// contains no supervisor Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
