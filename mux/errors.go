// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mux

import "github.com/pkg/errors"

// ErrorKind classifies a failure attributed to an exec entry or to the
// multiplexer itself. It is kept distinct from resp3.ErrorKind so tests and
// callers can tell a protocol-desync failure apart from a parser failure.
type ErrorKind uint8

const (
	ErrKindNone ErrorKind = iota
	ErrKindCancelled
	ErrKindConnectionLost
	ErrKindUnresponded
	ErrKindNotConnected
	ErrKindUnexpectedResponse
	ErrKindUnknownHandle
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindCancelled:
		return "cancelled"
	case ErrKindConnectionLost:
		return "connection_lost"
	case ErrKindUnresponded:
		return "unresponded"
	case ErrKindNotConnected:
		return "not_connected"
	case ErrKindUnexpectedResponse:
		return "unexpected_read_response"
	case ErrKindUnknownHandle:
		return "unknown_handle"
	default:
		return "none"
	}
}

// Error wraps an ErrorKind with context, the same shape as resp3.Error.
type Error struct {
	Kind ErrorKind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind ErrorKind, format string, args ...any) error {
	return &Error{Kind: kind, msg: errors.Errorf("mux: "+format, args...).Error()}
}

var (
	// ErrCancelled is attributed to an entry cancelled by its caller.
	ErrCancelled = newError(ErrKindCancelled, "exec cancelled")
	// ErrConnectionLost is attributed to a non-retryable entry that was
	// still pending when the connection dropped.
	ErrConnectionLost = newError(ErrKindConnectionLost, "connection lost")
	// ErrUnresponded is the unresponded kind of this package's taxonomy.
	// The multiplexer itself never attributes it to an entry; execfsm
	// reports its own ErrUnresponded for that case.
	ErrUnresponded = newError(ErrKindUnresponded, "connection lost with response partially received")
	// ErrNotConnected is the not_connected kind of this package's
	// taxonomy. Submit never returns it; execfsm reports its own
	// ErrNotConnected when cancel_if_not_connected fires.
	ErrNotConnected = newError(ErrKindNotConnected, "not connected")

	errUnexpectedResponse = func() error {
		return newError(ErrKindUnexpectedResponse, "response received with no pending entry")
	}
	errUnknownHandle = func() error {
		return newError(ErrKindUnknownHandle, "unknown handle")
	}
)
