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

package runner

import "github.com/pkg/errors"

// ErrorKind is the runner's slice of the overall taxonomy: resolution,
// transport and TLS timeouts, connection-lifecycle failures, and the
// caller-facing cancellation/retry errors. Parser errors live in resp3;
// protocol-level and exec-queue errors live in mux.
type ErrorKind uint8

const (
	ErrKindNone ErrorKind = iota
	ErrKindResolveTimeout
	ErrKindConnectTimeout
	ErrKindSSLHandshakeTimeout
	ErrKindReadTimeout
	ErrKindWriteTimeout
	ErrKindIdleTimeout
	ErrKindNotConnected
	ErrKindConnectionLost
	ErrKindPongTimeout
	ErrKindHelloFailed
	ErrKindSyncReceivedPushType
	ErrKindExecCancelled
	ErrKindCancelledAfterSent
	ErrKindRequestRetriedTooManyTimes
	ErrKindIncompatibleNodeDepth
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindResolveTimeout:
		return "resolve_timeout"
	case ErrKindConnectTimeout:
		return "connect_timeout"
	case ErrKindSSLHandshakeTimeout:
		return "ssl_handshake_timeout"
	case ErrKindReadTimeout:
		return "read_timeout"
	case ErrKindWriteTimeout:
		return "write_timeout"
	case ErrKindIdleTimeout:
		return "idle_timeout"
	case ErrKindNotConnected:
		return "not_connected"
	case ErrKindConnectionLost:
		return "connection_lost"
	case ErrKindPongTimeout:
		return "pong_timeout"
	case ErrKindHelloFailed:
		return "hello_failed"
	case ErrKindSyncReceivedPushType:
		return "sync_received_push_type"
	case ErrKindExecCancelled:
		return "exec_cancelled"
	case ErrKindCancelledAfterSent:
		return "cancelled_after_sent"
	case ErrKindRequestRetriedTooManyTimes:
		return "request_retried_too_many_times"
	case ErrKindIncompatibleNodeDepth:
		return "incompatible_node_depth"
	default:
		return "none"
	}
}

// Error wraps an ErrorKind with context, the same shape as resp3.Error and
// mux.Error so every layer's errors.As recovery looks the same.
type Error struct {
	Kind ErrorKind
	Op   Operation
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind ErrorKind, op Operation, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, msg: errors.Errorf("runner: "+format, args...).Error()}
}

var (
	errResolveTimeout = func(addr Addr) error {
		return newError(ErrKindResolveTimeout, OpResolve, "resolving %s timed out", addr)
	}
	errConnectTimeout = func(addr Addr) error {
		return newError(ErrKindConnectTimeout, OpConnect, "connecting to %s timed out", addr)
	}
	errSSLHandshakeTimeout = func() error {
		return newError(ErrKindSSLHandshakeTimeout, OpSSLHandshake, "TLS handshake timed out")
	}
	errReadTimeout = func() error {
		return newError(ErrKindReadTimeout, OpRun, "read timed out")
	}
	errWriteTimeout = func() error {
		return newError(ErrKindWriteTimeout, OpRun, "write timed out")
	}
	errIdleTimeout = func() error {
		return newError(ErrKindIdleTimeout, OpRun, "connection idle timeout exceeded")
	}
	errPongTimeout = func() error {
		return newError(ErrKindPongTimeout, OpHealthCheck, "no PONG within health check deadline")
	}
	errHelloFailed = func(reason string) error {
		return newError(ErrKindHelloFailed, OpConnect, "handshake failed: %s", reason)
	}
	errSyncReceivedPushType = func() error {
		return newError(ErrKindSyncReceivedPushType, OpExec, "expected an ordinary response but the wire produced a push")
	}

	// ErrNotConnected is returned by Submit and Cancel once the runner has
	// been shut down by cancel(run) or cancel(all).
	ErrNotConnected = newError(ErrKindNotConnected, OpExec, "not connected")
	// ErrConnectionLost is the runner's connection_lost kind. Nothing in
	// this package returns it: AsyncRun returns the transport's own error
	// when the connection drops, and AsyncExec reports mux.ErrConnectionLost
	// or execfsm.ErrConnectionLost.
	ErrConnectionLost = newError(ErrKindConnectionLost, OpRun, "connection lost")
	// ErrExecCancelled is the runner's exec_cancelled kind. Nothing in this
	// package returns it: cancel(exec) fails entries with mux.ErrCancelled,
	// and cancel(all) fails them with ErrRunCancelled.
	ErrExecCancelled = newError(ErrKindExecCancelled, OpExec, "exec cancelled")
	// ErrRunCancelled reports a caller-initiated cancel(run) or
	// cancel(all): async_run returns this instead of looping again.
	ErrRunCancelled = newError(ErrKindExecCancelled, OpRun, "run cancelled")
)
