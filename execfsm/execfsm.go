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

// Package execfsm drives one caller's request through the connection: wait
// for a usable connection if required, submit to the multiplexer, wait for
// the response, and reconcile cancellation or connection loss observed
// along the way.
package execfsm

import (
	"context"

	"github.com/pkg/errors"

	"github.com/packetd/respmux/connstate"
	"github.com/packetd/respmux/mux"
	"github.com/packetd/respmux/request"
	"github.com/packetd/respmux/resp3"
)

// State is this call's position in the per-caller state machine.
type State uint8

const (
	StateInitial State = iota
	StateMaybeWaitForConnection
	StateSubmitted
	StateWaitingResponse
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateMaybeWaitForConnection:
		return "maybe_wait_for_connection"
	case StateSubmitted:
		return "submitted"
	case StateWaitingResponse:
		return "waiting_response"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned when cancel_if_not_connected fires.
	ErrNotConnected = errors.New("execfsm: not connected")
	// ErrConnectionLost is returned when cancel_on_connection_lost fires
	// before any response bytes arrived.
	ErrConnectionLost = errors.New("execfsm: connection lost")
	// ErrUnresponded is returned when cancel_if_unresponded fires after
	// some but not all response bytes arrived.
	ErrUnresponded = errors.New("execfsm: connection lost with response partially received")
)

// Connection is the runner-side capability exec needs: a connection-state
// snapshot, a readiness signal, and the multiplexer operations routed
// through the connection's single executor.
type Connection interface {
	State() connstate.State
	// Ready returns a channel closed the next time the connection
	// transitions to connstate.Ready. Already-ready connections still
	// return a live channel that will close on the *next* transition —
	// callers must re-check State() after it fires.
	Ready() <-chan struct{}
	Submit(req *request.Request, adapter resp3.Adapter) (mux.Handle, error)
	Wait(h mux.Handle) error
	Cancel(h mux.Handle) error
	// Lost returns a channel closed once, the moment the connection
	// backing an in-flight submission drops.
	Lost() <-chan struct{}
}

// countingAdapter wraps a caller's adapter to produce the response size
// hint without requiring every adapter to track it itself.
type countingAdapter struct {
	inner     resp3.Adapter
	byteCount int
	started   bool
}

func (c *countingAdapter) OnNode(n resp3.Node) error {
	c.started = true
	c.byteCount += len(n.Value)
	if c.inner == nil {
		return nil
	}
	return c.inner.OnNode(n)
}

// Call tracks one exec's progress through the state machine, for callers
// that want to observe it (logging, metrics, tests).
type Call struct {
	state State
}

// State reports the call's current state.
func (c *Call) State() State { return c.state }

// Exec drives req through conn to completion: it returns the response size
// hint (total bytes observed across the response's nodes) and any error —
// matching §4.4's "(error, response_size_hint)" completion contract.
func Exec(ctx context.Context, conn Connection, req *request.Request, adapter resp3.Adapter) (int, error) {
	call := &Call{state: StateInitial}
	cfg := req.Config()

	call.state = StateMaybeWaitForConnection
	if conn.State() != connstate.Ready {
		if cfg.CancelIfNotConnected {
			return 0, ErrNotConnected
		}
		if err := waitForReady(ctx, conn); err != nil {
			return 0, err
		}
	}

	counting := &countingAdapter{inner: adapter}

	call.state = StateSubmitted
	h, err := conn.Submit(req, counting)
	if err != nil {
		return 0, err
	}

	call.state = StateWaitingResponse
	done := make(chan error, 1)
	go func() { done <- conn.Wait(h) }()

	select {
	case err := <-done:
		call.state = StateDone
		return counting.byteCount, err

	case <-conn.Lost():
		if cfg.CancelOnConnectionLost && !counting.started {
			_ = conn.Cancel(h)
			<-done
			call.state = StateDone
			return counting.byteCount, ErrConnectionLost
		}
		if cfg.CancelIfUnresponded && counting.started {
			_ = conn.Cancel(h)
			<-done
			call.state = StateDone
			return counting.byteCount, ErrUnresponded
		}
		// Neither cancel flag applies: wait for the multiplexer's
		// verdict. A Retry entry is re-staged on reconnect and completes
		// on a later connection; any other entry is failed with
		// mux.ErrConnectionLost when the connection resets.
		err := <-done
		call.state = StateDone
		return counting.byteCount, err

	case <-ctx.Done():
		_ = conn.Cancel(h)
		<-done
		call.state = StateDone
		return counting.byteCount, ctx.Err()
	}
}

func waitForReady(ctx context.Context, conn Connection) error {
	select {
	case <-conn.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
