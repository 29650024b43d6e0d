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

// Package connstate defines the connection lifecycle enumeration shared by
// the runner and the exec FSM. It is kept as its own leaf package so
// neither side needs to import the other just to read a state snapshot.
package connstate

// State is a connection's position in its lifecycle.
type State uint8

const (
	Disconnected State = iota
	Resolving
	Connecting
	Handshaking
	Ready
	Draining
	ReconnectWait
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Resolving:
		return "resolving"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	case Draining:
		return "draining"
	case ReconnectWait:
		return "reconnect_wait"
	default:
		return "unknown"
	}
}

// IsUsable reports whether requests may be submitted while in this state
// without cancel_if_not_connected firing.
func (s State) IsUsable() bool {
	return s == Ready
}
