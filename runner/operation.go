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

// Operation enumerates the connection activities that Cancel can target.
//
// Grounded on boost.redis's operation.hpp enum class.
type Operation uint8

const (
	OpResolve Operation = iota
	OpConnect
	OpSSLHandshake
	OpExec
	OpRun
	OpReceive
	OpReconnection
	OpHealthCheck
	OpAll
)

func (o Operation) String() string {
	switch o {
	case OpResolve:
		return "resolve"
	case OpConnect:
		return "connect"
	case OpSSLHandshake:
		return "ssl_handshake"
	case OpExec:
		return "exec"
	case OpRun:
		return "run"
	case OpReceive:
		return "receive"
	case OpReconnection:
		return "reconnection"
	case OpHealthCheck:
		return "health_check"
	case OpAll:
		return "all"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether cancelling op must tear the whole connection
// down rather than just stop the one named activity.
//
// Grounded on boost.redis's detail/is_terminal_cancel.hpp: a terminal
// cancellation propagates to every suspended operation on the connection,
// where a partial cancellation only unblocks the operation it names.
func (o Operation) IsTerminal() bool {
	switch o {
	case OpRun, OpAll:
		return true
	default:
		return false
	}
}
