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

package resp3

// Adapter is the capability a caller supplies to consume one response's
// nodes as they are parsed. Static dispatch through this interface is
// sufficient — adapters are ordinary (possibly stateful) values, not a
// class hierarchy.
//
// OnNode is called once per node belonging to the response, in pre-order,
// including the response's own top-level node. An adapter that returns an
// error does not stop the parser; the error is attributed to the response
// and surfaced to the caller once it completes.
type Adapter interface {
	OnNode(n Node) error
}

// AdapterFunc adapts a plain function to the Adapter interface.
type AdapterFunc func(n Node) error

func (f AdapterFunc) OnNode(n Node) error { return f(n) }
