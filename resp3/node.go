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

// Node is a single RESP3 value emitted by the Parser in pre-order
// depth-first sequence.
//
// Value is a slice of the buffer handed to Parser.Parse. It must not be
// retained past the call that produced it without copying: the parser may
// reuse or compact that memory region on the next call.
type Node struct {
	Type          Type
	AggregateSize int // 0 for leaves, N for a fixed aggregate, -1 for streamed
	Depth         int // 0-based nesting depth
	Value         []byte
}

// IsAggregate reports whether this node begins an aggregate (as opposed to
// being a leaf value).
func (n Node) IsAggregate() bool {
	return n.Type.IsAggregate()
}

// IsStreamed reports whether this aggregate's size is unknown (wire count
// was '?').
func (n Node) IsStreamed() bool {
	return n.AggregateSize == -1
}

// NodeFunc is invoked once per node, in pre-order.
type NodeFunc func(n Node) error

// EndFunc is invoked exactly once per top-level response, when the node
// stack returns to empty. It may fire with no preceding NodeFunc call in the
// same step (a streamed aggregate's silently-consumed terminator can close
// the response without itself producing a node).
type EndFunc func() error
