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

// Ignore is an Adapter that discards every node while still counting them.
// runner.AsyncReceive falls back to it when given a nil adapter, and it
// suits async_exec callers who only care whether the call succeeded, not
// its payload.
//
// Grounded on boost.redis's adapter/ignore.hpp: a response adapter need not
// retain anything to be useful — it can just observe completion.
type Ignore struct {
	count int
}

// NewIgnore returns a fresh Ignore adapter.
func NewIgnore() *Ignore {
	return &Ignore{}
}

func (a *Ignore) OnNode(Node) error {
	a.count++
	return nil
}

// Count reports how many nodes have been observed so far.
func (a *Ignore) Count() int {
	return a.count
}
