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

import (
	"github.com/packetd/respmux/request"
	"github.com/packetd/respmux/resp3"
)

// Status is an exec entry's position in its lifecycle.
type Status uint8

const (
	StatusStaged Status = iota
	StatusWriting
	StatusWritten
	StatusReading
	StatusDone
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusStaged:
		return "staged"
	case StatusWriting:
		return "writing"
	case StatusWritten:
		return "written"
	case StatusReading:
		return "reading"
	case StatusDone:
		return "done"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Handle identifies one submitted request for later cancellation or
// completion lookup.
type Handle uint64

// entry is a pending request tracked by the multiplexer: its queue
// position, wire-buffer span, and completion state.
type entry struct {
	handle Handle
	req    *request.Request
	adapter resp3.Adapter
	status Status

	bufStart, bufEnd int // absolute offsets into the multiplexer's write buffer

	responsesRemaining int
	resultErr          error
	done               chan struct{}
}

func (e *entry) fail(err error) {
	if e.resultErr == nil {
		e.resultErr = err
	}
}

func (e *entry) signal() {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
}

// Wait blocks until the entry completes (done or cancelled), returning its
// result error, if any.
func (e *entry) wait() error {
	<-e.done
	return e.resultErr
}
