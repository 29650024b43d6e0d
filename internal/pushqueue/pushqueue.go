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

// Package pushqueue buffers out-of-band server pushes between the
// multiplexer, which produces them off the read loop, and async_receive
// callers, which consume them on their own schedule.
package pushqueue

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/packetd/respmux/resp3"
)

// defaultSize bounds how many undelivered pushes are buffered before the
// oldest is dropped to make room for the newest — a slow or absent
// async_receive caller must never stall the read loop.
const defaultSize = 64

// Queue is a single connection's push mailbox. It implements mux.PushSink.
type Queue struct {
	id     string
	ch     chan *resp3.TreeNode
	closed atomic.Bool
}

// New returns an empty Queue buffering up to size undelivered pushes.
func New(size int) *Queue {
	if size <= 0 {
		size = defaultSize
	}
	return &Queue{
		id: uuid.New().String(),
		ch: make(chan *resp3.TreeNode, size),
	}
}

// ID reports the queue's unique identifier, useful for correlating log
// lines across a connection's lifetime.
func (q *Queue) ID() string {
	return q.id
}

// Publish enqueues a completed push tree. Satisfies mux.PushSink. A full
// queue drops the oldest pending push rather than blocking the multiplexer
// (which would stall the read loop for every other in-flight response).
func (q *Queue) Publish(root *resp3.TreeNode) {
	if q.closed.Load() {
		return
	}
	for {
		select {
		case q.ch <- root:
			return
		default:
		}
		select {
		case <-q.ch:
		default:
			return
		}
	}
}

// Pop blocks until a push is available, ctx is cancelled, or the queue is
// closed.
func (q *Queue) Pop(ctx context.Context) (*resp3.TreeNode, error) {
	select {
	case root, ok := <-q.ch:
		if !ok {
			return nil, ErrClosed
		}
		return root, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the queue and makes later Publish calls no-ops. Pushes
// already queued are still returned by Pop; once they are drained, Pop
// returns ErrClosed.
func (q *Queue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.ch)
	}
}
