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

// Package mux implements the multiplexer: the pending-request queue, write
// batcher, and response dispatcher that makes pipelining correct under
// concurrent submission and cancellation over one connection.
//
// A Multiplexer is a pure data structure with no transport or goroutine of
// its own. It is driven by a single executor (the runner's ready loop); the
// "cross-thread" half of Submit/Cancel is the caller's job to route onto
// that executor, not the multiplexer's.
package mux

import (
	"github.com/valyala/bytebufferpool"

	"github.com/packetd/respmux/request"
	"github.com/packetd/respmux/resp3"
)

// PushSink receives out-of-band server pushes, already materialized as a
// tree since nothing is necessarily waiting to stream them live.
type PushSink interface {
	Publish(root *resp3.TreeNode)
}

// Multiplexer owns the pending-request queue, the contiguous write buffer,
// and the RESP3 parser driving response dispatch.
type Multiplexer struct {
	parser   *resp3.Parser
	pushSink PushSink

	buf            *bytebufferpool.ByteBuffer
	base           int // absolute offset corresponding to buf.B[0]
	offered        int // absolute offset up to which bytes have been handed to NextWriteChunk
	sentOffset     int // absolute offset confirmed flushed by OnWritten

	readBuf []byte

	queue      []*entry
	entries    map[Handle]*entry
	nextHandle Handle

	usage Usage

	curIsPush   bool
	curPushTree *resp3.TreeAdapter
}

// New returns an empty Multiplexer. maxNestedDepth bounds the RESP3 parser
// exactly as resp3.NewParser does.
func New(maxNestedDepth int) *Multiplexer {
	return &Multiplexer{
		parser:  resp3.NewParser(maxNestedDepth),
		buf:     bytebufferpool.Get(),
		entries: make(map[Handle]*entry),
	}
}

// SetPushSink installs the receiver for out-of-band push frames.
func (m *Multiplexer) SetPushSink(sink PushSink) {
	m.pushSink = sink
}

// Usage returns a snapshot of the connection's wire counters.
func (m *Multiplexer) Usage() Usage {
	return m.usage
}

// Submit seals req's payload, appends it to the write buffer, and queues
// an exec entry that will deliver its responses to adapter.
func (m *Multiplexer) Submit(req *request.Request, adapter resp3.Adapter) (Handle, error) {
	payload, err := req.Seal()
	if err != nil {
		return 0, err
	}

	start := m.base + len(m.buf.B)
	m.buf.B = append(m.buf.B, payload...)
	end := m.base + len(m.buf.B)

	m.nextHandle++
	e := &entry{
		handle:             m.nextHandle,
		req:                req,
		adapter:            adapter,
		status:             StatusStaged,
		bufStart:           start,
		bufEnd:             end,
		responsesRemaining: req.ExpectedResponses(),
		done:               make(chan struct{}),
	}
	m.queue = append(m.queue, e)
	m.entries[e.handle] = e
	return e.handle, nil
}

// Wait blocks until h's exec entry completes, returning its result error.
func (m *Multiplexer) Wait(h Handle) error {
	e, ok := m.entries[h]
	if !ok {
		return errUnknownHandle()
	}
	return e.wait()
}

// NextWriteChunk returns the unsent region of the write buffer and marks it
// offered: from this point, soft-cancelling any entry whose bytes overlap
// the returned region is no longer safe, since those bytes may already be
// mid-flight in the transport.
func (m *Multiplexer) NextWriteChunk() []byte {
	rel := m.offered - m.base
	if rel >= len(m.buf.B) {
		return nil
	}
	m.offered = m.base + len(m.buf.B)
	for _, e := range m.queue {
		if e.status == StatusStaged && e.bufStart < m.offered {
			e.status = StatusWriting
		}
	}
	return m.buf.B[rel:]
}

// NothingToWrite reports whether every byte in the write buffer has already
// been offered by NextWriteChunk.
func (m *Multiplexer) NothingToWrite() bool {
	return len(m.buf.B)-(m.offered-m.base) == 0
}

// HasResponse reports whether any entry is still awaiting completion —
// the reader loop has work to do as long as this is true.
func (m *Multiplexer) HasResponse() bool {
	return len(m.queue) > 0
}

// OnWritten reports that n bytes from the most recently offered chunk were
// accepted by the transport. Entries whose full payload is now flushed
// transition to written and their usage counters are credited.
func (m *Multiplexer) OnWritten(n int) {
	m.sentOffset += n
	for _, e := range m.queue {
		if e.status == StatusWriting && e.bufEnd <= m.sentOffset {
			e.status = StatusWritten
			m.usage.BytesSent += uint64(e.bufEnd - e.bufStart)
			m.usage.CommandsSent += uint64(len(e.req.Commands()))
		}
	}

	if drop := m.sentOffset - m.base; drop > 0 {
		copy(m.buf.B, m.buf.B[drop:])
		m.buf.B = m.buf.B[:len(m.buf.B)-drop]
		m.base += drop
	}

	m.advanceCompletedHeads()
}

// advanceCompletedHeads pops entries sitting at the front of the queue that
// have nothing left to wait for. A subscription command is the motivating
// case: its expected_responses is zero by construction (its only replies
// are pushes, routed independently of queue position), so it must not sit
// at the head blocking every entry behind it — it completes as soon as its
// bytes are actually on the wire.
func (m *Multiplexer) advanceCompletedHeads() {
	for len(m.queue) > 0 {
		head := m.queue[0]
		if head.responsesRemaining > 0 {
			return
		}
		if head.status != StatusWritten && head.status != StatusReading && head.status != StatusCancelled {
			return
		}
		head.status = StatusDone
		head.signal()
		delete(m.entries, head.handle)
		m.queue = m.queue[1:]
	}
}

// OnReadBytes feeds newly-received bytes to the parser and dispatches every
// node produced to either the push sink or the queue head's adapter.
func (m *Multiplexer) OnReadBytes(chunk []byte) error {
	m.readBuf = append(m.readBuf, chunk...)
	consumed, err := m.parser.Parse(m.readBuf, m.onNode, m.onEnd)
	if err != nil {
		return err
	}
	n := copy(m.readBuf, m.readBuf[consumed:])
	m.readBuf = m.readBuf[:n]
	return nil
}

func (m *Multiplexer) onNode(n resp3.Node) error {
	if n.Depth == 0 {
		m.curIsPush = n.Type.IsPush()
		if m.curIsPush {
			m.curPushTree = resp3.NewTreeAdapter()
		}
	}

	if m.curIsPush {
		m.usage.PushBytesReceived += uint64(len(n.Value))
		return m.curPushTree.OnNode(n)
	}

	m.advanceCompletedHeads()
	if len(m.queue) == 0 {
		return errUnexpectedResponse()
	}
	head := m.queue[0]
	m.usage.ResponseBytesReceived += uint64(len(n.Value))
	cancelled := head.status == StatusCancelled
	if head.status == StatusWritten {
		head.status = StatusReading
	}
	if cancelled || head.adapter == nil {
		return nil
	}
	if err := head.adapter.OnNode(n); err != nil {
		head.fail(err)
	}
	return nil
}

func (m *Multiplexer) onEnd() error {
	if m.curIsPush {
		m.usage.PushesReceived++
		if m.curPushTree != nil {
			m.curPushTree.Close()
			if m.pushSink != nil {
				m.pushSink.Publish(m.curPushTree.Root())
			}
		}
		m.curPushTree = nil
		m.curIsPush = false
		return nil
	}

	m.usage.ResponsesReceived++
	if len(m.queue) == 0 {
		return errUnexpectedResponse()
	}
	head := m.queue[0]
	head.responsesRemaining--
	m.advanceCompletedHeads()
	return nil
}

// Cancel ends h's entry. A staged entry (no bytes yet offered to the
// transport) is removed cleanly and its bytes are spliced out of the write
// buffer — a soft cancel. Any other entry is marked cancelled in place —
// bytes already on the wire are never clawed back, so its response is
// still read and discarded, never reattributed to the next entry.
func (m *Multiplexer) Cancel(h Handle) error {
	e, ok := m.entries[h]
	if !ok {
		return errUnknownHandle()
	}
	switch e.status {
	case StatusDone, StatusCancelled:
		return nil
	case StatusStaged:
		m.removeStaged(e)
		e.status = StatusCancelled
		e.fail(ErrCancelled)
		e.signal()
		delete(m.entries, e.handle)
		return nil
	default:
		e.status = StatusCancelled
		e.fail(ErrCancelled)
		return nil
	}
}

// removeStaged splices e's bytes out of the write buffer and shifts every
// later entry's recorded span down by the removed length. e is known not
// to have been offered to the transport yet.
func (m *Multiplexer) removeStaged(e *entry) {
	relStart := e.bufStart - m.base
	relEnd := e.bufEnd - m.base
	n := relEnd - relStart

	copy(m.buf.B[relStart:], m.buf.B[relEnd:])
	m.buf.B = m.buf.B[:len(m.buf.B)-n]

	for _, other := range m.queue {
		if other == e {
			continue
		}
		if other.bufStart >= e.bufEnd {
			other.bufStart -= n
			other.bufEnd -= n
		}
	}

	idx := -1
	for i, q := range m.queue {
		if q == e {
			idx = i
			break
		}
	}
	if idx >= 0 {
		m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
	}
}

// DrainAll fails every pending entry with err, regardless of its retry
// configuration, and empties the queue. Used for a terminal connection
// cancellation: unlike Reset, nothing survives to be re-staged.
func (m *Multiplexer) DrainAll(err error) {
	for _, e := range m.queue {
		e.status = StatusCancelled
		e.fail(err)
		e.signal()
		delete(m.entries, e.handle)
	}
	m.queue = nil
}

// CancelAll cancels every currently pending entry without tearing down the
// connection itself — the operation-scoped counterpart to a terminal
// connection cancellation. Entries already written but not yet fully read
// still drain their response bytes on the normal read path.
func (m *Multiplexer) CancelAll() {
	for _, e := range m.entries {
		if e.status == StatusDone || e.status == StatusCancelled {
			continue
		}
		_ = m.Cancel(e.handle)
	}
}

// Reset clears all connection-scoped state for a fresh (re)connect. Entries
// configured with Retry are re-staged from their first byte, in their
// original relative order; all others are failed with ErrConnectionLost.
func (m *Multiplexer) Reset() {
	m.parser.Reset()
	m.readBuf = m.readBuf[:0]
	m.curIsPush = false
	m.curPushTree = nil

	fresh := bytebufferpool.Get()
	var keep []*entry
	for _, e := range m.queue {
		if !e.req.Config().Retry {
			e.status = StatusCancelled
			e.fail(ErrConnectionLost)
			e.signal()
			delete(m.entries, e.handle)
			continue
		}

		payload := e.req.Payload()
		e.bufStart = len(fresh.B)
		fresh.B = append(fresh.B, payload...)
		e.bufEnd = len(fresh.B)
		e.status = StatusStaged
		e.responsesRemaining = e.req.ExpectedResponses()
		keep = append(keep, e)
	}

	bytebufferpool.Put(m.buf)
	m.buf = fresh
	m.base, m.offered, m.sentOffset = 0, 0, 0
	m.queue = keep
}
