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

// Package request builds the serialized command payload the multiplexer
// writes to the wire, along with the metadata it needs to dispatch the
// responses that payload will produce.
package request

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

// ResponseKind classifies a command's reply so the multiplexer knows
// whether to count it against a request's expected_responses or to expect
// its replies on the out-of-band push channel instead.
type ResponseKind uint8

const (
	// ResponseKindNormal commands produce exactly one ordinary top-level
	// response.
	ResponseKindNormal ResponseKind = iota
	// ResponseKindSubscribe commands produce zero ordinary responses; the
	// server instead emits one push frame per channel argument.
	ResponseKindSubscribe
)

// subscriptionCommands is the fixed set of commands whose confirmations
// arrive as pushes rather than ordinary responses.
var subscriptionCommands = map[string]struct{}{
	"SUBSCRIBE":    {},
	"UNSUBSCRIBE":  {},
	"PSUBSCRIBE":   {},
	"PUNSUBSCRIBE": {},
}

func classify(name string) ResponseKind {
	if _, ok := subscriptionCommands[strings.ToUpper(name)]; ok {
		return ResponseKindSubscribe
	}
	return ResponseKindNormal
}

// Command records one serialized command's name, its response routing
// kind, and (for subscription commands) how many push frames it will
// generate — one per channel argument.
type Command struct {
	Name      string
	Kind      ResponseKind
	PushCount int
}

// Config carries the per-request flags that govern how the exec FSM reacts
// to connection loss and cancellation.
type Config struct {
	// CancelOnConnectionLost fails the request immediately if the
	// connection drops before any response bytes arrive.
	CancelOnConnectionLost bool
	// CancelIfNotConnected fails the request immediately rather than
	// waiting, when submitted while disconnected.
	CancelIfNotConnected bool
	// CancelIfUnresponded fails the request if the connection drops after
	// some but not all of its responses have arrived.
	CancelIfUnresponded bool
	// Retry re-queues the request on the next successful connection
	// instead of failing it when the connection is lost.
	Retry bool
}

// errNoCommands is returned by Seal when a request with no commands is
// submitted; an empty request has nothing for the multiplexer to track.
var errNoCommands = errors.New("request: no commands appended")

// Request is an append-only buffer of serialized RESP3 command frames plus
// the bookkeeping the multiplexer needs to route and count their replies.
//
// A Request is built with AddCommand calls, then handed to the
// multiplexer's Submit. Mutating it after Submit is a programming error:
// the multiplexer retains a view of its byte payload and command vector for
// as long as the exec entry is outstanding.
type Request struct {
	buf               *bytebufferpool.ByteBuffer
	commands          []Command
	expectedResponses int
	config            Config
	sealed            bool
}

// New returns an empty Request governed by cfg.
func New(cfg Config) *Request {
	return &Request{buf: bytebufferpool.Get(), config: cfg}
}

// AddCommand appends one command, serialized as a RESP3 array of bulk
// strings, to the request's payload. args[0] is the command name.
func (r *Request) AddCommand(args ...string) error {
	if r.sealed {
		return errors.New("request: AddCommand after Submit")
	}
	if len(args) == 0 {
		return errors.New("request: command requires at least a name")
	}

	r.buf.B = append(r.buf.B, '*')
	r.buf.B = strconv.AppendInt(r.buf.B, int64(len(args)), 10)
	r.buf.B = append(r.buf.B, '\r', '\n')
	for _, arg := range args {
		r.buf.B = append(r.buf.B, '$')
		r.buf.B = strconv.AppendInt(r.buf.B, int64(len(arg)), 10)
		r.buf.B = append(r.buf.B, '\r', '\n')
		r.buf.B = append(r.buf.B, arg...)
		r.buf.B = append(r.buf.B, '\r', '\n')
	}

	kind := classify(args[0])
	cmd := Command{Name: strings.ToUpper(args[0]), Kind: kind}
	if kind == ResponseKindSubscribe {
		cmd.PushCount = len(args) - 1
	} else {
		r.expectedResponses++
	}
	r.commands = append(r.commands, cmd)
	return nil
}

// Seal freezes the request's payload and returns it. The multiplexer calls
// this exactly once, at Submit time; the returned slice must not be
// retained past the request's release back to the pool.
func (r *Request) Seal() ([]byte, error) {
	if r.sealed {
		return nil, errors.New("request: already sealed")
	}
	if len(r.commands) == 0 {
		return nil, errNoCommands
	}
	r.sealed = true
	return r.buf.B, nil
}

// Release returns the request's buffer to the pool. Callers must not touch
// the request, or any slice returned by Seal, afterwards.
func (r *Request) Release() {
	bytebufferpool.Put(r.buf)
	r.buf = nil
}

// Payload returns the request's serialized bytes. Unlike Seal it may be
// called any number of times; the multiplexer uses it to re-stage a
// retry-eligible entry's bytes from the first byte after a reconnect.
func (r *Request) Payload() []byte {
	return r.buf.B
}

// ExpectedResponses reports the number of ordinary (non-push) top-level
// responses the server will produce for this request.
func (r *Request) ExpectedResponses() int {
	return r.expectedResponses
}

// Commands returns the request's command vector, used for push-routing
// and error attribution. The returned slice must not be mutated.
func (r *Request) Commands() []Command {
	return r.commands
}

// Config returns the request's cancellation/retry flags.
func (r *Request) Config() Config {
	return r.config
}

// Len reports the current size of the serialized payload.
func (r *Request) Len() int {
	return len(r.buf.B)
}

// Fingerprint hashes the request's serialized payload, for debug
// correlation in logs and traces without retaining the payload itself.
func (r *Request) Fingerprint() uint64 {
	return xxhash.Sum64(r.buf.B)
}
