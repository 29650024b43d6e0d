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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/respmux/request"
	"github.com/packetd/respmux/resp3"
)

// flush drives the multiplexer's write side to completion: everything
// Submit queued is handed to a fake transport and confirmed written.
func flush(t *testing.T, m *Multiplexer) {
	t.Helper()
	for {
		chunk := m.NextWriteChunk()
		if len(chunk) == 0 {
			return
		}
		m.OnWritten(len(chunk))
	}
}

func TestSubmitAndDispatchPing(t *testing.T) {
	m := New(0)
	req := request.New(request.Config{})
	require.NoError(t, req.AddCommand("PING"))

	ta := resp3.NewTreeAdapter()
	h, err := m.Submit(req, resp3.AdapterFunc(ta.OnNode))
	require.NoError(t, err)
	flush(t, m)

	require.NoError(t, m.OnReadBytes([]byte("+PONG\r\n")))
	ta.Close()

	require.NoError(t, m.Wait(h))
	assert.Equal(t, "PONG", string(ta.Root().Value))
	assert.Equal(t, uint64(1), m.Usage().ResponsesReceived)
}

func TestDispatchOrderPreserved(t *testing.T) {
	m := New(0)

	submit := func(args ...string) Handle {
		req := request.New(request.Config{})
		require.NoError(t, req.AddCommand(args...))
		h, err := m.Submit(req, resp3.NewIgnore())
		require.NoError(t, err)
		return h
	}

	h1 := submit("GET", "a")
	h2 := submit("GET", "b")
	flush(t, m)

	require.NoError(t, m.OnReadBytes([]byte("$1\r\n1\r\n$1\r\n2\r\n")))
	require.NoError(t, m.Wait(h1))
	require.NoError(t, m.Wait(h2))
	assert.Equal(t, uint64(2), m.Usage().ResponsesReceived)
}

func TestPushRoutedToSink(t *testing.T) {
	m := New(0)
	var published *resp3.TreeNode
	m.SetPushSink(pushSinkFunc(func(root *resp3.TreeNode) { published = root }))

	req := request.New(request.Config{})
	require.NoError(t, req.AddCommand("SUBSCRIBE", "x"))
	ig := resp3.NewIgnore()
	h, err := m.Submit(req, ig)
	require.NoError(t, err)
	flush(t, m)

	require.NoError(t, m.OnReadBytes([]byte(">3\r\n$9\r\nsubscribe\r\n$1\r\nx\r\n:1\r\n")))
	require.NoError(t, m.Wait(h), "subscribe command itself expects zero ordinary responses")
	require.NotNil(t, published)
	assert.Equal(t, resp3.TypePush, published.Type)
	assert.Equal(t, 0, ig.Count(), "push bytes must never reach the exec adapter")
}

func TestSoftCancelRemovesStagedBytes(t *testing.T) {
	m := New(0)
	req1 := request.New(request.Config{})
	require.NoError(t, req1.AddCommand("PING"))
	req2 := request.New(request.Config{})
	require.NoError(t, req2.AddCommand("PING"))

	h1, err := m.Submit(req1, resp3.NewIgnore())
	require.NoError(t, err)
	h2, err := m.Submit(req2, resp3.NewIgnore())
	require.NoError(t, err)

	require.NoError(t, m.Cancel(h1))
	require.ErrorIs(t, m.Wait(h1), ErrCancelled)

	flush(t, m)
	require.NoError(t, m.OnReadBytes([]byte("+PONG\r\n")))
	require.NoError(t, m.Wait(h2))
}

func TestHardCancelStillDrainsResponse(t *testing.T) {
	m := New(0)
	req1 := request.New(request.Config{})
	require.NoError(t, req1.AddCommand("PING"))
	req2 := request.New(request.Config{})
	require.NoError(t, req2.AddCommand("PING"))

	h1, err := m.Submit(req1, resp3.NewIgnore())
	require.NoError(t, err)
	h2, err := m.Submit(req2, resp3.NewIgnore())
	require.NoError(t, err)
	flush(t, m)

	require.NoError(t, m.Cancel(h1))

	require.NoError(t, m.OnReadBytes([]byte("+PONG\r\n+PONG\r\n")))
	require.ErrorIs(t, m.Wait(h1), ErrCancelled)
	require.NoError(t, m.Wait(h2), "second response must not be misattributed to the cancelled entry")
}

func TestResetRequeuesRetryableEntries(t *testing.T) {
	m := New(0)
	retryReq := request.New(request.Config{Retry: true})
	require.NoError(t, retryReq.AddCommand("PING"))
	dropReq := request.New(request.Config{})
	require.NoError(t, dropReq.AddCommand("PING"))

	hRetry, err := m.Submit(retryReq, resp3.NewIgnore())
	require.NoError(t, err)
	hDrop, err := m.Submit(dropReq, resp3.NewIgnore())
	require.NoError(t, err)

	m.Reset()

	require.ErrorIs(t, m.Wait(hDrop), ErrConnectionLost)
	assert.True(t, m.HasResponse())

	flush(t, m)
	require.NoError(t, m.OnReadBytes([]byte("+PONG\r\n")))
	require.NoError(t, m.Wait(hRetry))
}

type pushSinkFunc func(root *resp3.TreeNode)

func (f pushSinkFunc) Publish(root *resp3.TreeNode) { f(root) }
