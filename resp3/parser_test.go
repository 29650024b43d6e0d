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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	typ   Type
	depth int
	size  int
	value string
}

func collect(t *testing.T, p *Parser, data []byte) ([]recorded, int) {
	t.Helper()
	var nodes []recorded
	ends := 0
	consumed, err := p.Parse(data, func(n Node) error {
		nodes = append(nodes, recorded{typ: n.Type, depth: n.Depth, size: n.AggregateSize, value: string(n.Value)})
		return nil
	}, func() error {
		ends++
		return nil
	})
	require.NoError(t, err)
	return nodes, consumed
}

func TestParsePingRoundTrip(t *testing.T) {
	p := NewParser(0)
	nodes, consumed := collect(t, p, []byte("+PONG\r\n"))
	require.Equal(t, 7, consumed)
	require.Len(t, nodes, 1)
	assert.Equal(t, TypeSimpleString, nodes[0].typ)
	assert.Equal(t, "PONG", nodes[0].value)
	assert.Equal(t, 0, p.Depth())
}

func TestParseMapResponse(t *testing.T) {
	p := NewParser(0)
	data := []byte("%2\r\n+k1\r\n:1\r\n+k2\r\n:2\r\n")
	nodes, consumed := collect(t, p, data)
	require.Equal(t, len(data), consumed)
	require.Len(t, nodes, 5)
	assert.Equal(t, TypeMap, nodes[0].typ)
	assert.Equal(t, 2, nodes[0].size)
	assert.Equal(t, 0, nodes[0].depth)
	for _, n := range nodes[1:] {
		assert.Equal(t, 1, n.depth)
	}
	assert.Equal(t, 0, p.Depth())
}

func TestParseStreamedString(t *testing.T) {
	p := NewParser(0)
	data := []byte("$?\r\n;4\r\nHell\r\n;1\r\no\r\n;0\r\n")
	nodes, consumed := collect(t, p, data)
	require.Equal(t, len(data), consumed)
	require.Len(t, nodes, 3)
	assert.Equal(t, TypeBlobString, nodes[0].typ)
	assert.True(t, nodes[0].size == -1)
	assert.Equal(t, TypeStreamedStringPart, nodes[1].typ)
	assert.Equal(t, "Hell", nodes[1].value)
	assert.Equal(t, TypeStreamedStringPart, nodes[2].typ)
	assert.Equal(t, "o", nodes[2].value)
	assert.Equal(t, 0, p.Depth(), "terminator must pop the streamed frame")
}

func TestParseStreamedAggregate(t *testing.T) {
	p := NewParser(0)
	data := []byte("*?\r\n:1\r\n:2\r\n;0\r\n")
	nodes, consumed := collect(t, p, data)
	require.Equal(t, len(data), consumed)
	require.Len(t, nodes, 3)
	assert.Equal(t, TypeArray, nodes[0].typ)
	assert.Equal(t, 0, p.Depth())
}

func TestParseExceedsMaxNestedDepth(t *testing.T) {
	p := NewParser(2)
	data := []byte("*1\r\n*1\r\n*1\r\n:1\r\n")
	_, err := p.Parse(data, func(Node) error { return nil }, func() error { return nil })
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrKindExceedsMaxNestedDepth, perr.Kind)
}

func TestParseWithinMaxNestedDepth(t *testing.T) {
	p := NewParser(2)
	data := []byte("*1\r\n*1\r\n:1\r\n")
	_, err := p.Parse(data, func(Node) error { return nil }, func() error { return nil })
	require.NoError(t, err)
}

// TestParseResumability is the core contract: feeding the same bytes split
// at every possible boundary must produce the identical node sequence as
// feeding them in one shot. Splitting never re-delivers or drops a node.
func TestParseResumability(t *testing.T) {
	full := []byte("*3\r\n$5\r\nhello\r\n:1234\r\n%1\r\n+k\r\n#t\r\n")

	baseline, _ := collect(t, NewParser(0), full)
	require.NotEmpty(t, baseline)

	for split := 1; split < len(full); split++ {
		p := NewParser(0)
		var nodes []recorded
		ends := 0
		onNode := func(n Node) error {
			nodes = append(nodes, recorded{typ: n.Type, depth: n.Depth, size: n.AggregateSize, value: string(n.Value)})
			return nil
		}
		onEnd := func() error { ends++; return nil }

		first := append([]byte(nil), full[:split]...)
		consumed1, err := p.Parse(first, onNode, onEnd)
		require.NoError(t, err)

		rest := append(append([]byte(nil), first[consumed1:]...), full[split:]...)
		consumed2, err := p.Parse(rest, onNode, onEnd)
		require.NoError(t, err, "split at %d", split)
		require.Equal(t, len(rest), consumed2, "split at %d must fully drain", split)

		assert.Equal(t, baseline, nodes, "split at %d produced a different node sequence", split)
		assert.Equal(t, 0, p.Depth(), "split at %d left an open frame", split)
	}
}

// TestParseByteExhaustion confirms Parse never blocks on a short buffer: it
// reports however many bytes were fully consumed and leaves the remainder
// untouched for the next call, without emitting partial nodes.
func TestParseByteExhaustion(t *testing.T) {
	p := NewParser(0)
	partial := []byte("+PONG") // missing CRLF
	nodes, consumed := collect(t, p, partial)
	assert.Empty(t, nodes)
	assert.Equal(t, 0, consumed)

	nodes, consumed = collect(t, p, append(append([]byte(nil), partial...), "\r\n"...))
	require.Len(t, nodes, 1)
	assert.Equal(t, "PONG", nodes[0].value)
	assert.Equal(t, len(partial)+2, consumed)
}

func TestParseNullBlobString(t *testing.T) {
	p := NewParser(0)
	nodes, consumed := collect(t, p, []byte("$-1\r\n"))
	require.Equal(t, 5, consumed)
	require.Len(t, nodes, 1)
	assert.Equal(t, TypeNull, nodes[0].typ)
}

func TestParseInvalidTypePrefix(t *testing.T) {
	p := NewParser(0)
	_, err := p.Parse([]byte("@nope\r\n"), func(Node) error { return nil }, func() error { return nil })
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrKindInvalidType, perr.Kind)
}

func TestParseNegativeAggregateCountRejected(t *testing.T) {
	p := NewParser(0)
	_, err := p.Parse([]byte("*-5\r\n"), func(Node) error { return nil }, func() error { return nil })
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrKindNotANumber, perr.Kind)
}

func TestTreeAdapterMapResponse(t *testing.T) {
	p := NewParser(0)
	ta := NewTreeAdapter()
	data := []byte("%2\r\n+k1\r\n:1\r\n+k2\r\n:2\r\n")
	_, err := p.Parse(data, ta.OnNode, func() error { ta.Close(); return nil })
	require.NoError(t, err)

	root := ta.Root()
	require.NotNil(t, root)
	assert.Equal(t, TypeMap, root.Type)
	require.Len(t, root.Children, 4)
	assert.Equal(t, "k1", string(root.Children[0].Value))
	assert.Equal(t, "k2", string(root.Children[2].Value))
}

func TestTreeAdapterEmptyArray(t *testing.T) {
	p := NewParser(0)
	ta := NewTreeAdapter()
	_, err := p.Parse([]byte("*0\r\n"), ta.OnNode, func() error { ta.Close(); return nil })
	require.NoError(t, err)

	root := ta.Root()
	require.NotNil(t, root)
	assert.Equal(t, TypeArray, root.Type)
	assert.Empty(t, root.Children)
}

func TestTreeAdapterStreamedString(t *testing.T) {
	p := NewParser(0)
	ta := NewTreeAdapter()
	data := []byte("$?\r\n;4\r\nHell\r\n;1\r\no\r\n;0\r\n")
	_, err := p.Parse(data, ta.OnNode, func() error { ta.Close(); return nil })
	require.NoError(t, err)

	root := ta.Root()
	require.NotNil(t, root)
	assert.Equal(t, TypeBlobString, root.Type)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "Hell", string(root.Children[0].Value))
	assert.Equal(t, "o", string(root.Children[1].Value))
}

func TestIgnoreAdapterCountsNodes(t *testing.T) {
	p := NewParser(0)
	ig := NewIgnore()
	_, err := p.Parse([]byte("%1\r\n+k\r\n:1\r\n"), ig.OnNode, func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 3, ig.Count())
}
