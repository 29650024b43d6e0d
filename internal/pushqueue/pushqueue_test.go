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

package pushqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/respmux/resp3"
)

func TestPublishThenPop(t *testing.T) {
	q := New(4)
	q.Publish(&resp3.TreeNode{Type: resp3.TypePush})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	root, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, resp3.TypePush, root.Type)
}

func TestPopTimesOutWhenEmpty(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	assert.Error(t, err)
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	q := New(1)
	q.Publish(&resp3.TreeNode{Type: resp3.TypePush, Value: []byte("first")})
	q.Publish(&resp3.TreeNode{Type: resp3.TypePush, Value: []byte("second")})

	root, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", string(root.Value))
}

func TestPopAfterCloseReturnsErrClosed(t *testing.T) {
	q := New(1)
	q.Close()
	_, err := q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
