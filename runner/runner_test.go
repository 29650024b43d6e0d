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

package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/packetd/respmux/connstate"
	"github.com/packetd/respmux/request"
	"github.com/packetd/respmux/resp3"
)

// pipeDialer hands out a fixed sequence of pre-wired net.Pipe connections —
// net.Conn already satisfies Conn, so the fake needs no adapter of its own.
// A dial past the end of conns repeats the last one; errs lets a test force
// an early dial failure.
type pipeDialer struct {
	mu    sync.Mutex
	conns []net.Conn
	errs  []error
	idx   int
}

func (d *pipeDialer) Dial(_ context.Context, _ Config) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.idx
	d.idx++
	if i < len(d.errs) && d.errs[i] != nil {
		return nil, d.errs[i]
	}
	if i >= len(d.conns) {
		i = len(d.conns) - 1
	}
	return d.conns[i], nil
}

// readCommand decodes one RESP3 array-of-bulk-strings frame, the shape
// every request.Request serializes a command as.
func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) == 0 || line[0] != '*' {
		return nil, fmt.Errorf("runner test: unexpected line %q", line)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		head, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		head = strings.TrimRight(head, "\r\n")
		size, err := strconv.Atoi(head[1:])
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

// defaultReply answers HELLO with an empty map, PING with PONG, and
// anything else with a plain +OK, enough to drive the handshake and ready
// loop without a real server.
func defaultReply(args []string) string {
	if len(args) == 0 {
		return ""
	}
	switch strings.ToUpper(args[0]) {
	case "HELLO":
		return "%0\r\n"
	case "PING":
		return "+PONG\r\n"
	default:
		return "+OK\r\n"
	}
}

// serveFake answers commands arriving on conn until it errors (closed, pipe
// torn down) or reply signals it has nothing to say.
func serveFake(conn net.Conn, reply func(args []string) string) {
	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		out := reply(args)
		if out == "" {
			continue
		}
		if _, err := conn.Write([]byte(out)); err != nil {
			return
		}
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HealthCheckInterval = 0
	cfg.ReconnectWaitInterval = 0
	return cfg
}

func waitReady(t *testing.T, r *Runner) {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.State() == connstate.Ready
	}, time.Second, time.Millisecond)
}

func TestAsyncRun_ReachesReadyThenShutsDownOnCancelAll(t *testing.T) {
	client, server := net.Pipe()
	go serveFake(server, defaultReply)

	r := New(testConfig(), &pipeDialer{conns: []net.Conn{client}})

	errCh := make(chan error, 1)
	go func() { errCh <- r.AsyncRun(context.Background()) }()

	waitReady(t, r)
	require.NoError(t, r.CancelOperation(OpAll))

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrRunCancelled)
	case <-time.After(time.Second):
		t.Fatal("AsyncRun did not return after cancel(all)")
	}
	require.Equal(t, connstate.Disconnected, r.State())
}

func TestAsyncExec_RoundTrip(t *testing.T) {
	client, server := net.Pipe()
	go serveFake(server, defaultReply)

	r := New(testConfig(), &pipeDialer{conns: []net.Conn{client}})
	go r.AsyncRun(context.Background())
	waitReady(t, r)

	req := request.New(request.Config{})
	require.NoError(t, req.AddCommand("SET", "k", "v"))

	var got resp3.Node
	adapter := resp3.AdapterFunc(func(n resp3.Node) error {
		got = n
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := r.AsyncExec(ctx, req, adapter)
	require.NoError(t, err)
	require.Equal(t, resp3.TypeSimpleString, got.Type)
	require.Greater(t, n, 0)

	require.NoError(t, r.CancelOperation(OpAll))
}

func TestAsyncExec_HealthCheckSurvivesPing(t *testing.T) {
	client, server := net.Pipe()
	go serveFake(server, defaultReply)

	cfg := testConfig()
	cfg.HealthCheckInterval = 20 * time.Millisecond
	cfg.HealthCheckTimeout = 200 * time.Millisecond
	r := New(cfg, &pipeDialer{conns: []net.Conn{client}})

	errCh := make(chan error, 1)
	go func() { errCh <- r.AsyncRun(context.Background()) }()
	waitReady(t, r)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, connstate.Ready, r.State(), "a responding PING must not drop the connection")

	require.NoError(t, r.CancelOperation(OpAll))
	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("AsyncRun did not return after cancel(all)")
	}
}

func TestAsyncRun_ReconnectsAfterConnectionLost(t *testing.T) {
	client1, server1 := net.Pipe()
	client2, server2 := net.Pipe()
	go serveFake(server1, defaultReply)
	go serveFake(server2, defaultReply)

	cfg := testConfig()
	cfg.ReconnectWaitInterval = 10 * time.Millisecond
	dialer := &pipeDialer{conns: []net.Conn{client1, client2}}
	r := New(cfg, dialer)

	errCh := make(chan error, 1)
	go func() { errCh <- r.AsyncRun(context.Background()) }()
	waitReady(t, r)

	// Sever the first connection; the runner must notice on its next read
	// and cycle back through Resolving/Connecting/Handshaking on client2.
	require.NoError(t, server1.Close())

	require.Eventually(t, func() bool {
		return dialer.idx >= 2
	}, time.Second, time.Millisecond, "expected a second dial attempt")
	waitReady(t, r)

	require.NoError(t, r.CancelOperation(OpAll))
	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("AsyncRun did not return after cancel(all)")
	}
}

func TestCancelOperation_ExecDrainsPendingEntry(t *testing.T) {
	client, server := net.Pipe()

	// The server holds back its reply to GET until release is closed, so
	// the test controls the race: cancel(exec) is guaranteed to land before
	// the (discarded) response arrives.
	release := make(chan struct{})
	go func() {
		r := bufio.NewReader(server)
		for {
			args, err := readCommand(r)
			if err != nil {
				return
			}
			if len(args) > 0 && strings.ToUpper(args[0]) == "GET" {
				<-release
			}
			out := defaultReply(args)
			if out == "" {
				continue
			}
			if _, err := server.Write([]byte(out)); err != nil {
				return
			}
		}
	}()

	r := New(testConfig(), &pipeDialer{conns: []net.Conn{client}})
	go r.AsyncRun(context.Background())
	waitReady(t, r)

	req := request.New(request.Config{})
	require.NoError(t, req.AddCommand("GET", "k"))
	h, err := r.Submit(req, nil)
	require.NoError(t, err)

	require.NoError(t, r.CancelOperation(OpExec))
	close(release)

	waitErr := make(chan error, 1)
	go func() { waitErr <- r.Wait(h) }()
	select {
	case err := <-waitErr:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("cancelled entry never completed")
	}

	require.NoError(t, r.CancelOperation(OpAll))
}

func TestCancelOperation_ReconnectionSuppressesNextReconnect(t *testing.T) {
	client, server := net.Pipe()
	go serveFake(server, defaultReply)

	cfg := testConfig()
	cfg.ReconnectWaitInterval = 10 * time.Millisecond
	r := New(cfg, &pipeDialer{conns: []net.Conn{client}})

	errCh := make(chan error, 1)
	go func() { errCh <- r.AsyncRun(context.Background()) }()
	waitReady(t, r)

	require.NoError(t, r.CancelOperation(OpReconnection))
	require.NoError(t, server.Close())

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("AsyncRun kept reconnecting after cancel(reconnection)")
	}
}
