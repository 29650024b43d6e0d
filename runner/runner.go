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
	"context"
	stderrors "errors"
	"io"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/packetd/respmux/common"
	"github.com/packetd/respmux/connstate"
	"github.com/packetd/respmux/execfsm"
	"github.com/packetd/respmux/internal/pushqueue"
	"github.com/packetd/respmux/internal/rescue"
	"github.com/packetd/respmux/logger"
	"github.com/packetd/respmux/mux"
	"github.com/packetd/respmux/request"
	"github.com/packetd/respmux/resp3"
)

// Runner owns one connection's lifecycle: resolve/connect/handshake, the
// ready loop's writer/reader/health-check activities, and reconnect with
// backoff. It implements execfsm.Connection so execfsm.Exec can drive calls
// through it.
//
// All multiplexer mutation happens on a single goroutine — the one running
// AsyncRun — mirroring §5's single-executor scheduling model without
// needing a lock on mux state. Submit, Cancel and the exec-scoped half of
// CancelOperation hand off to that goroutine over unbuffered channels.
type Runner struct {
	cfg    Config
	dialer Dialer
	log    logger.Logger

	mux       *mux.Multiplexer
	pushQueue *pushqueue.Queue

	submitCh chan submitRequest
	cancelCh chan cancelRequest
	opCh     chan opRequest

	stopCh   chan struct{}
	stopOnce sync.Once

	noReconnect   atomic.Bool
	noHealthCheck atomic.Bool

	mu            sync.RWMutex
	state         connstate.State
	readyCh       chan struct{}
	lostCh        chan struct{}
	connectCancel context.CancelFunc

	receiveMu       sync.RWMutex
	receiveCancelCh chan struct{}

	usageMu sync.RWMutex
	usage   mux.Usage
}

var _ execfsm.Connection = (*Runner)(nil)

// New returns a Runner governed by cfg. A nil dialer uses NewDialer(nil).
func New(cfg Config, dialer Dialer) *Runner {
	if dialer == nil {
		dialer = NewDialer(nil)
	}
	r := &Runner{
		cfg:             cfg,
		dialer:          dialer,
		log:             logger.New(logger.Options{Stdout: true, Level: string(cfg.LogLevel)}),
		mux:             mux.New(cfg.MaxNestedDepth),
		pushQueue:       pushqueue.New(0),
		submitCh:        make(chan submitRequest),
		cancelCh:        make(chan cancelRequest),
		opCh:            make(chan opRequest),
		stopCh:          make(chan struct{}),
		readyCh:         make(chan struct{}),
		lostCh:          make(chan struct{}),
		receiveCancelCh: make(chan struct{}),
	}
	r.mux.SetPushSink(r.pushQueue)
	return r
}

// Usage returns a snapshot of the connection's wire counters.
func (r *Runner) Usage() mux.Usage {
	r.usageMu.RLock()
	defer r.usageMu.RUnlock()
	return r.usage
}

func (r *Runner) syncUsage() {
	u := r.mux.Usage()
	r.usageMu.Lock()
	r.usage = u
	r.usageMu.Unlock()
}

// --- execfsm.Connection ---

func (r *Runner) State() connstate.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Runner) Ready() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readyCh
}

func (r *Runner) Lost() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lostCh
}

type submitRequest struct {
	req      *request.Request
	adapter  resp3.Adapter
	resultCh chan submitResult
}

type submitResult struct {
	handle mux.Handle
	err    error
}

func (r *Runner) Submit(req *request.Request, adapter resp3.Adapter) (mux.Handle, error) {
	resultCh := make(chan submitResult, 1)
	select {
	case r.submitCh <- submitRequest{req: req, adapter: adapter, resultCh: resultCh}:
	case <-r.stopCh:
		return 0, ErrNotConnected
	}
	res := <-resultCh
	return res.handle, res.err
}

func (r *Runner) Wait(h mux.Handle) error {
	return r.mux.Wait(h)
}

type cancelRequest struct {
	handle   mux.Handle
	resultCh chan error
}

func (r *Runner) Cancel(h mux.Handle) error {
	resultCh := make(chan error, 1)
	select {
	case r.cancelCh <- cancelRequest{handle: h, resultCh: resultCh}:
	case <-r.stopCh:
		return ErrNotConnected
	}
	return <-resultCh
}

// --- operation-scoped cancellation ---

type opRequest struct {
	fn   func()
	done chan struct{}
}

func errOperationCancelled(op Operation) error {
	return newError(ErrKindExecCancelled, op, "%s cancelled", op)
}

// CancelOperation implements the connection's cancel(operation) contract.
// Terminal operations (run, all) tear the whole connection down; the rest
// narrow to the activity they name.
func (r *Runner) CancelOperation(op Operation) error {
	switch op {
	case OpAll, OpRun:
		r.shutdown()
		return nil
	case OpReconnection:
		r.noReconnect.Store(true)
		return nil
	case OpHealthCheck:
		r.noHealthCheck.Store(true)
		return nil
	case OpExec:
		done := make(chan struct{})
		select {
		case r.opCh <- opRequest{fn: r.mux.CancelAll, done: done}:
			<-done
		case <-r.stopCh:
		}
		return nil
	case OpReceive:
		r.receiveMu.Lock()
		close(r.receiveCancelCh)
		r.receiveCancelCh = make(chan struct{})
		r.receiveMu.Unlock()
		return nil
	case OpResolve, OpConnect, OpSSLHandshake:
		r.mu.RLock()
		cancel := r.connectCancel
		r.mu.RUnlock()
		if cancel != nil {
			cancel()
		}
		return nil
	default:
		return errors.Errorf("runner: unknown operation %v", op)
	}
}

func (r *Runner) shutdown() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
}

// --- public async operations ---

// AsyncExec submits req through the exec state machine and waits for
// completion, returning the observed response size hint.
func (r *Runner) AsyncExec(ctx context.Context, req *request.Request, adapter resp3.Adapter) (int, error) {
	return execfsm.Exec(ctx, r, req, adapter)
}

// AsyncReceive waits for the next out-of-band push and replays it through
// adapter's OnNode, in the same pre-order shape the live parser would have
// produced. A nil adapter discards the push while still reporting its size.
func (r *Runner) AsyncReceive(ctx context.Context, adapter resp3.Adapter) (int, error) {
	innerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.receiveMu.RLock()
	opCancelCh := r.receiveCancelCh
	r.receiveMu.RUnlock()

	type popResult struct {
		root *resp3.TreeNode
		err  error
	}
	resCh := make(chan popResult, 1)
	go func() {
		root, err := r.pushQueue.Pop(innerCtx)
		resCh <- popResult{root: root, err: err}
	}()

	select {
	case res := <-resCh:
		if res.err != nil {
			return 0, res.err
		}
		if adapter == nil {
			adapter = resp3.NewIgnore()
		}
		return emitTree(res.root, 0, adapter.OnNode)
	case <-opCancelCh:
		cancel()
		<-resCh
		return 0, errOperationCancelled(OpReceive)
	}
}

// emitTree replays a materialized push tree through visit in the same
// pre-order node sequence the streaming parser would have produced,
// reconstructing each resp3.Node's Depth and AggregateSize from the tree
// shape. Returns the total byte count across all node values, the same
// size hint AsyncExec reports for an ordinary response.
func emitTree(node *resp3.TreeNode, depth int, visit func(resp3.Node) error) (int, error) {
	n := resp3.Node{Type: node.Type, Depth: depth, Value: node.Value}
	total := len(node.Value)
	if node.Type.IsAggregate() {
		count := len(node.Children)
		if node.Type == resp3.TypeMap || node.Type == resp3.TypeAttribute {
			count /= 2
		}
		n.AggregateSize = count
	}
	if err := visit(n); err != nil {
		return total, err
	}
	for i := range node.Children {
		b, err := emitTree(&node.Children[i], depth+1, visit)
		total += b
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// --- lifecycle: resolve/connect/handshake/ready/reconnect ---

// AsyncRun drives the connection state machine until a non-retryable error,
// an explicit cancel(run)/cancel(all), or ctx's cancellation.
func (r *Runner) AsyncRun(ctx context.Context) error {
	defer rescue.HandleCrash()

	for {
		select {
		case <-r.stopCh:
			r.finalize(ErrRunCancelled)
			return ErrRunCancelled
		case <-ctx.Done():
			r.finalize(ctx.Err())
			return ctx.Err()
		default:
		}

		err := r.connectAndServe(ctx)

		r.setState(connstate.Draining)
		r.mux.Reset()
		r.syncUsage()

		if r.noReconnect.Load() || r.cfg.ReconnectWaitInterval <= 0 {
			r.finalize(err)
			return err
		}

		r.setState(connstate.ReconnectWait)
		wait := r.cfg.ReconnectWaitInterval
		if r.cfg.ReconnectJitter > 0 {
			wait += time.Duration(rand.Int63n(int64(r.cfg.ReconnectJitter)))
		}
		select {
		case <-time.After(wait):
		case <-r.stopCh:
			r.finalize(ErrRunCancelled)
			return ErrRunCancelled
		case <-ctx.Done():
			r.finalize(ctx.Err())
			return ctx.Err()
		}
	}
}

func (r *Runner) finalize(err error) {
	r.mux.DrainAll(err)
	r.setState(connstate.Disconnected)
}

func (r *Runner) setState(s connstate.State) {
	r.mu.Lock()
	prev := r.state
	r.state = s
	switch {
	case prev != connstate.Ready && s == connstate.Ready:
		close(r.readyCh)
		r.readyCh = make(chan struct{})
	case prev == connstate.Ready && s != connstate.Ready:
		close(r.lostCh)
		r.lostCh = make(chan struct{})
	}
	r.mu.Unlock()
}

// connectAndServe runs one connection attempt end to end: resolve+connect
// (delegated to the Dialer), handshake, then the ready loop. It returns the
// error that ended the ready loop (or the connect/handshake failure that
// kept it from ever starting).
func (r *Runner) connectAndServe(parent context.Context) error {
	connCtx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.connectCancel = cancel
	r.mu.Unlock()
	defer cancel()

	r.setState(connstate.Resolving)
	r.setState(connstate.Connecting)

	conn, err := r.dialer.Dial(connCtx, r.cfg)
	if err != nil {
		if connCtx.Err() != nil {
			return errConnectTimeout(r.cfg.Addr)
		}
		return err
	}
	defer conn.Close()

	r.setState(connstate.Handshaking)
	if err := r.handshake(connCtx, conn); err != nil {
		return err
	}

	r.setState(connstate.Ready)
	return r.readyLoop(connCtx, conn)
}

func (r *Runner) handshake(ctx context.Context, conn Conn) error {
	req := buildHandshakeRequest(r.cfg)
	defer req.Release()

	payload, err := req.Seal()
	if err != nil {
		return err
	}

	if r.cfg.HelloTimeout > 0 {
		deadline := time.Now().Add(r.cfg.HelloTimeout)
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.SetReadDeadline(deadline)
	}

	if _, err := writeFull(conn, payload); err != nil {
		if isTimeout(err) {
			return errHelloFailed("timed out writing handshake request")
		}
		return err
	}

	adapter := &handshakeAdapter{}
	parser := resp3.NewParser(r.cfg.MaxNestedDepth)
	expected := len(req.Commands())
	got := 0
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, common.ReadWriteBlockSize)
	for got < expected {
		n, err := conn.Read(chunk)
		if err != nil {
			if isTimeout(err) {
				return errHelloFailed("timed out waiting for handshake reply")
			}
			return err
		}
		buf = append(buf, chunk[:n]...)
		consumed, perr := parser.Parse(buf, adapter.OnNode, func() error { got++; return nil })
		if perr != nil {
			return perr
		}
		buf = append(buf[:0], buf[consumed:]...)
	}

	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})

	if !adapter.ok() {
		return errHelloFailed(adapter.failReason)
	}
	return nil
}

type readEvent struct {
	data []byte
	err  error
}

type writeEvent struct {
	n   int
	err error
}

// readyLoop is the ready state's single executor: it owns the multiplexer
// exclusively for as long as it runs, fed by a reader and writer goroutine
// that perform only raw I/O and never touch mux state themselves.
func (r *Runner) readyLoop(ctx context.Context, conn Conn) error {
	readCh := make(chan readEvent, 1)
	writeReqCh := make(chan []byte)
	writeDoneCh := make(chan writeEvent, 1)

	go runReader(conn, r.cfg, readCh)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		runWriter(conn, r.cfg, writeReqCh, writeDoneCh)
	}()
	defer func() {
		close(writeReqCh)
		<-writerDone
	}()

	var writeInFlight bool
	tryWrite := func() {
		if writeInFlight {
			return
		}
		chunk := r.mux.NextWriteChunk()
		if chunk == nil {
			return
		}
		select {
		case writeReqCh <- chunk:
			writeInFlight = true
		case <-ctx.Done():
		}
	}
	tryWrite()

	var healthTickerC <-chan time.Time
	if r.cfg.HealthCheckInterval > 0 {
		healthTicker := time.NewTicker(r.cfg.HealthCheckInterval)
		defer healthTicker.Stop()
		healthTickerC = healthTicker.C
	}

	var pingDeadline *time.Timer
	var pingDeadlineC <-chan time.Time
	var pingDoneCh chan error
	var pingHandle mux.Handle
	stopPing := func() {
		if pingDeadline != nil {
			pingDeadline.Stop()
		}
		pingDeadline = nil
		pingDeadlineC = nil
		pingDoneCh = nil
	}
	defer stopPing()

	var idleTimer *time.Timer
	var idleC <-chan time.Time
	if r.cfg.IdleTimeout > 0 {
		idleTimer = time.NewTimer(r.cfg.IdleTimeout)
		defer idleTimer.Stop()
		idleC = idleTimer.C
	}
	resetIdle := func() {
		if idleTimer == nil {
			return
		}
		if !idleTimer.Stop() {
			select {
			case <-idleTimer.C:
			default:
			}
		}
		idleTimer.Reset(r.cfg.IdleTimeout)
	}

	for {
		select {
		case ev := <-readCh:
			if ev.err != nil {
				return ev.err
			}
			resetIdle()
			if err := r.mux.OnReadBytes(ev.data); err != nil {
				return err
			}
			r.syncUsage()
			tryWrite()

		case ev := <-writeDoneCh:
			writeInFlight = false
			if ev.err != nil {
				return ev.err
			}
			resetIdle()
			r.mux.OnWritten(ev.n)
			r.syncUsage()
			tryWrite()

		case sr := <-r.submitCh:
			h, err := r.mux.Submit(sr.req, sr.adapter)
			sr.resultCh <- submitResult{handle: h, err: err}
			tryWrite()

		case cr := <-r.cancelCh:
			cr.resultCh <- r.mux.Cancel(cr.handle)
			tryWrite()

		case req := <-r.opCh:
			req.fn()
			close(req.done)
			tryWrite()

		case <-healthTickerC:
			if r.noHealthCheck.Load() || pingDoneCh != nil {
				continue
			}
			h, err := r.mux.Submit(buildPingRequest(r.cfg), &pingAdapter{})
			if err != nil {
				return err
			}
			pingHandle = h
			pingDoneCh = make(chan error, 1)
			go func(h mux.Handle, ch chan<- error) { ch <- r.mux.Wait(h) }(h, pingDoneCh)
			if r.cfg.HealthCheckTimeout > 0 {
				pingDeadline = time.NewTimer(r.cfg.HealthCheckTimeout)
				pingDeadlineC = pingDeadline.C
			}
			tryWrite()

		case err := <-pingDoneCh:
			stopPing()
			if err != nil {
				return err
			}

		case <-pingDeadlineC:
			_ = r.mux.Cancel(pingHandle)
			return errPongTimeout()

		case <-idleC:
			return errIdleTimeout()

		case <-ctx.Done():
			return ctx.Err()

		case <-r.stopCh:
			return ErrRunCancelled
		}
	}
}

func runReader(conn Conn, cfg Config, out chan<- readEvent) {
	defer rescue.HandleCrash()
	chunkSize := common.ReadWriteBlockSize
	if cfg.MaxReadSize > 0 && cfg.MaxReadSize < chunkSize {
		chunkSize = cfg.MaxReadSize
	}
	for {
		if cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		}
		buf := make([]byte, chunkSize)
		n, err := conn.Read(buf)
		if err != nil {
			out <- readEvent{err: translateTimeout(err, errReadTimeout)}
			return
		}
		out <- readEvent{data: buf[:n]}
	}
}

func runWriter(conn Conn, cfg Config, in <-chan []byte, out chan<- writeEvent) {
	defer rescue.HandleCrash()
	for chunk := range in {
		if cfg.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
		}
		n, err := writeFull(conn, chunk)
		out <- writeEvent{n: n, err: translateTimeout(err, errWriteTimeout)}
		if err != nil {
			return
		}
	}
}

func writeFull(w io.Writer, b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := w.Write(b[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return stderrors.As(err, &ne) && ne.Timeout()
}

// translateTimeout maps a transport deadline error onto the operation's
// distinct error kind, per §7; any other error (including nil) passes
// through unchanged.
func translateTimeout(err error, onTimeout func() error) error {
	if err == nil {
		return nil
	}
	if isTimeout(err) {
		return onTimeout()
	}
	return err
}
