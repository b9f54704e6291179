// Copyright 2024 The rtpscore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tcpfsm

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ControlState is a control channel's position in the IDLE -> WCXOK ->
// WIBINDOK -> CONTROL progression (spec §4.5).
type ControlState int

const (
	ControlIdle ControlState = iota
	ControlWCXOK
	ControlWIBindOK
	ControlReady
	ControlClosed
)

func (s ControlState) String() string {
	switch s {
	case ControlIdle:
		return "IDLE"
	case ControlWCXOK:
		return "WCXOK"
	case ControlWIBindOK:
		return "WIBINDOK"
	case ControlReady:
		return "CONTROL"
	case ControlClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Role distinguishes which side of a control channel this process plays.
type Role uint8

const (
	RoleClient Role = iota
	RoleServer
)

// retryPolicy is one row of the §4.5 retry/timeout table.
type retryPolicy struct {
	timeout time.Duration
	retries int
}

var (
	policyConnect           = retryPolicy{2 * time.Second, 3}
	policyIdentityBind      = retryPolicy{2 * time.Second, 3}
	policyServerLogicalPort = retryPolicy{3 * time.Second, 2}
	policyClientLogicalPort = retryPolicy{2 * time.Second, 2}
	policyConnectionBind    = retryPolicy{2 * time.Second, 2}
)

// reconnectLimiter doles out jitter for the client's unbounded reconnect
// backoff (spec §4.5 table's "Randomised client reconnect delay: 1-5s,
// unbounded"). It is rate-limited to roughly one reservation per 250ms,
// so Reserve()'s delay has already accumulated some burst-dependent
// jitter before reconnectDelay folds it into the 1-5s window.
var reconnectLimiter = rate.NewLimiter(rate.Every(250*time.Millisecond), 4)

// reconnectDelay returns a value in [1s, 5s] for the client's next
// reconnect attempt, using the reconnectLimiter's reservation delay as
// its source of jitter instead of a hand-rolled RNG loop.
func reconnectDelay(attempt int) time.Duration {
	r := reconnectLimiter.ReserveN(time.Now(), 1)
	jitter := r.Delay()
	base := time.Duration(attempt%5) * time.Second
	d := time.Second + base + jitter
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

// DialControlWithBackoff retries dial with the client's unbounded
// reconnect delay (spec §4.5: "Randomised client reconnect delay: 1-5s,
// unbounded") until it succeeds or ctx is cancelled.
func DialControlWithBackoff(ctx context.Context, dial func(context.Context) (net.Conn, error)) (net.Conn, error) {
	for attempt := 0; ; attempt++ {
		conn, err := dial(ctx)
		if err == nil {
			return conn, nil
		}
		select {
		case <-time.After(reconnectDelay(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ClientLogicalPortHandler is invoked when the peer (acting as server)
// asks this control channel's owner to open a reverse ("Rx") data
// channel for the given logical port.
type ClientLogicalPortHandler func(port uint32, options PortOptions)

// ServerLogicalPortHandler is invoked when a peer, acting as the data-
// channel client, asks this process (acting as server) to allocate a
// logical port and mint a binding cookie for a new data channel.
type ServerLogicalPortHandler func(options PortOptions) (port uint32, cookie []byte, err error)

// ControlChannel drives the RPSC control-channel FSM over one
// already-established TCP connection (spec §4.5 "Control channel").
type ControlChannel struct {
	log     *zap.Logger
	conn    net.Conn
	fr      *FrameReader
	role    Role
	vendor  [3]byte
	cookies *CookieTable

	onClientLogicalPort ClientLogicalPortHandler
	onServerLogicalPort ServerLogicalPortHandler
	onFinalize          func()

	mu          sync.Mutex
	state       ControlState
	peerVendor  [3]byte
	txnID       [12]byte
	pending     map[[12]byte]chan Message
	writeMu     sync.Mutex
	closed      chan struct{}
	closeOnce   sync.Once
}

// NewControlChannel wraps an established TCP connection in a
// ControlChannel FSM. vendor identifies this process in outbound
// messages; cookies is shared with the data-channel side that redeems
// them.
func NewControlChannel(log *zap.Logger, conn net.Conn, role Role, vendor [3]byte, cookies *CookieTable) *ControlChannel {
	if log == nil {
		log = zap.NewNop()
	}
	return &ControlChannel{
		log:     log.Named("control"),
		conn:    conn,
		fr:      NewFrameReader(conn),
		role:    role,
		vendor:  vendor,
		cookies: cookies,
		state:   ControlIdle,
		pending: make(map[[12]byte]chan Message),
		closed:  make(chan struct{}),
	}
}

// SetClientLogicalPortHandler installs the callback invoked when the
// server side requests a reverse data channel.
func (c *ControlChannel) SetClientLogicalPortHandler(fn ClientLogicalPortHandler) {
	c.mu.Lock()
	c.onClientLogicalPort = fn
	c.mu.Unlock()
}

// SetServerLogicalPortHandler installs the callback invoked when a peer
// requests a new data channel's logical port and cookie from this
// (server-role) process.
func (c *ControlChannel) SetServerLogicalPortHandler(fn ServerLogicalPortHandler) {
	c.mu.Lock()
	c.onServerLogicalPort = fn
	c.mu.Unlock()
}

// SetFinalizeHandler installs the callback invoked once the channel is
// torn down, used by the owner to cascade teardown to its data children
// (spec §4.5: "if a control channel goes down all its data children are
// torn down first").
func (c *ControlChannel) SetFinalizeHandler(fn func()) {
	c.mu.Lock()
	c.onFinalize = fn
	c.mu.Unlock()
}

// State reports the channel's current FSM state.
func (c *ControlChannel) State() ControlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *ControlChannel) setState(s ControlState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Bind drives the client-side IDLE -> WIBINDOK -> CONTROL handshake:
// sends IdentityBindRequest and waits (with the §4.5 retry policy) for
// Success/Fail.
func (c *ControlChannel) Bind(ctx context.Context) error {
	c.setState(ControlWCXOK)
	resp, err := c.request(ctx, OpIdentityBind, nil, policyIdentityBind, func() {
		c.setState(ControlWIBindOK)
	})
	if err != nil {
		c.setState(ControlClosed)
		return fmt.Errorf("tcpfsm: identity bind: %w", err)
	}
	if resp.Kind.Direction() != DirectionSuccess {
		c.setState(ControlClosed)
		return fmt.Errorf("tcpfsm: identity bind rejected")
	}
	copy(c.peerVendor[:], resp.VendorID[:])
	c.setState(ControlReady)
	return nil
}

// RequestServerLogicalPort asks the peer (acting as server) to allocate
// a logical port and cookie for a new data channel (spec §4.5
// "ServerLogicalPort").
func (c *ControlChannel) RequestServerLogicalPort(ctx context.Context, options PortOptions) (logicalPort uint32, cookie []byte, err error) {
	params := []Param{{ID: ParamPortOptions, Value: []byte{byte(options)}}}
	resp, err := c.request(ctx, OpServerLogicalPort, params, policyServerLogicalPort, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("tcpfsm: server logical port: %w", err)
	}
	if resp.Kind.Direction() != DirectionSuccess {
		return 0, nil, fmt.Errorf("tcpfsm: server logical port rejected")
	}
	portParam, ok := resp.Find(ParamLogicalPort)
	if !ok || len(portParam.Value) != 4 {
		return 0, nil, fmt.Errorf("tcpfsm: server logical port: missing port")
	}
	cookieParam, ok := resp.Find(ParamCookie)
	if !ok {
		return 0, nil, fmt.Errorf("tcpfsm: server logical port: missing cookie")
	}
	return binary.BigEndian.Uint32(portParam.Value), cookieParam.Value, nil
}

// request mints a transaction id, sends a request-direction message,
// registers a waiter, and retries per policy until a reply arrives, ctx
// is cancelled, or retries are exhausted.
func (c *ControlChannel) request(ctx context.Context, op Op, params []Param, policy retryPolicy, onSent func()) (Message, error) {
	txn := NewTxnID()
	wait := make(chan Message, 1)
	c.mu.Lock()
	c.pending[txn] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, txn)
		c.mu.Unlock()
	}()

	msg := Message{VendorID: c.vendor, TxnID: txn, Kind: MakeKind(DirectionRequest, op), Params: params}
	for attempt := 0; ; attempt++ {
		if err := c.send(msg); err != nil {
			return Message{}, err
		}
		if onSent != nil {
			onSent()
		}
		select {
		case resp := <-wait:
			return resp, nil
		case <-time.After(policy.timeout):
			if attempt >= policy.retries {
				return Message{}, fmt.Errorf("tcpfsm: %s: retries exhausted", op)
			}
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-c.closed:
			return Message{}, fmt.Errorf("tcpfsm: channel closed")
		}
	}
}

func (c *ControlChannel) send(m Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteControlFrame(c.conn, m)
}

// Run reads control frames until the connection closes or ctx is
// cancelled, dispatching requests to their handlers and replies to any
// waiter registered by request(). Callers run this in its own
// goroutine; it is this connection's receive-fragment continuation
// (spec §4.5), made implicit by blocking on the conn's own goroutine.
func (c *ControlChannel) Run(ctx context.Context) error {
	defer c.Close()
	go func() {
		<-ctx.Done()
		c.conn.SetDeadline(time.Now())
	}()
	for {
		m, err := c.fr.ReadControlFrame()
		if err != nil {
			return err
		}
		c.handle(m)
	}
}

func (c *ControlChannel) handle(m Message) {
	if m.Kind.Direction() != DirectionRequest {
		c.mu.Lock()
		wait, ok := c.pending[m.TxnID]
		c.mu.Unlock()
		if ok {
			wait <- m
		}
		return
	}

	switch m.Kind.Op() {
	case OpIdentityBind:
		c.handleIdentityBindRequest(m)
	case OpServerLogicalPort:
		c.handleServerLogicalPortRequest(m)
	case OpClientLogicalPort:
		c.handleClientLogicalPortRequest(m)
	case OpFinalize:
		c.handleFinalize()
	default:
		c.log.Debug("unexpected control request", zap.Stringer("kind", m.Kind))
	}
}

// handleServerLogicalPortRequest answers a peer's request for a new
// data channel's logical port and binding cookie, via the installed
// ServerLogicalPortHandler (typically backed by a listener/allocator
// owned by rtpscore's core wiring).
func (c *ControlChannel) handleServerLogicalPortRequest(m Message) {
	var options PortOptions
	if p, ok := m.Find(ParamPortOptions); ok && len(p.Value) == 1 {
		options = PortOptions(p.Value[0])
	}

	c.mu.Lock()
	handler := c.onServerLogicalPort
	c.mu.Unlock()

	if handler == nil {
		_ = c.send(Message{VendorID: c.vendor, TxnID: m.TxnID, Kind: MakeKind(DirectionFail, OpServerLogicalPort)})
		return
	}
	port, cookie, err := handler(options)
	if err != nil {
		_ = c.send(Message{VendorID: c.vendor, TxnID: m.TxnID, Kind: MakeKind(DirectionFail, OpServerLogicalPort)})
		return
	}

	var portBuf [4]byte
	binary.BigEndian.PutUint32(portBuf[:], port)
	reply := Message{
		VendorID: c.vendor,
		TxnID:    m.TxnID,
		Kind:     MakeKind(DirectionSuccess, OpServerLogicalPort),
		Params: []Param{
			{ID: ParamLogicalPort, Value: portBuf[:]},
			{ID: ParamCookie, Value: cookie},
		},
	}
	if err := c.send(reply); err != nil {
		c.log.Debug("server logical port reply failed", zap.Error(err))
	}
}

func (c *ControlChannel) handleIdentityBindRequest(m Message) {
	copy(c.peerVendor[:], m.VendorID[:])
	c.setState(ControlReady)
	reply := Message{VendorID: c.vendor, TxnID: m.TxnID, Kind: MakeKind(DirectionSuccess, OpIdentityBind)}
	if err := c.send(reply); err != nil {
		c.log.Debug("identity bind reply failed", zap.Error(err))
	}
}

// handleClientLogicalPortRequest answers a server-initiated request to
// open a reverse data channel: this side is acting as the Tx-side
// initiator for that channel even though it plays the client role on
// the control channel overall.
func (c *ControlChannel) handleClientLogicalPortRequest(m Message) {
	portParam, ok := m.Find(ParamLogicalPort)
	fail := !ok || len(portParam.Value) != 4
	var port uint32
	var options PortOptions
	if !fail {
		port = binary.BigEndian.Uint32(portParam.Value)
		if optParam, ok := m.Find(ParamPortOptions); ok && len(optParam.Value) == 1 {
			options = PortOptions(optParam.Value[0])
		}
	}

	dir := DirectionSuccess
	if fail {
		dir = DirectionFail
	}
	reply := Message{VendorID: c.vendor, TxnID: m.TxnID, Kind: MakeKind(dir, OpClientLogicalPort)}
	if err := c.send(reply); err != nil {
		c.log.Debug("client logical port reply failed", zap.Error(err))
	}
	if fail {
		return
	}

	c.mu.Lock()
	handler := c.onClientLogicalPort
	c.mu.Unlock()
	if handler != nil {
		handler(port, options)
	}
}

func (c *ControlChannel) handleFinalize() {
	c.Close()
}

// Close tears down the control channel, closing its connection and
// invoking the finalize handler exactly once.
func (c *ControlChannel) Close() error {
	c.closeOnce.Do(func() {
		c.setState(ControlClosed)
		close(c.closed)
		c.conn.Close()
		c.mu.Lock()
		fn := c.onFinalize
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	return nil
}

// SendFinalize sends a best-effort Finalize request, per spec §4.5 "on
// retry exhaustion the FSM sends Finalize (best-effort) and tears down
// the channel."
func (c *ControlChannel) SendFinalize() {
	_ = c.send(Message{VendorID: c.vendor, TxnID: NewTxnID(), Kind: MakeKind(DirectionRequest, OpFinalize)})
}
