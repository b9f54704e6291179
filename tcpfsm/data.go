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

	"github.com/qeo-rtps/rtpscore/metrics"
	"github.com/qeo-rtps/rtpscore/wire"
	"go.uber.org/zap"
)

// DataState is a data channel's position in its Tx-side progression
// IDLE -> WCONTROL -> WPORTOK -> WCXOK -> WCBINDOK -> DATA, or the
// Rx-side progression WCBINDOK -> DATA that AttachRx drives from a
// ConnectionBindRequest on an accepted connection (spec §4.5). A
// received ClientLogicalPortRequest does not start an Rx channel here.
type DataState int

const (
	DataIdle DataState = iota
	DataWControl
	DataWPortOK
	DataWCXOK
	DataWCBindOK
	DataActive
	DataClosed
)

func (s DataState) String() string {
	switch s {
	case DataIdle:
		return "IDLE"
	case DataWControl:
		return "WCONTROL"
	case DataWPortOK:
		return "WPORTOK"
	case DataWCXOK:
		return "WCXOK"
	case DataWCBindOK:
		return "WCBINDOK"
	case DataActive:
		return "DATA"
	case DataClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Side distinguishes a data channel's direction of data flow, independent
// of which side dialed the underlying TCP connection.
type Side uint8

const (
	// SideTx carries messages we originate outward to the peer.
	SideTx Side = iota
	// SideRx carries messages the peer originates toward us.
	SideRx
)

// ReceiveHandler is invoked for every complete RTPS message read off a
// data channel's connection.
type ReceiveHandler func(msg *wire.Message)

// DataChannel drives one RPSC data-channel connection: either the Tx
// side (this process requests a server logical port and dials out) or
// the Rx side (this process accepts an inbound connection and answers
// the peer's ConnectionBindRequest on it; see AttachRx), per spec §4.5.
//
// A paired Tx/Rx pair may share one underlying net.Conn when both peers
// advertise PortOptions.Share (spec §4.5 "Connection sharing"); see
// pair.go.
type DataChannel struct {
	log  *zap.Logger
	side Side

	mu          sync.Mutex
	state       DataState
	conn        net.Conn
	fr          *FrameReader
	logicalPort uint32
	options     PortOptions
	paired      *DataChannel
	ownsConn    bool
	receive     ReceiveHandler
	writeMu     sync.Mutex
	closeOnce   sync.Once
	closed      chan struct{}

	// metrics, when set via SetMetrics, receives the per-connection
	// octet/packet counters of spec §7. Left zero-valued it is simply
	// not reported, so tests and callers with no Connections registry
	// need not set it.
	metrics   metrics.Conn
	hasMetrics bool
}

// SetMetrics installs the per-connection counter handle this channel
// reports octets/packets/errors against (spec §7's per-connection
// counters).
func (d *DataChannel) SetMetrics(c metrics.Conn) {
	d.mu.Lock()
	d.metrics = c
	d.hasMetrics = true
	d.mu.Unlock()
}

// NewDataChannel constructs a data channel in state IDLE for the given
// side. The connection is attached later, once it is known (Tx: after
// dialing and binding; Rx: by AttachRx, on the accepted socket it is
// given).
func NewDataChannel(log *zap.Logger, side Side, receive ReceiveHandler) *DataChannel {
	if log == nil {
		log = zap.NewNop()
	}
	return &DataChannel{
		log:     log.Named("data"),
		side:    side,
		state:   DataIdle,
		receive: receive,
		closed:  make(chan struct{}),
	}
}

// State reports the channel's current FSM state.
func (d *DataChannel) State() DataState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *DataChannel) setState(s DataState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// OpenTx drives the Tx-side handshake: request a server logical port and
// cookie over control, dial a fresh data socket, then redeem the cookie
// via ConnectionBindRequest.
// On success the channel enters DATA and its receive loop is started in
// its own goroutine.
func (d *DataChannel) OpenTx(ctx context.Context, control *ControlChannel, options PortOptions, dial func(context.Context) (net.Conn, error)) error {
	d.setState(DataWControl)
	for control.State() != ControlReady {
		select {
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.setState(DataWPortOK)
	port, cookie, err := control.RequestServerLogicalPort(ctx, options)
	if err != nil {
		d.setState(DataClosed)
		return fmt.Errorf("tcpfsm: open tx: %w", err)
	}
	d.mu.Lock()
	d.logicalPort = port
	d.options = options
	d.mu.Unlock()

	d.setState(DataWCXOK)
	conn, err := dial(ctx)
	if err != nil {
		d.setState(DataClosed)
		return fmt.Errorf("tcpfsm: open tx: dial: %w", err)
	}
	d.attach(conn, true)

	d.setState(DataWCBindOK)
	if err := d.bindConnection(ctx, port, cookie, policyConnectionBind); err != nil {
		d.Close()
		return fmt.Errorf("tcpfsm: open tx: bind: %w", err)
	}

	d.setState(DataActive)
	go d.receiveLoop()
	return nil
}

// AttachRx completes the Rx-side handshake once a ConnectionBindRequest
// arrives on conn: redeems cookie against cookies, answers
// Success/Fail, and on success enters DATA.
func AttachRx(ctx context.Context, log *zap.Logger, conn net.Conn, cookies *CookieTable, receive ReceiveHandler) (*DataChannel, error) {
	d := NewDataChannel(log, SideRx, receive)
	d.setState(DataWCBindOK)
	d.attach(conn, true)

	m, err := d.fr.ReadControlFrame()
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("tcpfsm: attach rx: %w", err)
	}
	if m.Kind.Op() != OpConnectionBind || m.Kind.Direction() != DirectionRequest {
		d.Close()
		return nil, fmt.Errorf("tcpfsm: attach rx: unexpected message %s", m.Kind)
	}
	cookieParam, ok := m.Find(ParamCookie)
	if !ok {
		d.Close()
		return nil, fmt.Errorf("tcpfsm: attach rx: missing cookie")
	}
	port, options, ok := cookies.Redeem(cookieParam.Value)
	dir := DirectionSuccess
	if !ok {
		dir = DirectionFail
	}
	reply := Message{TxnID: m.TxnID, Kind: MakeKind(dir, OpConnectionBind)}
	if err := d.send(reply); err != nil {
		d.Close()
		return nil, err
	}
	if !ok {
		d.Close()
		return nil, fmt.Errorf("tcpfsm: attach rx: unknown cookie")
	}

	d.mu.Lock()
	d.logicalPort = port
	d.options = options
	d.mu.Unlock()
	d.setState(DataActive)
	go d.receiveLoop()
	return d, nil
}

// bindConnection sends ConnectionBindRequest carrying cookie and waits
// (with retry per policy) for Success/Fail on the fresh data connection.
func (d *DataChannel) bindConnection(ctx context.Context, port uint32, cookie []byte, policy retryPolicy) error {
	var portBuf [4]byte
	binary.BigEndian.PutUint32(portBuf[:], port)
	req := Message{
		TxnID: NewTxnID(),
		Kind:  MakeKind(DirectionRequest, OpConnectionBind),
		Params: []Param{
			{ID: ParamLogicalPort, Value: portBuf[:]},
			{ID: ParamCookie, Value: cookie},
		},
	}

	type result struct {
		m   Message
		err error
	}
	replies := make(chan result, 1)
	go func() {
		m, err := d.fr.ReadControlFrame()
		replies <- result{m, err}
	}()

	for attempt := 0; ; attempt++ {
		if err := d.send(req); err != nil {
			return err
		}
		select {
		case r := <-replies:
			if r.err != nil {
				return r.err
			}
			if r.m.Kind.Direction() != DirectionSuccess {
				return fmt.Errorf("tcpfsm: connection bind rejected")
			}
			return nil
		case <-time.After(policy.timeout):
			if attempt >= policy.retries {
				return fmt.Errorf("tcpfsm: connection bind: retries exhausted")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// attach binds conn to the channel. owns records whether this channel
// is responsible for closing conn (false for the non-owning half of a
// shared/paired pair; see pair.go).
func (d *DataChannel) attach(conn net.Conn, owns bool) {
	d.mu.Lock()
	d.conn = conn
	d.fr = NewFrameReader(conn)
	d.ownsConn = owns
	d.mu.Unlock()
}

func (d *DataChannel) send(m Message) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("tcpfsm: data channel: no connection attached")
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return WriteControlFrame(conn, m)
}

// Send writes msg as a framed RTPS data frame on this channel's
// connection. If this channel is the non-owning half of a shared pair,
// writes are serialised through the fd-owning paired channel instead
// (spec §4.5 "writes are serialised through the fd-owning side's write
// path").
func (d *DataChannel) Send(msg *wire.Message) error {
	d.mu.Lock()
	owner := d
	if !d.ownsConn && d.paired != nil {
		owner = d.paired
	}
	conn := owner.conn
	hasMetrics := d.hasMetrics
	m := d.metrics
	d.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("tcpfsm: data channel: no connection attached")
	}
	owner.writeMu.Lock()
	defer owner.writeMu.Unlock()
	n, err := writeDataFrameCounted(conn, msg)
	if hasMetrics {
		if err != nil {
			m.IncWriteErrors()
		} else {
			m.AddOctetsSent(n)
			m.IncPacketsSent()
		}
	}
	return err
}

// receiveLoop reads frames until the connection closes, delivering RTPS
// messages to the receive handler and routing interleaved RPSC control
// frames (the shared-fd case) to handleSharedControl.
func (d *DataChannel) receiveLoop() {
	defer d.Close()
	for {
		d.mu.Lock()
		fr := d.fr
		hasMetrics := d.hasMetrics
		m := d.metrics
		d.mu.Unlock()
		if fr == nil {
			return
		}
		msg, ctrl, err := fr.Next()
		if err != nil {
			if hasMetrics {
				m.IncReadErrors()
			}
			return
		}
		if ctrl != nil {
			d.handleSharedControl(*ctrl)
			continue
		}
		if hasMetrics {
			m.IncPacketsReceived()
		}
		if d.receive != nil {
			d.receive(msg)
		}
	}
}

// handleSharedControl handles an RPSC control frame that arrives
// mid-stream on an already-active data connection: a Finalize closes the
// channel; any other control frame, including a ConnectionBindRequest,
// is logged and dropped without a reply.
func (d *DataChannel) handleSharedControl(m Message) {
	if m.Kind.Op() != OpFinalize {
		d.log.Debug("unexpected shared-fd control frame", zap.Stringer("kind", m.Kind))
		return
	}
	d.Close()
}

// LogicalPort reports the negotiated logical port, valid once the
// channel reaches DataActive.
func (d *DataChannel) LogicalPort() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logicalPort
}

// Close tears the channel down. If this channel owns a connection
// shared with a still-live paired channel, ownership is migrated to the
// partner instead of closing the socket out from under it (spec §4.5
// "Connection sharing"); otherwise an owned connection is closed
// outright.
func (d *DataChannel) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		paired := d.paired
		d.state = DataClosed
		d.mu.Unlock()
		close(d.closed)

		if paired != nil {
			paired.mu.Lock()
			partnerLive := paired.state != DataClosed
			paired.mu.Unlock()
			if partnerLive {
				MigratePaired(d)
				return
			}
		}
		d.mu.Lock()
		conn, owns := d.conn, d.ownsConn
		d.mu.Unlock()
		if owns && conn != nil {
			conn.Close()
		}
	})
	return nil
}
