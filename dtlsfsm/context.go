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

package dtlsfsm

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v3"
	"go.uber.org/zap"
)

// State is a per-peer DTLS context's position in the
// SERVER_RX/ACCEPT/CONNECT/DATA progression (spec §4.4).
type State int

const (
	// StateServerRX is the passive state on the shared DTLS server
	// socket before a per-peer context exists.
	StateServerRX State = iota
	StateAccept
	StateConnect
	StateData
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateServerRX:
		return "SERVER_RX"
	case StateAccept:
		return "ACCEPT"
	case StateConnect:
		return "CONNECT"
	case StateData:
		return "DATA"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// IdleWatchdog is the default idle-connection timeout: no send and no
// receive within this window tears the context down (spec §4.4:
// "an idle-connection watchdog (25s default)").
const IdleWatchdog = 25 * time.Second

// HandshakeRetries is the number of extra HandshakeTimeout periods a
// handshake is allowed (spec §4.4: "Retry count for protocol timeouts is
// bounded (typ. 2)"); it only scales the overall deadline below and does
// not set pion's own flight retransmit count.
const HandshakeRetries = 2

// HandshakeTimeout times (HandshakeRetries+1) is the overall handshake
// deadline returned by the ConnectContextMaker given to pion; pion's own
// flight retransmissions run inside that deadline.
const HandshakeTimeout = 2 * time.Second

// Security bundles the certificate material and validation mode shared
// by every Context a process creates (spec §4.6: "certificates and the
// trust chain come from the external security collaborator").
type Security struct {
	Certificates []tls.Certificate
	RootCAs      *x509.CertPool
	// Permissive accepts not-yet-valid or expired peer certificates
	// (spec §4.4: "a compile-time permissive flag"); this rewrite makes
	// it a runtime config switch instead (SPEC_FULL.md ambient config).
	Permissive bool
}

func (s Security) verifyCallback() func([][]byte, [][]*x509.Certificate) error {
	if !s.Permissive {
		return nil
	}
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("dtlsfsm: no peer certificate presented")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("dtlsfsm: parse peer certificate: %w", err)
		}
		opts := x509.VerifyOptions{Roots: s.RootCAs, CurrentTime: cert.NotBefore.Add(time.Second)}
		_, err = cert.Verify(opts)
		return err
	}
}

func (s Security) dtlsConfig() *dtls.Config {
	return &dtls.Config{
		Certificates:          s.Certificates,
		RootCAs:               s.RootCAs,
		InsecureSkipVerify:    s.Permissive,
		VerifyPeerCertificate: s.verifyCallback(),
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), HandshakeTimeout*(HandshakeRetries+1))
		},
	}
}

// Context is one peer's DTLS association: the connected UDP socket
// pion's Client/Server handshakes over, the resulting *dtls.Conn once
// established, and the idle watchdog that retires it (spec §4.4).
type Context struct {
	log  *zap.Logger
	peer *net.UDPAddr

	mu      sync.Mutex
	state   State
	conn    *dtls.Conn
	lastIO  time.Time
	watchdog *time.Timer
	closed  chan struct{}
	closeOnce sync.Once
}

// NewContext returns a Context in SERVER_RX for peer.
func NewContext(log *zap.Logger, peer *net.UDPAddr) *Context {
	if log == nil {
		log = zap.NewNop()
	}
	return &Context{
		log:    log.Named("dtls").With(zap.Stringer("peer", peer)),
		peer:   peer,
		state:  StateServerRX,
		closed: make(chan struct{}),
	}
}

// State reports the context's current FSM state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HandshakeClient drives the CONNECT-side handshake over netConn (a
// connected UDP socket to the peer) using sec's certificate material.
func (c *Context) HandshakeClient(ctx context.Context, netConn net.Conn, sec Security) error {
	c.setState(StateConnect)
	conn, err := dtls.ClientWithContext(ctx, netConn, sec.dtlsConfig())
	if err != nil {
		c.setState(StateClosed)
		return fmt.Errorf("dtlsfsm: client handshake: %w", err)
	}
	c.attach(conn)
	return nil
}

// HandshakeServer drives the ACCEPT-side handshake over netConn. Manager
// checks the peer's HelloVerifyRequest-equivalent cookie before calling
// it but only logs a failed check (spec §4.4; see CookieSecret and
// Manager).
func (c *Context) HandshakeServer(ctx context.Context, netConn net.Conn, sec Security) error {
	c.setState(StateAccept)
	conn, err := dtls.ServerWithContext(ctx, netConn, sec.dtlsConfig())
	if err != nil {
		c.setState(StateClosed)
		return fmt.Errorf("dtlsfsm: server handshake: %w", err)
	}
	c.attach(conn)
	return nil
}

func (c *Context) attach(conn *dtls.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = StateData
	c.lastIO = time.Now()
	c.watchdog = time.AfterFunc(IdleWatchdog, c.onIdleTimeout)
	c.mu.Unlock()
}

func (c *Context) onIdleTimeout() {
	c.mu.Lock()
	idleFor := time.Since(c.lastIO)
	c.mu.Unlock()
	if idleFor >= IdleWatchdog {
		c.log.Debug("idle watchdog expired, tearing down context")
		c.Close()
		return
	}
	c.rearmWatchdog(IdleWatchdog - idleFor)
}

func (c *Context) rearmWatchdog(in time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchdog != nil {
		c.watchdog.Reset(in)
	}
}

func (c *Context) touch() {
	c.mu.Lock()
	c.lastIO = time.Now()
	c.mu.Unlock()
}

// Write performs a single-record write of b. Per spec §4.4 "Outbound is
// a single-record write per message"; pion's Conn.Write already honors
// DTLS record boundaries for a single call.
func (c *Context) Write(b []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("dtlsfsm: write: handshake not complete")
	}
	n, err := conn.Write(b)
	if err == nil {
		c.touch()
	}
	return n, err
}

// Read drains one inbound application-data record. Callers should loop
// calling Read while more data may be pending, per spec §4.4 "Inbound
// drains repeatedly ... to avoid starvation" — pion's Conn.Read already
// returns immediately available records without blocking for a full
// datagram boundary beyond what's buffered.
func (c *Context) Read(b []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("dtlsfsm: read: handshake not complete")
	}
	n, err := conn.Read(b)
	if err == nil {
		c.touch()
	}
	return n, err
}

// Close tears the context down, closing the underlying DTLS connection
// exactly once.
func (c *Context) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		if c.watchdog != nil {
			c.watchdog.Stop()
		}
		conn := c.conn
		c.mu.Unlock()
		close(c.closed)
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

func (c *Context) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
