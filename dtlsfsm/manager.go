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
	"net"
	"sync"

	"github.com/qeo-rtps/rtpscore/locator"
	"go.uber.org/zap"
)

// Manager owns the single "DTLS server" socket per address family that
// attracts traffic from peers with no existing per-peer context (spec
// §4.4 "Setup"): it demultiplexes inbound datagrams by source address,
// runs the anti-amplification cookie check on a first-contact packet,
// and on success hands the peer off to its own connected socket and
// per-peer Context.
type Manager struct {
	log    *zap.Logger
	pc     net.PacketConn
	secret *CookieSecret
	sec    Security
	own    locator.Locator

	mu        sync.Mutex
	contexts  map[string]*Context
	latches   map[string]*RoleLatch
	onEstablished func(addr *net.UDPAddr, c *Context)
}

// OnEstablished installs the callback invoked once a per-peer Context
// completes its handshake and reaches StateData, so a caller can start
// driving that context's Read side (spec §4.4's per-peer DATA state is
// otherwise passive until something reads from it).
func (m *Manager) OnEstablished(fn func(addr *net.UDPAddr, c *Context)) {
	m.mu.Lock()
	m.onEstablished = fn
	m.mu.Unlock()
}

// Close shuts down the shared socket and every per-peer context this
// Manager owns.
func (m *Manager) Close() error {
	m.mu.Lock()
	contexts := make([]*Context, 0, len(m.contexts))
	for _, c := range m.contexts {
		contexts = append(contexts, c)
	}
	m.mu.Unlock()
	for _, c := range contexts {
		c.Close()
	}
	return m.pc.Close()
}

// NewManager wraps pc (a bound, unconnected UDP socket) as the shared
// DTLS server socket for own's address family.
func NewManager(log *zap.Logger, pc net.PacketConn, own locator.Locator, sec Security) (*Manager, error) {
	secret, err := NewCookieSecret()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		log:      log.Named("dtls-mgr"),
		pc:       pc,
		secret:   secret,
		sec:      sec,
		own:      own,
		contexts: make(map[string]*Context),
		latches:  make(map[string]*RoleLatch),
	}, nil
}

// Context returns the existing per-peer context for addr, if any.
func (m *Manager) Context(addr *net.UDPAddr) (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[addr.String()]
	return c, ok
}

// Serve reads datagrams off the shared socket until ctx is cancelled,
// dispatching each to its existing per-peer Context or bootstrapping a
// new one via the cookie handshake described in acceptFirstPacket.
func (m *Manager) Serve(ctx context.Context, dial func(*net.UDPAddr) (net.Conn, error), peerLocator func(*net.UDPAddr) locator.Locator) error {
	go func() {
		<-ctx.Done()
		m.pc.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		n, addr, err := m.pc.ReadFrom(buf)
		if err != nil {
			return err
		}
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		packet := append([]byte(nil), buf[:n]...)

		if c, ok := m.Context(udpAddr); ok {
			m.log.Debug("dropping datagram for peer with established context on shared socket", zap.Stringer("state", c.State()))
			continue
		}
		go m.acceptFirstPacket(ctx, udpAddr, packet, dial, peerLocator)
	}
}

// acceptFirstPacket implements the role-selection/cookie half of spec
// §4.4's Setup paragraph: it peeks the source address, checks the
// anti-amplification cookie (a failed check is only logged; the packet
// is not rejected and no cookie exchange is started here, so the cookie
// handling is left to the library's own server handshake), opens a new
// bound+connected socket to the peer, and creates
// the per-peer Context performing either the ACCEPT or CONNECT
// handshake depending on locator comparison.
func (m *Manager) acceptFirstPacket(ctx context.Context, addr *net.UDPAddr, first []byte, dial func(*net.UDPAddr) (net.Conn, error), peerLocator func(*net.UDPAddr) locator.Locator) {
	if !m.secret.Verify(addr, cookieSuffix(first)) {
		m.log.Debug("first packet missing valid cookie, deferring to library handshake", zap.Stringer("peer", addr))
	}

	peer := peerLocator(addr)
	latch := m.getLatch(addr)
	asClient := latch.Resolve(m.own, peer)

	netConn, err := dial(addr)
	if err != nil {
		m.log.Debug("dial failed for new DTLS peer", zap.Error(err))
		return
	}

	dtlsCtx := NewContext(m.log, addr)
	m.mu.Lock()
	m.contexts[addr.String()] = dtlsCtx
	m.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, HandshakeTimeout*(HandshakeRetries+1))
	defer cancel()
	pc := &prefilledConn{Conn: netConn, first: first}
	if asClient {
		err = dtlsCtx.HandshakeClient(hctx, pc, m.sec)
	} else {
		err = dtlsCtx.HandshakeServer(hctx, pc, m.sec)
	}
	if err != nil {
		m.log.Debug("DTLS handshake failed", zap.Stringer("peer", addr), zap.Error(err))
		m.mu.Lock()
		delete(m.contexts, addr.String())
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	onEstablished := m.onEstablished
	m.mu.Unlock()
	if onEstablished != nil {
		onEstablished(addr, dtlsCtx)
	}
}

func (m *Manager) getLatch(addr *net.UDPAddr) *RoleLatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.latches[addr.String()]
	if !ok {
		l = &RoleLatch{}
		m.latches[addr.String()] = l
	}
	return l
}

// cookieSuffix extracts the trailing CookieLen octets of a raw datagram
// as a best-effort cookie candidate; a packet shorter than that never
// verifies.
func cookieSuffix(packet []byte) []byte {
	if len(packet) < CookieLen {
		return nil
	}
	return packet[len(packet)-CookieLen:]
}

// prefilledConn wraps an already-connected net.Conn so its first Read
// replays a datagram this process already consumed off the shared
// demultiplexing socket, before falling through to the underlying
// connection for everything after.
type prefilledConn struct {
	net.Conn
	first  []byte
	offset int
	mu     sync.Mutex
}

func (p *prefilledConn) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.offset < len(p.first) {
		n := copy(b, p.first[p.offset:])
		p.offset += n
		p.mu.Unlock()
		return n, nil
	}
	p.mu.Unlock()
	return p.Conn.Read(b)
}
