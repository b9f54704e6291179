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

package rtpscore

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qeo-rtps/rtpscore/config"
	"github.com/qeo-rtps/rtpscore/dtlsfsm"
	"github.com/qeo-rtps/rtpscore/forward"
	"github.com/qeo-rtps/rtpscore/locator"
	"github.com/qeo-rtps/rtpscore/metrics"
	"github.com/qeo-rtps/rtpscore/tcpfsm"
	"github.com/qeo-rtps/rtpscore/tlsfsm"
	"github.com/qeo-rtps/rtpscore/transport"
	"github.com/qeo-rtps/rtpscore/wire"
)

// ReceiveFunc is the single upward receive-callback registration of spec
// §6: "init(rx_fn, ...) — the callback is invoked as
// rx_fn(participant_id, RMBUF*, source_locator*) and takes ownership of
// the message". vendor/version bookkeeping lives on the message itself,
// so this signature drops the separate pool arguments the original's
// init() took: Go's GC is this process's message/element pool.
type ReceiveFunc func(domain uint32, msg *wire.Message, src locator.Locator)

// Core wires the transport registry, the hybrid forwarder, and the
// TCP/DTLS/TLS connection FSMs into one running engine — the
// composition root spec §5 describes as "a single core goroutine tree
// per domain, fed by one acceptor per registered listener and one
// receive loop per connection."
type Core struct {
	log    *zap.Logger
	cfg    config.File
	domain uint32

	registry  *transport.Registry
	forwarder *forward.Forwarder
	tcp       *transport.TCPTransport
	udp       *transport.UDPTransport
	dtlsMgrs  []*dtlsfsm.Manager

	promReg    *prometheus.Registry
	fwdMetrics *metrics.Forwarder
	connMetrics *metrics.Connections

	ownPrefix locator.GUIDPrefix
	receive   ReceiveFunc

	mu      sync.Mutex
	dataByHandle map[uint32]*tcpfsm.DataChannel
	nextHandle   uint32
	cookies      *tcpfsm.CookieTable

	vendor [3]byte
}

// New constructs a Core from cfg, but binds nothing yet; call Start to
// open listeners and begin serving. domain is the DDS domain id this
// Core's locators and forwarding table are scoped to (spec §3: every
// Participant, forwarding-table entry, and locator set belongs to
// exactly one domain).
func New(log *zap.Logger, cfg config.File, domain uint32, receive ReceiveFunc) *Core {
	if log == nil {
		log = zap.NewNop()
	}
	promReg := prometheus.NewRegistry()

	reg := transport.New(log)
	ownPrefix := newProcessGUIDPrefix()

	c := &Core{
		log:          log,
		cfg:          cfg,
		domain:       domain,
		registry:     reg,
		promReg:      promReg,
		fwdMetrics:   metrics.NewForwarder(promReg),
		connMetrics:  metrics.NewConnections(promReg),
		ownPrefix:    ownPrefix,
		receive:      receive,
		dataByHandle: make(map[uint32]*tcpfsm.DataChannel),
		cookies:      tcpfsm.NewCookieTable(),
		vendor:       [3]byte{0x01, 0x02, 0x03},
	}

	c.tcp = transport.NewTCPTransport(log, c.handleInboundTCP)
	c.tcp.SetWriter(c.writeToHandle)
	c.udp = transport.NewUDPTransport(log)

	c.registry.Register(locator.KindTCPv4, locator.SecureNone, c.tcp)
	c.registry.Register(locator.KindTCPv6, locator.SecureNone, c.tcp)
	c.registry.Register(locator.KindUDPv4, locator.SecureNone, c.udp)
	c.registry.Register(locator.KindUDPv6, locator.SecureNone, c.udp)

	c.forwarder = forward.New(log, c.registry, [2]byte{2, 3}, [2]byte{byte(c.vendor[0]), byte(c.vendor[1])}, ownPrefix)
	c.forwarder.SetOwnLocators(func() (uc, mc locator.List) {
		uc, mc, _ = c.registry.GatherLocators(c.domain, locator.FlagData|locator.FlagMeta)
		return uc, mc
	})
	if cfg.Forward {
		c.registry.SetForwarder(func(id uint32, dest locator.List, msgs []*wire.Message) error {
			return c.forwarder.Send(id, dest, true, msgs)
		})
	}

	return c
}

// newProcessGUIDPrefix derives a pseudo-random GUID prefix for this
// process instance from a fresh UUID, the same "generate an opaque
// per-process identity tag" use of github.com/google/uuid that
// tcpfsm/rpsc.go already makes for transaction ids.
func newProcessGUIDPrefix() locator.GUIDPrefix {
	var prefix locator.GUIDPrefix
	id := uuid.New()
	copy(prefix[:], id[:12])
	return prefix
}

// Registry exposes the underlying transport registry, e.g. for
// discovery to call LocatorAdd/RemoveLocator (spec §6's downward
// locator_add/locator_remove entry points).
func (c *Core) Registry() *transport.Registry { return c.registry }

// Forwarder exposes the underlying forwarder for discovery to call
// ParticipantNew/ParticipantDispose/LocatorAdd (spec §6).
func (c *Core) Forwarder() *forward.Forwarder { return c.forwarder }

// PrometheusRegistry exposes the metrics registry for cmd/rtpscored to
// mount behind promhttp.Handler().
func (c *Core) PrometheusRegistry() *prometheus.Registry { return c.promReg }

// Start binds every configured locator and runs their accept loops
// until ctx is cancelled, returning once every loop has exited. It uses
// an errgroup so the first listener failure cancels the others and
// Start returns that failure, matching §5's "a dead listener takes the
// whole core down rather than degrading silently."
func (c *Core) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if c.cfg.TCPMode != config.ModeDisabled && c.cfg.TCPPort != 0 {
		loc := c.tcpLocator(c.cfg.TCPPort)
		g.Go(func() error {
			if err := c.tcp.Bind(gctx, loc); err != nil {
				return fmt.Errorf("rtpscore: bind tcp listener: %w", err)
			}
			<-gctx.Done()
			return c.tcp.Close()
		})
	}

	if c.cfg.IPv6Mode != config.ModeDisabled && c.cfg.TCPMode != config.ModeDisabled && c.cfg.TCPPort != 0 {
		loc := c.tcpLocator6(c.cfg.TCPPort)
		g.Go(func() error {
			if err := c.tcp.Bind(gctx, loc); err != nil {
				return fmt.Errorf("rtpscore: bind tcp6 listener: %w", err)
			}
			<-gctx.Done()
			return nil
		})
	}

	if c.cfg.UDPMode != config.ModeDisabled {
		loc := c.udpLocator(locator.DefaultPortFormula.MetaUnicastPort(uint16(c.domain), 0))
		if err := c.udp.Bind(loc); err != nil {
			return fmt.Errorf("rtpscore: bind udp socket: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return c.udp.Close()
		})
	}

	if c.cfg.IPv6Mode != config.ModeDisabled && c.cfg.UDPMode != config.ModeDisabled {
		loc := c.udpLocator6(locator.DefaultPortFormula.MetaUnicastPort(uint16(c.domain), 0))
		if err := c.udp.Bind(loc); err != nil {
			return fmt.Errorf("rtpscore: bind udp6 socket: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}

	if c.cfg.TLS.CertFile != "" && c.cfg.UDPMode != config.ModeDisabled {
		if err := c.startDTLS(gctx, g); err != nil {
			return err
		}
	}

	if c.cfg.TCPSecPort != 0 && c.cfg.TLS.CertFile != "" {
		if err := c.startTLS(gctx, g); err != nil {
			return err
		}
	}

	for _, addr := range c.cfg.TCPServer {
		addr := addr
		g.Go(func() error {
			c.maintainOutboundTCP(gctx, addr)
			return nil
		})
	}

	g.Go(func() error {
		c.observeMetrics(gctx)
		return nil
	})

	return g.Wait()
}

// observeMetrics polls the forwarder's counters onto the Prometheus
// gauges/counters in fwdMetrics until ctx is cancelled, translating
// forward.Stats's cumulative totals into the deltas metrics.Forwarder.Observe
// expects.
func (c *Core) observeMetrics(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := c.forwarder.Stats()
			c.fwdMetrics.Observe(metrics.Snapshot{
				Rx:             s.Rx,
				DataUnicast:    s.DataUnicast,
				DataMulticast:  s.DataMulticast,
				NoPeer:         s.NoPeer,
				NoEndpoint:     s.NoEndpoint,
				AddFwdDest:     s.AddFwdDest,
				DirectLoops:    s.DirectLoops,
				IndirectLoops:  s.IndirectLoops,
				LocalDelivered: s.LocalDelivered,
				Relayed:        s.Relayed,
				NoDest:         s.NoDest,
				Sent:           s.Sent,
				NotSent:        s.NotSent,
				Requested:      s.Requested,
				HandleSent:     s.HandleSent,
				InfoReplies:    s.InfoReplies,
			})
		}
	}
}

// startTLS stands up the TLS-over-TCP listener of spec §4.6 alongside
// the cleartext one: every accepted, already-handshaked connection is
// handed to the same control/data dispatch as a cleartext connection,
// since tlsfsm tunnels the identical FSM rather than duplicating it.
func (c *Core) startTLS(ctx context.Context, g *errgroup.Group) error {
	tcfg, err := tlsConfigFromFile(c.cfg.TLS)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", c.cfg.TCPSecPort))
	if err != nil {
		return fmt.Errorf("rtpscore: tls: listen on %d: %w", c.cfg.TCPSecPort, err)
	}
	tlsLn := tlsfsm.NewListener(ln, tcfg)

	loc := c.tcpLocator(c.cfg.TCPSecPort)
	loc.Flags |= locator.FlagSecure
	loc.SProto = locator.SecureTLS

	g.Go(func() error {
		go func() {
			<-ctx.Done()
			tlsLn.Close()
		}()
		for {
			conn, err := tlsLn.Accept()
			if err != nil {
				return nil
			}
			go c.handleInboundTCP(conn, loc)
		}
	})
	return nil
}

// startDTLS binds the shared DTLS server socket of spec §4.4, registers
// its overlay as the registry's (KindUDPv4, SecureDTLS) vtable, and
// supervises Manager.Serve under g alongside the other listener
// goroutines.
func (c *Core) startDTLS(ctx context.Context, g *errgroup.Group) error {
	sec, own, err := c.dtlsSecurity()
	if err != nil {
		return err
	}

	pc, err := net.ListenPacket("udp", own.UDPAddr().String())
	if err != nil {
		return fmt.Errorf("rtpscore: dtls: bind %s: %w", own, err)
	}
	mgr, err := dtlsfsm.NewManager(c.log, pc, own, sec)
	if err != nil {
		pc.Close()
		return fmt.Errorf("rtpscore: dtls: new manager: %w", err)
	}
	c.dtlsMgrs = append(c.dtlsMgrs, mgr)

	overlay := c.newDTLSOverlay(c.log, mgr, own, c.deliver)
	c.registry.Register(locator.KindUDPv4, locator.SecureDTLS, overlay)

	g.Go(func() error {
		err := mgr.Serve(ctx, dialUDP, overlay.peerSrcLocator)
		if err != nil && ctx.Err() != nil {
			return nil
		}
		return err
	})
	return nil
}

// dtlsSecurity loads the configured certificate material into a
// dtlsfsm.Security and derives the locator this process's DTLS server
// socket binds: the meta-unicast port offset by a fixed secure-overlay
// gap, matching spec §6's "TCP_SecPort"-style secure/cleartext port
// pairing generalized to the UDP side.
func (c *Core) dtlsSecurity() (dtlsfsm.Security, locator.Locator, error) {
	f := c.cfg.TLS
	cert, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
	if err != nil {
		return dtlsfsm.Security{}, locator.Locator{}, fmt.Errorf("rtpscore: dtls: load keypair: %w", err)
	}
	sec := dtlsfsm.Security{Certificates: []tls.Certificate{cert}, Permissive: f.Permissive}
	port := locator.DefaultPortFormula.MetaUnicastPort(uint16(c.domain), 0) + secureUDPPortOffset
	own := locator.Locator{
		Kind: locator.KindUDPv4, Port: port,
		Flags: locator.FlagSecure | locator.FlagServer | locator.FlagUnicast, SProto: locator.SecureDTLS,
	}
	return sec, own, nil
}

// secureUDPPortOffset separates the DTLS server socket from the
// cleartext meta-unicast port computed by the same port formula.
const secureUDPPortOffset = 1000

func dialUDP(addr *net.UDPAddr) (net.Conn, error) {
	return net.DialUDP("udp", nil, addr)
}

// Close tears down every owned transport.
func (c *Core) Close() error {
	var firstErr error
	if err := c.tcp.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.udp.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, m := range c.dtlsMgrs {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Core) tcpLocator(port uint16) locator.Locator {
	flags := locator.FlagServer | locator.FlagMeta | locator.FlagData | locator.FlagUnicast
	if addr, ok := c.bindAddr(); ok {
		return locator.New(locator.KindTCPv4, addr, port, flags)
	}
	return locator.Locator{Kind: locator.KindTCPv4, Port: port, Flags: flags}
}

func (c *Core) udpLocator(port uint16) locator.Locator {
	flags := locator.FlagServer | locator.FlagMeta | locator.FlagUnicast
	if addr, ok := c.bindAddr(); ok {
		return locator.New(locator.KindUDPv4, addr, port, flags)
	}
	return locator.Locator{Kind: locator.KindUDPv4, Port: port, Flags: flags}
}

// bindAddr resolves config.File.IPAddress, when set, to the specific
// interface address the v4 TCP/UDP listeners bind instead of the
// wildcard — the single-homed counterpart to IPNetwork/TCPPublic, which
// select among multiple interfaces and advertise a NAT'd public address
// respectively; neither has a consumer in this core (see DESIGN.md).
func (c *Core) bindAddr() (netip.Addr, bool) {
	if c.cfg.IPAddress == "" {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(c.cfg.IPAddress)
	if err != nil {
		c.log.Warn("ignoring unparseable ip_address", zap.String("ip_address", c.cfg.IPAddress), zap.Error(err))
		return netip.Addr{}, false
	}
	return addr, true
}

func (c *Core) tcpLocator6(port uint16) locator.Locator {
	return locator.Locator{Kind: locator.KindTCPv6, Port: port, Flags: locator.FlagServer | locator.FlagMeta | locator.FlagData | locator.FlagUnicast}
}

func (c *Core) udpLocator6(port uint16) locator.Locator {
	return locator.Locator{Kind: locator.KindUDPv6, Port: port, Flags: locator.FlagServer | locator.FlagMeta | locator.FlagUnicast}
}

// peekedConn lets handleInboundTCP inspect an accepted connection's
// first RPSC header without losing those bytes: br's buffered Read
// already replays whatever Peek pulled before falling through to conn,
// the same "don't lose the bytes you looked at" shape as
// dtlsfsm.prefilledConn.
type peekedConn struct {
	net.Conn
	br *bufio.Reader
}

func (p *peekedConn) Read(b []byte) (int, error) { return p.br.Read(b) }

// handleInboundTCP is the transport.ConnHandler installed on
// TCPTransport. One root TCP listener serves both control and data
// connections (spec §4.5); the first request's Op distinguishes an
// IdentityBindRequest (new control channel) from a ConnectionBindRequest
// (new data channel answering this process's own
// ServerLogicalPortRequest), so the handler peeks the fixed RPSC header
// before deciding which FSM to hand the connection to.
func (c *Core) handleInboundTCP(conn net.Conn, loc locator.Locator) {
	br := bufio.NewReaderSize(conn, 4096)
	head, err := br.Peek(tcpfsm.HeaderLen)
	if err != nil {
		conn.Close()
		return
	}
	op := tcpfsm.Op(head[21])
	wrapped := &peekedConn{Conn: conn, br: br}

	switch op {
	case tcpfsm.OpIdentityBind:
		c.runInboundControl(wrapped)
	case tcpfsm.OpConnectionBind:
		c.runInboundData(wrapped, loc)
	default:
		c.log.Debug("unexpected first request on accepted tcp connection", zap.Stringer("op", op))
		conn.Close()
	}
}

// runInboundControl drives a new server-role ControlChannel until the
// peer disconnects (spec §4.5's acceptor side).
func (c *Core) runInboundControl(conn net.Conn) {
	control := tcpfsm.NewControlChannel(c.log, conn, tcpfsm.RoleServer, c.vendor, c.cookies)
	control.SetServerLogicalPortHandler(func(options tcpfsm.PortOptions) (uint32, []byte, error) {
		port := c.allocateLogicalPort()
		cookie, err := c.cookies.Mint(port, options)
		if err != nil {
			return 0, nil, err
		}
		return port, cookie, nil
	})

	if err := control.Run(context.Background()); err != nil {
		c.log.Debug("control channel run exited", zap.Error(err))
	}
}

// runInboundData completes the Rx-side data-channel handshake on conn
// and registers it under a fresh handle so registry sends addressed to
// it reach writeToHandle (spec §4.5's "ConnectionBindRequest on a fresh
// socket" acceptor path).
func (c *Core) runInboundData(conn net.Conn, loc locator.Locator) {
	dc, err := tcpfsm.AttachRx(context.Background(), c.log, conn, c.cookies, func(msg *wire.Message) {
		c.deliver(0, msg, loc, forward.ModeUserUnicast)
	})
	if err != nil {
		c.log.Debug("attach rx failed", zap.Error(err))
		return
	}
	c.registerDataChannel(c.allocateLogicalPort(), loc.String(), dc)
}

// maintainOutboundTCP drives the client role of spec §4.5 toward a
// configured well-known server address (config.File.TCPServer): dial,
// identity-bind, open one data channel, then redial with the §4.5
// randomised backoff whenever the connection is lost, until ctx is
// cancelled.
func (c *Core) maintainOutboundTCP(ctx context.Context, addr string) {
	dial := func(dctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(dctx, "tcp", addr)
	}
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.runOutboundTCPOnce(ctx, addr, dial); err != nil {
			c.log.Debug("outbound control channel exited", zap.String("addr", addr), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (c *Core) runOutboundTCPOnce(ctx context.Context, addr string, dial func(context.Context) (net.Conn, error)) error {
	conn, err := tcpfsm.DialControlWithBackoff(ctx, dial)
	if err != nil {
		return err
	}
	control := tcpfsm.NewControlChannel(c.log, conn, tcpfsm.RoleClient, c.vendor, c.cookies)
	if err := control.Bind(ctx); err != nil {
		conn.Close()
		return err
	}
	defer control.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- control.Run(ctx) }()

	dc := tcpfsm.NewDataChannel(c.log, tcpfsm.SideTx, func(msg *wire.Message) {
		c.deliver(0, msg, c.tcpPeerLocator(addr), forward.ModeUserUnicast)
	})
	options := tcpfsm.PortOptData | tcpfsm.PortOptUnicast
	if err := dc.OpenTx(ctx, control, options, dial); err != nil {
		return fmt.Errorf("open data channel to %s: %w", addr, err)
	}
	c.registerDataChannel(c.allocateLogicalPort(), addr, dc)

	select {
	case <-ctx.Done():
		return nil
	case err := <-runErr:
		return err
	}
}

// tcpPeerLocator builds a best-effort source locator for messages
// received on an outbound data channel, for logging/forwarding purposes
// only; the authoritative locator for a discovered participant still
// comes from discovery's own LocatorAdd call.
func (c *Core) tcpPeerLocator(addr string) locator.Locator {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return locator.Locator{Kind: locator.KindTCPv4}
	}
	l := locator.Locator{Kind: locator.KindTCPv4, Port: uint16(tcpAddr.Port)}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(l.Address[12:], ip4)
	} else {
		l.Kind = locator.KindTCPv6
		copy(l.Address[:], tcpAddr.IP.To16())
	}
	return l
}

// allocateLogicalPort hands out a process-unique logical port number
// for new data channels (spec §4.5 ServerLogicalPort), a simple
// monotonic counter since logical ports need only be unique within this
// process's own control channel, not globally.
func (c *Core) allocateLogicalPort() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandle++
	return c.nextHandle
}

// writeToHandle is the write function TCPTransport.Send calls into:
// handle names a registered data channel, installed when that channel
// reaches DataActive via registerDataChannel.
func (c *Core) writeToHandle(handle uint32, b []byte) error {
	c.mu.Lock()
	dc, ok := c.dataByHandle[handle]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("rtpscore: no data channel registered for handle %d", handle)
	}
	msg, err := wire.Parse(b)
	if err != nil {
		return err
	}
	return dc.Send(msg)
}

// registerDataChannel associates handle with dc and installs this
// process's per-connection metrics counters, so future writes routed
// through the registry's locator.Handle reach the right connection
// (spec's "a non-zero locator handle always resolves to an existing
// connection whose locator equals the referring locator" invariant).
func (c *Core) registerDataChannel(handle uint32, peer string, dc *tcpfsm.DataChannel) {
	dc.SetMetrics(c.connMetrics.For(peer))
	c.mu.Lock()
	c.dataByHandle[handle] = dc
	c.mu.Unlock()
}

// deliver is the receive path every FSM's ReceiveHandler ultimately
// calls: it re-enters the forwarder (when present) and, when the
// forwarder marks the message for local delivery or forwarding is
// disabled, calls the upward ReceiveFunc.
func (c *Core) deliver(id uint32, msg *wire.Message, src locator.Locator, mode forward.Mode) {
	if !c.cfg.Forward {
		if c.receive != nil {
			c.receive(c.domain, msg, src)
		}
		return
	}
	if err := c.forwarder.Receive(id, msg, src, mode, func(m *wire.Message) {
		if c.receive != nil {
			c.receive(c.domain, m, src)
		}
	}); err != nil {
		c.log.Debug("forwarder receive failed", zap.Error(err))
	}
}

// tlsConfigFromFile builds a tlsfsm.Config from the configured
// certificate paths, used when TCP_SecPort is set and a TLS listener
// must be stood up alongside the cleartext one (spec §4.6).
func tlsConfigFromFile(f config.TLS) (tlsfsm.Config, error) {
	if f.CertFile == "" || f.KeyFile == "" {
		return tlsfsm.Config{}, fmt.Errorf("rtpscore: tls: cert_file and key_file are required")
	}
	cert, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
	if err != nil {
		return tlsfsm.Config{}, fmt.Errorf("rtpscore: tls: load keypair: %w", err)
	}
	return tlsfsm.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: f.Permissive,
	}, nil
}
