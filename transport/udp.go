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

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/qeo-rtps/rtpscore/locator"
	"github.com/qeo-rtps/rtpscore/wire"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// UDPParams is the kind-specific parameter blob accepted by
// UDPTransport.SetParameters: socket-level knobs spec §6 exposes per
// transport descriptor rather than per connection.
type UDPParams struct {
	MulticastTTL int
	Interface    string
}

// UDPTransport binds one UDP socket per registered locator and joins its
// multicast group (if any), following the socket-option pattern of the
// teacher's listen_unix.go/listen_linux.go (SO_REUSEPORT) generalized
// from TCP listeners to UDP PacketConns, and the multicast-group-join
// pattern of joshuafuller-beacon.
type UDPTransport struct {
	log *zap.Logger

	mu     sync.Mutex
	conns  map[locator.LocatorKey]*udpConn
	params UDPParams
}

type udpConn struct {
	pc   net.PacketConn
	p4   *ipv4.PacketConn
	p6   *ipv6.PacketConn
	loc  locator.Locator
}

// NewUDPTransport returns an empty UDPTransport.
func NewUDPTransport(log *zap.Logger) *UDPTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &UDPTransport{
		log:   log.Named("udp"),
		conns: make(map[locator.LocatorKey]*udpConn),
		params: UDPParams{MulticastTTL: 1},
	}
}

// Bind opens the socket for loc (a no-op if this transport already has
// one bound for loc; no cross-transport listener pool is used), joining
// its multicast group when FlagMulticast is set.
func (u *UDPTransport) Bind(loc locator.Locator) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	key := loc.Key()
	if _, ok := u.conns[key]; ok {
		return nil
	}

	lc := net.ListenConfig{Control: reusePortControl}
	pc, err := lc.ListenPacket(context.Background(), "udp", loc.UDPAddr().String())
	if err != nil {
		return fmt.Errorf("transport: udp bind %s: %w", loc, err)
	}

	uc := &udpConn{pc: pc, loc: loc}
	if loc.Flags&locator.FlagMulticast != 0 {
		if err := joinMulticast(pc, loc, u.params, uc); err != nil {
			pc.Close()
			return err
		}
	}
	u.conns[key] = uc
	return nil
}

func joinMulticast(pc net.PacketConn, loc locator.Locator, params UDPParams, uc *udpConn) error {
	var iface *net.Interface
	if params.Interface != "" {
		ifc, err := net.InterfaceByName(params.Interface)
		if err != nil {
			return fmt.Errorf("transport: resolve multicast interface %q: %w", params.Interface, err)
		}
		iface = ifc
	}

	group := &net.UDPAddr{IP: net.IP(append([]byte(nil), ipSliceOf(loc)...))}
	if loc.Kind == locator.KindUDPv4 {
		p4 := ipv4.NewPacketConn(pc)
		if err := p4.JoinGroup(iface, group); err != nil {
			return fmt.Errorf("transport: join ipv4 multicast group %s: %w", group.IP, err)
		}
		if params.MulticastTTL > 0 {
			_ = p4.SetMulticastTTL(params.MulticastTTL)
		}
		uc.p4 = p4
		return nil
	}
	p6 := ipv6.NewPacketConn(pc)
	if err := p6.JoinGroup(iface, group); err != nil {
		return fmt.Errorf("transport: join ipv6 multicast group %s: %w", group.IP, err)
	}
	if params.MulticastTTL > 0 {
		_ = p6.SetMulticastHopLimit(params.MulticastTTL)
	}
	uc.p6 = p6
	return nil
}

func ipSliceOf(l locator.Locator) []byte {
	if l.Kind == locator.KindUDPv4 {
		return l.Address[12:]
	}
	return l.Address[:]
}

// Send implements VTable. It looks up an already-bound connection
// matching dest's own address family (returning an error if there is
// none; it does not bind one) and writes the built wire bytes of each
// message to dest.
func (u *UDPTransport) Send(id uint32, dest locator.Locator, msgs []*wire.Message) error {
	u.mu.Lock()
	// Any bound socket of the right address family can source a unicast
	// send; pick one deterministically rather than opening a new socket
	// per destination.
	var pc net.PacketConn
	for _, c := range u.conns {
		if c.loc.Kind == dest.Kind {
			pc = c.pc
			break
		}
	}
	u.mu.Unlock()

	if pc == nil {
		return fmt.Errorf("transport: no udp socket bound for kind %s", dest.Kind)
	}

	addr := dest.UDPAddr()
	for _, m := range msgs {
		if _, err := pc.WriteTo(wire.Build(m), addr); err != nil {
			return fmt.Errorf("transport: udp send to %s: %w", dest, err)
		}
	}
	return nil
}

// SetParameters implements VTable.
func (u *UDPTransport) SetParameters(params any) error {
	p, ok := params.(UDPParams)
	if !ok {
		return fmt.Errorf("transport: udp SetParameters: unexpected type %T", params)
	}
	u.mu.Lock()
	u.params = p
	u.mu.Unlock()
	return nil
}

// GetParameters implements VTable.
func (u *UDPTransport) GetParameters() any {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.params
}

// Close implements VTable, closing every bound socket.
func (u *UDPTransport) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	var firstErr error
	for key, c := range u.conns {
		if err := c.pc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(u.conns, key)
	}
	return firstErr
}

// reusePortControl sets SO_REUSEPORT on the raw socket before bind, the
// same pattern as the teacher's listen_linux.go reusePort helper,
// generalized to UDP sockets so multiple processes (or repeated binds in
// this process) can share one meta-multicast address.
func reusePortControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
