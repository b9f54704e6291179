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
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/qeo-rtps/rtpscore/dtlsfsm"
	"github.com/qeo-rtps/rtpscore/forward"
	"github.com/qeo-rtps/rtpscore/locator"
	"github.com/qeo-rtps/rtpscore/transport"
	"github.com/qeo-rtps/rtpscore/wire"
)

// dtlsOverlay adapts a dtlsfsm.Manager (one shared per-address-family
// DTLS server socket) to transport.VTable, so the registry can dispatch
// secure UDP sends the same way it dispatches cleartext ones (spec
// §4.1's "secure locators go to the DTLS or TLS vtable").
type dtlsOverlay struct {
	log *zap.Logger
	mgr *dtlsfsm.Manager
	own locator.Locator

	dial        func(ctx context.Context, addr *net.UDPAddr) (net.Conn, error)
	peerLocator func(addr *net.UDPAddr) locator.Locator

	mu     sync.Mutex
	params any
}

// newDTLSOverlay wires mgr's established-context callback to start a
// receive loop per peer that feeds msg into deliver, and returns the
// VTable the registry should register under (KindUDPv4/v6, SecureDTLS).
func (c *Core) newDTLSOverlay(log *zap.Logger, mgr *dtlsfsm.Manager, own locator.Locator, deliver func(id uint32, msg *wire.Message, src locator.Locator, mode forward.Mode)) *dtlsOverlay {
	ov := &dtlsOverlay{log: log, mgr: mgr, own: own}
	mgr.OnEstablished(func(addr *net.UDPAddr, dctx *dtlsfsm.Context) {
		go ov.receiveLoop(addr, dctx, deliver)
	})
	return ov
}

// receiveLoop drains application-data records off an established
// per-peer DTLS context, parsing each as an RTPS message and handing it
// to deliver, per spec §4.4 "Inbound drains repeatedly".
func (ov *dtlsOverlay) receiveLoop(addr *net.UDPAddr, dctx *dtlsfsm.Context, deliver func(id uint32, msg *wire.Message, src locator.Locator, mode forward.Mode)) {
	src := ov.peerSrcLocator(addr)
	buf := make([]byte, 64*1024)
	for {
		n, err := dctx.Read(buf)
		if err != nil {
			ov.log.Debug("dtls overlay receive loop exiting", zap.Error(err))
			return
		}
		msg, err := wire.Parse(append([]byte(nil), buf[:n]...))
		if err != nil {
			ov.log.Debug("dtls overlay: malformed datagram dropped", zap.Error(err))
			continue
		}
		deliver(0, msg, src, forward.ModeUserUnicast)
	}
}

func (ov *dtlsOverlay) peerSrcLocator(addr *net.UDPAddr) locator.Locator {
	if ov.peerLocator != nil {
		return ov.peerLocator(addr)
	}
	l := locator.Locator{Kind: ov.own.Kind, Port: uint16(addr.Port), Flags: locator.FlagSecure | locator.FlagUnicast, SProto: locator.SecureDTLS}
	if ip4 := addr.IP.To4(); ip4 != nil {
		copy(l.Address[12:], ip4)
	} else {
		copy(l.Address[:], addr.IP.To16())
	}
	return l
}

// Send implements transport.VTable: it only reaches already-established
// peers (spec §4.4's handshake is driven by Manager's first-packet path,
// not by an outbound Send call), reporting an error for a destination
// with no live context yet rather than silently blocking on a handshake.
func (ov *dtlsOverlay) Send(id uint32, dest locator.Locator, msgs []*wire.Message) error {
	dctx, ok := ov.mgr.Context(dest.UDPAddr())
	if !ok {
		return fmt.Errorf("dtlsoverlay: no established DTLS context for %s", dest)
	}
	for _, m := range msgs {
		if _, err := dctx.Write(wire.Build(m)); err != nil {
			return fmt.Errorf("dtlsoverlay: write to %s: %w", dest, err)
		}
	}
	return nil
}

// SetParameters implements transport.VTable.
func (ov *dtlsOverlay) SetParameters(params any) error {
	ov.mu.Lock()
	ov.params = params
	ov.mu.Unlock()
	return nil
}

// GetParameters implements transport.VTable.
func (ov *dtlsOverlay) GetParameters() any {
	ov.mu.Lock()
	defer ov.mu.Unlock()
	return ov.params
}

// Close implements transport.VTable.
func (ov *dtlsOverlay) Close() error {
	return ov.mgr.Close()
}

var _ transport.VTable = (*dtlsOverlay)(nil)
