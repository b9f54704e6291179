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

	"github.com/qeo-rtps/rtpscore/locator"
	"github.com/qeo-rtps/rtpscore/wire"
	"go.uber.org/zap"
)

// TCPParams is the kind-specific parameter blob for TCPTransport: whether
// data channels may share a control connection's socket (spec §9's
// TCP_SHARE open question — kept as a runtime switch, default true).
type TCPParams struct {
	AllowShare bool
}

// ConnHandler is supplied by tcpfsm to accept and drive connections
// produced by a TCPTransport's listener, so this package stays ignorant
// of RPSC framing and FSM state.
type ConnHandler func(conn net.Conn, loc locator.Locator)

// TCPTransport owns the root listeners used to accept inbound TCP
// connections for every bound locator, and dials outbound connections on
// demand. Actual RPSC control/data-channel behavior lives in tcpfsm;
// this type only owns sockets, mirroring the separation the teacher
// keeps between listeners.go (raw net.Listener lifecycle) and its
// higher-level server/handler packages.
type TCPTransport struct {
	log     *zap.Logger
	handler ConnHandler

	mu        sync.Mutex
	listeners map[locator.LocatorKey]net.Listener
	params    TCPParams
	writeFn   func(handle uint32, b []byte) error
}

// NewTCPTransport returns an empty TCPTransport. handler is invoked once
// per accepted connection, in its own goroutine.
func NewTCPTransport(log *zap.Logger, handler ConnHandler) *TCPTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &TCPTransport{
		log:       log.Named("tcp"),
		handler:   handler,
		listeners: make(map[locator.LocatorKey]net.Listener),
		params:    TCPParams{AllowShare: true},
	}
}

// Bind opens a shared, reference-counted listener for loc (via
// ListenShared) and starts its accept loop.
func (t *TCPTransport) Bind(ctx context.Context, loc locator.Locator) error {
	t.mu.Lock()
	if _, ok := t.listeners[loc.Key()]; ok {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	ln, err := ListenShared(ctx, "tcp", loc.TCPAddr().String(), net.ListenConfig{Control: reusePortControl})
	if err != nil {
		return fmt.Errorf("transport: tcp bind %s: %w", loc, err)
	}

	t.mu.Lock()
	t.listeners[loc.Key()] = ln
	t.mu.Unlock()

	go t.acceptLoop(ln, loc)
	return nil
}

func (t *TCPTransport) acceptLoop(ln net.Listener, loc locator.Locator) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			t.log.Debug("accept loop exiting", zap.Stringer("locator", loc), zap.Error(err))
			return
		}
		if t.handler != nil {
			go t.handler(conn, loc)
		} else {
			conn.Close()
		}
	}
}

// Dial opens an outbound TCP connection to dest, for use by tcpfsm's
// control-channel connect path (states IDLE -> WCXOK).
func (t *TCPTransport) Dial(ctx context.Context, dest locator.Locator) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", dest.TCPAddr().String())
	if err != nil {
		return nil, fmt.Errorf("transport: tcp dial %s: %w", dest, err)
	}
	return conn, nil
}

// Send implements VTable. TCP has no connectionless send: a destination
// locator's Handle identifies which already-established connection
// (owned by tcpfsm) to write to, so this delegates to the writer
// installed via SetWriter rather than opening a fresh connection per
// message. The core installs that writer at startup.
func (t *TCPTransport) Send(id uint32, dest locator.Locator, msgs []*wire.Message) error {
	t.mu.Lock()
	write := t.writeFn
	t.mu.Unlock()
	if write == nil {
		return fmt.Errorf("transport: tcp send: no writer installed for handle %d", dest.Handle)
	}
	for _, m := range msgs {
		if err := write(dest.Handle, wire.Build(m)); err != nil {
			return err
		}
	}
	return nil
}

// SetWriter installs the function tcpfsm uses to actually write bytes to
// an established data-channel connection identified by handle.
func (t *TCPTransport) SetWriter(fn func(handle uint32, b []byte) error) {
	t.mu.Lock()
	t.writeFn = fn
	t.mu.Unlock()
}

// SetParameters implements VTable.
func (t *TCPTransport) SetParameters(params any) error {
	p, ok := params.(TCPParams)
	if !ok {
		return fmt.Errorf("transport: tcp SetParameters: unexpected type %T", params)
	}
	t.mu.Lock()
	t.params = p
	t.mu.Unlock()
	return nil
}

// GetParameters implements VTable.
func (t *TCPTransport) GetParameters() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.params
}

// Close implements VTable, closing every root listener. Established
// data/control connections are owned and closed by tcpfsm.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for key, ln := range t.listeners {
		if err := ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.listeners, key)
	}
	return firstErr
}
