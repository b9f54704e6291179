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

// Package tlsfsm provides TLS-over-TCP for the RPSC control and data
// channels (spec §4.6), grounded on
// original_source/dds/src/trans/ip/ri_tls.c. Per spec §4.6, "a tunneling
// layer over the TCP FSM above: identical state machine, but every
// read/write goes through the TLS session" — this package does not
// reimplement tcpfsm's control/data channel state machines; it only
// produces a net.Conn whose Read/Write already speak TLS, so
// tcpfsm.NewControlChannel, tcpfsm.AttachRx and tcpfsm.DataChannel.OpenTx
// work unmodified over it.
package tlsfsm

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"
)

// HandshakeTimeout bounds a single pending-connection TLS handshake
// (spec §4.6: "a per-pending-connection 2s timer bounds handshake").
const HandshakeTimeout = 2 * time.Second

// Config bundles the certificate material and validation mode shared by
// every TLS connection a process makes or accepts (spec §4.6: "a shared
// server context and client context are created once per process;
// certificates and the trust chain come from the external security
// collaborator").
type Config struct {
	Certificates []tls.Certificate
	RootCAs      *x509.CertPool
	ClientCAs    *x509.CertPool
	ServerName   string
	// InsecureSkipVerify mirrors tcpfsm/dtlsfsm's permissive validation
	// switch for development and test environments without a full trust
	// chain provisioned.
	InsecureSkipVerify bool
	ClientAuth         tls.ClientAuthType
}

func (c Config) clientConfig() *tls.Config {
	return &tls.Config{
		Certificates:       c.Certificates,
		RootCAs:            c.RootCAs,
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
}

func (c Config) serverConfig() *tls.Config {
	return &tls.Config{
		Certificates: c.Certificates,
		ClientAuth:   c.ClientAuth,
		ClientCAs:    c.ClientCAs,
	}
}

// DialControl opens a TCP connection via dial and performs the client-
// side TLS handshake over it, returning a net.Conn ready to be passed to
// tcpfsm.NewControlChannel with tcpfsm.RoleClient. The handshake is
// bounded by HandshakeTimeout, matching the original's per-pending-
// connection timer.
func DialControl(ctx context.Context, dial func(context.Context) (net.Conn, error), cfg Config) (net.Conn, error) {
	raw, err := dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("tlsfsm: dial: %w", err)
	}
	conn, err := handshakeClient(ctx, raw, cfg)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}

// AcceptControl performs the server-side TLS handshake over an already-
// accepted TCP connection, returning a net.Conn ready to be passed to
// tcpfsm.NewControlChannel/tcpfsm.AttachRx with tcpfsm.RoleServer. Per
// spec §4.6, "server-role DTLSv1_listen-equivalent is replaced with
// cookie-verified SSL_accept on the pending-connection fd" — since this
// is a reliable stream transport there is no DTLS-style cookie exchange;
// the bounded handshake timer is the sole admission control.
func AcceptControl(ctx context.Context, raw net.Conn, cfg Config) (net.Conn, error) {
	return handshakeServer(ctx, raw, cfg)
}

func handshakeClient(ctx context.Context, raw net.Conn, cfg Config) (net.Conn, error) {
	hctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()
	conn := tls.Client(raw, cfg.clientConfig())
	if err := conn.HandshakeContext(hctx); err != nil {
		return nil, fmt.Errorf("tlsfsm: client handshake: %w", err)
	}
	return conn, nil
}

func handshakeServer(ctx context.Context, raw net.Conn, cfg Config) (net.Conn, error) {
	hctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()
	conn := tls.Server(raw, cfg.serverConfig())
	if err := conn.HandshakeContext(hctx); err != nil {
		return nil, fmt.Errorf("tlsfsm: server handshake: %w", err)
	}
	return conn, nil
}

// Listener wraps a net.Listener, performing the bounded server-side TLS
// handshake on Accept so callers get a fully established net.Conn (or an
// error if the peer fails to complete the handshake within
// HandshakeTimeout) rather than having to drive the handshake themselves.
type Listener struct {
	inner net.Listener
	cfg   Config
}

// NewListener wraps inner with cfg's server-side TLS configuration.
func NewListener(inner net.Listener, cfg Config) *Listener {
	return &Listener{inner: inner, cfg: cfg}
}

// Accept blocks for the next incoming TCP connection and completes its
// TLS handshake before returning.
func (l *Listener) Accept() (net.Conn, error) {
	raw, err := l.inner.Accept()
	if err != nil {
		return nil, err
	}
	conn, err := handshakeServer(context.Background(), raw, l.cfg)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}

// Close closes the underlying listener.
func (l *Listener) Close() error { return l.inner.Close() }

// Addr returns the underlying listener's address.
func (l *Listener) Addr() net.Addr { return l.inner.Addr() }
