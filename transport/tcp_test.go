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
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/qeo-rtps/rtpscore/locator"
	"github.com/stretchr/testify/require"
)

func TestTCPTransportBindAcceptsConnection(t *testing.T) {
	accepted := make(chan net.Conn, 1)
	tr := NewTCPTransport(nil, func(conn net.Conn, loc locator.Locator) {
		accepted <- conn
	})

	loc := locator.New(locator.KindTCPv4, netip.MustParseAddr("127.0.0.1"), 0, locator.FlagUnicast|locator.FlagServer)
	require.NoError(t, tr.Bind(context.Background(), loc))
	defer tr.Close()

	var boundAddr string
	tr.mu.Lock()
	for _, ln := range tr.listeners {
		boundAddr = ln.Addr().String()
	}
	tr.mu.Unlock()
	require.NotEmpty(t, boundAddr)

	conn, err := net.DialTimeout("tcp", boundAddr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case c := <-accepted:
		require.NotNil(t, c)
		c.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestTCPTransportSetParameters(t *testing.T) {
	tr := NewTCPTransport(nil, nil)
	require.NoError(t, tr.SetParameters(TCPParams{AllowShare: false}))
	require.Equal(t, TCPParams{AllowShare: false}, tr.GetParameters())
}

func TestTCPTransportSendRequiresWriter(t *testing.T) {
	tr := NewTCPTransport(nil, nil)
	err := tr.Send(1, locator.Locator{Kind: locator.KindTCPv4, Handle: 5}, nil)
	require.Error(t, err)
}
