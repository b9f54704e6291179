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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newControlPair(t *testing.T) (*ControlChannel, *ControlChannel) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	client := NewControlChannel(nil, clientConn, RoleClient, [3]byte{1, 0, 0}, NewCookieTable())
	server := NewControlChannel(nil, serverConn, RoleServer, [3]byte{2, 0, 0}, NewCookieTable())
	return client, server
}

func TestControlChannelBindReachesReady(t *testing.T) {
	client, server := newControlPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go server.Run(ctx)
	go client.Run(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- client.Bind(ctx) }()

	require.NoError(t, <-errCh)
	require.Equal(t, ControlReady, client.State())

	require.Eventually(t, func() bool {
		return server.State() == ControlReady
	}, time.Second, 5*time.Millisecond)
}

func TestControlChannelServerLogicalPortRoundTrip(t *testing.T) {
	client, server := newControlPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go server.Run(ctx)
	go client.Run(ctx)

	bindErr := make(chan error, 1)
	go func() { bindErr <- client.Bind(ctx) }()
	require.NoError(t, <-bindErr)

	var mintedCookie []byte
	server.SetServerLogicalPortHandler(func(options PortOptions) (uint32, []byte, error) {
		cookie, err := server.cookies.Mint(7410, options)
		mintedCookie = cookie
		return 7410, cookie, err
	})

	port, cookie, err := client.RequestServerLogicalPort(ctx, PortOptData|PortOptUnicast)
	require.NoError(t, err)
	require.Equal(t, uint32(7410), port)
	require.Equal(t, mintedCookie, cookie)
}
