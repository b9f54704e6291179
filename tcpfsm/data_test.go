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

	"github.com/qeo-rtps/rtpscore/locator"
	"github.com/qeo-rtps/rtpscore/wire"
	"github.com/stretchr/testify/require"
)

func TestDataChannelTxRxHandshakeAndTransfer(t *testing.T) {
	cookies := NewCookieTable()

	clientCtrlConn, serverCtrlConn := net.Pipe()
	t.Cleanup(func() { clientCtrlConn.Close(); serverCtrlConn.Close() })
	client := NewControlChannel(nil, clientCtrlConn, RoleClient, [3]byte{1}, cookies)
	server := NewControlChannel(nil, serverCtrlConn, RoleServer, [3]byte{2}, cookies)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go server.Run(ctx)
	go client.Run(ctx)
	require.NoError(t, client.Bind(ctx))

	nextPort := uint32(7410)
	server.SetServerLogicalPortHandler(func(options PortOptions) (uint32, []byte, error) {
		cookie, err := cookies.Mint(nextPort, options)
		return nextPort, cookie, err
	})

	dataClientConn, dataServerConn := net.Pipe()
	t.Cleanup(func() { dataClientConn.Close(); dataServerConn.Close() })

	var received *wire.Message
	gotMsg := make(chan struct{}, 1)
	rxCh := make(chan *DataChannel, 1)
	rxErrCh := make(chan error, 1)
	go func() {
		rx, err := AttachRx(ctx, nil, dataServerConn, cookies, func(m *wire.Message) {
			received = m
			gotMsg <- struct{}{}
		})
		rxErrCh <- err
		rxCh <- rx
	}()

	tx := NewDataChannel(nil, SideTx, nil)
	dial := func(context.Context) (net.Conn, error) { return dataClientConn, nil }
	require.NoError(t, tx.OpenTx(ctx, client, PortOptData|PortOptUnicast, dial))
	require.Equal(t, nextPort, tx.LogicalPort())
	require.Equal(t, DataActive, tx.State())

	require.NoError(t, <-rxErrCh)
	rx := <-rxCh
	require.Equal(t, DataActive, rx.State())

	msg := wire.NewMessage([2]byte{2, 1}, [2]byte{0, 1}, locator.GUIDPrefix{7})
	msg.Append(&wire.Submessage{ID: wire.IDInfoTS, Length: 0, Inline: nil})
	require.NoError(t, tx.Send(msg))

	select {
	case <-gotMsg:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rx delivery")
	}
	require.NotNil(t, received)
	require.Equal(t, locator.GUIDPrefix{7}, received.GUIDPrefix)
}

func TestDataChannelBindRejectsUnknownCookie(t *testing.T) {
	cookies := NewCookieTable()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := AttachRx(ctx, nil, serverConn, cookies, nil)
		errCh <- err
	}()

	tx := NewDataChannel(nil, SideTx, nil)
	tx.attach(clientConn, true)
	err := tx.bindConnection(ctx, 1, []byte{1, 2, 3}, retryPolicy{100 * time.Millisecond, 0})
	require.Error(t, err)
	require.Error(t, <-errCh)
}
