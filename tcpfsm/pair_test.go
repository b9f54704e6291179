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
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func newSharedPair(t *testing.T) (tx, rx *DataChannel, conn net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })

	tx = NewDataChannel(nil, SideTx, nil)
	tx.options = PortOptShare
	tx.attach(a, true)

	rx = NewDataChannel(nil, SideRx, nil)
	rx.options = PortOptShare

	require.NoError(t, Pair(tx, rx, tx))
	return tx, rx, a
}

func TestPairRequiresShareOption(t *testing.T) {
	tx := NewDataChannel(nil, SideTx, nil)
	rx := NewDataChannel(nil, SideRx, nil)
	err := Pair(tx, rx, tx)
	require.Error(t, err)
}

func TestPairLinksSharedConnection(t *testing.T) {
	tx, rx, conn := newSharedPair(t)
	require.Same(t, tx, rx.paired)
	require.Same(t, rx, tx.paired)
	require.Same(t, conn, rx.conn)
	require.True(t, tx.ownsConn)
	require.False(t, rx.ownsConn)
}

func TestMigratePairedHandsOffOwnershipOnClose(t *testing.T) {
	tx, rx, conn := newSharedPair(t)
	rx.state = DataActive

	require.NoError(t, tx.Close())

	rx.mu.Lock()
	defer rx.mu.Unlock()
	require.True(t, rx.ownsConn)
	require.Same(t, conn, rx.conn)
	require.Nil(t, rx.paired)
}
