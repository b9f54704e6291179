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
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/qeo-rtps/rtpscore/locator"
	"github.com/qeo-rtps/rtpscore/wire"
	"github.com/stretchr/testify/require"
)

func TestUDPTransportBindAndSendRoundTrip(t *testing.T) {
	rcvr, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer rcvr.Close()

	tr := NewUDPTransport(nil)
	loc := locator.New(locator.KindUDPv4, netip.MustParseAddr("127.0.0.1"), 0, locator.FlagUnicast)
	require.NoError(t, tr.Bind(loc))
	defer tr.Close()

	rcvrAddr := rcvr.LocalAddr().(*net.UDPAddr)
	dest := locator.New(locator.KindUDPv4, netip.MustParseAddr("127.0.0.1"), uint16(rcvrAddr.Port), locator.FlagUnicast)

	msg := wire.NewMessage([2]byte{2, 1}, [2]byte{0, 1}, locator.GUIDPrefix{})
	require.NoError(t, tr.Send(1, dest, []*wire.Message{msg}))

	buf := make([]byte, 256)
	rcvr.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := rcvr.ReadFromUDP(buf)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, wire.HeaderLen)
}

func TestUDPTransportSetParameters(t *testing.T) {
	tr := NewUDPTransport(nil)
	require.NoError(t, tr.SetParameters(UDPParams{MulticastTTL: 4}))
	require.Equal(t, UDPParams{MulticastTTL: 4}, tr.GetParameters())
}
