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

package locator

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGUIDPrefixNormalized(t *testing.T) {
	g := GUIDPrefix{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 42}
	n := g.Normalized()
	require.Equal(t, byte(0), n[11])
	for i := 0; i < 11; i++ {
		require.Equal(t, g[i], n[i])
	}
	// Normalized must not mutate the receiver.
	require.Equal(t, byte(42), g[11])
}

func TestLocatorRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		addr string
		port uint16
	}{
		{"udpv4", KindUDPv4, "239.255.0.1", 7400},
		{"tcpv4", KindTCPv4, "192.168.1.10", 7410},
		{"udpv6", KindUDPv6, "ff02::1", 7400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := netip.MustParseAddr(tt.addr)
			l := New(tt.kind, addr, tt.port, FlagUnicast)
			require.Equal(t, tt.port, l.Port)
			require.Equal(t, addr, l.Addr())
		})
	}
}

func TestLocatorKeyIgnoresFlagsAndHandle(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.1")
	a := New(KindUDPv4, addr, 7400, FlagUnicast)
	b := New(KindUDPv4, addr, 7400, FlagMulticast)
	b.Handle = 7
	require.Equal(t, a.Key(), b.Key())
	require.True(t, a.Equal(b))
}

func TestListFilterKind(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.1")
	list := List{
		New(KindUDPv4, addr, 1, 0),
		New(KindTCPv4, addr, 2, 0),
		New(KindUDPv6, addr, 3, 0),
	}
	got := list.FilterKind(KindUDPv4 | KindUDPv6)
	require.Len(t, got, 2)
}

func TestListExcludeHandle(t *testing.T) {
	addr := netip.MustParseAddr("10.0.0.1")
	a := New(KindUDPv4, addr, 1, 0)
	a.Handle = 5
	b := New(KindUDPv4, addr, 2, 0)
	b.Handle = 6
	list := List{a, b}

	require.Len(t, list.ExcludeHandle(5), 1)
	require.Equal(t, uint16(2), list.ExcludeHandle(5)[0].Port)

	// handle 0 means "no source handle" and must not filter anything.
	require.Len(t, list.ExcludeHandle(0), 2)
}

func TestPortFormula(t *testing.T) {
	f := DefaultPortFormula
	require.Equal(t, uint16(7400), f.MetaMulticastPort(0))
	require.Equal(t, uint16(7650), f.MetaMulticastPort(1))
	require.Equal(t, uint16(7662), f.MetaUnicastPort(1, 1))
	require.Equal(t, uint16(7401), f.UserMulticastPort(0))
	require.Equal(t, uint16(7411), f.UserUnicastPort(0, 0))
}
