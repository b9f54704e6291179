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

package dtlsfsm

import (
	"testing"

	"github.com/qeo-rtps/rtpscore/locator"
	"github.com/stretchr/testify/require"
)

func TestIsServerRoleAgreesFromBothSides(t *testing.T) {
	small := locator.Locator{Kind: locator.KindUDPv4, Address: [16]byte{1}, Port: 7410}
	large := locator.Locator{Kind: locator.KindUDPv4, Address: [16]byte{2}, Port: 7410}

	require.True(t, IsServerRole(small, large))
	require.False(t, IsServerRole(large, small))
}

func TestIsServerRoleTiesOnPort(t *testing.T) {
	a := locator.Locator{Kind: locator.KindUDPv4, Address: [16]byte{1}, Port: 7410}
	b := locator.Locator{Kind: locator.KindUDPv4, Address: [16]byte{1}, Port: 7411}

	require.True(t, IsServerRole(a, b))
	require.False(t, IsServerRole(b, a))
}

func TestRoleLatchPinsDecisionAcrossReconnects(t *testing.T) {
	own := locator.Locator{Kind: locator.KindUDPv4, Address: [16]byte{1}, Port: 7410}
	peer := locator.Locator{Kind: locator.KindUDPv4, Address: [16]byte{2}, Port: 7410}

	var latch RoleLatch
	first := latch.Resolve(own, peer)
	require.False(t, first)

	second := latch.Resolve(own, peer)
	require.Equal(t, first, second)
}
