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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCookieTableMintAndRedeem(t *testing.T) {
	c := NewCookieTable()
	cookie, err := c.Mint(7410, PortOptData|PortOptUnicast)
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	port, opts, ok := c.Redeem(cookie)
	require.True(t, ok)
	require.Equal(t, uint32(7410), port)
	require.Equal(t, PortOptData|PortOptUnicast, opts)
	require.Equal(t, 0, c.Len())
}

func TestCookieTableRedeemUnknownFails(t *testing.T) {
	c := NewCookieTable()
	_, _, ok := c.Redeem([]byte{1, 2, 3})
	require.False(t, ok)
}

func TestCookieTableRedeemIsOneShot(t *testing.T) {
	c := NewCookieTable()
	cookie, err := c.Mint(1, 0)
	require.NoError(t, err)

	_, _, ok := c.Redeem(cookie)
	require.True(t, ok)
	_, _, ok = c.Redeem(cookie)
	require.False(t, ok)
}

func TestCookieTableGCPurgesExpired(t *testing.T) {
	c := NewCookieTable()
	cookie, err := c.Mint(1, 0)
	require.NoError(t, err)

	c.mu.Lock()
	key := c.entries
	for k, v := range key {
		v.mintedAt = time.Now().Add(-ConnectionBindTimeout * 2)
		c.entries[k] = v
	}
	c.mu.Unlock()

	removed := c.GC()
	require.Equal(t, 1, removed)
	_, _, ok := c.Redeem(cookie)
	require.False(t, ok)
}
