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
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCookieSecretRoundTrip(t *testing.T) {
	secret, err := NewCookieSecret()
	require.NoError(t, err)

	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 7410}
	cookie := secret.Generate(addr)
	require.Len(t, cookie, CookieLen)
	require.True(t, secret.Verify(addr, cookie))
}

func TestCookieSecretRejectsWrongAddress(t *testing.T) {
	secret, err := NewCookieSecret()
	require.NoError(t, err)

	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 7410}
	other := &net.UDPAddr{IP: net.ParseIP("203.0.113.6"), Port: 7410}
	cookie := secret.Generate(addr)
	require.False(t, secret.Verify(other, cookie))
}

func TestCookieSecretRejectsWrongSecret(t *testing.T) {
	a, err := NewCookieSecret()
	require.NoError(t, err)
	b, err := NewCookieSecret()
	require.NoError(t, err)

	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 7410}
	require.False(t, b.Verify(addr, a.Generate(addr)))
}
