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

// Package dtlsfsm implements the per-peer DTLS connection FSM (spec
// §4.4): role selection via locator comparison, the anti-amplification
// HelloVerifyRequest cookie, and the SERVER_RX/ACCEPT/CONNECT/DATA state
// progression layered on github.com/pion/dtls/v3, grounded on
// original_source/dds/src/trans/ip/ri_dtls.c.
package dtlsfsm

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"net"
	"sync"
)

// CookieLen is the HMAC-SHA1 digest size of a minted cookie.
const CookieLen = sha1.Size

// CookieSecret mints and verifies the HelloVerifyRequest-equivalent
// cookie for a new peer's first datagram. Manager checks it but only
// logs a failed check: the per-peer DTLS context is created either way,
// so this check by itself does not stop source-address spoofing on the
// shared "DTLS server" socket (spec §4.4: "HMAC-SHA1 over the peer
// address/port with a process-wide random secret, initialised lazily").
type CookieSecret struct {
	mu  sync.Mutex
	key []byte
}

// NewCookieSecret lazily initializes a fresh process-wide secret.
func NewCookieSecret() (*CookieSecret, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return &CookieSecret{key: key}, nil
}

// Generate computes the cookie for addr under the current secret.
func (c *CookieSecret) Generate(addr *net.UDPAddr) []byte {
	c.mu.Lock()
	key := c.key
	c.mu.Unlock()

	mac := hmac.New(sha1.New, key)
	mac.Write(addr.IP.To16())
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], uint16(addr.Port))
	mac.Write(portBuf[:])
	return mac.Sum(nil)
}

// Verify reports whether cookie matches the one Generate would produce
// for addr.
func (c *CookieSecret) Verify(addr *net.UDPAddr, cookie []byte) bool {
	return hmac.Equal(c.Generate(addr), cookie)
}
