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
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// ConnectionBindTimeout bounds how long a minted cookie remains valid
// for redemption via ConnectionBindRequest before GC purges it (spec
// §4.5 retry table: "Connection bind: 2s, 2 retries").
const ConnectionBindTimeout = 2 * time.Second

// pendingBinding is what a cookie resolves to until it is redeemed: the
// logical port and options the server-side ServerLogicalPortRequest
// negotiated.
type pendingBinding struct {
	LogicalPort uint32
	Options     PortOptions
	mintedAt    time.Time
}

// CookieTable mints opaque tokens that uniquely identify a pending
// data-channel binding across the control-plane exchange (spec §4.5),
// and garbage-collects any cookie not redeemed within
// ConnectionBindTimeout when GC runs — a Go map with no cap on its entry
// count, replacing the original's MAX_COOKIE-sized fixed array (SPEC_FULL
// supplemental features).
type CookieTable struct {
	mu      sync.Mutex
	entries map[string]pendingBinding
}

// NewCookieTable returns an empty CookieTable.
func NewCookieTable() *CookieTable {
	return &CookieTable{entries: make(map[string]pendingBinding)}
}

// Mint generates a fresh cookie bound to (logicalPort, options) and
// records its mint time for later GC.
func (c *CookieTable) Mint(logicalPort uint32, options PortOptions) ([]byte, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	key := hex.EncodeToString(raw)

	c.mu.Lock()
	c.entries[key] = pendingBinding{LogicalPort: logicalPort, Options: options, mintedAt: time.Now()}
	c.mu.Unlock()
	return raw, nil
}

// Redeem looks up and removes the binding for cookie, reporting whether
// it was found (and not yet GC'd).
func (c *CookieTable) Redeem(cookie []byte) (logicalPort uint32, options PortOptions, ok bool) {
	key := hex.EncodeToString(cookie)
	c.mu.Lock()
	defer c.mu.Unlock()
	b, found := c.entries[key]
	if !found {
		return 0, 0, false
	}
	delete(c.entries, key)
	return b.LogicalPort, b.Options, true
}

// GC purges every cookie minted more than ConnectionBindTimeout ago,
// returning the count removed.
func (c *CookieTable) GC() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := time.Now().Add(-ConnectionBindTimeout)
	removed := 0
	for key, b := range c.entries {
		if b.mintedAt.Before(cutoff) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of cookies currently pending redemption.
func (c *CookieTable) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RunGC runs GC every interval until stop is closed.
func (c *CookieTable) RunGC(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.GC()
		case <-stop:
			return
		}
	}
}
