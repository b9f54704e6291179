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

import "github.com/qeo-rtps/rtpscore/locator"

// IsServerRole decides, without any negotiation, which side of a new
// peer-to-peer DTLS association acts as server: the side whose own
// locator numerically compares smaller (spec §4.4: "chooses client or
// server role deterministically via locator comparison: whichever
// side's smallest own locator is numerically smaller becomes server").
// Both ends evaluate the same comparison against the same pair of
// locators, so they always agree without a handshake round trip.
func IsServerRole(own, peer locator.Locator) bool {
	return compareLocators(own, peer) < 0
}

// compareLocators orders two locators by kind, then address, then port.
func compareLocators(a, b locator.Locator) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	for i := range a.Address {
		if a.Address[i] != b.Address[i] {
			if a.Address[i] < b.Address[i] {
				return -1
			}
			return 1
		}
	}
	if a.Port != b.Port {
		if a.Port < b.Port {
			return -1
		}
		return 1
	}
	return 0
}

// RoleLatch remembers, per peer, whether locator.FlagFClient has pinned
// this node permanently into the client role (spec §4.4: "a LOCF_FCLIENT
// flag pins this node as client for all subsequent reconnects to that
// peer"), so a later reconnect skips re-running the locator comparison.
type RoleLatch struct {
	own   locator.Locator
	peer  locator.Locator
	fixed bool
	asClt bool
}

// Resolve returns whether this node should act as the DTLS client for
// peer, pinning the decision for subsequent calls once computed.
func (l *RoleLatch) Resolve(own, peer locator.Locator) bool {
	if l.fixed && l.peer.Equal(peer) {
		return l.asClt
	}
	l.own, l.peer = own, peer
	l.asClt = !IsServerRole(own, peer)
	l.fixed = true
	return l.asClt
}
