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

import "fmt"

// Pair links a Tx data channel to its peer's Rx data channel so they
// can share one TCP connection when both sides advertise
// PortOptions.Share (spec §4.5 "Connection sharing"): "a pair (Tx to
// peer, Rx from peer) of data channels may share one TCP fd; the pair
// is linked via the paired pointer, exactly one side owns the fd".
//
// fdOwner picks which of the two channels owns (and therefore closes)
// the shared net.Conn; the other channel's writes are redirected
// through the owner (DataChannel.Send) and it never closes the
// connection itself.
func Pair(tx, rx *DataChannel, fdOwner *DataChannel) error {
	if fdOwner != tx && fdOwner != rx {
		return fmt.Errorf("tcpfsm: pair: fd owner must be tx or rx")
	}
	if tx.options&PortOptShare == 0 || rx.options&PortOptShare == 0 {
		return fmt.Errorf("tcpfsm: pair: both sides must advertise PortOptions.Share")
	}

	tx.mu.Lock()
	tx.paired = rx
	tx.ownsConn = fdOwner == tx
	tx.mu.Unlock()

	rx.mu.Lock()
	rx.paired = tx
	rx.ownsConn = fdOwner == rx
	if fdOwner == tx {
		rx.conn = tx.conn
		rx.fr = tx.fr
	} else {
		tx.mu.Lock()
		tx.conn = rx.conn
		tx.fr = rx.fr
		tx.mu.Unlock()
	}
	rx.mu.Unlock()
	return nil
}

// MigratePaired hands fd ownership from a closing channel to its still-
// live paired counterpart, mirroring the original's rtps_ip.c
// tcp_unpair_connection: when the owning half of a shared connection is
// torn down but its partner is still active, the partner must take over
// the live net.Conn (and its FrameReader) rather than lose it, since
// fdOwner.Close() would otherwise close a socket the partner still needs
// for data flow in the opposite direction.
func MigratePaired(closing *DataChannel) {
	closing.mu.Lock()
	partner := closing.paired
	wasOwner := closing.ownsConn
	conn := closing.conn
	fr := closing.fr
	closing.mu.Unlock()

	if partner == nil || !wasOwner {
		return
	}

	partner.mu.Lock()
	if partner.state != DataClosed {
		partner.conn = conn
		partner.fr = fr
		partner.ownsConn = true
	}
	partner.paired = nil
	partner.mu.Unlock()

	closing.mu.Lock()
	closing.ownsConn = false
	closing.paired = nil
	closing.mu.Unlock()
}
