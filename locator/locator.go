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

// Package locator defines the RTPS Locator and GUID prefix data types
// shared by the transport, forwarding, and connection-FSM packages.
package locator

import (
	"fmt"
	"net"
	"net/netip"
)

// Kind identifies the medium a Locator addresses. It is a bitmask so that
// a set of kinds can be combined when filtering destinations.
type Kind uint8

const (
	KindUDPv4 Kind = 1 << iota
	KindUDPv6
	KindTCPv4
	KindTCPv6
)

func (k Kind) String() string {
	switch k {
	case KindUDPv4:
		return "udpv4"
	case KindUDPv6:
		return "udpv6"
	case KindTCPv4:
		return "tcpv4"
	case KindTCPv6:
		return "tcpv6"
	default:
		return fmt.Sprintf("kind(%#x)", uint8(k))
	}
}

// IsTCP reports whether the kind addresses a TCP-based medium.
func (k Kind) IsTCP() bool { return k == KindTCPv4 || k == KindTCPv6 }

// IsUDP reports whether the kind addresses a UDP-based medium.
func (k Kind) IsUDP() bool { return k == KindUDPv4 || k == KindUDPv6 }

// Family returns "udp" or "tcp" network family used by net.Dial/net.Listen.
func (k Kind) Family() string {
	if k.IsTCP() {
		return "tcp"
	}
	return "udp"
}

// Flags is a bitfield describing a Locator's traffic class and usage.
type Flags uint16

const (
	// FlagMeta marks the locator as carrying discovery (META) traffic.
	FlagMeta Flags = 1 << iota
	// FlagData marks the locator as carrying user (DATA) traffic.
	FlagData
	// FlagUnicast marks the locator as a unicast destination.
	FlagUnicast
	// FlagMulticast marks the locator as a multicast destination.
	FlagMulticast
	// FlagSecure marks the locator as requiring a secure overlay (DTLS/TLS).
	FlagSecure
	// FlagServer marks the locator as a listening (server-role) endpoint.
	FlagServer
	// FlagFClient pins this node as the permanent client role for the peer
	// this locator addresses (DTLS role-selection latch, spec §4.4).
	FlagFClient
)

// SecureProtocol selects the secure overlay used for a Locator, or
// SecureNone for cleartext.
type SecureProtocol uint8

const (
	SecureNone SecureProtocol = iota
	SecureDTLS
	SecureTLS
)

// GUIDPrefix is the 12-octet participant identity carried in every RTPS
// message header.
type GUIDPrefix [12]byte

// String renders the prefix as hex, matching how the original DDS core
// logs guid_prefix values in its trace output.
func (g GUIDPrefix) String() string {
	return fmt.Sprintf("%x", [12]byte(g))
}

// IsZero reports whether the prefix is the all-zero GUIDPREFIX_UNKNOWN value.
func (g GUIDPrefix) IsZero() bool {
	return g == GUIDPrefix{}
}

// Normalized returns g with its last octet masked to zero.
//
// The last octet of a GUID prefix carries the participant-count field,
// which increments across restarts on the same host; two successive
// participant instances otherwise share the same SPDP multicast
// footprint. Meta-multicast learning compares normalized prefixes so that
// it isn't fooled by that volatility. This must remain even though the
// raw (non-normalized) prefix is still used for exact entity identity
// everywhere else.
func (g GUIDPrefix) Normalized() GUIDPrefix {
	n := g
	n[11] = 0
	return n
}

// Locator is a destination descriptor: a medium kind, usage flags, a
// 16-octet address (IPv4-mapped for v4 kinds), a port, a multicast/unicast
// scope, and an optional secure-overlay selector.
//
// Locators are reference-counted (see internal/pool.Pool); multiple
// connections may share one. Handle identifies the connection currently
// serving the locator, or 0 ("none handle") if unbound.
type Locator struct {
	Kind    Kind
	Flags   Flags
	Address [16]byte
	Port    uint16
	Scope   Scope
	SProto  SecureProtocol
	Handle  uint32
}

// Scope is the multicast/unicast reachability scope, ordered from most to
// least restrictive so that min..max scope ranges (spec §6, IP_Scope /
// IPv6_Scope) can be expressed as a simple integer comparison.
type Scope uint8

const (
	ScopeNode Scope = iota
	ScopeLink
	ScopeSite
	ScopeOrg
	ScopeGlobal
)

// New builds a Locator from a netip.Addr, inferring IPv4 vs IPv6 within the
// given kind family (kind must already encode UDP vs TCP).
func New(kind Kind, addr netip.Addr, port uint16, flags Flags) Locator {
	var l Locator
	l.Kind = kind
	l.Port = port
	l.Flags = flags
	if addr.Is4() || addr.Is4In6() {
		a4 := addr.As4()
		copy(l.Address[12:], a4[:])
	} else {
		a16 := addr.As16()
		copy(l.Address[:], a16[:])
	}
	return l
}

// Addr reconstructs a netip.Addr from the Locator's raw address bytes,
// choosing the 4-octet or 16-octet view based on Kind.
func (l Locator) Addr() netip.Addr {
	if l.Kind == KindUDPv4 || l.Kind == KindTCPv4 {
		var a4 [4]byte
		copy(a4[:], l.Address[12:])
		return netip.AddrFrom4(a4)
	}
	return netip.AddrFrom16(l.Address)
}

// UDPAddr returns the locator's address as a *net.UDPAddr.
func (l Locator) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IP(append([]byte(nil), ipSlice(l)...)), Port: int(l.Port)}
}

// TCPAddr returns the locator's address as a *net.TCPAddr.
func (l Locator) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: net.IP(append([]byte(nil), ipSlice(l)...)), Port: int(l.Port)}
}

func ipSlice(l Locator) []byte {
	if l.Kind == KindUDPv4 || l.Kind == KindTCPv4 {
		return l.Address[12:]
	}
	return l.Address[:]
}

// Key returns a value suitable for use as a map key identifying the
// (kind, address, port) triple a locator names — the same identity the
// "non-zero locator handle always resolves to an existing connection whose
// locator equals the referring locator (kind + address + port)" invariant
// is defined over.
func (l Locator) Key() LocatorKey {
	return LocatorKey{Kind: l.Kind, Address: l.Address, Port: l.Port}
}

// LocatorKey is the comparable identity of a Locator, ignoring Flags,
// Scope, SProto and Handle.
type LocatorKey struct {
	Kind    Kind
	Address [16]byte
	Port    uint16
}

func (l Locator) String() string {
	return fmt.Sprintf("%s:%s:%d", l.Kind, l.Addr(), l.Port)
}

// Equal reports whether two locators name the same (kind, address, port).
func (l Locator) Equal(o Locator) bool {
	return l.Key() == o.Key()
}

// List is an ordered list of locators, matching LocatorList_t semantics: a
// plain slice since Go slices already give cheap, GC-managed sharing.
type List []Locator

// FilterKind returns the subset of l whose Kind is in kinds.
func (l List) FilterKind(kinds Kind) List {
	out := make(List, 0, len(l))
	for _, loc := range l {
		if loc.Kind&kinds != 0 {
			out = append(out, loc)
		}
	}
	return out
}

// ExcludeHandle returns the subset of l whose Handle does not equal
// handle. Used to implement "never send back to the port it came from"
// (spec §4.3.1/§4.3.2).
func (l List) ExcludeHandle(handle uint32) List {
	if handle == 0 {
		return l
	}
	out := make(List, 0, len(l))
	for _, loc := range l {
		if loc.Handle != handle {
			out = append(out, loc)
		}
	}
	return out
}

// PortFormula computes the four well-known RTPS multicast/unicast ports
// from the base port, gains and offsets described in spec §6.
type PortFormula struct {
	PB, DG, PG         uint16
	D0, D1, D2, D3     uint16
}

// MetaMulticastPort returns PB + DG*domain + d0.
func (f PortFormula) MetaMulticastPort(domain uint16) uint16 {
	return f.PB + f.DG*domain + f.D0
}

// MetaUnicastPort returns PB + DG*domain + PG*participant + d1.
func (f PortFormula) MetaUnicastPort(domain, participant uint16) uint16 {
	return f.PB + f.DG*domain + f.PG*participant + f.D1
}

// UserMulticastPort returns PB + DG*domain + d2.
func (f PortFormula) UserMulticastPort(domain uint16) uint16 {
	return f.PB + f.DG*domain + f.D2
}

// UserUnicastPort returns PB + DG*domain + PG*participant + d3.
func (f PortFormula) UserUnicastPort(domain, participant uint16) uint16 {
	return f.PB + f.DG*domain + f.PG*participant + f.D3
}

// DefaultPortFormula matches the RTPS specification's standard port
// mapping constants.
var DefaultPortFormula = PortFormula{PB: 7400, DG: 250, PG: 2, D0: 0, D1: 10, D2: 1, D3: 11}
