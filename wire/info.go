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

package wire

import (
	"encoding/binary"

	"github.com/qeo-rtps/rtpscore/locator"
)

// InfoDst is the decoded payload of an INFO_DST submessage: the explicit
// destination GUID prefix (spec §4.3.1).
type InfoDst struct {
	GUIDPrefix locator.GUIDPrefix
}

// DecodeInfoDst parses an INFO_DST submessage payload.
func DecodeInfoDst(payload []byte) (InfoDst, bool) {
	if len(payload) < 12 {
		return InfoDst{}, false
	}
	var d InfoDst
	copy(d.GUIDPrefix[:], payload[:12])
	return d, true
}

// EncodeInfoDst builds the payload for an INFO_DST submessage.
func EncodeInfoDst(prefix locator.GUIDPrefix) []byte {
	return append([]byte(nil), prefix[:]...)
}

// InfoReplyEntry is one (locator kind-specific) entry in an INFO_REPLY's
// unicast or multicast locator list.
type InfoReplyEntry struct {
	Kind    locator.Kind
	Address [16]byte
	Port    uint32
}

// InfoReply is the decoded payload of an INFO_REPLY submessage: one or
// two locator lists (unicast, optional multicast) to be cached against
// the source prefix as learned (index-1) locators (spec §4.3.1).
type InfoReply struct {
	Unicast   []InfoReplyEntry
	Multicast []InfoReplyEntry
}

// DecodeInfoReply parses an INFO_REPLY submessage payload: a ulong count
// followed by that many 24-octet Locator_t entries (kind:4, port:4,
// address:16), optionally followed by a multicast flag-gated second list
// of the same shape.
func DecodeInfoReply(payload []byte, hasMulticast bool) (InfoReply, bool) {
	r, rest, ok := decodeLocatorList(payload)
	if !ok {
		return InfoReply{}, false
	}
	reply := InfoReply{Unicast: r}
	if hasMulticast {
		mc, _, ok := decodeLocatorList(rest)
		if !ok {
			return InfoReply{}, false
		}
		reply.Multicast = mc
	}
	return reply, true
}

func decodeLocatorList(payload []byte) ([]InfoReplyEntry, []byte, bool) {
	if len(payload) < 4 {
		return nil, nil, false
	}
	count := binary.LittleEndian.Uint32(payload[:4])
	rest := payload[4:]
	out := make([]InfoReplyEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 24 {
			return nil, nil, false
		}
		var e InfoReplyEntry
		kindVal := binary.LittleEndian.Uint32(rest[0:4])
		e.Kind = rtpsLocatorKindToLocal(kindVal)
		e.Port = binary.LittleEndian.Uint32(rest[4:8])
		copy(e.Address[:], rest[8:24])
		out = append(out, e)
		rest = rest[24:]
	}
	return out, rest, true
}

// EncodeInfoReply builds the payload for an INFO_REPLY submessage.
func EncodeInfoReply(reply InfoReply, includeMulticast bool) []byte {
	out := encodeLocatorList(reply.Unicast)
	if includeMulticast {
		out = append(out, encodeLocatorList(reply.Multicast)...)
	}
	return out
}

func encodeLocatorList(entries []InfoReplyEntry) []byte {
	out := make([]byte, 4, 4+len(entries)*24)
	binary.LittleEndian.PutUint32(out, uint32(len(entries)))
	for _, e := range entries {
		var rec [24]byte
		binary.LittleEndian.PutUint32(rec[0:4], localKindToRTPS(e.Kind))
		binary.LittleEndian.PutUint32(rec[4:8], e.Port)
		copy(rec[8:24], e.Address[:])
		out = append(out, rec[:]...)
	}
	return out
}

// RTPS wire locator-kind constants (OMG RTPS spec, not this library's
// internal locator.Kind bitmask — the wire values are small positive
// integers, ours is a bitmask so destination filtering is a single AND).
const (
	rtpsLocatorKindInvalid = 0
	rtpsLocatorKindUDPv4   = 1
	rtpsLocatorKindUDPv6   = 2
	rtpsLocatorKindTCPv4   = 4
	rtpsLocatorKindTCPv6   = 8
)

func rtpsLocatorKindToLocal(k uint32) locator.Kind {
	switch k {
	case rtpsLocatorKindUDPv4:
		return locator.KindUDPv4
	case rtpsLocatorKindUDPv6:
		return locator.KindUDPv6
	case rtpsLocatorKindTCPv4:
		return locator.KindTCPv4
	case rtpsLocatorKindTCPv6:
		return locator.KindTCPv6
	default:
		return 0
	}
}

func localKindToRTPS(k locator.Kind) uint32 {
	switch k {
	case locator.KindUDPv4:
		return rtpsLocatorKindUDPv4
	case locator.KindUDPv6:
		return rtpsLocatorKindUDPv6
	case locator.KindTCPv4:
		return rtpsLocatorKindTCPv4
	case locator.KindTCPv6:
		return rtpsLocatorKindTCPv6
	default:
		return rtpsLocatorKindInvalid
	}
}

// InfoSourceEntry is one hop in an INFO_SRC chain: the protocol version,
// vendor id and guid_prefix of a message as it entered some prior
// forwarder (spec §4.3.3 "concatenated after any pre-existing InfoSource
// payload so the full chain is preserved").
type InfoSourceEntry struct {
	Version    [2]byte
	VendorID   [2]byte
	GUIDPrefix locator.GUIDPrefix
}

const infoSourceEntryLen = 2 + 2 + 12

// DecodeInfoSourceChain parses a (possibly multi-hop) INFO_SRC payload
// into its constituent hops, oldest (original source) first.
func DecodeInfoSourceChain(payload []byte) []InfoSourceEntry {
	var chain []InfoSourceEntry
	for len(payload) >= infoSourceEntryLen {
		var e InfoSourceEntry
		copy(e.Version[:], payload[0:2])
		copy(e.VendorID[:], payload[2:4])
		copy(e.GUIDPrefix[:], payload[4:16])
		chain = append(chain, e)
		payload = payload[infoSourceEntryLen:]
	}
	return chain
}

// EncodeInfoSourceChain serializes a chain of hops, oldest first.
func EncodeInfoSourceChain(chain []InfoSourceEntry) []byte {
	out := make([]byte, 0, len(chain)*infoSourceEntryLen)
	for _, e := range chain {
		out = append(out, e.Version[:]...)
		out = append(out, e.VendorID[:]...)
		out = append(out, e.GUIDPrefix[:]...)
	}
	return out
}

// AppendInfoSource concatenates a new hop onto the end of an existing
// (possibly empty) INFO_SRC payload, preserving the full chain (spec
// §4.3.3, R2 round-trip property).
func AppendInfoSource(existing []byte, hop InfoSourceEntry) []byte {
	chain := DecodeInfoSourceChain(existing)
	chain = append(chain, hop)
	return EncodeInfoSourceChain(chain)
}

// ContainsGUIDPrefix reports whether any hop in the chain carries the
// given GUID prefix — the indirect-loop check of spec §4.3.1.
func ContainsGUIDPrefix(chain []InfoSourceEntry, prefix locator.GUIDPrefix) bool {
	for _, e := range chain {
		if e.GUIDPrefix == prefix {
			return true
		}
	}
	return false
}
