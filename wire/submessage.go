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

// SubmessageID identifies an RTPS submessage kind (OMG RTPS spec, table
// 8.15). Only the ids the forwarder actually inspects are named here;
// everything else passes through opaquely.
type SubmessageID uint8

const (
	IDPad           SubmessageID = 0x01
	IDAckNack       SubmessageID = 0x06
	IDHeartbeat     SubmessageID = 0x07
	IDGap           SubmessageID = 0x08
	IDInfoTS        SubmessageID = 0x09
	IDInfoSrc       SubmessageID = 0x0c
	IDInfoReplyIP4  SubmessageID = 0x0d
	IDInfoDst       SubmessageID = 0x0e
	IDInfoReply     SubmessageID = 0x0f
	IDNackFrag      SubmessageID = 0x12
	IDHeartbeatFrag SubmessageID = 0x13
	IDData          SubmessageID = 0x15
	IDDataFrag      SubmessageID = 0x16
)

// RequiresAlignment reports whether a submessage of this id must have a
// length that is a multiple of 4 (spec §4.2 parser rule).
func (id SubmessageID) RequiresAlignment() bool {
	switch id {
	case IDPad:
		return false
	default:
		return true
	}
}

// ZeroLengthMeansRestOfBuffer reports whether a declared length of 0 is
// interpreted as "rest of buffer" for this id. PAD and INFO_TS are the two
// submessages for which a zero length is taken literally (spec §4.2).
func (id SubmessageID) ZeroLengthMeansRestOfBuffer() bool {
	return id != IDPad && id != IDInfoTS
}

// EntityKindMajor is the top nibble of an RTPS EntityId_t's entity_kind
// octet, which classifies an entity as META (discovery/builtin) or USER
// (application) traffic (spec §4.2, GLOSSARY "META vs USER").
type EntityKindMajor uint8

const (
	EntityKindUnknown EntityKindMajor = iota
	EntityKindUser
	EntityKindMeta
)

// ClassifyEntityKind derives the USER/META traffic class from the low
// byte of an EntityId_t's entity_kind octet, per the RTPS spec's builtin
// entity-kind encoding: bit 0x80 set marks a builtin (META) entity.
func ClassifyEntityKind(entityKindOctet byte) EntityKindMajor {
	if entityKindOctet&0x80 != 0 {
		return EntityKindMeta
	}
	return EntityKindUser
}

// Well-known builtin entity ids (low 4 bytes of an EntityId_t), used to
// recognize SPDP/SEDP endpoints (spec §4.3.1 "SPDP special-case", OMG RTPS
// spec §2.2.2, table 9.4).
const (
	EntityIDSPDPBuiltinParticipantWriter   uint32 = 0x000100c2
	EntityIDSPDPBuiltinParticipantReader   uint32 = 0x000100c7
	EntityIDSEDPBuiltinPublicationsWriter  uint32 = 0x000003c2
	EntityIDSEDPBuiltinPublicationsReader  uint32 = 0x000003c7
	EntityIDSEDPBuiltinSubscriptionsWriter uint32 = 0x000004c2
	EntityIDSEDPBuiltinSubscriptionsReader uint32 = 0x000004c7
)

// BuiltinEndpointKind is a bit in the BuiltinEndpointSet_t bitmask carried
// in SPDP participant data, used by the forwarder to decide whether two
// peers both advertise (and so should both receive) a builtin endpoint's
// traffic (spec §4.3.1).
type BuiltinEndpointKind uint32

const (
	BuiltinParticipantAnnouncer    BuiltinEndpointKind = 1 << 0
	BuiltinParticipantDetector     BuiltinEndpointKind = 1 << 1
	BuiltinPublicationsAnnouncer   BuiltinEndpointKind = 1 << 2
	BuiltinPublicationsDetector    BuiltinEndpointKind = 1 << 3
	BuiltinSubscriptionsAnnouncer  BuiltinEndpointKind = 1 << 4
	BuiltinSubscriptionsDetector   BuiltinEndpointKind = 1 << 5
)

// BuiltinBitForEntityID maps a well-known builtin writer/reader entity id
// to its BuiltinEndpointKind bit, and reports whether id is one of the
// well-known SPDP/SEDP builtin endpoints at all. Used by the forwarder to
// broadcast builtin discovery traffic to every peer that advertises the
// matching bit, without needing a full SEDP-parsed endpoint record
// (spec §4.3.1).
func BuiltinBitForEntityID(id uint32) (BuiltinEndpointKind, bool) {
	switch id {
	case EntityIDSPDPBuiltinParticipantWriter:
		return BuiltinParticipantAnnouncer, true
	case EntityIDSPDPBuiltinParticipantReader:
		return BuiltinParticipantDetector, true
	case EntityIDSEDPBuiltinPublicationsWriter:
		return BuiltinPublicationsAnnouncer, true
	case EntityIDSEDPBuiltinPublicationsReader:
		return BuiltinPublicationsDetector, true
	case EntityIDSEDPBuiltinSubscriptionsWriter:
		return BuiltinSubscriptionsAnnouncer, true
	case EntityIDSEDPBuiltinSubscriptionsReader:
		return BuiltinSubscriptionsDetector, true
	default:
		return 0, false
	}
}
