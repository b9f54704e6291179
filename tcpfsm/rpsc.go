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

// Package tcpfsm implements the RPSC control-channel framing protocol and
// the control/data-channel connection state machines that establish RTPS
// logical ports over TCP (spec §4.5), grounded on
// original_source/apps/dds/src/trans/ip/ri_tcp.c and
// original_source/tinq-core/dds/src/trans/ip/ri_tcp_sock.c.
package tcpfsm

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// RPSCMagic is the 4-octet protocol magic at the start of every control
// message.
var RPSCMagic = [4]byte{'R', 'P', 'S', 'C'}

// HeaderLen is the fixed RPSC control-message header size: magic(4) +
// version(1) + vendor(3) + transaction id(12) + kind(2) + length(2).
const HeaderLen = 24

// MaxCookie bounds a Cookie parameter's opaque payload length.
const MaxCookie = 64

// Direction is the high octet of a message Kind.
type Direction uint8

const (
	DirectionRequest Direction = 0x0c
	DirectionSuccess Direction = 0x0d
	DirectionFail    Direction = 0x0e
)

// Op is the low octet of a message Kind.
type Op uint8

const (
	OpIdentityBind   Op = 1
	OpServerLogicalPort Op = 2
	OpClientLogicalPort Op = 3
	OpConnectionBind Op = 4
	OpFinalize       Op = 15
)

// Kind combines a Direction and Op, as transmitted on the wire (spec
// §4.5: "kind = (direction<<8) | op").
type Kind uint16

// MakeKind combines dir and op into a wire Kind.
func MakeKind(dir Direction, op Op) Kind {
	return Kind(dir)<<8 | Kind(op)
}

// Direction extracts the direction octet from a Kind.
func (k Kind) Direction() Direction { return Direction(k >> 8) }

// Op extracts the operation octet from a Kind.
func (k Kind) Op() Op { return Op(k & 0xff) }

func (k Kind) String() string {
	return fmt.Sprintf("%s/%s", k.Direction(), k.Op())
}

func (d Direction) String() string {
	switch d {
	case DirectionRequest:
		return "REQUEST"
	case DirectionSuccess:
		return "SUCCESS"
	case DirectionFail:
		return "FAIL"
	default:
		return fmt.Sprintf("dir(%#x)", uint8(d))
	}
}

func (o Op) String() string {
	switch o {
	case OpIdentityBind:
		return "IdentityBind"
	case OpServerLogicalPort:
		return "ServerLogicalPort"
	case OpClientLogicalPort:
		return "ClientLogicalPort"
	case OpConnectionBind:
		return "ConnectionBind"
	case OpFinalize:
		return "Finalize"
	default:
		return fmt.Sprintf("op(%#x)", uint8(o))
	}
}

// ParamID identifies a TLV parameter within a control message's
// parameter block (spec §4.5).
type ParamID uint16

const (
	ParamLocator         ParamID = 0x0001
	ParamLogicalPort     ParamID = 0x0002
	ParamCookie          ParamID = 0x0003
	ParamPortOptions     ParamID = 0x0004
	ParamAllowShared     ParamID = 0x0005
	ParamForward         ParamID = 0x0006
	ParamGuidPrefix      ParamID = 0x0007
	ParamError           ParamID = 0x0008
	ParamUnknownAttr     ParamID = 0x0009
	paramSentinel        ParamID = 0x0000
	paramVendorRangeMask ParamID = 0x8000
)

// PortOptions is the bitfield carried by a PortOptions parameter.
type PortOptions uint8

const (
	PortOptData PortOptions = 1 << iota
	PortOptMeta
	PortOptUnicast
	PortOptMulticast
	PortOptShare
)

// ErrBadRequest is returned when a control message carries an unknown
// non-vendor-range parameter id (spec §4.5: "unknown non-vendor ids fail
// the message with bad request").
var ErrBadRequest = errors.New("tcpfsm: bad request: unknown parameter id")

// ErrTruncated is returned when a buffer ends mid-header or mid-TLV.
var ErrTruncated = errors.New("tcpfsm: truncated RPSC message")

// ErrBadMagic is returned when a buffer's magic does not match RPSCMagic.
var ErrBadMagic = errors.New("tcpfsm: bad RPSC magic")

// Param is one decoded TLV parameter.
type Param struct {
	ID    ParamID
	Value []byte
}

// Message is a decoded RPSC control message.
type Message struct {
	VendorID [3]byte
	TxnID    [12]byte
	Kind     Kind
	Params   []Param
}

// NewTxnID generates a fresh 96-bit transaction id, using the first 12
// bytes of a random UUID as the id's entropy source (spec §4.5: "12
// transaction id").
func NewTxnID() [12]byte {
	var id [12]byte
	u := uuid.New()
	copy(id[:], u[:12])
	return id
}

// Encode serializes m into a complete RPSC wire message: header followed
// by its TLV parameter block and terminating sentinel.
func Encode(m Message) []byte {
	var body []byte
	for _, p := range m.Params {
		var tlv [4]byte
		binary.BigEndian.PutUint16(tlv[0:2], uint16(p.ID))
		binary.BigEndian.PutUint16(tlv[2:4], uint16(len(p.Value)))
		body = append(body, tlv[:]...)
		body = append(body, p.Value...)
	}
	var sentinel [4]byte
	binary.BigEndian.PutUint16(sentinel[0:2], uint16(paramSentinel))
	body = append(body, sentinel[:]...)

	out := make([]byte, HeaderLen, HeaderLen+len(body))
	copy(out[0:4], RPSCMagic[:])
	out[4] = 1 // version
	copy(out[5:8], m.VendorID[:])
	copy(out[8:20], m.TxnID[:])
	binary.BigEndian.PutUint16(out[20:22], uint16(m.Kind))
	binary.BigEndian.PutUint16(out[22:24], uint16(len(body)))
	out = append(out, body...)
	return out
}

// Decode parses a complete RPSC wire message (header plus the exact
// number of body bytes its length field declares). It returns
// ErrBadRequest if any parameter id outside the vendor range (>=
// paramVendorRangeMask) is unrecognized; vendor-range ids are retained
// verbatim in Params without validation.
func Decode(buf []byte) (Message, error) {
	if len(buf) < HeaderLen {
		return Message{}, ErrTruncated
	}
	if [4]byte(buf[0:4]) != RPSCMagic {
		return Message{}, ErrBadMagic
	}
	var m Message
	copy(m.VendorID[:], buf[5:8])
	copy(m.TxnID[:], buf[8:20])
	m.Kind = Kind(binary.BigEndian.Uint16(buf[20:22]))
	bodyLen := int(binary.BigEndian.Uint16(buf[22:24]))
	if len(buf) < HeaderLen+bodyLen {
		return Message{}, ErrTruncated
	}

	rest := buf[HeaderLen : HeaderLen+bodyLen]
	for len(rest) > 0 {
		if len(rest) < 4 {
			return Message{}, ErrTruncated
		}
		id := ParamID(binary.BigEndian.Uint16(rest[0:2]))
		plen := int(binary.BigEndian.Uint16(rest[2:4]))
		if id == paramSentinel {
			break
		}
		if len(rest) < 4+plen {
			return Message{}, ErrTruncated
		}
		if id < paramVendorRangeMask && !knownParam(id) {
			return Message{}, ErrBadRequest
		}
		m.Params = append(m.Params, Param{ID: id, Value: append([]byte(nil), rest[4:4+plen]...)})
		rest = rest[4+plen:]
	}
	return m, nil
}

func knownParam(id ParamID) bool {
	switch id {
	case ParamLocator, ParamLogicalPort, ParamCookie, ParamPortOptions,
		ParamAllowShared, ParamForward, ParamGuidPrefix, ParamError, ParamUnknownAttr:
		return true
	default:
		return false
	}
}

// Find returns the first parameter in m.Params with the given id.
func (m Message) Find(id ParamID) (Param, bool) {
	for _, p := range m.Params {
		if p.ID == id {
			return p, true
		}
	}
	return Param{}, false
}
