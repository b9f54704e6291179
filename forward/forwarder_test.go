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

package forward

import (
	"encoding/binary"
	"testing"

	"github.com/qeo-rtps/rtpscore/locator"
	"github.com/qeo-rtps/rtpscore/wire"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []struct {
		id   uint32
		dest locator.List
		msgs []*wire.Message
	}
}

func (f *fakeSender) SendList(id uint32, dest locator.List, msgs []*wire.Message) error {
	f.sent = append(f.sent, struct {
		id   uint32
		dest locator.List
		msgs []*wire.Message
	}{id, dest, msgs})
	return nil
}

func newInfoDstMessage(t *testing.T, srcPrefix, dstPrefix locator.GUIDPrefix) *wire.Message {
	t.Helper()
	msg := wire.NewMessage([2]byte{2, 1}, [2]byte{0, 1}, srcPrefix)
	payload := wire.EncodeInfoDst(dstPrefix)
	msg.Append(&wire.Submessage{ID: wire.IDInfoDst, Length: uint16(len(payload)), Inline: payload})
	return msg
}

func TestForwarderDropsDirectLoop(t *testing.T) {
	own := locator.GUIDPrefix{9}
	f := New(nil, &fakeSender{}, [2]byte{}, [2]byte{}, own)

	msg := wire.NewMessage([2]byte{}, [2]byte{}, own)
	result := f.Parse(msg, locator.Locator{}, ModeUserUnicast, true)
	require.Empty(t, result.Dest)
	require.False(t, result.Local)
	require.Equal(t, uint64(1), f.Stats().DirectLoops)
}

func TestForwarderDropsIndirectLoop(t *testing.T) {
	own := locator.GUIDPrefix{9}
	f := New(nil, &fakeSender{}, [2]byte{}, [2]byte{}, own)

	msg := wire.NewMessage([2]byte{}, [2]byte{}, locator.GUIDPrefix{1})
	chain := wire.AppendInfoSource(nil, wire.InfoSourceEntry{GUIDPrefix: own})
	msg.Append(&wire.Submessage{ID: wire.IDInfoSrc, Length: uint16(len(chain)), Inline: chain})

	result := f.Parse(msg, locator.Locator{}, ModeUserUnicast, true)
	require.Empty(t, result.Dest)
	require.Equal(t, uint64(1), f.Stats().IndirectLoops)
}

func TestForwarderInfoDstLocalDelivery(t *testing.T) {
	own := locator.GUIDPrefix{9}
	f := New(nil, &fakeSender{}, [2]byte{}, [2]byte{}, own)

	local := locator.GUIDPrefix{5}
	f.ParticipantNew(&Participant{Prefix: local, Local: true}, false)

	msg := newInfoDstMessage(t, locator.GUIDPrefix{1}, local)
	result := f.Parse(msg, locator.Locator{}, ModeUserUnicast, true)
	require.True(t, result.Local)
	require.Empty(t, result.Dest)
}

func TestForwarderInfoDstRemoteDestination(t *testing.T) {
	own := locator.GUIDPrefix{9}
	f := New(nil, &fakeSender{}, [2]byte{}, [2]byte{}, own)

	remote := locator.GUIDPrefix{5}
	f.ParticipantNew(&Participant{Prefix: remote, Local: false}, false)
	dest := locator.Locator{Kind: locator.KindUDPv4, Port: 7410, Flags: locator.FlagUnicast}
	f.LocatorAdd(remote, ModeUserUnicast, dest)

	msg := newInfoDstMessage(t, locator.GUIDPrefix{1}, remote)
	result := f.Parse(msg, locator.Locator{Kind: locator.KindTCPv4, Handle: 0}, ModeUserUnicast, true)
	require.False(t, result.Local)
	require.Len(t, result.Dest, 1)
	require.Equal(t, dest.Port, result.Dest[0].Port)
}

func TestForwarderInfoDstExcludesSourceHandle(t *testing.T) {
	own := locator.GUIDPrefix{9}
	f := New(nil, &fakeSender{}, [2]byte{}, [2]byte{}, own)

	remote := locator.GUIDPrefix{5}
	f.ParticipantNew(&Participant{Prefix: remote, Local: false}, false)
	dest := locator.Locator{Kind: locator.KindUDPv4, Port: 7410, Flags: locator.FlagUnicast, Handle: 42}
	f.LocatorAdd(remote, ModeUserUnicast, dest)

	msg := newInfoDstMessage(t, locator.GUIDPrefix{1}, remote)
	result := f.Parse(msg, locator.Locator{Kind: locator.KindTCPv4, Handle: 42}, ModeUserUnicast, true)
	require.Empty(t, result.Dest)
}

func TestForwarderLearnsInfoReply(t *testing.T) {
	own := locator.GUIDPrefix{9}
	f := New(nil, &fakeSender{}, [2]byte{}, [2]byte{}, own)

	src := locator.GUIDPrefix{1}
	msg := wire.NewMessage([2]byte{}, [2]byte{}, src)
	reply := wire.InfoReply{Unicast: []wire.InfoReplyEntry{{Kind: locator.KindUDPv4, Port: 7410}}}
	payload := wire.EncodeInfoReply(reply, false)
	msg.Append(&wire.Submessage{ID: wire.IDInfoReplyIP4, Length: uint16(len(payload)), Inline: payload})

	f.Parse(msg, locator.Locator{}, ModeUserUnicast, true)
	require.Equal(t, uint64(1), f.Stats().InfoReplies)

	e := f.Table().Lookup(src)
	require.NotNil(t, e)
	require.True(t, e.InfoReplyReceived)
}

func TestForwarderReceiveRelaysWithoutLocalDelivery(t *testing.T) {
	own := locator.GUIDPrefix{9}
	sender := &fakeSender{}
	f := New(nil, sender, [2]byte{2, 1}, [2]byte{0, 1}, own)

	remote := locator.GUIDPrefix{5}
	f.ParticipantNew(&Participant{Prefix: remote}, false)
	f.LocatorAdd(remote, ModeUserUnicast, locator.Locator{Kind: locator.KindUDPv4, Port: 7410})

	var delivered *wire.Message
	msg := newInfoDstMessage(t, locator.GUIDPrefix{1}, remote)
	err := f.Receive(1, msg, locator.Locator{Kind: locator.KindTCPv4}, ModeUserUnicast, func(m *wire.Message) {
		delivered = m
	})
	require.NoError(t, err)
	require.Nil(t, delivered)
	require.Len(t, sender.sent, 1)
	require.Equal(t, own, sender.sent[0].msgs[0].GUIDPrefix)
}

func newDataMessage(t *testing.T, srcPrefix locator.GUIDPrefix, readerID, writerID uint32) *wire.Message {
	t.Helper()
	msg := wire.NewMessage([2]byte{2, 1}, [2]byte{0, 1}, srcPrefix)
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[4:8], readerID)
	binary.BigEndian.PutUint32(payload[8:12], writerID)
	msg.Append(&wire.Submessage{ID: wire.IDData, Length: uint16(len(payload)), Inline: payload})
	return msg
}

func TestForwarderEndpointMatchDeliversLocalReader(t *testing.T) {
	own := locator.GUIDPrefix{9}
	f := New(nil, &fakeSender{}, [2]byte{}, [2]byte{}, own)

	writerSide := locator.GUIDPrefix{1}
	readerSide := locator.GUIDPrefix{2}
	f.ParticipantNew(&Participant{Prefix: writerSide, Local: false}, false)
	f.ParticipantNew(&Participant{Prefix: readerSide, Local: true}, false)

	const writerID, readerID = 0x101, 0x201
	f.EndpointNew(writerSide, writerID, "my/topic", false, false)
	f.EndpointNew(readerSide, readerID, "my/topic", true, true)

	msg := newDataMessage(t, writerSide, 0, writerID)
	result := f.Parse(msg, locator.Locator{}, ModeUserUnicast, true)
	require.True(t, result.Local)
	require.Empty(t, result.Dest)
	require.Equal(t, uint64(1), f.Stats().DataMulticast)
}

func TestForwarderEndpointMatchForwardsToRemoteReader(t *testing.T) {
	own := locator.GUIDPrefix{9}
	f := New(nil, &fakeSender{}, [2]byte{}, [2]byte{}, own)

	writerSide := locator.GUIDPrefix{1}
	readerSide := locator.GUIDPrefix{2}
	f.ParticipantNew(&Participant{Prefix: writerSide, Local: false}, false)
	f.ParticipantNew(&Participant{Prefix: readerSide, Local: false}, false)
	dest := locator.Locator{Kind: locator.KindUDPv4, Port: 7410, Flags: locator.FlagUnicast}
	f.LocatorAdd(readerSide, ModeUserUnicast, dest)

	const writerID, readerID = 0x101, 0x201
	f.EndpointNew(writerSide, writerID, "my/topic", false, false)
	f.EndpointNew(readerSide, readerID, "my/topic", true, false)

	msg := newDataMessage(t, writerSide, readerID, writerID)
	result := f.Parse(msg, locator.Locator{}, ModeUserUnicast, true)
	require.False(t, result.Local)
	require.Len(t, result.Dest, 1)
	require.Equal(t, dest.Port, result.Dest[0].Port)
	require.Equal(t, uint64(1), f.Stats().AddFwdDest)
	require.Equal(t, uint64(1), f.Stats().DataUnicast)
}

func TestForwarderEndpointMatchUnknownSourceMarksLocalAndCounts(t *testing.T) {
	own := locator.GUIDPrefix{9}
	f := New(nil, &fakeSender{}, [2]byte{}, [2]byte{}, own)

	msg := newDataMessage(t, locator.GUIDPrefix{1}, 0, 0x101)
	result := f.Parse(msg, locator.Locator{}, ModeUserUnicast, true)
	require.True(t, result.Local)
	require.Equal(t, uint64(1), f.Stats().NoPeer)
}

func TestForwarderEndpointMatchUnknownEndpointCounts(t *testing.T) {
	own := locator.GUIDPrefix{9}
	f := New(nil, &fakeSender{}, [2]byte{}, [2]byte{}, own)

	writerSide := locator.GUIDPrefix{1}
	f.ParticipantNew(&Participant{Prefix: writerSide, Local: false}, false)

	msg := newDataMessage(t, writerSide, 0, 0x999)
	result := f.Parse(msg, locator.Locator{}, ModeUserUnicast, true)
	require.False(t, result.Local)
	require.Empty(t, result.Dest)
	require.Equal(t, uint64(1), f.Stats().NoEndpoint)
}

func TestForwarderDumpIncludesEntries(t *testing.T) {
	own := locator.GUIDPrefix{9}
	f := New(nil, &fakeSender{}, [2]byte{}, [2]byte{}, own)

	remote := locator.GUIDPrefix{5}
	f.ParticipantNew(&Participant{Prefix: remote}, false)
	f.LocatorAdd(remote, ModeUserUnicast, locator.Locator{Kind: locator.KindUDPv4, Port: 7410})

	dump := f.Dump()
	require.Contains(t, dump, remote.String())
	require.Contains(t, dump, "user-uc=")
}
