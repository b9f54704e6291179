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

package transport

import (
	"testing"

	"github.com/qeo-rtps/rtpscore/locator"
	"github.com/qeo-rtps/rtpscore/wire"
	"github.com/stretchr/testify/require"
)

type fakeVTable struct {
	sent   []locator.Locator
	params any
}

func (f *fakeVTable) Send(id uint32, dest locator.Locator, msgs []*wire.Message) error {
	f.sent = append(f.sent, dest)
	return nil
}
func (f *fakeVTable) SetParameters(params any) error { f.params = params; return nil }
func (f *fakeVTable) GetParameters() any             { return f.params }
func (f *fakeVTable) Close() error                   { return nil }

func udpLoc(port uint16, flags locator.Flags) locator.Locator {
	return locator.Locator{Kind: locator.KindUDPv4, Port: port, Flags: flags}
}

func TestRegistrySendDispatchesByKind(t *testing.T) {
	r := New(nil)
	udp := &fakeVTable{}
	r.Register(locator.KindUDPv4, locator.SecureNone, udp)

	msg := wire.NewMessage([2]byte{}, [2]byte{}, locator.GUIDPrefix{})
	err := r.Send(1, udpLoc(7410, locator.FlagUnicast), []*wire.Message{msg})
	require.NoError(t, err)
	require.Len(t, udp.sent, 1)
	require.Equal(t, uint16(7410), udp.sent[0].Port)
}

func TestRegistrySendNoVTable(t *testing.T) {
	r := New(nil)
	err := r.Send(1, udpLoc(7410, 0), nil)
	require.Error(t, err)
}

func TestRegistrySendUsesForwarderWhenInstalled(t *testing.T) {
	r := New(nil)
	var got locator.List
	r.SetForwarder(func(id uint32, dest locator.List, msgs []*wire.Message) error {
		got = dest
		return nil
	})
	loc := udpLoc(7410, 0)
	require.NoError(t, r.Send(1, loc, nil))
	require.Equal(t, locator.List{loc}, got)
}

func TestRegistryUpdateBeginEndPreservesReaddedLocators(t *testing.T) {
	r := New(nil)
	a := udpLoc(7410, locator.FlagMeta)
	b := udpLoc(7411, locator.FlagMeta)

	r.AddLocator(1, a, 100, false)
	r.AddLocator(1, b, 101, false)

	r.UpdateBegin(1)
	r.AddLocator(1, a, 100, false) // re-seen: survives
	r.UpdateEnd(1)

	uc, _, _ := r.GatherLocators(1, locator.FlagMeta)
	require.Len(t, uc, 1)
	require.Equal(t, a.Port, uc[0].Port)
}

func TestRegistryGatherLocatorsSplitsUnicastMulticast(t *testing.T) {
	r := New(nil)
	r.AddLocator(1, udpLoc(7410, locator.FlagMeta|locator.FlagUnicast), 1, false)
	r.AddLocator(1, udpLoc(7400, locator.FlagMeta|locator.FlagMulticast), 2, true)

	uc, mc, dst := r.GatherLocators(1, locator.FlagMeta)
	require.Len(t, uc, 1)
	require.Len(t, mc, 1)
	require.Len(t, dst, 2)
}

func TestRegistryRemoveLocatorRequiresMatchingID(t *testing.T) {
	r := New(nil)
	loc := udpLoc(7410, locator.FlagMeta)
	r.AddLocator(1, loc, 5, false)
	r.RemoveLocator(6, loc) // wrong id, no-op
	uc, _, _ := r.GatherLocators(1, locator.FlagMeta)
	require.Len(t, uc, 1)

	r.RemoveLocator(5, loc)
	uc, _, _ = r.GatherLocators(1, locator.FlagMeta)
	require.Empty(t, uc)
}

func TestCopyMessagesReturnsIndependentMessages(t *testing.T) {
	msg := wire.NewMessage([2]byte{}, [2]byte{}, locator.GUIDPrefix{})
	msg.Append(&wire.Submessage{ID: wire.IDPad, Inline: []byte{0, 0, 0, 0}})

	copies := CopyMessages([]*wire.Message{msg})
	require.Len(t, copies, 1)
	require.NotSame(t, msg, copies[0])
	require.NotSame(t, msg.First, copies[0].First)
	require.Equal(t, int32(1), msg.UserCount())
	require.Equal(t, int32(1), copies[0].UserCount())

	// Mutating the copy's submessage list must not reach the original.
	copies[0].Append(&wire.Submessage{ID: wire.IDGap})
	require.Nil(t, msg.First.Next)
}

func TestCopyAndRefMessages(t *testing.T) {
	msg := wire.NewMessage([2]byte{}, [2]byte{}, locator.GUIDPrefix{})
	copies := CopyMessages([]*wire.Message{msg})
	require.Equal(t, int32(1), msg.UserCount())
	require.Equal(t, int32(1), copies[0].UserCount())

	refs := RefMessages(copies)
	require.Equal(t, int32(2), copies[0].UserCount())

	UnrefMessages(refs)
	require.Equal(t, int32(1), copies[0].UserCount())

	FreeMessages(copies)
	require.Equal(t, int32(0), copies[0].UserCount())
	require.Equal(t, int32(1), msg.UserCount())
}
