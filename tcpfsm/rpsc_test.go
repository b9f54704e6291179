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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRPSCRoundTrip(t *testing.T) {
	msg := Message{
		VendorID: [3]byte{1, 2, 3},
		TxnID:    NewTxnID(),
		Kind:     MakeKind(DirectionRequest, OpIdentityBind),
		Params: []Param{
			{ID: ParamCookie, Value: []byte{9, 9, 9}},
			{ID: ParamLogicalPort, Value: []byte{0, 0, 0x1c, 0xea}},
		},
	}
	buf := Encode(msg)
	decoded, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, msg.VendorID, decoded.VendorID)
	require.Equal(t, msg.TxnID, decoded.TxnID)
	require.Equal(t, msg.Kind, decoded.Kind)

	cookie, ok := decoded.Find(ParamCookie)
	require.True(t, ok)
	require.Equal(t, []byte{9, 9, 9}, cookie.Value)
}

func TestRPSCDecodeBadMagic(t *testing.T) {
	buf := make([]byte, HeaderLen)
	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestRPSCDecodeTruncated(t *testing.T) {
	_, err := Decode(make([]byte, 10))
	require.ErrorIs(t, err, ErrTruncated)
}

func TestRPSCDecodeUnknownNonVendorParamFails(t *testing.T) {
	msg := Message{Kind: MakeKind(DirectionRequest, OpIdentityBind), Params: []Param{
		{ID: ParamID(0x0123), Value: nil},
	}}
	_, err := Decode(Encode(msg))
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestRPSCDecodeVendorRangeParamIsIgnored(t *testing.T) {
	msg := Message{Kind: MakeKind(DirectionRequest, OpIdentityBind), Params: []Param{
		{ID: ParamID(0x8001), Value: []byte{1}},
	}}
	decoded, err := Decode(Encode(msg))
	require.NoError(t, err)
	require.Len(t, decoded.Params, 1)
}

func TestKindDirectionAndOp(t *testing.T) {
	k := MakeKind(DirectionSuccess, OpConnectionBind)
	require.Equal(t, DirectionSuccess, k.Direction())
	require.Equal(t, OpConnectionBind, k.Op())
}
