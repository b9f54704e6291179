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
	"bufio"
	"encoding/binary"
	"io"

	"github.com/qeo-rtps/rtpscore/wire"
)

// dataLengthFieldLen is the 4-octet big-endian length field that follows
// the fixed RTPS header on every TCP data-channel frame (spec §4.5
// "Receive framing on data channels").
const dataLengthFieldLen = 4

// FrameReader pulls framed reads off a shared data-channel connection,
// distinguishing RTPS message frames from an interleaved RPSC control
// frame (spec §4.5: "a mid-stream control message is detectable by its
// RPSC magic"). It is the receive-fragment state machine of §4.5,
// expressed as blocking reads on the connection's own goroutine rather
// than the original's explicit (size, used, buffer) continuation
// struct — the goroutine's stack *is* that continuation (see DESIGN.md
// "Concurrency model translation").
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps conn for framed reads.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, 4096)}
}

// ReadControlFrame reads one complete RPSC control message: the fixed
// 24-octet header followed by its declared-length TLV body.
func (fr *FrameReader) ReadControlFrame() (Message, error) {
	hdr := make([]byte, HeaderLen)
	if _, err := io.ReadFull(fr.r, hdr); err != nil {
		return Message{}, err
	}
	bodyLen := int(binary.BigEndian.Uint16(hdr[22:24]))
	buf := make([]byte, HeaderLen+bodyLen)
	copy(buf, hdr)
	if bodyLen > 0 {
		if _, err := io.ReadFull(fr.r, buf[HeaderLen:]); err != nil {
			return Message{}, err
		}
	}
	return Decode(buf)
}

// Next peeks the next frame's leading 4 octets and dispatches to
// ReadControlFrame or ReadDataFrame accordingly, returning whichever of
// the two results is populated.
func (fr *FrameReader) Next() (msg *wire.Message, ctrl *Message, err error) {
	lead, err := fr.r.Peek(4)
	if err != nil {
		return nil, nil, err
	}
	if [4]byte(lead) == RPSCMagic {
		m, err := fr.ReadControlFrame()
		if err != nil {
			return nil, nil, err
		}
		return nil, &m, nil
	}
	m, err := fr.ReadDataFrame()
	if err != nil {
		return nil, nil, err
	}
	return m, nil, nil
}

// ReadDataFrame reads one RTPS message off the wire: the fixed
// wire.HeaderLen-octet RTPS header, then a 4-octet big-endian length
// field, then that many octets of submessage data, handing the
// reassembled buffer to wire.Parse.
func (fr *FrameReader) ReadDataFrame() (*wire.Message, error) {
	hdr := make([]byte, wire.HeaderLen)
	if _, err := io.ReadFull(fr.r, hdr); err != nil {
		return nil, err
	}
	var lenBuf [dataLengthFieldLen]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])

	buf := make([]byte, len(hdr)+int(n))
	copy(buf, hdr)
	if n > 0 {
		if _, err := io.ReadFull(fr.r, buf[len(hdr):]); err != nil {
			return nil, err
		}
	}
	return wire.Parse(buf)
}

// WriteDataFrame serializes msg via wire.Build and frames it with its
// 4-octet length field for transmission on a data channel.
func WriteDataFrame(w io.Writer, msg *wire.Message) error {
	_, err := writeDataFrameCounted(w, msg)
	return err
}

// writeDataFrameCounted is WriteDataFrame plus the octet count written,
// used by DataChannel.Send to feed the per-connection metrics counters
// of spec §7 without every caller having to care about the count.
func writeDataFrameCounted(w io.Writer, msg *wire.Message) (int, error) {
	built := wire.Build(msg)
	// wire.Build emits header+submessages together; split off the
	// fixed header so the length field describes only the submessage
	// portion, matching ReadDataFrame's expectation.
	if len(built) < wire.HeaderLen {
		return 0, io.ErrShortWrite
	}
	header := built[:wire.HeaderLen]
	body := built[wire.HeaderLen:]

	out := make([]byte, 0, len(header)+dataLengthFieldLen+len(body))
	out = append(out, header...)
	var lenBuf [dataLengthFieldLen]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	out = append(out, lenBuf[:]...)
	out = append(out, body...)
	return w.Write(out)
}

// WriteControlFrame serializes and writes a complete RPSC control
// message.
func WriteControlFrame(w io.Writer, m Message) error {
	_, err := w.Write(Encode(m))
	return err
}
