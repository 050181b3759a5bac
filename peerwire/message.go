// Copyright (c) 2024 The vibe-torrent-client Authors.
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

// Package peerwire implements the BitTorrent peer wire protocol: the
// handshake, length-prefixed message framing, and the per-connection
// choke/interest state machine described in spec.md §4.4-4.5.
package peerwire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// ID identifies a peer wire message type.
type ID byte

const (
	Choke         ID = 0
	Unchoke       ID = 1
	Interested    ID = 2
	NotInterested ID = 3
	Have          ID = 4
	Bitfield      ID = 5
	Request       ID = 6
	Piece         ID = 7
	Cancel        ID = 8
	Extended      ID = 20
)

func (id ID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Extended:
		return "extended"
	default:
		return fmt.Sprintf("unknown(%d)", byte(id))
	}
}

// maxMessageSize bounds a single frame's payload: 16 KiB of block data plus
// the largest fixed header (REQUEST/CANCEL: 1 + 12 bytes; PIECE: 1 + 8) plus a
// small safety margin, per spec.md §4.4.
const maxMessageSize = 16*1024 + 13 + 256

// Message is a single peer wire protocol message. A length-0 frame (a
// keep-alive) decodes to a Message with HasID false.
type Message struct {
	HasID   bool
	ID      ID
	Payload []byte
}

// KeepAlive is the length-0 frame sent to hold a connection open.
var KeepAlive = Message{}

// NewHave returns a HAVE message for piece index.
func NewHave(index uint32) Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return Message{HasID: true, ID: Have, Payload: payload}
}

// NewBitfield returns a BITFIELD message wrapping an already bit-packed,
// MSB-first field of length ceil(P/8).
func NewBitfield(bits []byte) Message {
	return Message{HasID: true, ID: Bitfield, Payload: bits}
}

// NewRequest returns a REQUEST message.
func NewRequest(index, begin, length uint32) Message {
	return Message{HasID: true, ID: Request, Payload: encodeBlockHeader(index, begin, length)}
}

// NewCancel returns a CANCEL message with the same payload shape as REQUEST.
func NewCancel(index, begin, length uint32) Message {
	return Message{HasID: true, ID: Cancel, Payload: encodeBlockHeader(index, begin, length)}
}

// NewPiece returns a PIECE message carrying block for (index, begin).
func NewPiece(index, begin uint32, block []byte) Message {
	payload := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	copy(payload[8:], block)
	return Message{HasID: true, ID: Piece, Payload: payload}
}

// NewExtended returns an EXTENDED message (BEP 10) with the given
// extension id and bencoded body.
func NewExtended(extID byte, body []byte) Message {
	payload := make([]byte, 1+len(body))
	payload[0] = extID
	copy(payload[1:], body)
	return Message{HasID: true, ID: Extended, Payload: payload}
}

func encodeBlockHeader(index, begin, length uint32) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], index)
	binary.BigEndian.PutUint32(b[4:8], begin)
	binary.BigEndian.PutUint32(b[8:12], length)
	return b
}

// RequestFields unpacks a REQUEST or CANCEL message's payload.
func (m Message) RequestFields() (index, begin, length uint32, err error) {
	if len(m.Payload) != 12 {
		return 0, 0, 0, fmt.Errorf("peerwire: request payload has bad length %d", len(m.Payload))
	}
	return binary.BigEndian.Uint32(m.Payload[0:4]),
		binary.BigEndian.Uint32(m.Payload[4:8]),
		binary.BigEndian.Uint32(m.Payload[8:12]), nil
}

// PieceFields unpacks a PIECE message's payload into its index, begin
// offset, and block bytes (a view into Payload, not copied).
func (m Message) PieceFields() (index, begin uint32, block []byte, err error) {
	if len(m.Payload) < 8 {
		return 0, 0, nil, fmt.Errorf("peerwire: piece payload too short: %d", len(m.Payload))
	}
	return binary.BigEndian.Uint32(m.Payload[0:4]),
		binary.BigEndian.Uint32(m.Payload[4:8]),
		m.Payload[8:], nil
}

// HaveIndex unpacks a HAVE message's piece index.
func (m Message) HaveIndex() (uint32, error) {
	if len(m.Payload) != 4 {
		return 0, fmt.Errorf("peerwire: have payload has bad length %d", len(m.Payload))
	}
	return binary.BigEndian.Uint32(m.Payload), nil
}

// ExtendedFields unpacks an EXTENDED message's extension id and body.
func (m Message) ExtendedFields() (extID byte, body []byte, err error) {
	if len(m.Payload) < 1 {
		return 0, nil, fmt.Errorf("peerwire: extended payload empty")
	}
	return m.Payload[0], m.Payload[1:], nil
}

func sendMessage(nc net.Conn, msg Message) error {
	if !msg.HasID {
		return binary.Write(nc, binary.BigEndian, uint32(0))
	}
	length := uint32(1 + len(msg.Payload))
	if err := binary.Write(nc, binary.BigEndian, length); err != nil {
		return fmt.Errorf("write length: %s", err)
	}
	if _, err := nc.Write([]byte{byte(msg.ID)}); err != nil {
		return fmt.Errorf("write id: %s", err)
	}
	if len(msg.Payload) > 0 {
		if _, err := nc.Write(msg.Payload); err != nil {
			return fmt.Errorf("write payload: %s", err)
		}
	}
	return nil
}

func sendMessageWithTimeout(nc net.Conn, msg Message, timeout time.Duration) error {
	if err := nc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set write deadline: %s", err)
	}
	return sendMessage(nc, msg)
}

func readMessage(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, fmt.Errorf("read length: %s", err)
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return KeepAlive, nil
	}
	if uint64(length) > maxMessageSize {
		return Message{}, fmt.Errorf("peerwire: message exceeds max size: %d > %d", length, maxMessageSize)
	}
	idBuf := make([]byte, 1)
	if _, err := io.ReadFull(r, idBuf); err != nil {
		return Message{}, fmt.Errorf("read id: %s", err)
	}
	payload := make([]byte, length-1)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, fmt.Errorf("read payload: %s", err)
	}
	return Message{HasID: true, ID: ID(idBuf[0]), Payload: payload}, nil
}

func readMessageWithTimeout(nc net.Conn, timeout time.Duration) (Message, error) {
	if err := nc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Message{}, fmt.Errorf("set read deadline: %s", err)
	}
	return readMessage(nc)
}
