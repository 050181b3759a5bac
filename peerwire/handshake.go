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

package peerwire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/tchardonnens/vibe-torrent-client/core"
)

const protocolID = "BitTorrent protocol"

// extensionReserved sets bit 20 (counting from the least significant bit
// of the 8 reserved bytes), advertising BEP 10 extension protocol support.
var extensionReserved = [8]byte{0, 0, 0, 0, 0, 0x10, 0, 0}

// ErrHandshakeFailed is returned when a handshake's protocol string or
// info-hash does not match what was expected.
var ErrHandshakeFailed = errors.New("peerwire: handshake failed")

// Handshake is the parsed 68-byte handshake message.
type Handshake struct {
	InfoHash     core.InfoHash
	PeerID       core.PeerID
	ExtSupported bool
}

func encodeHandshake(infoHash core.InfoHash, peerID core.PeerID) []byte {
	buf := make([]byte, 0, 68)
	buf = append(buf, byte(len(protocolID)))
	buf = append(buf, protocolID...)
	buf = append(buf, extensionReserved[:]...)
	buf = append(buf, infoHash.Bytes()...)
	buf = append(buf, peerID.Bytes()...)
	return buf
}

func decodeHandshake(buf []byte) (Handshake, error) {
	if len(buf) != 68 {
		return Handshake{}, fmt.Errorf("%w: handshake has bad length %d", ErrHandshakeFailed, len(buf))
	}
	pstrlen := int(buf[0])
	if pstrlen != len(protocolID) || string(buf[1:1+pstrlen]) != protocolID {
		return Handshake{}, fmt.Errorf("%w: unexpected protocol string", ErrHandshakeFailed)
	}
	reserved := buf[20:28]
	infoHash, err := core.NewInfoHashFromBytes(buf[28:48])
	if err != nil {
		return Handshake{}, fmt.Errorf("%w: %s", ErrHandshakeFailed, err)
	}
	var peerID core.PeerID
	copy(peerID[:], buf[48:68])
	return Handshake{
		InfoHash:     infoHash,
		PeerID:       peerID,
		ExtSupported: reserved[5]&0x10 != 0,
	}, nil
}

// Dial opens a TCP connection to addr and performs the outbound handshake
// for infoHash, identifying ourselves as peerID. Returns the established
// connection and the remote's handshake.
func Dial(addr string, infoHash core.InfoHash, peerID core.PeerID, timeout time.Duration) (net.Conn, Handshake, error) {
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, Handshake{}, fmt.Errorf("dial: %s", err)
	}
	hs, err := doHandshake(nc, infoHash, peerID, timeout)
	if err != nil {
		nc.Close()
		return nil, Handshake{}, err
	}
	return nc, hs, nil
}

// Accept performs the inbound handshake side on an already-accepted
// connection, validating that the remote requested expectedInfoHash.
func Accept(nc net.Conn, expectedInfoHash core.InfoHash, peerID core.PeerID, timeout time.Duration) (Handshake, error) {
	if err := nc.SetDeadline(time.Now().Add(timeout)); err != nil {
		return Handshake{}, fmt.Errorf("set deadline: %s", err)
	}
	remote, err := readHandshake(nc)
	if err != nil {
		return Handshake{}, err
	}
	if remote.InfoHash != expectedInfoHash {
		return Handshake{}, fmt.Errorf("%w: info hash mismatch", ErrHandshakeFailed)
	}
	if _, err := nc.Write(encodeHandshake(expectedInfoHash, peerID)); err != nil {
		return Handshake{}, fmt.Errorf("%w: write response: %s", ErrHandshakeFailed, err)
	}
	if err := nc.SetDeadline(time.Time{}); err != nil {
		return Handshake{}, fmt.Errorf("clear deadline: %s", err)
	}
	return remote, nil
}

func doHandshake(nc net.Conn, infoHash core.InfoHash, peerID core.PeerID, timeout time.Duration) (Handshake, error) {
	if err := nc.SetDeadline(time.Now().Add(timeout)); err != nil {
		return Handshake{}, fmt.Errorf("set deadline: %s", err)
	}
	if _, err := nc.Write(encodeHandshake(infoHash, peerID)); err != nil {
		return Handshake{}, fmt.Errorf("%w: write: %s", ErrHandshakeFailed, err)
	}
	remote, err := readHandshake(nc)
	if err != nil {
		return Handshake{}, err
	}
	if remote.InfoHash != infoHash {
		return Handshake{}, fmt.Errorf("%w: info hash mismatch", ErrHandshakeFailed)
	}
	if err := nc.SetDeadline(time.Time{}); err != nil {
		return Handshake{}, fmt.Errorf("clear deadline: %s", err)
	}
	return remote, nil
}

func readHandshake(r io.Reader) (Handshake, error) {
	buf := make([]byte, 68)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Handshake{}, fmt.Errorf("%w: read: %s", ErrHandshakeFailed, err)
	}
	return decodeHandshake(buf)
}
