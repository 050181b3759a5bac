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

package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// clientPrefix identifies this implementation in the Azureus-style peer id
// convention: "-" + 2 letter client code + 4 digit version + "-".
const clientPrefix = "-VT0001-"

// PeerID is our 20-byte self-identifier, sent during the handshake and
// advertised to trackers.
type PeerID [20]byte

// String returns the hex encoding of p.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// Bytes returns the raw 20 bytes of p.
func (p PeerID) Bytes() []byte {
	return p[:]
}

// NewPeerID decodes a 40-character hex string into a PeerID.
func NewPeerID(s string) (PeerID, error) {
	var p PeerID
	b, err := hex.DecodeString(s)
	if err != nil {
		return p, fmt.Errorf("decode hex: %w", err)
	}
	if len(b) != 20 {
		return p, fmt.Errorf("peer id has invalid length: %d", len(b))
	}
	copy(p[:], b)
	return p, nil
}

// GeneratePeerID returns a fresh, random PeerID stamped with the client
// identifier prefix, unique per session.
func GeneratePeerID() (PeerID, error) {
	var p PeerID
	copy(p[:], clientPrefix)
	if _, err := rand.Read(p[len(clientPrefix):]); err != nil {
		return p, fmt.Errorf("read random bytes: %w", err)
	}
	return p, nil
}
