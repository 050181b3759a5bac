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

// Package core holds the identity types shared by every other package in
// this module: the torrent's info-hash and our own peer id.
package core

import (
	"encoding/hex"
	"fmt"
)

// InfoHash is the 20-byte SHA-1 digest of a torrent's bencoded info
// dictionary. It is the torrent's identity on the wire and with trackers.
type InfoHash [20]byte

// Bytes returns the raw 20 bytes of h.
func (h InfoHash) Bytes() []byte {
	return h[:]
}

// String returns the lowercase hex encoding of h.
func (h InfoHash) String() string {
	return hex.EncodeToString(h[:])
}

// NewInfoHashFromBytes copies b into an InfoHash. b must be exactly 20 bytes.
func NewInfoHashFromBytes(b []byte) (InfoHash, error) {
	var h InfoHash
	if len(b) != 20 {
		return h, fmt.Errorf("info hash must be 20 bytes, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// NewInfoHashFromHex decodes a 40-character hex string into an InfoHash.
func NewInfoHashFromHex(s string) (InfoHash, error) {
	var h InfoHash
	if len(s) != 40 {
		return h, fmt.Errorf("info hash hex string has bad length: %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode hex: %w", err)
	}
	copy(h[:], b)
	return h, nil
}
