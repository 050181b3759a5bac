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
	"fmt"

	"github.com/willf/bitset"
)

// Bitfield tracks which of a torrent's P pieces a peer (or we ourselves)
// claims to have. Backed by willf/bitset, matching the bitfield
// representation used throughout the teacher's scheduler package.
type Bitfield struct {
	set *bitset.BitSet
	n   uint
}

// NewBitfield returns an empty Bitfield sized for n pieces.
func NewBitfield(n uint) *Bitfield {
	return &Bitfield{set: bitset.New(n), n: n}
}

// DecodeBitfield unpacks a wire BITFIELD payload (MSB-first, ceil(n/8)
// bytes) into a Bitfield. Trailing bits beyond n must be zero, per
// spec.md §4.4; a non-zero trailing bit is rejected.
func DecodeBitfield(payload []byte, n uint) (*Bitfield, error) {
	want := (n + 7) / 8
	if uint(len(payload)) != want {
		return nil, fmt.Errorf("peerwire: bitfield has %d bytes, want %d for %d pieces", len(payload), want, n)
	}
	bf := NewBitfield(n)
	for i := uint(0); i < n; i++ {
		byteIdx := i / 8
		bitIdx := 7 - (i % 8)
		if payload[byteIdx]&(1<<bitIdx) != 0 {
			bf.set.Set(i)
		}
	}
	for i := n; i < want*8; i++ {
		byteIdx := i / 8
		bitIdx := 7 - (i % 8)
		if payload[byteIdx]&(1<<bitIdx) != 0 {
			return nil, fmt.Errorf("peerwire: bitfield has non-zero trailing bit %d", i)
		}
	}
	return bf, nil
}

// Encode packs bf into the wire BITFIELD payload form.
func (bf *Bitfield) Encode() []byte {
	want := (bf.n + 7) / 8
	out := make([]byte, want)
	for i := uint(0); i < bf.n; i++ {
		if bf.set.Test(i) {
			out[i/8] |= 1 << (7 - (i % 8))
		}
	}
	return out
}

// Set marks piece i as present.
func (bf *Bitfield) Set(i uint) {
	bf.set.Set(i)
}

// Has reports whether piece i is marked present.
func (bf *Bitfield) Has(i uint) bool {
	return bf.set.Test(i)
}

// Len returns the number of pieces this bitfield is sized for.
func (bf *Bitfield) Len() uint {
	return bf.n
}

// Count returns the number of pieces marked present.
func (bf *Bitfield) Count() uint {
	return bf.set.Count()
}
