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

// Package scheduler tracks per-piece download state across the swarm,
// selects which pieces to request using a rarest-first policy, and
// issues individual 16 KiB blocks within a peer's pipeline budget, per
// spec.md §4.7.
package scheduler

import "github.com/tchardonnens/vibe-torrent-client/core"

// DefaultBlockSize is the block length requested from peers, per
// spec.md §4.5.
const DefaultBlockSize = 16 * 1024

// DefaultPipelineDepth is the maximum number of outstanding block
// requests a single peer may have at once (D in spec.md §5).
const DefaultPipelineDepth = 64

// MaxAssignedPeersPerPiece caps how many peers may simultaneously be
// assigned the same piece (K in spec.md §4.7), so rarest-first selection
// does not pile every peer onto one piece.
const MaxAssignedPeersPerPiece = 8

// BlockRange describes one block within a piece: its offset and length.
type BlockRange struct {
	Begin  uint32
	Length uint32
}

// SplitBlocks divides a piece of pieceLength bytes into blocks of
// blockSize, with the final block clamped to whatever remains.
func SplitBlocks(pieceLength int64, blockSize int) []BlockRange {
	if pieceLength <= 0 {
		return nil
	}
	n := int((pieceLength + int64(blockSize) - 1) / int64(blockSize))
	blocks := make([]BlockRange, 0, n)
	var begin int64
	for begin < pieceLength {
		length := int64(blockSize)
		if remaining := pieceLength - begin; remaining < length {
			length = remaining
		}
		blocks = append(blocks, BlockRange{Begin: uint32(begin), Length: uint32(length)})
		begin += length
	}
	return blocks
}

// PieceMeta is a piece's static, torrent-derived metadata.
type PieceMeta struct {
	Index  int
	Length int64
	Hash   [20]byte
}

// BlockKey identifies a single in-flight block request.
type BlockKey struct {
	Piece int
	Begin uint32
}

// PeerBlockRequest pairs a BlockKey with the peer it should be sent to,
// for callers translating scheduler decisions into wire REQUEST
// messages.
type PeerBlockRequest struct {
	Piece  int
	Begin  uint32
	Length uint32
	PeerID core.PeerID
}
