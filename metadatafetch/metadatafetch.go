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

// Package metadatafetch implements BEP 9 (ut_metadata) and the BEP 10
// extension handshake needed to recover a torrent's info dict from peers
// when starting from a magnet link, per spec.md §4.6.
package metadatafetch

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tchardonnens/vibe-torrent-client/bencode"
	"github.com/tchardonnens/vibe-torrent-client/core"
	"github.com/tchardonnens/vibe-torrent-client/peerwire"
)

const metadataBlockSize = 16 * 1024

// ExtendedHandshakeExtID is the reserved, fixed ext_id for the extension
// handshake message itself (BEP 10).
const ExtendedHandshakeExtID = 0

// OurUTMetadataExtID is the ext_id we assign to ut_metadata in our own
// extension handshake. A peer sending us metadata DATA/REJECT replies
// addresses them to this id, per BEP 10's "use the id the recipient
// advertised" rule.
const OurUTMetadataExtID = 1

// ErrInfoHashMismatch is returned when the assembled metadata's SHA-1
// digest does not equal the torrent's info-hash.
var ErrInfoHashMismatch = errors.New("metadatafetch: assembled metadata info-hash mismatch")

// ErrNoPeersSupportMetadata is returned when no connected peer has
// advertised ut_metadata support.
var ErrNoPeersSupportMetadata = errors.New("metadatafetch: no peer supports ut_metadata")

// msgType values for BEP 9's ut_metadata messages.
const (
	msgTypeRequest = 0
	msgTypeData    = 1
	msgTypeReject  = 2
)

// ExtendedHandshake is the decoded payload of an ext_id-0 EXTENDED
// message.
type ExtendedHandshake struct {
	UTMetadataExtID byte
	MetadataSize    int64
}

// BuildExtendedHandshake encodes our own extension handshake, advertising
// ut_metadata support as spec.md §4.6 requires.
func BuildExtendedHandshake() peerwire.Message {
	body := bencode.Encode(bencode.NewDict([]bencode.DictEntry{
		{Key: []byte("m"), Value: bencode.NewDict([]bencode.DictEntry{
			{Key: []byte("ut_metadata"), Value: bencode.NewInt(OurUTMetadataExtID)},
		})},
	}))
	return peerwire.NewExtended(ExtendedHandshakeExtID, body)
}

// ParseExtendedHandshake decodes a peer's ext_id-0 payload.
func ParseExtendedHandshake(body []byte) (ExtendedHandshake, error) {
	v, err := bencode.DecodeLenient(body)
	if err != nil {
		return ExtendedHandshake{}, fmt.Errorf("metadatafetch: decode extended handshake: %w", err)
	}
	var hs ExtendedHandshake
	m, ok := v.Lookup("m")
	if ok && m.Kind() == bencode.KindDict {
		if id, ok := m.Lookup("ut_metadata"); ok && id.Kind() == bencode.KindInt {
			hs.UTMetadataExtID = byte(id.Int())
		}
	}
	if sz, ok := v.Lookup("metadata_size"); ok && sz.Kind() == bencode.KindInt {
		hs.MetadataSize = sz.Int()
	}
	return hs, nil
}

// BuildRequest encodes a ut_metadata piece request, sent to the peer's
// advertised ut_metadata ext_id.
func BuildRequest(peerExtID byte, piece int) peerwire.Message {
	body := bencode.Encode(bencode.NewDict([]bencode.DictEntry{
		{Key: []byte("msg_type"), Value: bencode.NewInt(msgTypeRequest)},
		{Key: []byte("piece"), Value: bencode.NewInt(int64(piece))},
	}))
	return peerwire.NewExtended(peerExtID, body)
}

// PieceResult is the outcome of decoding a ut_metadata DATA or REJECT
// message.
type PieceResult struct {
	Piece     int
	Data      []byte // nil on reject
	Rejected  bool
	TotalSize int64
}

// ParsePieceMessage decodes a ut_metadata response. body is the EXTENDED
// message's payload after the ext_id byte; for msg_type=1 (DATA) the
// bencoded dict is immediately followed by the raw metadata bytes, which
// this function splits off using the decoder's own consumed-byte offset.
func ParsePieceMessage(body []byte) (PieceResult, error) {
	d := bencode.NewDecoderBytes(body)
	d.SetStrict(false)
	v, err := d.ReadValue()
	if err != nil {
		return PieceResult{}, fmt.Errorf("metadatafetch: decode piece message: %w", err)
	}
	msgType, ok := v.Lookup("msg_type")
	if !ok {
		return PieceResult{}, fmt.Errorf("metadatafetch: piece message missing msg_type")
	}
	pieceVal, ok := v.Lookup("piece")
	if !ok {
		return PieceResult{}, fmt.Errorf("metadatafetch: piece message missing piece index")
	}
	result := PieceResult{Piece: int(pieceVal.Int())}
	switch msgType.Int() {
	case msgTypeData:
		if sz, ok := v.Lookup("total_size"); ok {
			result.TotalSize = sz.Int()
		}
		result.Data = body[d.Offset():]
	case msgTypeReject:
		result.Rejected = true
	default:
		return PieceResult{}, fmt.Errorf("metadatafetch: unknown msg_type %d", msgType.Int())
	}
	return result, nil
}

// Assembler accumulates metadata pieces fetched from multiple peers in
// parallel and verifies the result against the expected info-hash, per
// spec.md §4.6.
type Assembler struct {
	mu           sync.Mutex
	infoHash     core.InfoHash
	totalSize    int64
	numPieces    int
	pieces       [][]byte
	contributors map[int]core.PeerID
	haveCount    int
	logger       *zap.SugaredLogger
	blacklist    map[core.PeerID]bool
}

// NewAssembler returns an Assembler for infoHash, once totalSize (from a
// peer's extension handshake) is known.
func NewAssembler(infoHash core.InfoHash, totalSize int64, logger *zap.SugaredLogger) *Assembler {
	numPieces := int((totalSize + metadataBlockSize - 1) / metadataBlockSize)
	return &Assembler{
		infoHash:     infoHash,
		totalSize:    totalSize,
		numPieces:    numPieces,
		pieces:       make([][]byte, numPieces),
		contributors: make(map[int]core.PeerID, numPieces),
		logger:       logger,
		blacklist:    make(map[core.PeerID]bool),
	}
}

// NumPieces returns the number of 16 KiB metadata pieces expected.
func (a *Assembler) NumPieces() int {
	return a.numPieces
}

// Missing returns the indices of metadata pieces not yet received.
func (a *Assembler) Missing() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	var missing []int
	for i, p := range a.pieces {
		if p == nil {
			missing = append(missing, i)
		}
	}
	return missing
}

// Done reports whether every metadata piece has been received.
func (a *Assembler) Done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.haveCount == a.numPieces
}

// AddPiece records a metadata piece received from fromPeer. Returns
// (complete, data, err): complete is true once every piece has arrived,
// in which case data holds the fully assembled and verified info dict
// bytes.
func (a *Assembler) AddPiece(fromPeer core.PeerID, index int, data []byte) (bool, []byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if index < 0 || index >= a.numPieces {
		return false, nil, fmt.Errorf("metadatafetch: piece index %d out of range [0,%d)", index, a.numPieces)
	}
	if a.pieces[index] != nil {
		return false, nil, nil // Duplicate; ignore.
	}
	a.pieces[index] = data
	a.contributors[index] = fromPeer
	a.haveCount++

	if a.haveCount != a.numPieces {
		return false, nil, nil
	}

	assembled := make([]byte, 0, a.totalSize)
	for _, p := range a.pieces {
		assembled = append(assembled, p...)
	}
	if int64(len(assembled)) != a.totalSize {
		a.resetLocked()
		return false, nil, fmt.Errorf("metadatafetch: assembled size %d does not match advertised %d", len(assembled), a.totalSize)
	}
	sum := sha1.Sum(assembled)
	if core.InfoHash(sum) != a.infoHash {
		for _, peer := range a.contributors {
			a.blacklist[peer] = true
		}
		a.resetLocked()
		return false, nil, ErrInfoHashMismatch
	}
	return true, assembled, nil
}

// Blacklisted reports whether peerID contributed to a failed assembly
// and should be disconnected.
func (a *Assembler) Blacklisted(peerID core.PeerID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blacklist[peerID]
}

func (a *Assembler) resetLocked() {
	a.pieces = make([][]byte, a.numPieces)
	a.contributors = make(map[int]core.PeerID, a.numPieces)
	a.haveCount = 0
}
