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

package metadatafetch

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tchardonnens/vibe-torrent-client/bencode"
	"github.com/tchardonnens/vibe-torrent-client/core"
	"github.com/tchardonnens/vibe-torrent-client/peerwire"
)

func TestBuildAndParseExtendedHandshake(t *testing.T) {
	msg := BuildExtendedHandshake()
	assert.Equal(t, peerwire.Extended, msg.ID)

	extID, body, err := msg.ExtendedFields()
	require.NoError(t, err)
	assert.Equal(t, ExtendedHandshakeExtID, extID)

	hs, err := ParseExtendedHandshake(body)
	require.NoError(t, err)
	assert.EqualValues(t, 1, hs.UTMetadataExtID)
}

func TestParseExtendedHandshakeReadsMetadataSize(t *testing.T) {
	body := bencode.Encode(bencode.NewDict([]bencode.DictEntry{
		{Key: []byte("m"), Value: bencode.NewDict([]bencode.DictEntry{
			{Key: []byte("ut_metadata"), Value: bencode.NewInt(3)},
		})},
		{Key: []byte("metadata_size"), Value: bencode.NewInt(34816)},
	}))
	hs, err := ParseExtendedHandshake(body)
	require.NoError(t, err)
	assert.EqualValues(t, 3, hs.UTMetadataExtID)
	assert.EqualValues(t, 34816, hs.MetadataSize)
}

func TestBuildRequestRoundTrip(t *testing.T) {
	msg := BuildRequest(3, 5)
	extID, body, err := msg.ExtendedFields()
	require.NoError(t, err)
	assert.EqualValues(t, 3, extID)

	v, err := bencode.DecodeLenient(body)
	require.NoError(t, err)
	mt, _ := v.Lookup("msg_type")
	piece, _ := v.Lookup("piece")
	assert.EqualValues(t, msgTypeRequest, mt.Int())
	assert.EqualValues(t, 5, piece.Int())
}

func buildDataMessageBody(piece int, totalSize int64, data []byte) []byte {
	header := bencode.Encode(bencode.NewDict([]bencode.DictEntry{
		{Key: []byte("msg_type"), Value: bencode.NewInt(msgTypeData)},
		{Key: []byte("piece"), Value: bencode.NewInt(int64(piece))},
		{Key: []byte("total_size"), Value: bencode.NewInt(totalSize)},
	}))
	return append(header, data...)
}

func TestParsePieceMessageData(t *testing.T) {
	data := []byte("this is sixteen-ish bytes of fake metadata piece content")
	body := buildDataMessageBody(2, 1000, data)

	res, err := ParsePieceMessage(body)
	require.NoError(t, err)
	assert.False(t, res.Rejected)
	assert.Equal(t, 2, res.Piece)
	assert.EqualValues(t, 1000, res.TotalSize)
	assert.Equal(t, data, res.Data)
}

func TestParsePieceMessageReject(t *testing.T) {
	body := bencode.Encode(bencode.NewDict([]bencode.DictEntry{
		{Key: []byte("msg_type"), Value: bencode.NewInt(msgTypeReject)},
		{Key: []byte("piece"), Value: bencode.NewInt(4)},
	}))
	res, err := ParsePieceMessage(body)
	require.NoError(t, err)
	assert.True(t, res.Rejected)
	assert.Equal(t, 4, res.Piece)
}

func TestAssemblerCompletesAndVerifies(t *testing.T) {
	infoBytes := []byte("d6:lengthi1048576e4:name10:ubuntu.iso12:piece lengthi262144eee")
	// Pad so the metadata spans exactly two 16 KiB pieces for the test.
	padded := make([]byte, 2*metadataBlockSize)
	copy(padded, infoBytes)
	sum := sha1.Sum(padded)
	infoHash, err := core.NewInfoHashFromBytes(sum[:])
	require.NoError(t, err)

	a := NewAssembler(infoHash, int64(len(padded)), nil)
	require.Equal(t, 2, a.NumPieces())
	assert.ElementsMatch(t, []int{0, 1}, a.Missing())

	peer, err := core.GeneratePeerID()
	require.NoError(t, err)

	complete, _, err := a.AddPiece(peer, 0, padded[:metadataBlockSize])
	require.NoError(t, err)
	assert.False(t, complete)
	assert.False(t, a.Done())

	complete, assembled, err := a.AddPiece(peer, 1, padded[metadataBlockSize:])
	require.NoError(t, err)
	assert.True(t, complete)
	assert.True(t, a.Done())
	assert.Equal(t, padded, assembled)
}

func TestAssemblerDetectsDuplicatePiece(t *testing.T) {
	padded := make([]byte, metadataBlockSize)
	sum := sha1.Sum(padded)
	infoHash, err := core.NewInfoHashFromBytes(sum[:])
	require.NoError(t, err)

	a := NewAssembler(infoHash, int64(len(padded)), nil)
	peer, err := core.GeneratePeerID()
	require.NoError(t, err)

	complete, assembled, err := a.AddPiece(peer, 0, padded)
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Equal(t, padded, assembled)

	// Re-adding the same index after completion is a plain duplicate (the
	// piece is already held) and must not panic, corrupt state, or report
	// completion a second time.
	complete, _, err = a.AddPiece(peer, 0, padded)
	require.NoError(t, err)
	assert.False(t, complete)
}

func TestAssemblerRejectsInfoHashMismatchAndBlacklistsPeer(t *testing.T) {
	data := []byte("not the real metadata bytes at all, wrong content entirely")
	padded := make([]byte, metadataBlockSize)
	copy(padded, data)

	wrongHash, err := core.NewInfoHashFromHex("000000000000000000000000000000000000000a")
	require.NoError(t, err)

	a := NewAssembler(wrongHash, int64(len(padded)), nil)
	peer, err := core.GeneratePeerID()
	require.NoError(t, err)

	complete, assembled, err := a.AddPiece(peer, 0, padded)
	assert.False(t, complete)
	assert.Nil(t, assembled)
	assert.ErrorIs(t, err, ErrInfoHashMismatch)
	assert.True(t, a.Blacklisted(peer))

	// The assembler resets and can be retried with fresh peers afterward.
	assert.ElementsMatch(t, []int{0}, a.Missing())
}

func TestAssemblerRejectsInfoHashMismatchBlacklistsAllContributors(t *testing.T) {
	data := []byte("not the real metadata bytes at all, wrong content entirely")
	padded := make([]byte, 2*metadataBlockSize)
	copy(padded, data)

	wrongHash, err := core.NewInfoHashFromHex("000000000000000000000000000000000000000a")
	require.NoError(t, err)

	a := NewAssembler(wrongHash, int64(len(padded)), nil)
	peer1, err := core.GeneratePeerID()
	require.NoError(t, err)
	peer2, err := core.GeneratePeerID()
	require.NoError(t, err)

	complete, _, err := a.AddPiece(peer1, 0, padded[:metadataBlockSize])
	require.NoError(t, err)
	assert.False(t, complete)

	complete, assembled, err := a.AddPiece(peer2, 1, padded[metadataBlockSize:])
	assert.False(t, complete)
	assert.Nil(t, assembled)
	assert.ErrorIs(t, err, ErrInfoHashMismatch)

	assert.True(t, a.Blacklisted(peer1))
	assert.True(t, a.Blacklisted(peer2))
}

func TestAssemblerRejectsOutOfRangePieceIndex(t *testing.T) {
	infoHash, err := core.NewInfoHashFromHex("000000000000000000000000000000000000000a")
	require.NoError(t, err)
	a := NewAssembler(infoHash, metadataBlockSize, nil)
	peer, err := core.GeneratePeerID()
	require.NoError(t, err)

	_, _, err = a.AddPiece(peer, 7, []byte("x"))
	assert.Error(t, err)
}
