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

package scheduler

import (
	"crypto/sha1"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/tchardonnens/vibe-torrent-client/core"
	"github.com/tchardonnens/vibe-torrent-client/peerwire"
)

func testPiece(index int, content []byte) PieceMeta {
	return PieceMeta{Index: index, Length: int64(len(content)), Hash: sha1.Sum(content)}
}

func newTestScheduler(pieces []PieceMeta, cfg Config) *Scheduler {
	return New(pieces, cfg, clock.NewMock(), tally.NoopScope, zap.NewNop().Sugar())
}

func TestSplitBlocksClampsFinalBlock(t *testing.T) {
	blocks := SplitBlocks(40000, 16384)
	require.Len(t, blocks, 3)
	assert.Equal(t, BlockRange{Begin: 0, Length: 16384}, blocks[0])
	assert.Equal(t, BlockRange{Begin: 16384, Length: 16384}, blocks[1])
	assert.Equal(t, BlockRange{Begin: 32768, Length: 40000 - 32768}, blocks[2])
}

func TestNextRequestsRespectsPipelineQuota(t *testing.T) {
	content := make([]byte, 4*DefaultBlockSize)
	pieces := []PieceMeta{testPiece(0, content)}
	cfg := Config{PipelineDepth: 2}
	s := newTestScheduler(pieces, cfg)

	peer, err := core.GeneratePeerID()
	require.NoError(t, err)
	bf := peerwire.NewBitfield(1)
	bf.Set(0)
	s.AddPeer(peer, bf)

	reqs := s.NextRequests(peer)
	assert.Len(t, reqs, 2)
	assert.Equal(t, uint32(0), reqs[0].Begin)
	assert.Equal(t, uint32(DefaultBlockSize), reqs[1].Begin)

	// Quota exhausted until a block completes or times out.
	more := s.NextRequests(peer)
	assert.Empty(t, more)
}

func TestRarestFirstPrefersLeastAvailablePiece(t *testing.T) {
	pieces := []PieceMeta{
		testPiece(0, make([]byte, DefaultBlockSize)),
		testPiece(1, make([]byte, DefaultBlockSize)),
	}
	s := newTestScheduler(pieces, Config{PipelineDepth: 1})

	common, err := core.GeneratePeerID()
	require.NoError(t, err)
	extra, err := core.GeneratePeerID()
	require.NoError(t, err)

	// common and extra both have piece 0; only common has piece 1.
	// Piece 1 is rarer (availability 1 vs piece 0's availability 2) and
	// must be picked first.
	commonBf := peerwire.NewBitfield(2)
	commonBf.Set(0)
	commonBf.Set(1)
	s.AddPeer(common, commonBf)

	extraBf := peerwire.NewBitfield(2)
	extraBf.Set(0)
	s.AddPeer(extra, extraBf)

	reqs := s.NextRequests(common)
	require.Len(t, reqs, 1)
	assert.Equal(t, 1, reqs[0].Piece)
}

func TestHandleBlockRejectsUnsolicitedBlock(t *testing.T) {
	content := make([]byte, DefaultBlockSize)
	pieces := []PieceMeta{testPiece(0, content)}
	s := newTestScheduler(pieces, Config{})

	peer, err := core.GeneratePeerID()
	require.NoError(t, err)

	result, err := s.HandleBlock(peer, 0, 0, content)
	require.NoError(t, err)
	assert.False(t, result.Accepted)
}

func TestHandleBlockCompletesAndVerifiesHash(t *testing.T) {
	content := []byte("exactly sixteen!")
	pieces := []PieceMeta{{Index: 0, Length: int64(len(content)), Hash: sha1.Sum(content)}}
	s := newTestScheduler(pieces, Config{BlockSize: len(content)})

	peer, err := core.GeneratePeerID()
	require.NoError(t, err)
	bf := peerwire.NewBitfield(1)
	bf.Set(0)
	s.AddPeer(peer, bf)

	reqs := s.NextRequests(peer)
	require.Len(t, reqs, 1)

	result, err := s.HandleBlock(peer, 0, reqs[0].Begin, content)
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.True(t, result.PieceComplete)
	assert.Equal(t, content, result.PieceData)
	assert.Equal(t, PieceComplete, s.Status(0))
}

func TestHandleBlockDetectsHashMismatchAndDemeritsPeer(t *testing.T) {
	content := []byte("exactly sixteen!")
	wrong := []byte("totally different")
	wrong = wrong[:len(content)]
	pieces := []PieceMeta{{Index: 0, Length: int64(len(content)), Hash: sha1.Sum(content)}}
	cfg := Config{BlockSize: len(content), DemeritThreshold: 1}
	s := newTestScheduler(pieces, cfg)

	peer, err := core.GeneratePeerID()
	require.NoError(t, err)
	bf := peerwire.NewBitfield(1)
	bf.Set(0)
	s.AddPeer(peer, bf)

	reqs := s.NextRequests(peer)
	require.Len(t, reqs, 1)

	result, err := s.HandleBlock(peer, 0, reqs[0].Begin, wrong)
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.True(t, result.HashMismatch)
	assert.True(t, result.DisconnectPeer)
	assert.Equal(t, PieceMissing, s.Status(0))
}

func TestTimeoutsReissueExpiredBlocks(t *testing.T) {
	content := make([]byte, DefaultBlockSize)
	pieces := []PieceMeta{testPiece(0, content)}
	clk := clock.NewMock()
	s := New(pieces, Config{BlockTimeout: 30 * time.Second}, clk, tally.NoopScope, zap.NewNop().Sugar())

	peer, err := core.GeneratePeerID()
	require.NoError(t, err)
	bf := peerwire.NewBitfield(1)
	bf.Set(0)
	s.AddPeer(peer, bf)

	reqs := s.NextRequests(peer)
	require.Len(t, reqs, 1)

	assert.Empty(t, s.Timeouts())
	clk.Add(31 * time.Second)
	expired := s.Timeouts()
	require.Len(t, expired, 1)
	assert.Equal(t, reqs[0].Piece, expired[0].Piece)

	// Quota is freed up after expiry.
	reqs2 := s.NextRequests(peer)
	assert.Len(t, reqs2, 1)
}
