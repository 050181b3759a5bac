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
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"github.com/willf/bitset"
	"go.uber.org/zap"

	"github.com/tchardonnens/vibe-torrent-client/core"
	"github.com/tchardonnens/vibe-torrent-client/peerwire"
)

// PieceStatus is a piece's position in the download lifecycle, per
// spec.md §4.7.
type PieceStatus int

const (
	// PieceMissing has no download in progress: it was never assigned, or
	// it was reset after a hash mismatch or after its assigned peers left.
	PieceMissing PieceStatus = iota
	// PieceInFlight has at least one outstanding or completed block.
	PieceInFlight
	// PieceComplete has been fully received and its hash verified.
	PieceComplete
)

func (s PieceStatus) String() string {
	switch s {
	case PieceMissing:
		return "missing"
	case PieceInFlight:
		return "in_flight"
	case PieceComplete:
		return "complete"
	default:
		return "unknown"
	}
}

type pieceProgress struct {
	meta          PieceMeta
	blocks        []BlockRange
	buf           []byte
	received      *bitset.BitSet
	assignedPeers map[core.PeerID]bool
}

func newPieceProgress(meta PieceMeta, blockSize int) *pieceProgress {
	blocks := SplitBlocks(meta.Length, blockSize)
	return &pieceProgress{
		meta:          meta,
		blocks:        blocks,
		buf:           make([]byte, meta.Length),
		received:      bitset.New(uint(len(blocks))),
		assignedPeers: make(map[core.PeerID]bool),
	}
}

func (p *pieceProgress) complete() bool {
	return p.received.Count() == uint(len(p.blocks))
}

// Config configures Scheduler's block sizing and timing.
type Config struct {
	BlockSize      int           `yaml:"block_size"`
	PipelineDepth  int           `yaml:"pipeline_depth"`
	BlockTimeout   time.Duration `yaml:"block_timeout"`
	MaxPeersPerPiece int         `yaml:"max_peers_per_piece"`
	// DemeritThreshold is the number of hash-mismatch demerits at which
	// the scheduler recommends disconnecting a peer.
	DemeritThreshold int `yaml:"demerit_threshold"`
}

// ApplyDefaults fills in zero fields with spec.md §6's stated defaults.
func (c Config) ApplyDefaults() Config {
	if c.BlockSize == 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.PipelineDepth == 0 {
		c.PipelineDepth = DefaultPipelineDepth
	}
	if c.BlockTimeout == 0 {
		c.BlockTimeout = 30 * time.Second
	}
	if c.MaxPeersPerPiece == 0 {
		c.MaxPeersPerPiece = MaxAssignedPeersPerPiece
	}
	if c.DemeritThreshold == 0 {
		c.DemeritThreshold = 3
	}
	return c
}

// Scheduler tracks every piece's download state across the whole swarm
// and decides which blocks to request from which peer next. It holds no
// network connections itself; callers translate its decisions into wire
// messages and feed received blocks back in.
type Scheduler struct {
	mu sync.Mutex

	config Config
	clk    clock.Clock
	logger *zap.SugaredLogger
	stats  tally.Scope

	pieces       []PieceStatus
	pieceMeta    []PieceMeta
	progress     map[int]*pieceProgress
	availability []int
	peerHave     map[core.PeerID]*peerwire.Bitfield
	demerits     map[core.PeerID]int

	requests *RequestManager
}

// New returns a Scheduler for the given piece metadata.
func New(pieces []PieceMeta, config Config, clk clock.Clock, stats tally.Scope, logger *zap.SugaredLogger) *Scheduler {
	config = config.ApplyDefaults()
	statuses := make([]PieceStatus, len(pieces))
	metaByIndex := make([]PieceMeta, len(pieces))
	for _, p := range pieces {
		metaByIndex[p.Index] = p
	}
	return &Scheduler{
		config:       config,
		clk:          clk,
		logger:       logger,
		stats:        stats,
		pieces:       statuses,
		progress:     make(map[int]*pieceProgress),
		availability: make([]int, len(pieces)),
		peerHave:     make(map[core.PeerID]*peerwire.Bitfield),
		demerits:     make(map[core.PeerID]int),
		requests:     NewRequestManager(clk, config.BlockTimeout, config.PipelineDepth),
		pieceMeta:    metaByIndex,
	}
}

// NumPieces returns the total number of pieces in the torrent.
func (s *Scheduler) NumPieces() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pieces)
}

// Status returns piece index's current lifecycle state.
func (s *Scheduler) Status(index int) PieceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pieces[index]
}

// Counts returns how many pieces are missing, in flight, and complete.
func (s *Scheduler) Counts() (missing, inFlight, complete int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.pieces {
		switch st {
		case PieceMissing:
			missing++
		case PieceInFlight:
			inFlight++
		case PieceComplete:
			complete++
		}
	}
	return
}

// AddPeer registers a peer's initial bitfield (from a BITFIELD message,
// or an empty one if the peer sent none) and bumps piece availability
// counts accordingly.
func (s *Scheduler) AddPeer(peerID core.PeerID, bf *peerwire.Bitfield) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.peerHave[peerID] = bf
	for i := uint(0); i < bf.Len(); i++ {
		if bf.Has(i) {
			s.availability[i]++
		}
	}
}

// PeerHave records a single HAVE announcement from peerID, bumping that
// piece's availability count.
func (s *Scheduler) PeerHave(peerID core.PeerID, piece int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bf, ok := s.peerHave[peerID]
	if !ok {
		bf = peerwire.NewBitfield(uint(len(s.pieces)))
		s.peerHave[peerID] = bf
	}
	if !bf.Has(uint(piece)) {
		bf.Set(uint(piece))
		s.availability[piece]++
	}
}

// RemovePeer forgets peerID: its availability contribution is reversed,
// its outstanding requests are released back to the pool, and any piece
// left with no assignees falls back to Missing if none of its blocks has
// been received; a partly received piece stays InFlight.
func (s *Scheduler) RemovePeer(peerID core.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bf, ok := s.peerHave[peerID]; ok {
		for i := uint(0); i < bf.Len(); i++ {
			if bf.Has(i) {
				s.availability[i]--
			}
		}
		delete(s.peerHave, peerID)
	}
	delete(s.demerits, peerID)
	s.requests.ClearPeer(peerID)

	for index, p := range s.progress {
		delete(p.assignedPeers, peerID)
		if len(p.assignedPeers) == 0 && s.pieces[index] == PieceInFlight && p.received.Count() == 0 {
			s.pieces[index] = PieceMissing
			delete(s.progress, index)
		}
	}
}

// NextRequests selects up to peerID's remaining pipeline quota worth of
// blocks to request next, choosing pieces via rarest-first among what
// peerID claims to have, per spec.md §4.7.
func (s *Scheduler) NextRequests(peerID core.PeerID) []PeerBlockRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	quota := s.requests.Quota(peerID)
	if quota <= 0 {
		return nil
	}

	bf, ok := s.peerHave[peerID]
	if !ok {
		return nil
	}

	var out []PeerBlockRequest
	// First, continue any piece already assigned to this peer before
	// starting new ones, so in-flight pieces finish before we fan out.
	for index, p := range s.progress {
		if quota <= 0 {
			break
		}
		if !p.assignedPeers[peerID] {
			continue
		}
		out, quota = s.issueBlocks(peerID, index, p, out, quota)
	}
	if quota <= 0 {
		return out
	}

	candidates := bitset.New(uint(len(s.pieces)))
	for i := uint(0); i < bf.Len(); i++ {
		if bf.Has(i) && s.pieces[i] != PieceComplete {
			if p, ok := s.progress[int(i)]; ok && len(p.assignedPeers) >= s.config.MaxPeersPerPiece {
				continue
			}
			candidates.Set(i)
		}
	}

	valid := func(piece int) bool {
		if p, ok := s.progress[piece]; ok {
			return len(p.assignedPeers) < s.config.MaxPeersPerPiece
		}
		return s.pieces[piece] == PieceMissing
	}

	picked := selectRarestFirst(len(s.pieces), valid, candidates, s.availability)
	for _, index := range picked {
		if quota <= 0 {
			break
		}
		p, ok := s.progress[index]
		if !ok {
			p = newPieceProgress(s.pieceMeta[index], s.config.BlockSize)
			s.progress[index] = p
			s.pieces[index] = PieceInFlight
		}
		p.assignedPeers[peerID] = true
		out, quota = s.issueBlocks(peerID, index, p, out, quota)
	}
	return out
}

// issueBlocks appends up to quota not-yet-received, not-yet-requested
// blocks of piece index to out, in ascending begin order.
func (s *Scheduler) issueBlocks(peerID core.PeerID, index int, p *pieceProgress, out []PeerBlockRequest, quota int) ([]PeerBlockRequest, int) {
	for bi, b := range p.blocks {
		if quota <= 0 {
			break
		}
		if p.received.Test(uint(bi)) {
			continue
		}
		key := BlockKey{Piece: index, Begin: b.Begin}
		if s.requests.Pending(key) {
			// Already outstanding to some peer (possibly this one); do
			// not steal or duplicate the claim.
			continue
		}
		s.requests.Add(peerID, key, b.Length)
		out = append(out, PeerBlockRequest{Piece: index, Begin: b.Begin, Length: b.Length, PeerID: peerID})
		quota--
	}
	return out, quota
}

// BlockResult reports the outcome of HandleBlock.
type BlockResult struct {
	// Accepted is false when the block was unsolicited or a duplicate
	// and was discarded without effect, per spec.md §4.5.
	Accepted bool
	// PieceComplete is true when this block completed its piece and the
	// piece's hash verified successfully.
	PieceComplete bool
	// PieceIndex is the piece this block belonged to.
	PieceIndex int
	// PieceData holds the full piece bytes, set only when PieceComplete.
	PieceData []byte
	// HashMismatch is true when completing the piece failed verification.
	// The piece has been reset to Missing and peerID demerited.
	HashMismatch bool
	// DisconnectPeer is true when peerID has reached the demerit
	// threshold and should be dropped.
	DisconnectPeer bool
}

// HandleBlock records a PIECE message's block payload. Per spec.md
// §4.5's invariant, a block must match an outstanding request to this
// exact peer or it is discarded; writes land at their exact begin
// offset and overlapping or out-of-range writes are rejected.
func (s *Scheduler) HandleBlock(peerID core.PeerID, index int, begin uint32, data []byte) (BlockResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := BlockKey{Piece: index, Begin: begin}
	if !s.requests.Complete(peerID, key) {
		return BlockResult{Accepted: false, PieceIndex: index}, nil
	}

	p, ok := s.progress[index]
	if !ok {
		return BlockResult{Accepted: false, PieceIndex: index}, nil
	}

	bi := -1
	for i, b := range p.blocks {
		if b.Begin == begin {
			bi = i
			break
		}
	}
	if bi < 0 {
		return BlockResult{Accepted: false, PieceIndex: index}, fmt.Errorf("scheduler: block begin %d is not block-aligned for piece %d", begin, index)
	}
	want := p.blocks[bi].Length
	if uint32(len(data)) != want {
		return BlockResult{Accepted: false, PieceIndex: index}, fmt.Errorf("scheduler: block length %d, want %d", len(data), want)
	}
	if int64(begin)+int64(len(data)) > p.meta.Length {
		return BlockResult{Accepted: false, PieceIndex: index}, fmt.Errorf("scheduler: block [%d,%d) out of range for piece length %d", begin, int64(begin)+int64(len(data)), p.meta.Length)
	}
	if p.received.Test(uint(bi)) {
		return BlockResult{Accepted: true, PieceIndex: index}, nil // Already have it; harmless duplicate.
	}

	copy(p.buf[begin:], data)
	p.received.Set(uint(bi))

	if !p.complete() {
		return BlockResult{Accepted: true, PieceIndex: index}, nil
	}

	sum := sha1.Sum(p.buf)
	if sum != p.meta.Hash {
		s.requests.ClearPiece(index)
		for assigned := range p.assignedPeers {
			s.demerits[assigned]++
		}
		disconnect := s.demerits[peerID] >= s.config.DemeritThreshold
		delete(s.progress, index)
		s.pieces[index] = PieceMissing
		return BlockResult{
			Accepted:       true,
			PieceIndex:     index,
			HashMismatch:   true,
			DisconnectPeer: disconnect,
		}, nil
	}

	s.requests.ClearPiece(index)
	s.pieces[index] = PieceComplete
	pieceData := p.buf
	delete(s.progress, index)
	return BlockResult{
		Accepted:      true,
		PieceIndex:    index,
		PieceComplete: true,
		PieceData:     pieceData,
	}, nil
}

// PeerChoked forfeits every block currently requested from peerID, per
// spec.md §4.5: once a peer chokes us, its outstanding requests are
// released back to the pool so another peer's NextRequests call can pick
// them up. The pieces themselves remain assigned to peerID until it
// either unchokes again or disconnects.
func (s *Scheduler) PeerChoked(peerID core.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests.ClearPeer(peerID)
}

// Timeouts releases block requests that have exceeded the per-block
// timeout so they can be reissued to a different peer, per spec.md §5.
func (s *Scheduler) Timeouts() []PeerBlockRequest {
	return s.requests.Expired()
}
