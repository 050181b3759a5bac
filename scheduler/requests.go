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
	"sync"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/tchardonnens/vibe-torrent-client/core"
)

// RequestStatus enumerates the lifecycle of a single block request.
type RequestStatus int

const (
	// RequestPending is a request still in flight and not yet timed out.
	RequestPending RequestStatus = iota
	// RequestExpired is a request that has exceeded the per-block timeout.
	RequestExpired
)

type blockRequest struct {
	key    BlockKey
	length uint32
	peerID core.PeerID
	sentAt time.Time
}

// RequestManager tracks in-flight block requests across peers, enforcing
// each peer's pipeline budget and the per-block request timeout from
// spec.md §5. It does not send or receive any bytes itself.
type RequestManager struct {
	mu sync.Mutex

	clk     clock.Clock
	timeout time.Duration
	quota   int

	byKey  map[BlockKey]*blockRequest
	byPeer map[core.PeerID]map[BlockKey]*blockRequest
}

// NewRequestManager returns a RequestManager enforcing a per-peer
// pipeline depth of quota outstanding blocks and a per-block timeout.
func NewRequestManager(clk clock.Clock, timeout time.Duration, quota int) *RequestManager {
	return &RequestManager{
		clk:     clk,
		timeout: timeout,
		quota:   quota,
		byKey:   make(map[BlockKey]*blockRequest),
		byPeer:  make(map[core.PeerID]map[BlockKey]*blockRequest),
	}
}

// Quota returns how many additional blocks may currently be requested
// from peerID without exceeding its pipeline budget.
func (m *RequestManager) Quota(peerID core.PeerID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quotaLocked(peerID)
}

func (m *RequestManager) quotaLocked(peerID core.PeerID) int {
	q := m.quota
	for _, r := range m.byPeer[peerID] {
		if !m.expiredLocked(r) {
			q--
		}
	}
	if q < 0 {
		q = 0
	}
	return q
}

// Add records a new outstanding request for (piece, begin) to peerID.
func (m *RequestManager) Add(peerID core.PeerID, key BlockKey, length uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := &blockRequest{key: key, length: length, peerID: peerID, sentAt: m.clk.Now()}
	m.byKey[key] = r
	if _, ok := m.byPeer[peerID]; !ok {
		m.byPeer[peerID] = make(map[BlockKey]*blockRequest)
	}
	m.byPeer[peerID][key] = r
}

// Pending reports whether key already has a non-expired outstanding
// request, regardless of which peer it was sent to.
func (m *RequestManager) Pending(key BlockKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byKey[key]
	return ok && !m.expiredLocked(r)
}

// Complete clears the outstanding request for key if one exists and was
// sent to peerID. It reports whether a matching request was found: a
// false result means the block was unsolicited or duplicate and must be
// discarded without error, per spec.md §4.5.
func (m *RequestManager) Complete(peerID core.PeerID, key BlockKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.byKey[key]
	if !ok || r.peerID != peerID {
		return false
	}
	m.deleteLocked(r)
	return true
}

// ClearPeer discards every outstanding request attributed to peerID, for
// when a connection is dropped or chokes us.
func (m *RequestManager) ClearPeer(peerID core.PeerID) []BlockKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cleared []BlockKey
	for key, r := range m.byPeer[peerID] {
		cleared = append(cleared, key)
		delete(m.byKey, r.key)
	}
	delete(m.byPeer, peerID)
	return cleared
}

// Expired returns every request that has exceeded the configured
// timeout and removes them from tracking so they may be reissued to a
// different peer, per spec.md §5's 30-second per-block timeout.
func (m *RequestManager) Expired() []PeerBlockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []PeerBlockRequest
	for _, r := range m.byKey {
		if m.expiredLocked(r) {
			expired = append(expired, PeerBlockRequest{
				Piece:  r.key.Piece,
				Begin:  r.key.Begin,
				Length: r.length,
				PeerID: r.peerID,
			})
		}
	}
	for _, e := range expired {
		if r, ok := m.byKey[BlockKey{Piece: e.Piece, Begin: e.Begin}]; ok && r.peerID == e.PeerID {
			m.deleteLocked(r)
		}
	}
	return expired
}

// ClearPiece discards every outstanding request for piece, used once a
// piece is confirmed complete or reset back to Missing after a hash
// mismatch.
func (m *RequestManager) ClearPiece(piece int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, r := range m.byKey {
		if key.Piece == piece {
			m.deleteLocked(r)
		}
	}
}

func (m *RequestManager) deleteLocked(r *blockRequest) {
	delete(m.byKey, r.key)
	if pm, ok := m.byPeer[r.peerID]; ok {
		delete(pm, r.key)
		if len(pm) == 0 {
			delete(m.byPeer, r.peerID)
		}
	}
}

func (m *RequestManager) expiredLocked(r *blockRequest) bool {
	return m.clk.Now().After(r.sentAt.Add(m.timeout))
}
