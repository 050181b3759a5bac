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

package engine

import (
	"context"

	"github.com/tchardonnens/vibe-torrent-client/peerwire"
	"github.com/tchardonnens/vibe-torrent-client/scheduler"
)

// dialPeer handshakes with addr and, on success, registers the
// connection and starts its message loop. It always releases the dial
// slot reserved for it by fillFromPool.
func (s *session) dialPeer(ctx context.Context, addr string) {
	defer func() {
		s.mu.Lock()
		s.dialing--
		s.mu.Unlock()
		s.wg.Done()
	}()

	nc, hs, err := peerwire.Dial(addr, s.mi.InfoHash, s.eng.peerID, s.eng.config.PeerDialTimeout)
	if err != nil {
		s.eng.logger.Debugw("peer dial failed", "addr", addr, "error", err)
		return
	}

	conn, err := peerwire.NewConn(s.eng.config.PeerWire, s.eng.stats, s.eng.clk, s, nc, s.eng.peerID, hs.PeerID, s.mi.InfoHash, false, s.eng.logger)
	if err != nil {
		nc.Close()
		return
	}

	s.mu.Lock()
	if len(s.conns) >= s.eng.config.MaxPeers {
		s.mu.Unlock()
		nc.Close()
		return
	}
	s.conns[hs.PeerID] = &peerConn{conn: conn}
	s.mu.Unlock()

	s.reporter.PeerConnected(hs.PeerID)
	conn.Start()

	s.wg.Add(1)
	go s.peerLoop(conn)
}

// peerLoop dispatches every message a peer sends us until its connection
// closes. ConnClosed (invoked by the Conn itself) handles deregistration.
func (s *session) peerLoop(conn *peerwire.Conn) {
	defer s.wg.Done()
	for msg := range conn.Receiver() {
		s.handleMessage(conn, msg)
	}
}

func (s *session) handleMessage(conn *peerwire.Conn, msg peerwire.Message) {
	switch msg.ID {
	case peerwire.Bitfield:
		bf, err := peerwire.DecodeBitfield(msg.Payload, uint(s.sched.NumPieces()))
		if err != nil {
			conn.Close()
			return
		}
		s.sched.AddPeer(conn.PeerID(), bf)
		s.updateInterest(conn, bf)

	case peerwire.Have:
		idx, err := msg.HaveIndex()
		if err != nil {
			conn.Close()
			return
		}
		s.sched.PeerHave(conn.PeerID(), int(idx))
		if s.sched.Status(int(idx)) != scheduler.PieceComplete {
			s.setInterest(conn, true)
		}

	case peerwire.Choke:
		conn.State.SetPeerChoking(true)
		s.sched.PeerChoked(conn.PeerID())

	case peerwire.Unchoke:
		conn.State.SetPeerChoking(false)
		s.requestMore(conn)

	case peerwire.Piece:
		s.handlePiece(conn, msg)

	default:
		// No uploading and no post-bootstrap extension traffic: REQUEST,
		// CANCEL, INTERESTED, NOT_INTERESTED and EXTENDED are all ignored.
	}
}

func (s *session) handlePiece(conn *peerwire.Conn, msg peerwire.Message) {
	index, begin, block, err := msg.PieceFields()
	if err != nil {
		conn.Close()
		return
	}

	result, err := s.sched.HandleBlock(conn.PeerID(), int(index), begin, block)
	if err != nil {
		conn.Close()
		return
	}
	if !result.Accepted {
		return
	}

	if result.PieceComplete {
		if err := s.writer.WritePiece(result.PieceIndex, result.PieceData); err != nil {
			if fatal(err) {
				s.finish(err)
				return
			}
			conn.Close()
			return
		}
		s.bytesDone.Add(int64(len(result.PieceData)))
		s.broadcastHave(result.PieceIndex)

		_, _, complete := s.sched.Counts()
		if complete == s.sched.NumPieces() {
			s.finish(nil)
			return
		}
	}

	if result.HashMismatch && result.DisconnectPeer {
		conn.Close()
		return
	}

	s.requestMore(conn)
}

// requestMore tops up conn's in-flight block pipeline from whatever the
// scheduler still wants from this peer.
func (s *session) requestMore(conn *peerwire.Conn) {
	if !conn.State.CanRequest() {
		return
	}
	for _, r := range s.sched.NextRequests(conn.PeerID()) {
		conn.Send(peerwire.NewRequest(uint32(r.Piece), r.Begin, r.Length))
	}
}

// broadcastHave tells every connected peer about a newly completed piece.
func (s *session) broadcastHave(index int) {
	msg := peerwire.NewHave(uint32(index))
	for _, c := range s.connList() {
		c.Send(msg)
	}
}

// updateInterest flips AmInterested based on whether bf advertises any
// piece we still want, per spec.md §4.4.
func (s *session) updateInterest(conn *peerwire.Conn, bf *peerwire.Bitfield) {
	want := false
	for i := uint(0); i < bf.Len(); i++ {
		if bf.Has(i) && s.sched.Status(int(i)) != scheduler.PieceComplete {
			want = true
			break
		}
	}
	s.setInterest(conn, want)
}

func (s *session) setInterest(conn *peerwire.Conn, want bool) {
	if conn.State.AmInterested() == want {
		return
	}
	conn.State.SetAmInterested(want)
	if want {
		conn.Send(peerwire.Message{HasID: true, ID: peerwire.Interested})
		if conn.State.CanRequest() {
			s.requestMore(conn)
		}
	} else {
		conn.Send(peerwire.Message{HasID: true, ID: peerwire.NotInterested})
	}
}
