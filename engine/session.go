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
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/tchardonnens/vibe-torrent-client/core"
	"github.com/tchardonnens/vibe-torrent-client/metainfo"
	"github.com/tchardonnens/vibe-torrent-client/peerwire"
	"github.com/tchardonnens/vibe-torrent-client/progress"
	"github.com/tchardonnens/vibe-torrent-client/scheduler"
	"github.com/tchardonnens/vibe-torrent-client/storage"
)

// peerConn bundles an established wire connection with the bookkeeping a
// session needs per peer.
type peerConn struct {
	conn *peerwire.Conn
}

// session drives a single download from a resolved MetaInfo to
// completion: it owns the peer pool, feeds the scheduler, and writes
// verified pieces to storage. One session exists per Engine.Run call.
//
// Unlike the teacher's scheduler, which serializes every mutation through
// a dedicated event-loop goroutine, session lets each peer's own
// goroutine call directly into scheduler.Scheduler: the Scheduler already
// guards all of its state behind its own mutex, so a second layer of
// serialization here would only add latency without adding safety.
type session struct {
	eng      *Engine
	mi       *metainfo.MetaInfo
	sched    *scheduler.Scheduler
	writer   *storage.Writer
	reporter *progress.Reporter

	bytesDone *atomic.Int64

	ctx context.Context

	mu      sync.Mutex
	conns   map[core.PeerID]*peerConn
	dialing int

	poolMu sync.Mutex
	pool   []string
	dialed map[string]bool

	wg         sync.WaitGroup
	resultCh   chan error
	finishOnce sync.Once
}

func newSession(eng *Engine, mi *metainfo.MetaInfo, sched *scheduler.Scheduler, writer *storage.Writer, reporter *progress.Reporter) *session {
	return &session{
		eng:       eng,
		mi:        mi,
		sched:     sched,
		writer:    writer,
		reporter:  reporter,
		bytesDone: atomic.NewInt64(0),
		conns:     make(map[core.PeerID]*peerConn),
		dialed:    make(map[string]bool),
		resultCh:  make(chan error, 1),
	}
}

// run dials addrs, drives the download to completion, and returns either
// nil (every piece verified and written), ErrInterrupted (parent
// cancelled), or the fatal error that ended the session.
func (s *session) run(parent context.Context, addrs []string) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	s.ctx = ctx

	s.reporter.Start(s.snapshot)
	s.pool = addrs
	s.fillFromPool(ctx)

	ticker := s.eng.clk.Ticker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-parent.Done():
			s.closeAll()
			s.wg.Wait()
			s.reporter.Failed(s.snapshot(), ErrInterrupted)
			return ErrInterrupted
		case err := <-s.resultCh:
			cancel()
			s.closeAll()
			s.wg.Wait()
			if err != nil {
				s.reporter.Failed(s.snapshot(), err)
			} else {
				s.reporter.Completed(s.snapshot())
			}
			return err
		case <-ticker.C:
			s.pump()
		}
	}
}

// finish records the session's terminal outcome. Only the first call
// takes effect; later calls (e.g. a second peer racing to report the
// same disk error) are no-ops.
func (s *session) finish(err error) {
	s.finishOnce.Do(func() {
		s.resultCh <- err
	})
}

// pump expires stale block requests and tops up every connected,
// unchoked peer's request pipeline. Called once a second so a peer that
// never sends us another message still gets its freed-up quota reused,
// per spec.md §5's 30-second block timeout.
func (s *session) pump() {
	s.sched.Timeouts()
	for _, c := range s.connList() {
		s.requestMore(c)
	}
}

func (s *session) connList() []*peerwire.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peerwire.Conn, 0, len(s.conns))
	for _, pc := range s.conns {
		out = append(out, pc.conn)
	}
	return out
}

func (s *session) closeAll() {
	for _, c := range s.connList() {
		c.Close()
	}
}

func (s *session) snapshot() progress.Snapshot {
	_, _, complete := s.sched.Counts()
	return progress.Snapshot{
		PiecesDone:  complete,
		PiecesTotal: s.sched.NumPieces(),
		BytesDone:   s.bytesDone.Load(),
		BytesTotal:  s.mi.Info.Total,
	}
}

// fillFromPool dials candidates from the remaining peer pool until the
// connection cap is reached or the pool is exhausted. Safe to call
// concurrently from ConnClosed as connections free up slots.
func (s *session) fillFromPool(ctx context.Context) {
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	for len(s.pool) > 0 {
		addr := s.pool[0]
		if s.dialed[addr] {
			s.pool = s.pool[1:]
			continue
		}
		s.mu.Lock()
		full := len(s.conns)+s.dialing >= s.eng.config.MaxPeers
		if !full {
			s.dialing++
		}
		s.mu.Unlock()
		if full {
			return
		}
		s.pool = s.pool[1:]
		s.dialed[addr] = true
		s.wg.Add(1)
		go s.dialPeer(ctx, addr)
	}
}

// ConnClosed implements peerwire.Events: it unregisters the peer from the
// scheduler and tries to dial a replacement from the remaining pool.
func (s *session) ConnClosed(c *peerwire.Conn) {
	s.mu.Lock()
	delete(s.conns, c.PeerID())
	s.mu.Unlock()

	s.sched.RemovePeer(c.PeerID())
	s.reporter.PeerDisconnected()
	s.fillFromPool(s.ctx)
}
