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

// Package progress reports download progress to the caller at a steady
// cadence, per spec.md §4.9.
package progress

import (
	"sync"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/tchardonnens/vibe-torrent-client/core"
)

// Kind distinguishes a running progress update from the two terminal
// event kinds.
type Kind int

const (
	// KindProgress is a routine, periodic status update.
	KindProgress Kind = iota
	// KindCompleted is emitted exactly once, when every piece has
	// verified successfully.
	KindCompleted
	// KindFailed is emitted exactly once, when the download has
	// terminated with a fatal error.
	KindFailed
)

// Event is a single progress update or terminal notification.
type Event struct {
	Kind Kind

	PiecesDone  int
	PiecesTotal int
	BytesDone   int64
	BytesTotal  int64

	PeersConnected int
	PeersTotalSeen int

	DownloadRateBps float64
	ElapsedS        float64

	// Cause is set only for KindFailed.
	Cause error
}

// Snapshot is the caller-supplied view of download state a Reporter
// polls on each tick.
type Snapshot struct {
	PiecesDone  int
	PiecesTotal int
	BytesDone   int64
	BytesTotal  int64
}

// SnapshotFunc returns the current download state.
type SnapshotFunc func() Snapshot

// Config configures a Reporter's cadence and buffering.
type Config struct {
	// Interval is how often progress events are emitted while active.
	// Per spec.md §4.9, this must be at least once per second.
	Interval time.Duration
	// BufferSize bounds the channel of pending events.
	BufferSize int
}

// ApplyDefaults fills in unset fields.
func (c Config) ApplyDefaults() Config {
	if c.Interval == 0 {
		c.Interval = time.Second
	}
	if c.BufferSize == 0 {
		c.BufferSize = 16
	}
	return c
}

// Reporter periodically polls a SnapshotFunc and emits Events on a
// bounded channel. When the channel is full, a new progress update
// displaces the oldest buffered one rather than blocking the caller;
// terminal events (Completed/Failed) always displace something to get
// through, per spec.md §4.9's "bounded event channel with
// oldest-non-essential-event-drop" policy.
type Reporter struct {
	mu sync.Mutex

	config    Config
	clk       clock.Clock
	startedAt time.Time

	peersConnected int
	peersSeen      map[core.PeerID]bool

	lastBytesDone int64
	lastTick      time.Time

	out  chan Event
	done chan struct{}
	wg   sync.WaitGroup
}

// New returns a Reporter, ready to Start once a torrent download
// begins.
func New(config Config, clk clock.Clock) *Reporter {
	config = config.ApplyDefaults()
	return &Reporter{
		config:    config,
		clk:       clk,
		peersSeen: make(map[core.PeerID]bool),
		out:       make(chan Event, config.BufferSize),
		done:      make(chan struct{}),
	}
}

// Events returns the channel of emitted events.
func (r *Reporter) Events() <-chan Event {
	return r.out
}

// PeerConnected records a newly established connection.
func (r *Reporter) PeerConnected(peerID core.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peersConnected++
	r.peersSeen[peerID] = true
}

// PeerDisconnected records a connection going away.
func (r *Reporter) PeerDisconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peersConnected > 0 {
		r.peersConnected--
	}
}

// Start begins the periodic tick loop, polling snapshot on each tick.
func (r *Reporter) Start(snapshot SnapshotFunc) {
	r.startedAt = r.clk.Now()
	r.lastTick = r.startedAt
	r.wg.Add(1)
	go r.run(snapshot)
}

func (r *Reporter) run(snapshot SnapshotFunc) {
	defer r.wg.Done()
	ticker := r.clk.Ticker(r.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.tick(snapshot())
		}
	}
}

func (r *Reporter) tick(snap Snapshot) {
	r.mu.Lock()
	now := r.clk.Now()
	elapsed := now.Sub(r.lastTick)
	var rate float64
	if elapsed > 0 {
		rate = float64(snap.BytesDone-r.lastBytesDone) / elapsed.Seconds()
	}
	r.lastBytesDone = snap.BytesDone
	r.lastTick = now
	event := Event{
		Kind:            KindProgress,
		PiecesDone:      snap.PiecesDone,
		PiecesTotal:     snap.PiecesTotal,
		BytesDone:       snap.BytesDone,
		BytesTotal:      snap.BytesTotal,
		PeersConnected:  r.peersConnected,
		PeersTotalSeen:  len(r.peersSeen),
		DownloadRateBps: rate,
		ElapsedS:        now.Sub(r.startedAt).Seconds(),
	}
	r.mu.Unlock()

	r.emit(event)
}

// Completed emits the terminal success event and stops the tick loop.
func (r *Reporter) Completed(snap Snapshot) {
	r.mu.Lock()
	elapsed := r.clk.Now().Sub(r.startedAt).Seconds()
	event := Event{
		Kind:           KindCompleted,
		PiecesDone:     snap.PiecesDone,
		PiecesTotal:    snap.PiecesTotal,
		BytesDone:      snap.BytesDone,
		BytesTotal:     snap.BytesTotal,
		PeersConnected: r.peersConnected,
		PeersTotalSeen: len(r.peersSeen),
		ElapsedS:       elapsed,
	}
	r.mu.Unlock()

	r.emit(event)
	r.Stop()
}

// Failed emits the terminal failure event and stops the tick loop.
func (r *Reporter) Failed(snap Snapshot, cause error) {
	r.mu.Lock()
	elapsed := r.clk.Now().Sub(r.startedAt).Seconds()
	event := Event{
		Kind:           KindFailed,
		PiecesDone:     snap.PiecesDone,
		PiecesTotal:    snap.PiecesTotal,
		BytesDone:      snap.BytesDone,
		BytesTotal:     snap.BytesTotal,
		PeersConnected: r.peersConnected,
		PeersTotalSeen: len(r.peersSeen),
		ElapsedS:       elapsed,
		Cause:          cause,
	}
	r.mu.Unlock()

	r.emit(event)
	r.Stop()
}

// Stop halts the tick loop. Idempotent.
func (r *Reporter) Stop() {
	select {
	case <-r.done:
		return
	default:
		close(r.done)
	}
	r.wg.Wait()
}

func (r *Reporter) emit(e Event) {
	select {
	case r.out <- e:
		return
	default:
	}
	// Buffer full: make room by discarding the oldest queued event, then
	// retry once. This always succeeds for a terminal event (there is
	// nothing more important already queued to protect), and for a
	// progress update it simply means the consumer is behind and an
	// older, now-stale update is the one that gets dropped.
	select {
	case <-r.out:
	default:
	}
	select {
	case r.out <- e:
	default:
	}
}
