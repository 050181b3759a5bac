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

package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tchardonnens/vibe-torrent-client/core"
)

func drain(t *testing.T, r *Reporter) Event {
	t.Helper()
	select {
	case e := <-r.Events():
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestReporterEmitsPeriodicProgress(t *testing.T) {
	clk := clock.NewMock()
	r := New(Config{Interval: time.Second, BufferSize: 4}, clk)

	snap := Snapshot{PiecesDone: 1, PiecesTotal: 10, BytesDone: 1024, BytesTotal: 10240}
	r.Start(func() Snapshot { return snap })
	defer r.Stop()

	clk.Add(time.Second)
	e := drain(t, r)
	assert.Equal(t, KindProgress, e.Kind)
	assert.Equal(t, 1, e.PiecesDone)
	assert.Equal(t, 10, e.PiecesTotal)
	assert.EqualValues(t, 1024, e.BytesDone)
}

func TestReporterComputesDownloadRate(t *testing.T) {
	clk := clock.NewMock()
	r := New(Config{Interval: time.Second, BufferSize: 4}, clk)

	bytesDone := int64(0)
	r.Start(func() Snapshot {
		return Snapshot{PiecesDone: 0, PiecesTotal: 1, BytesDone: bytesDone, BytesTotal: 16384}
	})
	defer r.Stop()

	bytesDone = 2000
	clk.Add(time.Second)
	e := drain(t, r)
	assert.InDelta(t, 2000.0, e.DownloadRateBps, 0.001)
}

func TestReporterTracksPeerCounts(t *testing.T) {
	clk := clock.NewMock()
	r := New(Config{Interval: time.Second, BufferSize: 4}, clk)
	r.Start(func() Snapshot { return Snapshot{} })
	defer r.Stop()

	a, err := core.GeneratePeerID()
	require.NoError(t, err)
	b, err := core.GeneratePeerID()
	require.NoError(t, err)

	r.PeerConnected(a)
	r.PeerConnected(b)
	r.PeerDisconnected()

	clk.Add(time.Second)
	e := drain(t, r)
	assert.Equal(t, 1, e.PeersConnected)
	assert.Equal(t, 2, e.PeersTotalSeen)
}

func TestReporterCompletedStopsTicking(t *testing.T) {
	clk := clock.NewMock()
	r := New(Config{Interval: time.Second, BufferSize: 4}, clk)
	r.Start(func() Snapshot { return Snapshot{PiecesDone: 5, PiecesTotal: 5} })

	r.Completed(Snapshot{PiecesDone: 5, PiecesTotal: 5, BytesDone: 100, BytesTotal: 100})
	e := drain(t, r)
	assert.Equal(t, KindCompleted, e.Kind)
	assert.Equal(t, 5, e.PiecesDone)
}

func TestReporterFailedCarriesCause(t *testing.T) {
	clk := clock.NewMock()
	r := New(Config{Interval: time.Second, BufferSize: 4}, clk)
	r.Start(func() Snapshot { return Snapshot{} })

	cause := errors.New("disk full")
	r.Failed(Snapshot{}, cause)
	e := drain(t, r)
	assert.Equal(t, KindFailed, e.Kind)
	assert.Equal(t, cause, e.Cause)
}

func TestReporterDropsOldestProgressWhenBufferFull(t *testing.T) {
	clk := clock.NewMock()
	r := New(Config{Interval: time.Second, BufferSize: 1}, clk)
	snap := Snapshot{PiecesDone: 0, PiecesTotal: 10}
	r.Start(func() Snapshot { return snap })
	defer r.Stop()

	// Two ticks elapse before anyone reads the channel; the buffer (size
	// 1) can only hold the newer update.
	snap.PiecesDone = 1
	clk.Add(time.Second)
	snap.PiecesDone = 2
	clk.Add(time.Second)

	e := drain(t, r)
	assert.Equal(t, 2, e.PiecesDone)
}

func TestReporterTerminalEventAlwaysDelivered(t *testing.T) {
	clk := clock.NewMock()
	r := New(Config{Interval: time.Second, BufferSize: 1}, clk)
	snap := Snapshot{PiecesDone: 0, PiecesTotal: 10}
	r.Start(func() Snapshot { return snap })

	// Fill the one-slot buffer with a progress event nobody reads.
	clk.Add(time.Second)

	r.Completed(Snapshot{PiecesDone: 10, PiecesTotal: 10})
	e := drain(t, r)
	assert.Equal(t, KindCompleted, e.Kind)
}
