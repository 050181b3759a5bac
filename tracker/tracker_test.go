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

package tracker

import (
	"encoding/binary"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tchardonnens/vibe-torrent-client/bencode"
	"github.com/tchardonnens/vibe-torrent-client/core"
)

func testPeerID(t *testing.T) core.PeerID {
	t.Helper()
	p, err := core.GeneratePeerID()
	require.NoError(t, err)
	return p
}

func testInfoHash(t *testing.T) core.InfoHash {
	t.Helper()
	h, err := core.NewInfoHashFromHex("dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c")
	require.NoError(t, err)
	return h
}

func TestParseCompactPeers(t *testing.T) {
	raw := []byte{127, 0, 0, 1, 0x1A, 0xE1, 10, 0, 0, 1, 0x1A, 0xE2}
	peers, err := parseCompactPeers(raw)
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "127.0.0.1", peers[0].IP.String())
	assert.Equal(t, uint16(0x1AE1), peers[0].Port)
	assert.Equal(t, "10.0.0.1", peers[1].IP.String())
}

func TestParseCompactPeersRejectsBadLength(t *testing.T) {
	_, err := parseCompactPeers([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestHTTPClientAnnounceCompact(t *testing.T) {
	peerBytes := []byte{127, 0, 0, 1, 0x1A, 0xE1}
	respBody := bencode.Encode(bencode.NewDict([]bencode.DictEntry{
		{Key: []byte("complete"), Value: bencode.NewInt(3)},
		{Key: []byte("incomplete"), Value: bencode.NewInt(1)},
		{Key: []byte("interval"), Value: bencode.NewInt(1800)},
		{Key: []byte("peers"), Value: bencode.NewString(peerBytes)},
	}))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("compact"))
		assert.Equal(t, "started", r.URL.Query().Get("event"))
		w.Write(respBody)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/announce", HTTPConfig{}, zap.NewNop().Sugar())
	resp, err := c.Announce(Request{
		InfoHash: testInfoHash(t),
		PeerID:   testPeerID(t),
		Port:     6881,
		Left:     100,
		Event:    EventStarted,
	})
	require.NoError(t, err)
	assert.Equal(t, 1800*time.Second, resp.Interval)
	assert.Equal(t, 3, resp.Seeders)
	assert.Equal(t, 1, resp.Leechers)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "127.0.0.1", resp.Peers[0].IP.String())
}

func TestHTTPClientAnnounceFailureReason(t *testing.T) {
	respBody := bencode.Encode(bencode.NewDict([]bencode.DictEntry{
		{Key: []byte("failure reason"), Value: bencode.NewStringFromText("torrent not registered")},
	}))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(respBody)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, HTTPConfig{}, zap.NewNop().Sugar())
	_, err := c.Announce(Request{InfoHash: testInfoHash(t), PeerID: testPeerID(t)})
	var rejected *RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "torrent not registered", rejected.Reason)
}

func TestHTTPClientAnnounceUnreachable(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", HTTPConfig{Timeout: 50 * time.Millisecond}, zap.NewNop().Sugar())
	_, err := c.Announce(Request{InfoHash: testInfoHash(t), PeerID: testPeerID(t)})
	assert.ErrorIs(t, err, ErrTrackerUnreachable)
}

func TestBEP15BackOffSchedule(t *testing.T) {
	b := &bep15BackOff{}
	assert.Equal(t, 15*time.Second, b.NextBackOff())
	assert.Equal(t, 30*time.Second, b.NextBackOff())
	assert.Equal(t, 60*time.Second, b.NextBackOff())
	for i := 0; i < 5; i++ {
		b.NextBackOff()
	}
	assert.Equal(t, -1*time.Nanosecond, b.NextBackOff()) // backoff.Stop
}

// fakeUDPTracker implements just enough of BEP 15 to exercise UDPClient.
func fakeUDPTracker(t *testing.T) *net.UDPConn {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp", addr)
	require.NoError(t, err)

	go func() {
		buf := make([]byte, 2048)
		var connID uint64 = 0xdeadbeefcafebabe
		for {
			n, raddr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			action := binary.BigEndian.Uint32(buf[8:12])
			txID := binary.BigEndian.Uint32(buf[12:16])
			switch action {
			case udpActionConnect:
				resp := make([]byte, 16)
				binary.BigEndian.PutUint32(resp[0:4], udpActionConnect)
				binary.BigEndian.PutUint32(resp[4:8], txID)
				binary.BigEndian.PutUint64(resp[8:16], connID)
				conn.WriteToUDP(resp, raddr)
			case udpActionAnnounce:
				gotConnID := binary.BigEndian.Uint64(buf[0:8])
				if gotConnID != connID {
					continue
				}
				resp := make([]byte, 26)
				binary.BigEndian.PutUint32(resp[0:4], udpActionAnnounce)
				binary.BigEndian.PutUint32(resp[4:8], txID)
				binary.BigEndian.PutUint32(resp[8:12], 1800)
				binary.BigEndian.PutUint32(resp[12:16], 2)
				binary.BigEndian.PutUint32(resp[16:20], 5)
				copy(resp[20:26], []byte{127, 0, 0, 1, 0x1A, 0xE1})
				conn.WriteToUDP(resp, raddr)
			}
			_ = n
		}
	}()
	return conn
}

func TestUDPClientAnnounce(t *testing.T) {
	srv := fakeUDPTracker(t)
	defer srv.Close()

	c := NewUDPClient("udp://"+srv.LocalAddr().String(), UDPConfig{}, clock.New(), zap.NewNop().Sugar())
	resp, err := c.Announce(Request{
		InfoHash: testInfoHash(t),
		PeerID:   testPeerID(t),
		Port:     6881,
		Left:     100,
		Event:    EventStarted,
	})
	require.NoError(t, err)
	assert.Equal(t, 1800*time.Second, resp.Interval)
	assert.Equal(t, 5, resp.Seeders)
	assert.Equal(t, 2, resp.Leechers)
	require.Len(t, resp.Peers, 1)
	assert.Equal(t, "127.0.0.1", resp.Peers[0].IP.String())
	assert.True(t, c.haveConnID)
}
