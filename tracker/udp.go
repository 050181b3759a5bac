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
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

const (
	udpProtocolMagic  uint64 = 0x41727101980
	udpActionConnect  uint32 = 0
	udpActionAnnounce uint32 = 1
	udpActionError    uint32 = 3

	udpConnectionIDTTL = 60 * time.Second
	udpMaxAttempts     = 8
)

// bep15BackOff implements backoff.BackOff with BEP 15's 15*2^n-second
// schedule for n = 0..udpMaxAttempts-1, then stops. backoff.Retry uses
// these values as the pauses between sends, so a request goes out at most
// udpMaxAttempts+1 times; each send waits 2 seconds for a reply (see
// connect and announce), not 15*2^n seconds.
type bep15BackOff struct {
	attempt int
}

func (b *bep15BackOff) NextBackOff() time.Duration {
	if b.attempt >= udpMaxAttempts {
		return backoff.Stop
	}
	d := time.Duration(15<<uint(b.attempt)) * time.Second
	b.attempt++
	return d
}

func (b *bep15BackOff) Reset() {
	b.attempt = 0
}

// UDPConfig configures a UDPClient.
type UDPConfig struct {
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// ApplyDefaults fills in unset fields with their zero-value-safe defaults.
func (c UDPConfig) ApplyDefaults() UDPConfig {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

// UDPClient announces over UDP per BEP 15 (spec.md §4.3).
type UDPClient struct {
	config       UDPConfig
	announceURL  string
	clk          clock.Clock
	logger       *zap.SugaredLogger
	connID       uint64
	connIDSetAt  time.Time
	haveConnID   bool
}

// NewUDPClient returns a Client that announces to announceURL (a
// "udp://host:port/..." URL).
func NewUDPClient(announceURL string, config UDPConfig, clk clock.Clock, logger *zap.SugaredLogger) *UDPClient {
	return &UDPClient{
		config:      config.ApplyDefaults(),
		announceURL: announceURL,
		clk:         clk,
		logger:      logger,
	}
}

// Announce implements Client.
func (c *UDPClient) Announce(req Request) (*Response, error) {
	u, err := url.Parse(c.announceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse announce url: %s", ErrMalformedResponse, err)
	}

	conn, err := net.DialTimeout("udp", u.Host, c.config.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %s", ErrTrackerUnreachable, err)
	}
	defer conn.Close()
	udpConn := conn.(*net.UDPConn)

	if !c.haveConnID || c.clk.Now().Sub(c.connIDSetAt) >= udpConnectionIDTTL {
		connID, err := c.connect(udpConn)
		if err != nil {
			return nil, err
		}
		c.connID = connID
		c.connIDSetAt = c.clk.Now()
		c.haveConnID = true
	}

	return c.announce(udpConn, req)
}

func (c *UDPClient) connect(conn *net.UDPConn) (uint64, error) {
	txID := rand.Uint32()
	pkt := make([]byte, 16)
	binary.BigEndian.PutUint64(pkt[0:8], udpProtocolMagic)
	binary.BigEndian.PutUint32(pkt[8:12], udpActionConnect)
	binary.BigEndian.PutUint32(pkt[12:16], txID)

	var connID uint64
	op := func() error {
		if _, err := conn.Write(pkt); err != nil {
			return fmt.Errorf("%w: write connect: %s", ErrTrackerUnreachable, err)
		}
		resp := make([]byte, 16)
		conn.SetReadDeadline(c.clk.Now().Add(2 * time.Second))
		n, err := conn.Read(resp)
		if err != nil {
			return fmt.Errorf("%w: read connect response: %s", ErrTrackerUnreachable, err)
		}
		if n < 16 {
			return fmt.Errorf("%w: connect response too short", ErrMalformedResponse)
		}
		action := binary.BigEndian.Uint32(resp[0:4])
		gotTxID := binary.BigEndian.Uint32(resp[4:8])
		if gotTxID != txID {
			return fmt.Errorf("%w: connect transaction id mismatch", ErrMalformedResponse)
		}
		if action == udpActionError {
			return backoff.Permanent(&RejectedError{Reason: string(resp[8:n])})
		}
		if action != udpActionConnect {
			return fmt.Errorf("%w: unexpected connect action %d", ErrMalformedResponse, action)
		}
		connID = binary.BigEndian.Uint64(resp[8:16])
		return nil
	}
	if err := backoff.Retry(op, &bep15BackOff{}); err != nil {
		return 0, err
	}
	return connID, nil
}

func (c *UDPClient) announce(conn *net.UDPConn, req Request) (*Response, error) {
	txID := rand.Uint32()
	pkt := make([]byte, 98)
	binary.BigEndian.PutUint64(pkt[0:8], c.connID)
	binary.BigEndian.PutUint32(pkt[8:12], udpActionAnnounce)
	binary.BigEndian.PutUint32(pkt[12:16], txID)
	copy(pkt[16:36], req.InfoHash.Bytes())
	copy(pkt[36:56], req.PeerID.Bytes())
	binary.BigEndian.PutUint64(pkt[56:64], uint64(req.Downloaded))
	binary.BigEndian.PutUint64(pkt[64:72], uint64(req.Left))
	binary.BigEndian.PutUint64(pkt[72:80], uint64(req.Uploaded))
	binary.BigEndian.PutUint32(pkt[80:84], udpEventCode(req.Event))
	binary.BigEndian.PutUint32(pkt[84:88], 0) // IP address: default
	binary.BigEndian.PutUint32(pkt[88:92], rand.Uint32())
	numWant := int32(-1)
	if req.NumWant > 0 {
		numWant = int32(req.NumWant)
	}
	binary.BigEndian.PutUint32(pkt[92:96], uint32(numWant))
	binary.BigEndian.PutUint16(pkt[96:98], req.Port)

	var result *Response
	op := func() error {
		if _, err := conn.Write(pkt); err != nil {
			return fmt.Errorf("%w: write announce: %s", ErrTrackerUnreachable, err)
		}
		resp := make([]byte, 65536)
		conn.SetReadDeadline(c.clk.Now().Add(2 * time.Second))
		n, err := conn.Read(resp)
		if err != nil {
			return fmt.Errorf("%w: read announce response: %s", ErrTrackerUnreachable, err)
		}
		if n < 20 {
			return fmt.Errorf("%w: announce response too short", ErrMalformedResponse)
		}
		action := binary.BigEndian.Uint32(resp[0:4])
		gotTxID := binary.BigEndian.Uint32(resp[4:8])
		if gotTxID != txID {
			return fmt.Errorf("%w: announce transaction id mismatch", ErrMalformedResponse)
		}
		if action == udpActionError {
			return backoff.Permanent(&RejectedError{Reason: string(resp[8:n])})
		}
		if action != udpActionAnnounce {
			return fmt.Errorf("%w: unexpected announce action %d", ErrMalformedResponse, action)
		}
		peers, err := parseCompactPeers(resp[20:n])
		if err != nil {
			return err
		}
		result = &Response{
			Interval: time.Duration(binary.BigEndian.Uint32(resp[8:12])) * time.Second,
			Leechers: int(binary.BigEndian.Uint32(resp[12:16])),
			Seeders:  int(binary.BigEndian.Uint32(resp[16:20])),
			Peers:    peers,
		}
		return nil
	}
	if err := backoff.Retry(op, &bep15BackOff{}); err != nil {
		return nil, err
	}
	return result, nil
}

func udpEventCode(e Event) uint32 {
	switch e {
	case EventCompleted:
		return 1
	case EventStarted:
		return 2
	case EventStopped:
		return 3
	default:
		return 0
	}
}
