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

package peerwire

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/tchardonnens/vibe-torrent-client/core"
)

// Config configures a Conn's buffering and timeouts.
type Config struct {
	SenderBufferSize   int           `yaml:"sender_buffer_size"`
	ReceiverBufferSize int           `yaml:"receiver_buffer_size"`
	KeepAliveInterval  time.Duration `yaml:"keep_alive_interval"`
	// ReadTimeout bounds how long a Conn waits for any message (including
	// keep-alives) before it considers the peer dead. Per convention this
	// is 2 minutes, matching mainline clients.
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// ApplyDefaults fills in unset fields with their zero-value-safe defaults.
func (c Config) ApplyDefaults() Config {
	if c.SenderBufferSize == 0 {
		c.SenderBufferSize = 50
	}
	if c.ReceiverBufferSize == 0 {
		c.ReceiverBufferSize = 50
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 90 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 2 * time.Minute
	}
	return c
}

// Events defines the callbacks a Conn's owner receives.
type Events interface {
	ConnClosed(*Conn)
}

// Conn manages a single established peer connection: handshake already
// complete, now exchanging framed messages. Reads and writes happen on
// dedicated goroutines; callers interact only through Send and Receiver.
type Conn struct {
	peerID      core.PeerID
	infoHash    core.InfoHash
	localPeerID core.PeerID
	createdAt   time.Time

	State *State

	events Events

	nc     net.Conn
	config Config
	clk    clock.Clock
	stats  tally.Scope

	openedByRemote bool

	startOnce sync.Once

	sender   chan Message
	receiver chan Message

	closed *atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup

	logger *zap.SugaredLogger
}

// NewConn wraps an already-handshaken net.Conn.
func NewConn(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	events Events,
	nc net.Conn,
	localPeerID core.PeerID,
	remotePeerID core.PeerID,
	infoHash core.InfoHash,
	openedByRemote bool,
	logger *zap.SugaredLogger) (*Conn, error) {

	config = config.ApplyDefaults()

	if err := nc.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("set deadline: %s", err)
	}

	c := &Conn{
		peerID:         remotePeerID,
		infoHash:       infoHash,
		localPeerID:    localPeerID,
		createdAt:      clk.Now(),
		State:          NewState(),
		events:         events,
		nc:             nc,
		config:         config,
		clk:            clk,
		stats:          stats,
		openedByRemote: openedByRemote,
		sender:         make(chan Message, config.SenderBufferSize),
		receiver:       make(chan Message, config.ReceiverBufferSize),
		closed:         atomic.NewBool(false),
		done:           make(chan struct{}),
		logger:         logger,
	}
	return c, nil
}

// Start starts the read and write loops. Safe to call at most once.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(2)
		go c.readLoop()
		go c.writeLoop()
	})
}

// PeerID returns the remote peer's id.
func (c *Conn) PeerID() core.PeerID { return c.peerID }

// InfoHash returns the torrent this connection serves.
func (c *Conn) InfoHash() core.InfoHash { return c.infoHash }

// CreatedAt returns when the Conn was constructed.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

func (c *Conn) String() string {
	return fmt.Sprintf("Conn(peer=%s, hash=%s, opened_by_remote=%t)", c.peerID, c.infoHash, c.openedByRemote)
}

// Send enqueues msg for delivery. Returns an error if the connection is
// closed or the send buffer is full.
func (c *Conn) Send(msg Message) error {
	select {
	case <-c.done:
		return errors.New("peerwire: conn closed")
	case c.sender <- msg:
		return nil
	default:
		c.stats.Tagged(map[string]string{
			"dropped_message_type": idTag(msg),
		}).Counter("dropped_messages").Inc(1)
		return errors.New("peerwire: send buffer full")
	}
}

// Receiver returns the channel of messages read off the connection. It is
// closed when the connection closes.
func (c *Conn) Receiver() <-chan Message {
	return c.receiver
}

// Close begins the connection's shutdown sequence. Idempotent.
func (c *Conn) Close() {
	if !c.closed.CAS(false, true) {
		return
	}
	go func() {
		close(c.done)
		c.nc.Close()
		c.wg.Wait()
		if c.events != nil {
			c.events.ConnClosed(c)
		}
	}()
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

func (c *Conn) readLoop() {
	defer func() {
		close(c.receiver)
		c.wg.Done()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		default:
			if err := c.nc.SetReadDeadline(c.clk.Now().Add(c.config.ReadTimeout)); err != nil {
				c.log().Infof("Error setting read deadline, exiting read loop: %s", err)
				return
			}
			msg, err := readMessage(c.nc)
			if err != nil {
				c.log().Infof("Error reading message from socket, exiting read loop: %s", err)
				return
			}
			if !msg.HasID {
				continue // Keep-alive: nothing to deliver.
			}
			c.stats.Tagged(map[string]string{"message_type": msg.ID.String()}).Counter("messages_received").Inc(1)
			select {
			case c.receiver <- msg:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Conn) writeLoop() {
	defer func() {
		c.wg.Done()
		c.Close()
	}()
	ticker := c.clk.Ticker(c.config.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := sendMessageWithTimeout(c.nc, KeepAlive, c.config.ReadTimeout); err != nil {
				c.log().Infof("Error writing keep-alive, exiting write loop: %s", err)
				return
			}
		case msg := <-c.sender:
			if err := sendMessageWithTimeout(c.nc, msg, c.config.ReadTimeout); err != nil {
				c.log().Infof("Error writing message to socket, exiting write loop: %s", err)
				return
			}
			c.stats.Tagged(map[string]string{"message_type": idTag(msg)}).Counter("messages_sent").Inc(1)
		}
	}
}

func idTag(msg Message) string {
	if !msg.HasID {
		return "keep_alive"
	}
	return msg.ID.String()
}

func (c *Conn) log(keysAndValues ...interface{}) *zap.SugaredLogger {
	keysAndValues = append(keysAndValues, "remote_peer", c.peerID, "hash", c.infoHash)
	return c.logger.With(keysAndValues...)
}
