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

// Package tracker announces to BitTorrent trackers over HTTP(S) and UDP
// (BEP 15) and parses the resulting peer handout.
package tracker

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/tchardonnens/vibe-torrent-client/core"
)

// Event is the lifecycle event reported on an announce, per spec.md §4.3.
type Event string

const (
	// EventNone is sent on a regular interval re-announce.
	EventNone Event = ""
	// EventStarted is sent on the first announce of a download.
	EventStarted Event = "started"
	// EventCompleted is sent once the download finishes.
	EventCompleted Event = "completed"
	// EventStopped is sent when the engine abandons the download.
	EventStopped Event = "stopped"
)

// Request is the set of parameters common to both announce schemes.
type Request struct {
	InfoHash   core.InfoHash
	PeerID     core.PeerID
	Port       uint16
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
	NumWant    int
}

// PeerInfo is one peer returned in a tracker's announce response.
type PeerInfo struct {
	IP     net.IP
	Port   uint16
	PeerID core.PeerID // zero value if the tracker omitted it (compact form)
}

// Addr renders the peer's dialable address.
func (p PeerInfo) Addr() string {
	return net.JoinHostPort(p.IP.String(), fmt.Sprintf("%d", p.Port))
}

// Response is a successful announce result.
type Response struct {
	Interval time.Duration
	Peers    []PeerInfo
	Seeders  int
	Leechers int
}

// ErrTrackerUnreachable is returned when the tracker could not be reached
// at all (network error, DNS failure, connection timeout).
var ErrTrackerUnreachable = errors.New("tracker: unreachable")

// ErrMalformedResponse is returned when the tracker replied but its
// response could not be parsed as a valid announce response.
var ErrMalformedResponse = errors.New("tracker: malformed response")

// RejectedError is returned when the tracker explicitly rejected the
// announce, carrying its stated reason.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("tracker: rejected: %s", e.Reason)
}

// Client announces to a single tracker URL.
type Client interface {
	Announce(req Request) (*Response, error)
}
