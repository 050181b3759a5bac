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

import "sync"

// State holds the four independent choke/interest flags spec.md §4.5
// describes for a single peer connection. Not safe for concurrent use
// without the mutex this type itself provides.
type State struct {
	mu sync.Mutex

	// amChoking is true while we are choking the peer. Connections start
	// choking.
	amChoking bool
	// amInterested is true while we want pieces the peer has. Connections
	// start not interested.
	amInterested bool
	// peerChoking is true while the peer is choking us.
	peerChoking bool
	// peerInterested is true while the peer wants pieces we have.
	peerInterested bool
}

// NewState returns a State in the BitTorrent initial configuration: both
// sides choking, neither side interested.
func NewState() *State {
	return &State{amChoking: true, peerChoking: true}
}

// AmChoking reports whether we are choking the peer.
func (s *State) AmChoking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.amChoking
}

// SetAmChoking updates whether we are choking the peer.
func (s *State) SetAmChoking(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.amChoking = v
}

// AmInterested reports whether we are interested in the peer.
func (s *State) AmInterested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.amInterested
}

// SetAmInterested updates whether we are interested in the peer.
func (s *State) SetAmInterested(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.amInterested = v
}

// PeerChoking reports whether the peer is choking us.
func (s *State) PeerChoking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerChoking
}

// SetPeerChoking updates whether the peer is choking us.
func (s *State) SetPeerChoking(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerChoking = v
}

// PeerInterested reports whether the peer is interested in us.
func (s *State) PeerInterested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerInterested
}

// SetPeerInterested updates whether the peer is interested in us.
func (s *State) SetPeerInterested(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerInterested = v
}

// CanRequest reports whether we are currently permitted to send REQUEST
// messages to the peer: we must be interested and the peer must not be
// choking us.
func (s *State) CanRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.amInterested && !s.peerChoking
}
