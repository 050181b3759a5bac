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
	"net"
)

// parseIPText parses the dotted-decimal or IPv6 address a tracker sends in
// the non-compact, dictionary peer-list form. An unparsable value degrades
// to nil rather than failing the whole announce.
func parseIPText(s string) net.IP {
	return net.ParseIP(s)
}

// parseCompactPeers decodes the 6-bytes-per-peer (4 bytes IPv4, 2 bytes
// big-endian port) binary form both the HTTP and UDP announce schemes use.
func parseCompactPeers(b []byte) ([]PeerInfo, error) {
	if len(b)%6 != 0 {
		return nil, fmt.Errorf("%w: compact peer list length %d is not a multiple of 6", ErrMalformedResponse, len(b))
	}
	peers := make([]PeerInfo, 0, len(b)/6)
	for i := 0; i+6 <= len(b); i += 6 {
		ip := net.IPv4(b[i], b[i+1], b[i+2], b[i+3])
		port := binary.BigEndian.Uint16(b[i+4 : i+6])
		peers = append(peers, PeerInfo{IP: ip, Port: port})
	}
	return peers, nil
}
