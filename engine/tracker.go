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
	"fmt"
	"net/url"

	"github.com/tchardonnens/vibe-torrent-client/core"
	"github.com/tchardonnens/vibe-torrent-client/tracker"
)

// announceAll tries each tracker URL in order (tiers already flattened by
// the caller) and returns the first successful response's peer addresses.
// Per spec.md §4.3, this engine uses the first successful tracker and its
// initial peer set; it does not fall back across every URL once one
// succeeds, and does not re-announce.
func (e *Engine) announceAll(infoHash core.InfoHash, left int64, urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: torrent has no announce urls", ErrBadInput)
	}

	req := tracker.Request{
		InfoHash: infoHash,
		PeerID:   e.peerID,
		Port:     0, // This engine never accepts inbound connections.
		Left:     left,
		Event:    tracker.EventStarted,
		NumWant:  200,
	}

	var lastErr error
	for _, raw := range urls {
		client, err := e.trackerClientFor(raw)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := client.Announce(req)
		if err != nil {
			e.logger.Infow("tracker announce failed, trying next", "url", raw, "error", err)
			lastErr = err
			continue
		}
		addrs := make([]string, 0, len(resp.Peers))
		for _, p := range resp.Peers {
			addrs = append(addrs, p.Addr())
		}
		return addrs, nil
	}
	if lastErr == nil {
		lastErr = tracker.ErrTrackerUnreachable
	}
	return nil, fmt.Errorf("engine: every tracker failed: %w", lastErr)
}

func (e *Engine) trackerClientFor(rawURL string) (tracker.Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse tracker url %q: %s", tracker.ErrMalformedResponse, rawURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		return tracker.NewHTTPClient(rawURL, e.config.HTTPTracker, e.logger), nil
	case "udp":
		return tracker.NewUDPClient(rawURL, e.config.UDPTracker, e.clk, e.logger), nil
	default:
		return nil, fmt.Errorf("%w: unsupported tracker scheme %q", tracker.ErrMalformedResponse, u.Scheme)
	}
}
