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
	"time"

	"github.com/tchardonnens/vibe-torrent-client/peerwire"
	"github.com/tchardonnens/vibe-torrent-client/progress"
	"github.com/tchardonnens/vibe-torrent-client/scheduler"
	"github.com/tchardonnens/vibe-torrent-client/tracker"
)

// Config bundles every sub-package's configuration the orchestrator
// drives, plus the orchestrator's own knobs from spec.md §6.
type Config struct {
	// MaxPeers caps the number of simultaneously open peer connections.
	MaxPeers int `yaml:"max_peers" validate:"min=0"`
	// AnnounceIntervalOverride, if set, replaces whatever re-announce
	// interval a tracker returns. Re-announcing is optional per spec.md
	// §4.3; this only takes effect if at least one re-announce happens.
	AnnounceIntervalOverride *time.Duration `yaml:"announce_interval_override"`
	// PeerDialTimeout bounds how long a single outbound TCP dial plus
	// handshake may take before being abandoned.
	PeerDialTimeout time.Duration `yaml:"peer_dial_timeout"`

	Scheduler   scheduler.Config   `yaml:"scheduler"`
	PeerWire    peerwire.Config    `yaml:"peer_wire"`
	HTTPTracker tracker.HTTPConfig `yaml:"http_tracker"`
	UDPTracker  tracker.UDPConfig  `yaml:"udp_tracker"`
	Progress    progress.Config    `yaml:"progress"`
}

// ApplyDefaults fills in every zero-valued field, cascading into each
// sub-config's own ApplyDefaults, mirroring the teacher's
// scheduler.Config.applyDefaults convention.
func (c Config) ApplyDefaults() Config {
	if c.MaxPeers == 0 {
		c.MaxPeers = 120
	}
	if c.PeerDialTimeout == 0 {
		c.PeerDialTimeout = 10 * time.Second
	}
	c.Scheduler = c.Scheduler.ApplyDefaults()
	c.PeerWire = c.PeerWire.ApplyDefaults()
	c.HTTPTracker = c.HTTPTracker.ApplyDefaults()
	c.UDPTracker = c.UDPTracker.ApplyDefaults()
	c.Progress = c.Progress.ApplyDefaults()
	return c
}
