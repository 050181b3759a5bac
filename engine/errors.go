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
	"errors"

	"github.com/tchardonnens/vibe-torrent-client/metainfo"
	"github.com/tchardonnens/vibe-torrent-client/storage"
)

// ErrBadInput is returned when the torrent source cannot be parsed as
// either a metainfo file or a magnet URI.
var ErrBadInput = errors.New("engine: bad input")

// ErrInterrupted is returned when the caller's context is cancelled before
// the download completes.
var ErrInterrupted = errors.New("engine: interrupted")

// ErrNoUsablePeers is returned when the tracker announce made to fetch a
// magnet link's metadata returns no peers.
var ErrNoUsablePeers = errors.New("engine: no usable peers")

// ExitCode maps a Run error to the process exit code described in
// spec.md §6: 0 for a clean download, 1 for a fatal engine error, 2 for
// unparseable input, 130 for a user interrupt.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInterrupted):
		return 130
	case errors.Is(err, ErrBadInput),
		errors.Is(err, metainfo.ErrMalformed),
		errors.Is(err, metainfo.ErrInvalidMagnet):
		return 2
	default:
		return 1
	}
}

// fatal reports whether err should abort the whole session rather than be
// handled in-line, per spec.md §7. Piece hash mismatches, block timeouts,
// and individual peer/tracker failures never reach this function; only
// the handful of unrecoverable conditions below do.
func fatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, storage.ErrDiskFull) ||
		errors.Is(err, storage.ErrIO) ||
		errors.Is(err, ErrNoUsablePeers)
}
