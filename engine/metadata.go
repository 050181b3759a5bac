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
	"context"
	"fmt"
	"sync"

	"github.com/tchardonnens/vibe-torrent-client/core"
	"github.com/tchardonnens/vibe-torrent-client/metadatafetch"
	"github.com/tchardonnens/vibe-torrent-client/metainfo"
	"github.com/tchardonnens/vibe-torrent-client/peerwire"
	"github.com/tchardonnens/vibe-torrent-client/progress"
)

// maxMetadataPeers bounds how many peers are dialed in parallel while
// fetching an info dict for a magnet source.
const maxMetadataPeers = 8

// bootstrapMagnet resolves a magnet source by announcing to its trackers,
// then fetching the info dict from peers via BEP 9, per spec.md §4.6.
func (e *Engine) bootstrapMagnet(ctx context.Context, source string, reporter *progress.Reporter) (*metainfo.MetaInfo, []string, error) {
	m, err := metainfo.ParseMagnet(source)
	if err != nil {
		return nil, nil, fmt.Errorf("%w", err)
	}
	if len(m.Trackers) == 0 {
		return nil, nil, fmt.Errorf("%w: magnet uri has no trackers (DHT/PEX are not supported)", ErrBadInput)
	}

	addrs, err := e.announceAll(m.InfoHash, 0, m.Trackers)
	if err != nil {
		return nil, nil, err
	}
	if len(addrs) == 0 {
		return nil, nil, fmt.Errorf("%w: tracker returned no peers for metadata fetch", ErrNoUsablePeers)
	}

	info, err := e.fetchMetadata(ctx, m.InfoHash, addrs)
	if err != nil {
		return nil, nil, err
	}

	mi := &metainfo.MetaInfo{
		Info:     *info,
		InfoHash: m.InfoHash,
		Announce: m.Trackers[0],
	}
	for _, t := range m.Trackers {
		mi.AnnounceList = append(mi.AnnounceList, []string{t})
	}
	mi.WebSeeds = m.WebSeeds
	return mi, addrs, nil
}

// metadataFetchState coordinates the Assembler across several
// concurrently dialed peers: the first peer to report a metadata_size
// creates it; every peer afterwards shares the same instance.
type metadataFetchState struct {
	mu        sync.Mutex
	assembler *metadatafetch.Assembler
}

func (s *metadataFetchState) get(infoHash core.InfoHash, totalSize int64, e *Engine) *metadatafetch.Assembler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assembler == nil {
		s.assembler = metadatafetch.NewAssembler(infoHash, totalSize, e.logger)
	}
	return s.assembler
}

func (e *Engine) fetchMetadata(ctx context.Context, infoHash core.InfoHash, addrs []string) (*metainfo.Info, error) {
	n := len(addrs)
	if n > maxMetadataPeers {
		n = maxMetadataPeers
	}

	state := &metadataFetchState{}
	result := make(chan *metainfo.Info, n)
	errs := make(chan error, n)

	var wg sync.WaitGroup
	metaCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, addr := range addrs[:n] {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			info, err := e.fetchMetadataFromPeer(metaCtx, addr, infoHash, state)
			if err != nil {
				errs <- err
				return
			}
			if info != nil {
				result <- info
			}
		}(addr)
	}
	go func() {
		wg.Wait()
		close(result)
		close(errs)
	}()

	var lastErr error
	for {
		select {
		case info, ok := <-result:
			if !ok {
				result = nil
				break
			}
			return info, nil
		case err, ok := <-errs:
			if !ok {
				errs = nil
				break
			}
			lastErr = err
		case <-ctx.Done():
			return nil, ErrInterrupted
		}
		if result == nil && errs == nil {
			if lastErr == nil {
				lastErr = metadatafetch.ErrNoPeersSupportMetadata
			}
			return nil, fmt.Errorf("engine: metadata fetch failed: %w", lastErr)
		}
	}
}

// fetchMetadataFromPeer drives one peer's contribution to the metadata
// fetch: handshake, extension handshake, then one request at a time for
// the lowest-indexed piece still missing from the shared Assembler.
// Returns a non-nil *metainfo.Info only from the goroutine whose AddPiece
// call completes the assembly.
func (e *Engine) fetchMetadataFromPeer(ctx context.Context, addr string, infoHash core.InfoHash, state *metadataFetchState) (*metainfo.Info, error) {
	nc, hs, err := peerwire.Dial(addr, infoHash, e.peerID, e.config.PeerDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("peerwire: dial %s: %w", addr, err)
	}
	defer nc.Close()

	if !hs.ExtSupported {
		return nil, fmt.Errorf("%w: peer %s does not support the extension protocol", metadatafetch.ErrNoPeersSupportMetadata, addr)
	}

	conn, err := peerwire.NewConn(e.config.PeerWire, e.stats, e.clk, nil, nc, e.peerID, hs.PeerID, infoHash, false, e.logger)
	if err != nil {
		return nil, err
	}
	conn.Start()
	defer conn.Close()

	if err := conn.Send(metadatafetch.BuildExtendedHandshake()); err != nil {
		return nil, err
	}

	var assembler *metadatafetch.Assembler
	var peerExtID byte
	requested := false

	for {
		select {
		case <-ctx.Done():
			return nil, ErrInterrupted
		case msg, ok := <-conn.Receiver():
			if !ok {
				return nil, fmt.Errorf("peerwire: connection to %s closed during metadata fetch", addr)
			}
			if msg.ID != peerwire.Extended {
				continue
			}
			extID, body, err := msg.ExtendedFields()
			if err != nil {
				continue
			}
			if extID == metadatafetch.ExtendedHandshakeExtID {
				hs, err := metadatafetch.ParseExtendedHandshake(body)
				if err != nil || hs.UTMetadataExtID == 0 || hs.MetadataSize == 0 {
					return nil, fmt.Errorf("%w: peer %s did not advertise ut_metadata", metadatafetch.ErrNoPeersSupportMetadata, addr)
				}
				peerExtID = hs.UTMetadataExtID
				assembler = state.get(infoHash, hs.MetadataSize, e)
				if assembler.Blacklisted(conn.PeerID()) {
					return nil, fmt.Errorf("%w: peer %s blacklisted after a prior info-hash mismatch", metadatafetch.ErrNoPeersSupportMetadata, addr)
				}
				requested = requestNextMetadataPiece(conn, assembler, peerExtID)
				continue
			}
			if extID != metadatafetch.OurUTMetadataExtID || assembler == nil {
				continue
			}
			if assembler.Blacklisted(conn.PeerID()) {
				return nil, fmt.Errorf("%w: peer %s blacklisted after a prior info-hash mismatch", metadatafetch.ErrNoPeersSupportMetadata, addr)
			}
			result, err := metadatafetch.ParsePieceMessage(body)
			if err != nil {
				continue
			}
			if !result.Rejected {
				complete, data, err := assembler.AddPiece(conn.PeerID(), result.Piece, result.Data)
				if err != nil {
					return nil, err
				}
				if complete {
					info, err := metainfo.ParseInfoBytes(data)
					if err != nil {
						return nil, err
					}
					return info, nil
				}
			}
			requested = requestNextMetadataPiece(conn, assembler, peerExtID)
			if !requested && assembler.Done() {
				return nil, nil // Another peer will deliver the completing piece.
			}
		}
	}
}

func requestNextMetadataPiece(conn *peerwire.Conn, assembler *metadatafetch.Assembler, peerExtID byte) bool {
	missing := assembler.Missing()
	if len(missing) == 0 {
		return false
	}
	conn.Send(metadatafetch.BuildRequest(peerExtID, missing[0]))
	return true
}
