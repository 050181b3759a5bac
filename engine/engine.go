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

// Package engine orchestrates a single one-shot torrent download: it
// bootstraps the info dict (parsing a metainfo file or, for a magnet
// source, fetching it from peers), announces to trackers, drives peer
// connections, and feeds verified pieces to storage, per spec.md §4.9.
package engine

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/tchardonnens/vibe-torrent-client/core"
	"github.com/tchardonnens/vibe-torrent-client/metainfo"
	"github.com/tchardonnens/vibe-torrent-client/progress"
	"github.com/tchardonnens/vibe-torrent-client/scheduler"
	"github.com/tchardonnens/vibe-torrent-client/storage"
)

// Engine downloads torrents one at a time. It holds no per-download state
// itself; Run constructs a fresh session for each call.
type Engine struct {
	config Config
	clk    clock.Clock
	stats  tally.Scope
	logger *zap.SugaredLogger
	peerID core.PeerID
}

// New returns an Engine configured per config, generating a fresh peer id
// for this process.
func New(config Config, clk clock.Clock, stats tally.Scope, logger *zap.SugaredLogger) (*Engine, error) {
	peerID, err := core.GeneratePeerID()
	if err != nil {
		return nil, fmt.Errorf("engine: generate peer id: %w", err)
	}
	return &Engine{
		config: config.ApplyDefaults(),
		clk:    clk,
		stats:  stats,
		logger: logger,
		peerID: peerID,
	}, nil
}

// Run starts downloading source (a metainfo file path or a magnet URI)
// into outputDir. It returns immediately with a progress.Reporter the
// caller should drain, and a channel that receives exactly one value
// (nil on success) once the download finishes, fails, or ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context, source, outputDir string) (*progress.Reporter, <-chan error) {
	reporter := progress.New(e.config.Progress, e.clk)
	done := make(chan error, 1)
	go func() {
		done <- e.run(ctx, source, outputDir, reporter)
	}()
	return reporter, done
}

func (e *Engine) run(ctx context.Context, source, outputDir string, reporter *progress.Reporter) error {
	mi, initialPeerAddrs, err := e.bootstrap(ctx, source, reporter)
	if err != nil {
		reporter.Failed(progress.Snapshot{}, err)
		return err
	}

	writer, err := storage.New(outputDir, &mi.Info)
	if err != nil {
		reporter.Failed(progress.Snapshot{}, err)
		return err
	}
	defer writer.Close()

	sched := scheduler.New(pieceMetas(&mi.Info), e.config.Scheduler, e.clk, e.stats, e.logger)

	sess := newSession(e, mi, sched, writer, reporter)
	return sess.run(ctx, initialPeerAddrs)
}

// bootstrap resolves source into a fully populated MetaInfo and an
// initial tracker-provided peer list. For a magnet source this runs the
// BEP 9 metadata fetch first.
func (e *Engine) bootstrap(ctx context.Context, source string, reporter *progress.Reporter) (*metainfo.MetaInfo, []string, error) {
	if looksLikeMagnet(source) {
		return e.bootstrapMagnet(ctx, source, reporter)
	}
	return e.bootstrapMetainfo(source)
}

func looksLikeMagnet(source string) bool {
	return strings.HasPrefix(source, "magnet:")
}

func (e *Engine) bootstrapMetainfo(path string) (*metainfo.MetaInfo, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open torrent file: %s", ErrBadInput, err)
	}
	defer f.Close()

	mi, err := metainfo.Parse(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrBadInput, err)
	}

	addrs := announceURLs(mi)
	peerAddrs, err := e.announceAll(mi.InfoHash, mi.Info.Total, addrs)
	if err != nil {
		return nil, nil, err
	}
	return mi, peerAddrs, nil
}

// announceURLs flattens a MetaInfo's announce-list tiers (falling back to
// the single announce key) into an ordered slice of tracker URLs, per
// BEP 12.
func announceURLs(mi *metainfo.MetaInfo) []string {
	var urls []string
	for _, tier := range mi.AnnounceList {
		urls = append(urls, tier...)
	}
	if len(urls) == 0 && mi.Announce != "" {
		urls = append(urls, mi.Announce)
	}
	return urls
}

func pieceMetas(info *metainfo.Info) []scheduler.PieceMeta {
	n := info.NumPieces()
	out := make([]scheduler.PieceMeta, n)
	for i := 0; i < n; i++ {
		var hash [20]byte
		h, _ := info.PieceHash(i)
		copy(hash[:], h)
		out[i] = scheduler.PieceMeta{Index: i, Length: info.PieceLen(i), Hash: hash}
	}
	return out
}
