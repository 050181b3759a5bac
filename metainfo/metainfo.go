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

// Package metainfo parses .torrent metainfo files and magnet URIs into the
// data model described in spec.md §3: an info dictionary, the derived
// info-hash, and an expanded, flattened file list.
package metainfo

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"

	"github.com/tchardonnens/vibe-torrent-client/bencode"
	"github.com/tchardonnens/vibe-torrent-client/core"
)

// ErrMalformed is wrapped by errors returned when a metainfo file cannot
// be parsed or fails its structural invariants.
var ErrMalformed = errors.New("metainfo: malformed")

// FileEntry is one file within a (possibly single-file) torrent's logical
// byte stream.
type FileEntry struct {
	Path   []string
	Length int64
}

// Info is the parsed info dictionary, plus the expanded, order-preserving
// file list used for the flat-concatenation layout described in spec.md §3.
type Info struct {
	Name        string
	PieceLength int64
	Pieces      []byte // concatenation of 20-byte SHA-1 digests, one per piece
	Files       []FileEntry
	Total       int64
}

// NumPieces returns the number of pieces described by Info.
func (info *Info) NumPieces() int {
	return len(info.Pieces) / 20
}

// PieceHash returns the expected SHA-1 digest of piece i.
func (info *Info) PieceHash(i int) ([]byte, error) {
	if i < 0 || i >= info.NumPieces() {
		return nil, fmt.Errorf("%w: piece index %d out of range [0,%d)", ErrMalformed, i, info.NumPieces())
	}
	return info.Pieces[i*20 : (i+1)*20], nil
}

// PieceLen returns the length of piece i: PieceLength for all but the
// last piece, which gets the remainder.
func (info *Info) PieceLen(i int) int64 {
	if i == info.NumPieces()-1 {
		rem := info.Total - int64(i)*info.PieceLength
		if rem > 0 {
			return rem
		}
	}
	return info.PieceLength
}

// IsMultiFile reports whether the torrent describes more than one file.
func (info *Info) IsMultiFile() bool {
	return len(info.Files) > 1
}

func (info *Info) validate() error {
	if info.PieceLength <= 0 {
		return fmt.Errorf("%w: non-positive piece length", ErrMalformed)
	}
	if len(info.Pieces)%20 != 0 {
		return fmt.Errorf("%w: pieces field is not a multiple of 20 bytes", ErrMalformed)
	}
	expected := (info.Total + info.PieceLength - 1) / info.PieceLength
	if info.Total == 0 {
		expected = 0
	}
	if int64(info.NumPieces()) != expected {
		return fmt.Errorf("%w: piece count %d does not match expected %d for total length %d",
			ErrMalformed, info.NumPieces(), expected, info.Total)
	}
	return nil
}

// AnnounceList is a tiered list of tracker URLs, per BEP 12: the outer
// slice is ordered by tier preference. The orchestrator flattens the tiers
// in order, without shuffling, and tries each URL in turn.
type AnnounceList [][]string

// MetaInfo is a fully parsed .torrent file.
type MetaInfo struct {
	Info         Info
	InfoHash     core.InfoHash
	Announce     string
	AnnounceList AnnounceList
	WebSeeds     []string
	Comment      string
	CreatedBy    string
	CreationDate int64
	Encoding     string
}

// Parse reads and parses a .torrent file from r.
func Parse(r io.Reader) (*MetaInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %s", ErrMalformed, err)
	}
	return ParseBytes(data)
}

// ParseBytes parses a .torrent file already read into memory.
func ParseBytes(data []byte) (*MetaInfo, error) {
	top, err := bencode.DecodeLenient(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if top.Kind() != bencode.KindDict {
		return nil, fmt.Errorf("%w: top-level value is not a dictionary", ErrMalformed)
	}

	infoHash, err := computeInfoHash(data)
	if err != nil {
		return nil, err
	}

	infoVal, ok := top.Lookup("info")
	if !ok {
		return nil, fmt.Errorf("%w: missing info dictionary", ErrMalformed)
	}
	info, err := parseInfo(infoVal)
	if err != nil {
		return nil, err
	}

	mi := &MetaInfo{
		Info:     *info,
		InfoHash: infoHash,
	}
	if v, ok := top.Lookup("announce"); ok {
		mi.Announce = v.Text()
	}
	if v, ok := top.Lookup("announce-list"); ok && v.Kind() == bencode.KindList {
		for _, tier := range v.List() {
			if tier.Kind() != bencode.KindList {
				continue
			}
			var urls []string
			for _, u := range tier.List() {
				if u.Kind() == bencode.KindString {
					urls = append(urls, u.Text())
				}
			}
			if len(urls) > 0 {
				mi.AnnounceList = append(mi.AnnounceList, urls)
			}
		}
	}
	if v, ok := top.Lookup("url-list"); ok {
		switch v.Kind() {
		case bencode.KindString:
			mi.WebSeeds = append(mi.WebSeeds, v.Text())
		case bencode.KindList:
			for _, u := range v.List() {
				if u.Kind() == bencode.KindString {
					mi.WebSeeds = append(mi.WebSeeds, u.Text())
				}
			}
		}
	}
	if v, ok := top.Lookup("comment"); ok {
		mi.Comment = v.Text()
	}
	if v, ok := top.Lookup("created by"); ok {
		mi.CreatedBy = v.Text()
	}
	if v, ok := top.Lookup("creation date"); ok && v.Kind() == bencode.KindInt {
		mi.CreationDate = v.Int()
	}
	if v, ok := top.Lookup("encoding"); ok {
		mi.Encoding = v.Text()
	}
	return mi, nil
}

// computeInfoHash hashes the original byte span of the top-level "info"
// value, not a re-encoding, so that producers which emit info dict keys
// out of strict order still hash to the value they published. See
// spec.md §4.2 and §9.
func computeInfoHash(data []byte) (core.InfoHash, error) {
	start, end, found, err := bencode.FindTopLevelKeySpan(data, "info")
	if err != nil {
		return core.InfoHash{}, fmt.Errorf("%w: locate info span: %s", ErrMalformed, err)
	}
	if !found {
		return core.InfoHash{}, fmt.Errorf("%w: missing info dictionary", ErrMalformed)
	}
	sum := sha1.Sum(data[start:end])
	return core.NewInfoHashFromBytes(sum[:])
}

// ParseInfoBytes parses a standalone bencoded info dictionary, as
// recovered via the BEP 9 metadata exchange (see the metadatafetch
// package): unlike Parse/ParseBytes, data here is the info dict itself,
// not a top-level metainfo mapping containing one.
func ParseInfoBytes(data []byte) (*Info, error) {
	v, err := bencode.DecodeLenient(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	return parseInfo(v)
}

func parseInfo(v bencode.Value) (*Info, error) {
	if v.Kind() != bencode.KindDict {
		return nil, fmt.Errorf("%w: info is not a dictionary", ErrMalformed)
	}
	info := &Info{}
	if n, ok := v.Lookup("name"); ok {
		info.Name = n.Text()
	}
	pl, ok := v.Lookup("piece length")
	if !ok {
		return nil, fmt.Errorf("%w: info missing piece length", ErrMalformed)
	}
	info.PieceLength = pl.Int()

	pieces, ok := v.Lookup("pieces")
	if !ok {
		return nil, fmt.Errorf("%w: info missing pieces", ErrMalformed)
	}
	info.Pieces = pieces.Bytes()

	if length, ok := v.Lookup("length"); ok {
		// Single-file mode.
		info.Files = []FileEntry{{Path: []string{info.Name}, Length: length.Int()}}
		info.Total = length.Int()
	} else if files, ok := v.Lookup("files"); ok && files.Kind() == bencode.KindList {
		// Multi-file mode.
		var total int64
		for _, fv := range files.List() {
			fe, err := parseFileEntry(fv)
			if err != nil {
				return nil, err
			}
			info.Files = append(info.Files, fe)
			total += fe.Length
		}
		info.Total = total
	} else {
		return nil, fmt.Errorf("%w: info has neither length nor files", ErrMalformed)
	}

	if err := info.validate(); err != nil {
		return nil, err
	}
	return info, nil
}

func parseFileEntry(v bencode.Value) (FileEntry, error) {
	if v.Kind() != bencode.KindDict {
		return FileEntry{}, fmt.Errorf("%w: file entry is not a dictionary", ErrMalformed)
	}
	lengthVal, ok := v.Lookup("length")
	if !ok {
		return FileEntry{}, fmt.Errorf("%w: file entry missing length", ErrMalformed)
	}
	pathVal, ok := v.Lookup("path")
	if !ok || pathVal.Kind() != bencode.KindList {
		return FileEntry{}, fmt.Errorf("%w: file entry missing path", ErrMalformed)
	}
	var path []string
	for _, p := range pathVal.List() {
		path = append(path, p.Text())
	}
	return FileEntry{Path: path, Length: lengthVal.Int()}, nil
}
