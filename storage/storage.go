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

// Package storage writes completed pieces to disk across a torrent's
// (possibly multi-file) layout, per spec.md §4.8.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/tchardonnens/vibe-torrent-client/metainfo"
)

// ErrDiskFull wraps an underlying write failure caused by the
// filesystem running out of space. Per spec.md §4.8, this is fatal and
// terminates the download.
var ErrDiskFull = errors.New("storage: disk full")

// ErrIO wraps any other fatal filesystem error encountered while
// writing or allocating torrent files.
var ErrIO = errors.New("storage: io error")

// fileSpan is the portion of one on-disk file that a byte range of the
// concatenated torrent content maps to.
type fileSpan struct {
	file         *os.File
	torrentStart int64 // Start of this span within the concatenated torrent content.
	length       int64
}

// Writer pre-allocates a torrent's files on disk and writes verified
// pieces to their correct byte offsets, possibly spanning a piece
// across a file boundary for multi-file torrents, per spec.md §3 and
// §4.8.
type Writer struct {
	root        string
	pieceLength int64
	totalLength int64
	spans       []fileSpan
}

// New pre-allocates every file in info's layout under root (creating
// parent directories as needed) and returns a Writer ready to accept
// completed pieces.
func New(root string, info *metainfo.Info) (*Writer, error) {
	w := &Writer{
		root:        root,
		pieceLength: info.PieceLength,
		totalLength: info.Total,
	}

	var torrentOffset int64
	if info.IsMultiFile() {
		for _, f := range info.Files {
			path := filepath.Join(append([]string{root, info.Name}, f.Path...)...)
			file, err := createSparseFile(path, f.Length)
			if err != nil {
				return nil, err
			}
			w.spans = append(w.spans, fileSpan{file: file, torrentStart: torrentOffset, length: f.Length})
			torrentOffset += f.Length
		}
	} else {
		path := filepath.Join(root, info.Name)
		file, err := createSparseFile(path, info.Total)
		if err != nil {
			return nil, err
		}
		w.spans = append(w.spans, fileSpan{file: file, torrentStart: 0, length: info.Total})
	}

	return w, nil
}

func createSparseFile(path string, length int64) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, classifyErr(fmt.Errorf("create parent directory for %s: %w", path, err))
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, classifyErr(fmt.Errorf("open %s: %w", path, err))
	}
	if err := file.Truncate(length); err != nil {
		file.Close()
		return nil, classifyErr(fmt.Errorf("preallocate %s to %d bytes: %w", path, length, err))
	}
	return file, nil
}

// WritePiece writes data, the already-verified bytes of piece index, to
// every file span it overlaps. Pieces may complete and be written out
// of order; no cross-piece ordering is assumed, per spec.md §4.8.
func (w *Writer) WritePiece(index int, data []byte) error {
	pieceStart := int64(index) * w.pieceLength
	pieceEnd := pieceStart + int64(len(data))
	if pieceEnd > w.totalLength {
		return fmt.Errorf("storage: piece %d [%d,%d) exceeds torrent length %d", index, pieceStart, pieceEnd, w.totalLength)
	}

	for _, span := range w.spans {
		spanEnd := span.torrentStart + span.length
		overlapStart := max64(pieceStart, span.torrentStart)
		overlapEnd := min64(pieceEnd, spanEnd)
		if overlapStart >= overlapEnd {
			continue
		}
		fileOffset := overlapStart - span.torrentStart
		chunk := data[overlapStart-pieceStart : overlapEnd-pieceStart]
		if _, err := span.file.WriteAt(chunk, fileOffset); err != nil {
			return classifyErr(fmt.Errorf("write piece %d to file: %w", index, err))
		}
	}
	return nil
}

// Close closes every underlying file handle.
func (w *Writer) Close() error {
	var firstErr error
	for _, span := range w.spans {
		if err := span.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func classifyErr(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %s", ErrDiskFull, err)
	}
	return fmt.Errorf("%w: %s", ErrIO, err)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
