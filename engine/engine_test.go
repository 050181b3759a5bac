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
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tchardonnens/vibe-torrent-client/metainfo"
)

func TestAnnounceURLsFlattensTiersInOrder(t *testing.T) {
	mi := &metainfo.MetaInfo{
		Announce: "http://fallback.example/announce",
		AnnounceList: metainfo.AnnounceList{
			{"udp://a.example:80"},
			{"http://b.example/announce", "http://c.example/announce"},
		},
	}
	urls := announceURLs(mi)
	assert.Equal(t, []string{
		"udp://a.example:80",
		"http://b.example/announce",
		"http://c.example/announce",
	}, urls)
}

func TestAnnounceURLsFallsBackToAnnounce(t *testing.T) {
	mi := &metainfo.MetaInfo{Announce: "http://fallback.example/announce"}
	assert.Equal(t, []string{"http://fallback.example/announce"}, announceURLs(mi))
}

func TestPieceMetasCoversEveryPieceWithItsHash(t *testing.T) {
	a := sha1.Sum([]byte("piece-a-bytes"))
	b := sha1.Sum([]byte("tail"))
	pieces := append(a[:], b[:]...)

	info := &metainfo.Info{
		PieceLength: int64(len("piece-a-bytes")),
		Pieces:      pieces,
		Total:       int64(len("piece-a-bytes")) + int64(len("tail")),
	}
	require.Equal(t, 2, info.NumPieces())

	metas := pieceMetas(info)
	require.Len(t, metas, 2)
	assert.Equal(t, 0, metas[0].Index)
	assert.Equal(t, int64(len("piece-a-bytes")), metas[0].Length)
	assert.Equal(t, a, metas[0].Hash)
	assert.Equal(t, 1, metas[1].Index)
	assert.Equal(t, int64(len("tail")), metas[1].Length)
	assert.Equal(t, b, metas[1].Hash)
}
