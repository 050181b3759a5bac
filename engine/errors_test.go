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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tchardonnens/vibe-torrent-client/metainfo"
	"github.com/tchardonnens/vibe-torrent-client/storage"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"interrupted", ErrInterrupted, 130},
		{"wrapped interrupted", fmt.Errorf("run: %w", ErrInterrupted), 130},
		{"bad input", ErrBadInput, 2},
		{"malformed torrent", metainfo.ErrMalformed, 2},
		{"invalid magnet", metainfo.ErrInvalidMagnet, 2},
		{"disk full", storage.ErrDiskFull, 1},
		{"unclassified", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestFatalClassifiesSessionEndingErrors(t *testing.T) {
	assert.True(t, fatal(storage.ErrDiskFull))
	assert.True(t, fatal(storage.ErrIO))
	assert.True(t, fatal(ErrNoUsablePeers))
	assert.False(t, fatal(nil))
	assert.False(t, fatal(errors.New("recoverable")))
}
