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

package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuildsAUsableLogger(t *testing.T) {
	logger, closer, err := New(Default())
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer closer()

	logger.Infow("hello", "key", "value")
}

func TestDefaultUsesConsoleEncoding(t *testing.T) {
	assert.Equal(t, "console", Default().Encoding)
}
