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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestApplyDefaultsFillsEngineAndLogging(t *testing.T) {
	cfg := Config{}.ApplyDefaults()
	assert.Equal(t, 120, cfg.Engine.MaxPeers)
	assert.Equal(t, "console", cfg.Logging.Encoding)
}

func TestLoadParsesYAMLAndAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
engine:
  max_peers: 40
`)
	var cfg Config
	require.NoError(t, Load(path, &cfg))
	assert.Equal(t, 40, cfg.Engine.MaxPeers)
	// Untouched sub-configs still got their own defaults applied.
	assert.NotZero(t, cfg.Engine.PeerDialTimeout)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	var cfg Config
	err := Load(filepath.Join(t.TempDir(), "missing.yaml"), &cfg)
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeTempConfig(t, "engine: [this is not a mapping")
	var cfg Config
	err := Load(path, &cfg)
	assert.Error(t, err)
}

func TestLoadRejectsNegativeMaxPeers(t *testing.T) {
	path := writeTempConfig(t, `
engine:
  max_peers: -1
`)
	var cfg Config
	err := Load(path, &cfg)
	assert.Error(t, err)
}
