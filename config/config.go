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

// Package config loads vibe-torrent-client's YAML configuration file,
// mirroring the teacher's utils/configutil.Load + per-subconfig
// ApplyDefaults convention (see agent/cmd/config.go and
// lib/torrent/scheduler/config.go).
package config

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"

	"github.com/tchardonnens/vibe-torrent-client/engine"
	internallog "github.com/tchardonnens/vibe-torrent-client/internal/log"
)

// Config is the top-level configuration tree for cmd/vibe-torrent.
type Config struct {
	Engine  engine.Config `yaml:"engine"`
	Logging zap.Config    `yaml:"logging"`
}

// ApplyDefaults fills in every zero-valued field, cascading into the
// engine config tree and filling in a usable default logger config when
// none was supplied.
func (c Config) ApplyDefaults() Config {
	c.Engine = c.Engine.ApplyDefaults()
	if c.Logging.Level == (zap.AtomicLevel{}) {
		c.Logging = internallog.Default()
	}
	return c
}

// Load reads the YAML file at path into cfg, applies defaults, and
// validates the result against every "validate" struct tag.
//
// Unlike the teacher's configutil.Load, this does not support an
// `extends:` base-config chain: that feature exists in kraken to let many
// per-cluster deployments share a common base file, which a single-user
// CLI tool has no use for.
func Load(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	*cfg = cfg.ApplyDefaults()
	if err := validator.Validate(cfg); err != nil {
		return fmt.Errorf("config: validate %s: %w", path, err)
	}
	return nil
}
