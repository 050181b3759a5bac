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

// Package log builds the *zap.SugaredLogger every long-lived component in
// this repo takes as a constructor argument, mirroring the teacher's
// agent/cmd.App.setupLogging: the CLI builds one logger from config once,
// and every component (conn, scheduler, tracker clients) gets it injected
// rather than reaching for a package-global.
package log

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Default returns a console-encoded, info-level zap.Config suited to a
// CLI tool: human-readable output on stderr, ISO8601 timestamps.
func Default() zap.Config {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}

// New builds a SugaredLogger from cfg. The returned func flushes buffered
// log entries and should be deferred by the caller.
func New(cfg zap.Config) (*zap.SugaredLogger, func(), error) {
	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("log: build zap logger: %w", err)
	}
	return logger.Sugar(), func() { _ = logger.Sync() }, nil
}
