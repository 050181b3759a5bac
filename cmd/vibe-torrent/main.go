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

// Command vibe-torrent downloads a single torrent, given either a
// metainfo file path or a magnet URI, into an output directory. It is a
// thin front end over the engine package: flags and config loading live
// here so engine/ stays a pure library, per spec.md §1's "out of scope"
// list.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"

	"github.com/tchardonnens/vibe-torrent-client/config"
	"github.com/tchardonnens/vibe-torrent-client/engine"
	internallog "github.com/tchardonnens/vibe-torrent-client/internal/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags, args := ParseFlags()
	source, outputDir, err := parseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg := config.Config{}.ApplyDefaults()
	if flags.ConfigFile != "" {
		if err := config.Load(flags.ConfigFile, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "vibe-torrent: %s\n", err)
			return 2
		}
	}

	logger, closeLogger, err := internallog.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vibe-torrent: %s\n", err)
		return 1
	}
	defer closeLogger()

	eng, err := engine.New(cfg.Engine, clock.New(), tally.NoopScope, logger)
	if err != nil {
		logger.Errorw("failed to initialize engine", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	reporter, done := eng.Run(ctx, source, outputDir)

	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		printProgress(reporter)
	}()

	downloadErr := <-done
	<-printerDone

	if downloadErr != nil && engine.ExitCode(downloadErr) != 130 {
		logger.Errorw("download failed", "error", downloadErr)
	}
	return engine.ExitCode(downloadErr)
}
