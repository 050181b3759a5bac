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

package main

import (
	"errors"
	"flag"
)

// Flags defines the CLI's flags. The torrent/magnet source and output
// directory are positional arguments, not flags, per spec.md §6's
// "path to a metainfo file or a magnet URI, plus an output directory".
type Flags struct {
	ConfigFile string
}

// ParseFlags parses os.Args, returning the flags plus any remaining
// positional arguments.
func ParseFlags() (*Flags, []string) {
	var f Flags
	flag.StringVar(&f.ConfigFile, "config", "", "path to a YAML configuration file")
	flag.Parse()
	return &f, flag.Args()
}

// usage is printed to stderr when the positional arguments are missing
// or malformed.
const usage = "usage: vibe-torrent [-config FILE] <torrent-file-or-magnet-uri> <output-dir>"

func parseArgs(args []string) (source, outputDir string, err error) {
	if len(args) != 2 {
		return "", "", errors.New(usage)
	}
	return args[0], args[1], nil
}
