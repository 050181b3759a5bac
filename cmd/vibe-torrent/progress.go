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
	"fmt"
	"os"

	"github.com/tchardonnens/vibe-torrent-client/progress"
)

// printProgress renders each event from reporter to stderr and returns
// once a terminal event (Completed or Failed) has been printed. The
// Reporter's event channel is never closed, so this is the only
// termination signal the printer gets.
func printProgress(reporter *progress.Reporter) {
	for ev := range reporter.Events() {
		switch ev.Kind {
		case progress.KindProgress:
			printSnapshot(ev)
		case progress.KindCompleted:
			printSnapshot(ev)
			fmt.Fprintln(os.Stderr)
			return
		case progress.KindFailed:
			fmt.Fprintf(os.Stderr, "\ndownload failed: %s\n", ev.Cause)
			return
		}
	}
}

func printSnapshot(ev progress.Event) {
	pct := 0.0
	if ev.PiecesTotal > 0 {
		pct = 100 * float64(ev.PiecesDone) / float64(ev.PiecesTotal)
	}
	fmt.Fprintf(os.Stderr, "\r%6.2f%%  %d/%d pieces  %.1f KiB/s  peers %d/%d  %.0fs   ",
		pct, ev.PiecesDone, ev.PiecesTotal, ev.DownloadRateBps/1024,
		ev.PeersConnected, ev.PeersTotalSeen, ev.ElapsedS)
}
