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

package metainfo

import (
	"encoding/base32"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tchardonnens/vibe-torrent-client/core"
)

// ErrInvalidMagnet is wrapped by errors returned for a magnet URI that
// cannot be parsed or is missing its mandatory exact-topic parameter.
var ErrInvalidMagnet = errors.New("metainfo: invalid magnet uri")

// Magnet is a parsed magnet: URI, per spec.md §4.2. Everything beyond the
// info-hash is advisory: a full Info dictionary can only be obtained by
// fetching metadata from peers (see the metadatafetch package).
type Magnet struct {
	InfoHash       core.InfoHash
	DisplayName    string
	Trackers       []string
	WebSeeds       []string
	ExpectedLength int64
}

const magnetScheme = "magnet"

// ParseMagnet parses a magnet: URI into its component parameters.
func ParseMagnet(raw string) (*Magnet, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMagnet, err)
	}
	if u.Scheme != magnetScheme {
		return nil, fmt.Errorf("%w: scheme %q is not %q", ErrInvalidMagnet, u.Scheme, magnetScheme)
	}

	// url.Parse carries the query of magnet:?xt=... in u.RawQuery; the
	// u.Opaque check is a fallback for a query left in the opaque part.
	rawQuery := u.RawQuery
	if rawQuery == "" && u.Opaque != "" {
		if idx := strings.IndexByte(u.Opaque, '?'); idx >= 0 {
			rawQuery = u.Opaque[idx+1:]
		}
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: parse query: %s", ErrInvalidMagnet, err)
	}

	xts := values["xt"]
	if len(xts) == 0 {
		return nil, fmt.Errorf("%w: missing xt parameter", ErrInvalidMagnet)
	}
	hash, err := parseExactTopic(xts[0])
	if err != nil {
		return nil, err
	}

	m := &Magnet{
		InfoHash:    hash,
		DisplayName: values.Get("dn"),
		Trackers:    values["tr"],
		WebSeeds:    values["ws"],
	}
	if xl := values.Get("xl"); xl != "" {
		n, err := strconv.ParseInt(xl, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad xl parameter: %s", ErrInvalidMagnet, err)
		}
		m.ExpectedLength = n
	}
	return m, nil
}

const btihPrefix = "urn:btih:"

// parseExactTopic decodes the xt=urn:btih:<hash> parameter, accepting
// either the 40-character hex form or the 32-character base32 form BEP 9
// allows.
func parseExactTopic(xt string) (core.InfoHash, error) {
	if !strings.HasPrefix(xt, btihPrefix) {
		return core.InfoHash{}, fmt.Errorf("%w: xt parameter %q is not a bittorrent info-hash topic", ErrInvalidMagnet, xt)
	}
	enc := xt[len(btihPrefix):]
	switch len(enc) {
	case 40:
		h, err := core.NewInfoHashFromHex(strings.ToLower(enc))
		if err != nil {
			return core.InfoHash{}, fmt.Errorf("%w: %s", ErrInvalidMagnet, err)
		}
		return h, nil
	case 32:
		b, err := base32.StdEncoding.DecodeString(strings.ToUpper(enc))
		if err != nil {
			return core.InfoHash{}, fmt.Errorf("%w: decode base32 info-hash: %s", ErrInvalidMagnet, err)
		}
		h, err := core.NewInfoHashFromBytes(b)
		if err != nil {
			return core.InfoHash{}, fmt.Errorf("%w: %s", ErrInvalidMagnet, err)
		}
		return h, nil
	default:
		return core.InfoHash{}, fmt.Errorf("%w: info-hash topic %q has unexpected length %d", ErrInvalidMagnet, enc, len(enc))
	}
}
