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

package tracker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/tchardonnens/vibe-torrent-client/bencode"
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"nonzero"`
}

// ApplyDefaults fills in unset fields with their zero-value-safe defaults.
func (c HTTPConfig) ApplyDefaults() HTTPConfig {
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

// HTTPClient announces over HTTP(S) per spec.md §4.3.
type HTTPClient struct {
	config     HTTPConfig
	announceURL string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

// NewHTTPClient returns a Client that announces to announceURL.
func NewHTTPClient(announceURL string, config HTTPConfig, logger *zap.SugaredLogger) *HTTPClient {
	config = config.ApplyDefaults()
	return &HTTPClient{
		config:      config,
		announceURL: announceURL,
		httpClient:  &http.Client{Timeout: config.Timeout},
		logger:      logger,
	}
}

// Announce implements Client.
func (c *HTTPClient) Announce(req Request) (*Response, error) {
	u, err := url.Parse(c.announceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse announce url: %s", ErrMalformedResponse, err)
	}
	q := u.Query()
	q.Set("info_hash", string(req.InfoHash.Bytes()))
	q.Set("peer_id", string(req.PeerID.Bytes()))
	q.Set("port", strconv.Itoa(int(req.Port)))
	q.Set("uploaded", strconv.FormatInt(req.Uploaded, 10))
	q.Set("downloaded", strconv.FormatInt(req.Downloaded, 10))
	q.Set("left", strconv.FormatInt(req.Left, 10))
	q.Set("compact", "1")
	if req.Event != EventNone {
		q.Set("event", string(req.Event))
	}
	if req.NumWant > 0 {
		q.Set("numwant", strconv.Itoa(req.NumWant))
	}
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %s", ErrTrackerUnreachable, err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Errorf("Announce to %s failed: %s", c.announceURL, err)
		return nil, fmt.Errorf("%w: %s", ErrTrackerUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %s", ErrTrackerUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RejectedError{Reason: fmt.Sprintf("http status %d: %s", resp.StatusCode, string(body))}
	}
	return parseHTTPResponse(body)
}

func parseHTTPResponse(body []byte) (*Response, error) {
	v, err := bencode.DecodeLenient(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}
	if v.Kind() != bencode.KindDict {
		return nil, fmt.Errorf("%w: response is not a dictionary", ErrMalformedResponse)
	}
	if reason, ok := v.Lookup("failure reason"); ok {
		return nil, &RejectedError{Reason: reason.Text()}
	}

	resp := &Response{}
	if iv, ok := v.Lookup("interval"); ok && iv.Kind() == bencode.KindInt {
		resp.Interval = time.Duration(iv.Int()) * time.Second
	}
	if sv, ok := v.Lookup("complete"); ok && sv.Kind() == bencode.KindInt {
		resp.Seeders = int(sv.Int())
	}
	if lv, ok := v.Lookup("incomplete"); ok && lv.Kind() == bencode.KindInt {
		resp.Leechers = int(lv.Int())
	}

	peersVal, ok := v.Lookup("peers")
	if !ok {
		return nil, fmt.Errorf("%w: response missing peers", ErrMalformedResponse)
	}
	switch peersVal.Kind() {
	case bencode.KindString:
		peers, err := parseCompactPeers(peersVal.Bytes())
		if err != nil {
			return nil, err
		}
		resp.Peers = peers
	case bencode.KindList:
		for _, pv := range peersVal.List() {
			p, err := parseDictPeer(pv)
			if err != nil {
				return nil, err
			}
			resp.Peers = append(resp.Peers, p)
		}
	default:
		return nil, fmt.Errorf("%w: peers field has unexpected kind %s", ErrMalformedResponse, peersVal.Kind())
	}
	return resp, nil
}

func parseDictPeer(v bencode.Value) (PeerInfo, error) {
	if v.Kind() != bencode.KindDict {
		return PeerInfo{}, fmt.Errorf("%w: peer entry is not a dictionary", ErrMalformedResponse)
	}
	ipVal, ok := v.Lookup("ip")
	if !ok {
		return PeerInfo{}, fmt.Errorf("%w: peer entry missing ip", ErrMalformedResponse)
	}
	portVal, ok := v.Lookup("port")
	if !ok {
		return PeerInfo{}, fmt.Errorf("%w: peer entry missing port", ErrMalformedResponse)
	}
	p := PeerInfo{Port: uint16(portVal.Int())}
	p.IP = parseIPText(ipVal.Text())
	if idVal, ok := v.Lookup("peer_id"); ok {
		var pid [20]byte
		copy(pid[:], idVal.Bytes())
		p.PeerID = pid
	}
	return p, nil
}
