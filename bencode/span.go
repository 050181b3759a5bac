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

package bencode

import (
	"errors"
	"io"
)

// FindTopLevelKeySpan scans a bencoded dictionary in data and returns the
// byte offsets [start, end) of the raw value associated with key at the
// top level, without materializing any value other than key. This is how
// metainfo's computeInfoHash recovers the exact original bytes of the info
// sub-dictionary, tolerating a non-canonical (out-of-order or otherwise
// unusual) encoding elsewhere in the file -- see spec.md's info-hash note.
func FindTopLevelKeySpan(data []byte, key string) (start, end int64, found bool, err error) {
	d := NewDecoderBytes(data)
	err = func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				if e, ok := r.(error); ok {
					err = e
					return
				}
				panic(r)
			}
		}()
		b, perr := d.peekByte()
		if perr != nil || b != 'd' {
			return errors.New("bencode: expected top-level dictionary")
		}
		d.readByte() // 'd'
		for {
			pb, perr := d.peekByte()
			if perr != nil {
				return io.ErrUnexpectedEOF
			}
			if pb == 'e' {
				d.readByte()
				return nil
			}
			k := d.readStringBytes()
			valStart := d.offset
			if _, verr := d.ReadValue(); verr != nil {
				return verr
			}
			valEnd := d.offset
			if string(k) == key {
				start, end, found = valStart, valEnd, true
				// Keep scanning so offset bookkeeping stays correct if the
				// caller reuses d, but we already have what we need.
			}
		}
	}()
	return start, end, found, err
}
